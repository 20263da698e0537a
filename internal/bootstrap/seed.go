// Package bootstrap seeds first-run state so a fresh install is usable
// without hand-editing the database.
package bootstrap

import (
	"context"
	"embed"
	"log/slog"
	"strings"

	"github.com/leadline-io/leadline/internal/store"
)

//go:embed templates/*.md
var templateFS embed.FS

// DemoTenantID is the tenant seeded into memory-backed installs.
const DemoTenantID = "demo"

// ReadTemplate returns the content of an embedded template file.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

type tenantSeeder interface {
	PutTenant(t *store.Tenant)
}

// SeedDemoTenant installs the demo tenant when the backend supports seeding.
// The memory backend does; Postgres installs manage tenants themselves and
// are never seeded implicitly. Returns true when a tenant was created.
func SeedDemoTenant(ctx context.Context, stores *store.Stores) bool {
	seeder, ok := stores.Tenants.(tenantSeeder)
	if !ok {
		return false
	}
	if existing, err := stores.Tenants.GetTenant(ctx, DemoTenantID); err != nil || existing != nil {
		return false
	}
	profile, err := ReadTemplate("demo_profile.md")
	if err != nil {
		slog.Warn("bootstrap: demo profile template missing", "error", err)
		return false
	}
	seeder.PutTenant(&store.Tenant{
		ID:      DemoTenantID,
		Name:    "Riverside Realty (demo)",
		Profile: strings.TrimSpace(profile),
	})
	slog.Info("bootstrap: seeded demo tenant", "tenant", DemoTenantID)
	return true
}
