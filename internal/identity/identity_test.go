package identity

import "testing"

func TestNormalize_AliasEquivalence(t *testing.T) {
	tests := []struct {
		name string
		a, b string
	}{
		{"legacy vs canonical suffix", "4915112345678@c.us", "4915112345678@s.whatsapp.net"},
		{"bare number vs canonical", "4915112345678", "4915112345678@s.whatsapp.net"},
		{"plus and spaces", "+49 151 12345678", "4915112345678"},
		{"device suffix stripped", "4915112345678:17@s.whatsapp.net", "4915112345678@s.whatsapp.net"},
		{"case and whitespace", "  4915112345678@S.WHATSAPP.NET ", "4915112345678@s.whatsapp.net"},
		{"dashes and parens", "(49) 151-123-45678", "4915112345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ca, ok := Normalize(tt.a)
			if !ok {
				t.Fatalf("Normalize(%q) failed", tt.a)
			}
			cb, ok := Normalize(tt.b)
			if !ok {
				t.Fatalf("Normalize(%q) failed", tt.b)
			}
			if ca != cb {
				t.Errorf("Normalize(%q)=%q, Normalize(%q)=%q; want equal", tt.a, ca, tt.b, cb)
			}
		})
	}
}

func TestNormalize_Empty(t *testing.T) {
	for _, raw := range []string{"", "   ", "+ - ."} {
		if c, ok := Normalize(raw); ok {
			t.Errorf("Normalize(%q) = %q, want none", raw, c)
		}
	}
}

func TestNormalize_Group(t *testing.T) {
	c, ok := Normalize("12036302489@g.us")
	if !ok {
		t.Fatal("group JID should normalize")
	}
	if !c.IsGroup() {
		t.Errorf("%q should be a group", c)
	}
	if c != "12036302489@g.us" {
		t.Errorf("group identity mangled: %q", c)
	}

	u, _ := Normalize("4915112345678")
	if u.IsGroup() {
		t.Errorf("%q should not be a group", u)
	}
}

func TestIsNumericPlaceholder(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"", true},
		{"4915112345678", true},
		{"+49 151 1234-5678", true},
		{"Maria Gonzalez", false},
		{"Shop 24", false},
	}
	for _, tt := range tests {
		if got := IsNumericPlaceholder(tt.name); got != tt.want {
			t.Errorf("IsNumericPlaceholder(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
