package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/leadline-io/leadline/internal/convo"
	"github.com/leadline-io/leadline/internal/store"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 1024
	verdictToolName  = "submit_verdict"
)

// AnthropicReasoner implements Reasoner on the Anthropic Messages API. The
// verdict comes back through a forced tool call so the output is structured
// JSON rather than free text.
type AnthropicReasoner struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// AnthropicConfig configures the reasoner. Zero values fall back to defaults.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

func NewAnthropicReasoner(cfg AnthropicConfig) *AnthropicReasoner {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &AnthropicReasoner{client: &client, model: model, maxTokens: maxTokens}
}

func (r *AnthropicReasoner) Qualify(ctx context.Context, req Request) (*convo.Verdict, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("anthropic: empty conversation context")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(r.model),
		MaxTokens: r.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: buildSystemPrompt(req)}},
		Messages:  buildTurns(req.Messages),
		Tools:     []anthropic.ToolUnionParam{verdictTool()},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: verdictToolName},
		},
	}

	resp, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: qualify: %w", err)
	}

	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		tu := block.AsToolUse()
		if tu.Name != verdictToolName {
			continue
		}
		return parseVerdict(tu.Input)
	}
	return nil, fmt.Errorf("anthropic: no %s tool call in response", verdictToolName)
}

func buildSystemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You qualify inbound sales conversations for a business and draft the next reply.\n")
	b.WriteString("Statuses: COLD (no interest shown), WARM (engaged), HOT (ready to buy), PERSONAL (not a lead).\n")
	if req.TenantProfile != "" {
		b.WriteString("\nBusiness context:\n")
		b.WriteString(req.TenantProfile)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nCurrent status: %s.", req.Status)
	if req.DisplayName != "" {
		fmt.Fprintf(&b, " Counterpart: %s.", req.DisplayName)
	}
	if len(req.Tags) > 0 {
		fmt.Fprintf(&b, " Existing tags: %s.", strings.Join(req.Tags, ", "))
	}
	b.WriteString("\nAlways answer by calling submit_verdict exactly once.")
	return b.String()
}

// buildTurns maps the conversation to API turns: the lead speaks as "user",
// bot and owner messages as "assistant". Consecutive same-role messages are
// merged because the API rejects repeated roles.
func buildTurns(messages []store.Message) []anthropic.MessageParam {
	var turns []anthropic.MessageParam
	for _, m := range messages {
		text := m.Text
		if m.Sender == store.SenderOwner {
			text = "[human operator] " + text
		}
		role := anthropic.MessageParamRoleAssistant
		if m.Sender == store.SenderUser {
			role = anthropic.MessageParamRoleUser
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content = append(turns[n-1].Content, anthropic.NewTextBlock(text))
			continue
		}
		turns = append(turns, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(text)},
		})
	}
	// The API requires the first turn to be from the user.
	if len(turns) > 0 && turns[0].Role != anthropic.MessageParamRoleUser {
		turns = append([]anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("[conversation opened by the business]")),
		}, turns...)
	}
	return turns
}

func verdictTool() anthropic.ToolUnionParam {
	tool := anthropic.ToolParam{
		Name:        verdictToolName,
		Description: anthropic.String("Submit the qualification verdict for this conversation."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]any{
				"reply": map[string]any{
					"type":        "string",
					"description": "Next reply to send to the lead. Empty when no reply is warranted.",
				},
				"status": map[string]any{
					"type": "string",
					"enum": []string{"COLD", "WARM", "HOT", "PERSONAL"},
				},
				"tags": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"suggested_replies": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Two or three reply drafts for a human closer. Only for HOT leads.",
				},
			},
			Required: []string{"status"},
		},
	}
	return anthropic.ToolUnionParam{OfTool: &tool}
}

func parseVerdict(input json.RawMessage) (*convo.Verdict, error) {
	var raw struct {
		Reply            string   `json:"reply"`
		Status           string   `json:"status"`
		Tags             []string `json:"tags"`
		SuggestedReplies []string `json:"suggested_replies"`
	}
	if err := json.Unmarshal(input, &raw); err != nil {
		return nil, fmt.Errorf("anthropic: decode verdict: %w", err)
	}
	return &convo.Verdict{
		ReplyText:        SanitizeReply(raw.Reply),
		NewStatus:        store.Status(raw.Status),
		Tags:             raw.Tags,
		SuggestedReplies: sanitizeReplies(raw.SuggestedReplies),
	}, nil
}
