package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockModel provides deterministic local replies when no provider is
// configured. It recognises a few phrasings and turns them into tool calls
// for tools it has been bound to.
type MockModel struct {
	tools map[string]bool
}

func NewMockModel() *MockModel { return &MockModel{tools: map[string]bool{}} }

func (m *MockModel) Provider() string { return "mock" }

func (m *MockModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound := make(map[string]bool, len(tools))
	for _, t := range tools {
		if t != nil {
			bound[t.Name] = true
		}
	}
	return &MockModel{tools: bound}, nil
}

func (m *MockModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if len(input) == 0 {
		return schema.AssistantMessage("How can I help you today?", nil), nil
	}

	last := input[len(input)-1]
	if last.Role == schema.Tool {
		return schema.AssistantMessage(summarizeToolResults(input), nil), nil
	}
	if last.Role != schema.User {
		return schema.AssistantMessage("How can I help you today?", nil), nil
	}

	if name, args, ok := m.intent(last.Content); ok {
		b, _ := json.Marshal(args)
		call := schema.ToolCall{
			ID:       fmt.Sprintf("mock-call-%d", len(input)),
			Type:     "function",
			Function: schema.FunctionCall{Name: name, Arguments: string(b)},
		}
		return schema.AssistantMessage("", []schema.ToolCall{call}), nil
	}

	text := strings.TrimSpace(last.Content)
	return schema.AssistantMessage(fmt.Sprintf("You said: %s. Ask me about products, categories or your cart.", text), nil), nil
}

func (m *MockModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

var (
	addPattern      = regexp.MustCompile(`(?i)^\s*add\s+(?:an?\s+|the\s+)?(.+?)(?:\s+to\s+(?:my\s+|the\s+)?cart)?\s*[.!]?\s*$`)
	removePattern   = regexp.MustCompile(`(?i)^\s*remove\s+(?:an?\s+|the\s+)?(.+?)(?:\s+from\s+(?:my\s+|the\s+)?cart)?\s*[.!]?\s*$`)
	categoryPattern = regexp.MustCompile(`(?i)\bcategory\s+([\w-]+)`)
	searchPattern   = regexp.MustCompile(`(?i)\b(?:looking for|find|search for|show me)\s+(?:an?\s+|some\s+)?(.+?)\s*[.?!]?\s*$`)
)

func (m *MockModel) intent(text string) (string, map[string]any, bool) {
	lower := strings.ToLower(text)
	candidates := []struct {
		match func() (map[string]any, bool)
		tool  string
	}{
		{tool: "clear_cart", match: func() (map[string]any, bool) {
			return map[string]any{}, strings.Contains(lower, "clear") && strings.Contains(lower, "cart")
		}},
		{tool: "add_to_cart_by_name", match: func() (map[string]any, bool) {
			if g := addPattern.FindStringSubmatch(text); g != nil {
				return map[string]any{"productName": g[1]}, true
			}
			return nil, false
		}},
		{tool: "remove_from_cart_by_name", match: func() (map[string]any, bool) {
			if g := removePattern.FindStringSubmatch(text); g != nil {
				return map[string]any{"productName": g[1]}, true
			}
			return nil, false
		}},
		{tool: "get_cart", match: func() (map[string]any, bool) {
			return map[string]any{}, strings.Contains(lower, "cart")
		}},
		{tool: "get_products_by_category", match: func() (map[string]any, bool) {
			if g := categoryPattern.FindStringSubmatch(text); g != nil {
				return map[string]any{"category": g[1]}, true
			}
			return nil, false
		}},
		{tool: "get_categories", match: func() (map[string]any, bool) {
			return map[string]any{}, strings.Contains(lower, "categor")
		}},
		{tool: "get_newest_products", match: func() (map[string]any, bool) {
			return map[string]any{"count": 3}, strings.Contains(lower, "new")
		}},
		{tool: "suggest_products_by_keyword", match: func() (map[string]any, bool) {
			if g := searchPattern.FindStringSubmatch(text); g != nil {
				return map[string]any{"keywords": g[1]}, true
			}
			return nil, false
		}},
	}
	for _, c := range candidates {
		if !m.tools[c.tool] {
			continue
		}
		if args, ok := c.match(); ok {
			return c.tool, args, true
		}
	}
	return "", nil, false
}

const summaryMaxRunes = 600

func summarizeToolResults(input []*schema.Message) string {
	var parts []string
	for i := len(input) - 1; i >= 0 && input[i].Role == schema.Tool; i-- {
		parts = append([]string{strings.TrimSpace(input[i].Content)}, parts...)
	}
	body := []rune(strings.Join(parts, "\n"))
	if len(body) > summaryMaxRunes {
		return "Here is what I found:\n" + string(body[:summaryMaxRunes]) + "..."
	}
	return "Here is what I found:\n" + string(body)
}
