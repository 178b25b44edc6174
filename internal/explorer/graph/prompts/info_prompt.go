package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/animal-explorer/server/internal/explorer/model"
)

//go:embed template/info_prompt.txt
var infoSystemPrompt string

// MaxSuggestions bounds the alternatives requested for an unknown animal.
const MaxSuggestions = 3

// RenderInfoMessages renders the system and user messages for a facts request
// via the Eino prompt component, which triggers prompt callbacks.
func RenderInfoMessages(ctx context.Context, q model.Query) ([]*schema.Message, error) {
	user := "Información sobre: {{.Animal}}"
	if q.Language == "en" {
		user = "Information about: {{.Animal}}"
	}

	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(infoSystemPrompt),
		schema.UserMessage(user),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Language":       q.Language,
		"Animal":         q.Animal,
		"MaxSuggestions": MaxSuggestions,
	})
	if err != nil {
		return nil, fmt.Errorf("info prompt render: %w", err)
	}
	if len(msgs) != 2 || msgs[0] == nil || msgs[1] == nil {
		return nil, fmt.Errorf("info prompt render: unexpected result")
	}
	return msgs, nil
}
