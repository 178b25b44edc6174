package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/animal-explorer/server/internal/explorer/model"
)

//go:embed template/image_prompt.txt
var imagePrompt string

// RenderImagePrompt builds the image generation prompt. The English name is
// preferred since image models follow it more reliably.
func RenderImagePrompt(ctx context.Context, q model.Query, facts *model.Facts) (string, error) {
	vars := map[string]any{"Subject": strings.TrimSpace(q.Animal)}
	if facts != nil {
		if facts.EnglishName != "" {
			vars["Subject"] = facts.EnglishName
		} else if facts.Name != "" {
			vars["Subject"] = facts.Name
		}
		vars["Group"] = strings.ToLower(facts.Group)
		vars["Covering"] = strings.ToLower(facts.Covering)
	}

	tpl := prompt.FromMessages(schema.GoTemplate, schema.UserMessage(imagePrompt))
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return "", fmt.Errorf("image prompt render: %w", err)
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return "", fmt.Errorf("image prompt render: empty result")
	}
	return strings.TrimSpace(msgs[0].Content), nil
}
