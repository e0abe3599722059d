package platforms

import (
	"context"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"

	"herald/internal/types"
)

// OllamaPlatform is the content generation collaborator: it drafts the
// announcement text for a recipient when no custom text is configured.
type OllamaPlatform struct {
	client *api.Client
	model  string
}

func NewOllamaPlatform(model string) (*OllamaPlatform, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama platform: model is required")
	}

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("ollama platform: failed to create client: %w", err)
	}

	return &OllamaPlatform{
		client: client,
		model:  model,
	}, nil
}

func (o *OllamaPlatform) Client() *api.Client { return o.client }

// Generate produces a short announcement for a broadcast that just went
// live. The pipeline applies the length cap afterwards; the prompt only
// nudges the model toward it.
func (o *OllamaPlatform) Generate(ctx context.Context, cfg types.AnnouncementConfig, item types.ContentItem) (string, error) {
	prompt := fmt.Sprintf(`<|im_start|>system
You are a social media editor for a live show. Write one short, excited announcement (under 200 characters) telling followers the show just went live. No hashtag spam, at most one hashtag, no quotes around the text.<|im_end|>
<|im_start|>user
Show title:
"""
%s
"""

Announcement:<|im_end|>
<|im_start|>assistant`, item.Title)

	req := &api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: new(bool),
	}

	var generated string
	respFunc := func(resp api.GenerateResponse) error {
		if resp.Done {
			generated = resp.Response
		}
		return nil
	}

	if err := o.client.Generate(ctx, req, respFunc); err != nil {
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}

	return strings.TrimSpace(generated), nil
}
