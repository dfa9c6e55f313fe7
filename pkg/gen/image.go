package gen

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
)

var _ ImageGenerator = (*OpenAIImageGenerator)(nil)

// OpenAIImageGenerator implements ImageGenerator using the OpenAI Images API.
type OpenAIImageGenerator struct {
	Client *openai.Client `json:"-" yaml:"-"`

	// Model defaults to dall-e-3 when empty.
	Model string `json:"model" yaml:"model"`

	// Size defaults to 1024x1024 when empty.
	Size string `json:"size,omitzero" yaml:"size,omitempty"`
}

func (g *OpenAIImageGenerator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	model := g.Model
	if model == "" {
		model = string(openai.ImageModelDallE3)
	}
	size := openai.ImageGenerateParamsSize(g.Size)
	if size == "" {
		size = openai.ImageGenerateParamsSize1024x1024
	}
	resp, err := g.Client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(model),
		Size:           size,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", errors.New("image generation returned no data")
	}
	img := resp.Data[0]
	if img.URL != "" {
		return img.URL, nil
	}
	if img.B64JSON != "" {
		return "data:image/png;base64," + img.B64JSON, nil
	}
	return "", errors.New("image generation returned neither url nor data")
}
