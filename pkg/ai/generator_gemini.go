package ai

import "context"

// GeminiGenerator wraps GeminiClient with a fixed model for text generation.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-based TextGenerator.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

// GenerateText implements TextGenerator using Gemini.
func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt)
}

// GeminiImageGenerator wraps GeminiClient with a fixed Imagen model and
// aspect ratio.
type GeminiImageGenerator struct {
	client      *GeminiClient
	model       string
	aspectRatio string
}

// NewGeminiImageGenerator builds an Imagen-based ImageGenerator.
func NewGeminiImageGenerator(client *GeminiClient, model, aspectRatio string) *GeminiImageGenerator {
	if aspectRatio == "" {
		aspectRatio = "16:9"
	}
	return &GeminiImageGenerator{client: client, model: model, aspectRatio: aspectRatio}
}

// GenerateImage implements ImageGenerator using Imagen.
func (g *GeminiImageGenerator) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return g.client.GenerateImage(ctx, g.model, prompt, g.aspectRatio)
}
