package story

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"taleweaver/pkg/ai"
)

// Request describes one story generation request.
type Request struct {
	Prompt    string `json:"prompt"`
	Interests string `json:"interests,omitempty"`
	Age       int    `json:"age"`
}

// Validate checks request bounds before any model call.
func (r Request) Validate() error {
	promptLen := utf8.RuneCountInString(strings.TrimSpace(r.Prompt))
	if promptLen < 10 || promptLen > 500 {
		return errors.New("prompt must be between 10 and 500 characters")
	}
	if interests := strings.TrimSpace(r.Interests); interests != "" {
		n := utf8.RuneCountInString(interests)
		if n < 3 || n > 200 {
			return errors.New("interests must be between 3 and 200 characters")
		}
	}
	if r.Age < 2 || r.Age > 12 {
		return errors.New("age must be between 2 and 12")
	}
	return nil
}

// draft is the structured reply expected from the text model.
type draft struct {
	Title string   `json:"title"`
	Pages []string `json:"pages"`
}

// generateDraft calls the text model and decodes its structured reply.
// Any model error or shape mismatch fails closed.
func generateDraft(ctx context.Context, gen ai.TextGenerator, req Request) (draft, error) {
	raw, err := gen.GenerateText(ctx, storySystemPrompt(req.Age, req.Interests), storyUserPrompt(req.Prompt))
	if err != nil {
		return draft{}, fmt.Errorf("text model: %w", err)
	}
	return decodeDraft(raw)
}

// decodeDraft extracts the JSON object from a free-text model reply.
// Models occasionally wrap JSON in prose or markdown fences, so the
// decoder takes the substring from the first '{' to the last '}'.
func decodeDraft(raw string) (draft, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return draft{}, errors.New("reply contains no JSON object")
	}
	var d draft
	if err := json.Unmarshal([]byte(raw[start:end+1]), &d); err != nil {
		return draft{}, fmt.Errorf("decode reply: %w", err)
	}
	if strings.TrimSpace(d.Title) == "" {
		return draft{}, errors.New("reply missing title")
	}
	if len(d.Pages) == 0 {
		return draft{}, errors.New("reply contains no pages")
	}
	for i, page := range d.Pages {
		if strings.TrimSpace(page) == "" {
			return draft{}, fmt.Errorf("page %d is empty", i+1)
		}
	}
	return d, nil
}
