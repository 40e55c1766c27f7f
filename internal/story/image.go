package story

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"taleweaver/pkg/ai"
	"taleweaver/pkg/storage"
)

// Illustrator renders one illustration per page and stores it durably.
// It never fails: any error along the way resolves to a placeholder URL
// so a single bad illustration cannot abort an otherwise-good story.
type Illustrator struct {
	gen     ai.ImageGenerator
	objects storage.ObjectStore
}

// NewIllustrator wires an image generator to an object store.
func NewIllustrator(gen ai.ImageGenerator, objects storage.ObjectStore) *Illustrator {
	return &Illustrator{gen: gen, objects: objects}
}

// PageImage generates and uploads the illustration for one page and
// returns its public URL, or a placeholder URL on any failure.
func (il *Illustrator) PageImage(ctx context.Context, storyID string, pageNumber int, pageText string, age int) string {
	logger := slog.Default().With("story_id", storyID, "page", pageNumber)
	data, err := il.gen.GenerateImage(ctx, imagePrompt(pageText, age))
	if err != nil {
		logger.Warn("image generation failed, using placeholder", "error", err)
		return placeholderImageURL()
	}
	if len(data) == 0 {
		logger.Warn("image model returned no bytes, using placeholder")
		return placeholderImageURL()
	}
	key := fmt.Sprintf("stories/%s/page-%d.jpg", storyID, pageNumber)
	if err := il.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "image/jpeg"); err != nil {
		logger.Warn("image upload failed, using placeholder", "error", err)
		return placeholderImageURL()
	}
	return il.objects.URL(key)
}

func placeholderImageURL() string {
	return fmt.Sprintf("https://picsum.photos/seed/%d/800/450", rand.Intn(1_000_000))
}
