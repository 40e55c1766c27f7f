package story

import (
	"context"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"taleweaver/pkg/ai"
	"taleweaver/pkg/domain"
)

// ProgressFunc receives incremental generation progress. Percent is
// monotonically non-decreasing and the final call is exactly 100.
type ProgressFunc func(percent int, message string)

// Pipeline assembles a storybook draft: one text model call, then one
// illustration per page. Nothing is persisted here; the caller stores
// the assembled result in one write.
type Pipeline struct {
	text        ai.TextGenerator
	illustrator *Illustrator
	workers     int
}

// NewPipeline builds a pipeline with a bounded illustration fan-out.
func NewPipeline(text ai.TextGenerator, illustrator *Illustrator, workers int) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{text: text, illustrator: illustrator, workers: workers}
}

// Assemble generates the full storybook draft for one request.
// A text model failure aborts with an error; illustration failures
// degrade to placeholders per the Illustrator contract.
func (p *Pipeline) Assemble(ctx context.Context, storyID string, req Request, onProgress ProgressFunc) (string, []domain.StoryPage, error) {
	report := onProgress
	if report == nil {
		report = func(int, string) {}
	}
	report(0, "Crafting your unique story...")

	d, err := generateDraft(ctx, p.text, req)
	if err != nil {
		return "", nil, err
	}
	report(10, "Story draft complete")

	n := len(d.Pages)
	pages := make([]domain.StoryPage, n)
	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, text := range d.Pages {
		i, text := i, text
		g.Go(func() error {
			url := p.illustrator.PageImage(gctx, storyID, i+1, text, req.Age)
			mu.Lock()
			pages[i] = domain.StoryPage{PageNumber: i + 1, Text: text, ImageURL: url}
			done++
			percent := 10 + int(math.Round(float64(done)/float64(n)*85))
			// Reporting under the lock keeps progress monotonic.
			report(percent, "Illustrating your story...")
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	// Guard ordering against out-of-order completion.
	sort.Slice(pages, func(a, b int) bool { return pages[a].PageNumber < pages[b].PageNumber })
	report(100, "Your storybook is ready!")
	return d.Title, pages, nil
}
