package infra

import (
	"context"
	"errors"
	"time"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

// CompositeSource concatenates the lines of several sources per poll.
// A failing source does not hide the others; its error is joined into the
// result only when every source failed.
type CompositeSource struct {
	sources []domain.LogSource
}

// NewCompositeSource combines sources in order. Nil entries are skipped.
func NewCompositeSource(sources ...domain.LogSource) *CompositeSource {
	c := &CompositeSource{}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// Since queries every source and concatenates their lines.
func (c *CompositeSource) Since(ctx context.Context, since time.Time) ([]string, error) {
	var (
		lines []string
		errs  []error
	)
	for _, s := range c.sources {
		out, err := s.Since(ctx, since)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		lines = append(lines, out...)
	}
	if len(errs) > 0 && len(errs) == len(c.sources) {
		return nil, errors.Join(errs...)
	}
	return lines, nil
}

// Ensure CompositeSource implements domain.LogSource.
var _ domain.LogSource = (*CompositeSource)(nil)
