package voice

import (
	"context"
	"fmt"
	"sync/atomic"
)

// NewFailoverGenerator prefers primary and switches to fallback when a primary
// call fails. Once fallback succeeds it stays active until it fails; then
// primary is retried.
func NewFailoverGenerator(primary, fallback Generator) Generator {
	return &failoverGenerator{primary: primary, fallback: fallback}
}

type failoverGenerator struct {
	fallbackActive atomic.Bool
	primary        Generator
	fallback       Generator
}

func (g *failoverGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if g.fallbackActive.Load() {
		text, fbErr := g.fallback.Generate(ctx, prompt)
		if fbErr == nil {
			return text, nil
		}
		// Fallback failed after being active; try primary again.
		text, prErr := g.primary.Generate(ctx, prompt)
		if prErr == nil {
			g.fallbackActive.Store(false)
			return text, nil
		}
		return "", fmt.Errorf("generator fallback failed: %v; generator primary failed: %w", fbErr, prErr)
	}

	text, prErr := g.primary.Generate(ctx, prompt)
	if prErr == nil {
		return text, nil
	}
	text, fbErr := g.fallback.Generate(ctx, prompt)
	if fbErr != nil {
		return "", fmt.Errorf("generator primary failed: %v; generator fallback failed: %w", prErr, fbErr)
	}
	g.fallbackActive.Store(true)
	return text, nil
}

// FallbackActive reports whether calls currently go to the fallback generator.
func FallbackActive(g Generator) bool {
	f, ok := g.(*failoverGenerator)
	return ok && f.fallbackActive.Load()
}
