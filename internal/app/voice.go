package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/buddy/internal/config"
	"github.com/ent0n29/buddy/internal/voice"
)

type collaborators struct {
	transcriber voice.Transcriber
	generator   voice.Generator
	synthesizer voice.Synthesizer
	searcher    voice.Searcher
	detail      string
}

// resolveCollaborators uses the HTTP backends when their URLs are set and the
// local mock otherwise. A remote generator always fails over to the mock so a
// turn still gets an answer.
func resolveCollaborators(cfg config.Config) collaborators {
	mock := voice.NewMockProvider()
	out := collaborators{
		transcriber: mock,
		generator:   mock,
		synthesizer: mock,
		searcher:    mock,
	}

	var parts []string
	if url := strings.TrimSpace(cfg.GeneratorURL); url != "" {
		out.generator = voice.NewFailoverGenerator(voice.NewHTTPGenerator(url, cfg.UpstreamTimeout), mock)
		parts = append(parts, fmt.Sprintf("generator=http(%s)+mock", url))
	} else {
		parts = append(parts, "generator=mock")
	}
	if url := strings.TrimSpace(cfg.SearchURL); url != "" {
		out.searcher = voice.NewHTTPSearcher(url, cfg.UpstreamTimeout)
		parts = append(parts, fmt.Sprintf("search=http(%s)", url))
	} else {
		parts = append(parts, "search=mock")
	}
	parts = append(parts, "stt=mock", "tts=mock")
	out.detail = strings.Join(parts, " ")
	return out
}
