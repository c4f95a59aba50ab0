package voice

import "context"

// Prompt is one text-generation request. History is oldest first.
type Prompt struct {
	System  string
	User    string
	Context string
	History []Turn
}

type Turn struct {
	Role    string
	Content string
}

// Transcriber turns an audio reference into recognized text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string) (string, error)
}

// Generator produces the companion's reply text.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Synthesizer returns an audio handle for text spoken in the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (string, error)
}

// Searcher returns a short text summary for a web query.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}
