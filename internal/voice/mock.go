package voice

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync/atomic"
)

// MockProvider is a local stand-in for every collaborator. It is used when no
// real backend is configured and keeps the service usable offline.
type MockProvider struct {
	generated atomic.Int64
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Transcribe(_ context.Context, audioRef string) (string, error) {
	audioRef = strings.TrimSpace(audioRef)
	if audioRef == "" {
		return "", nil
	}
	// Mock audio refs carry their transcript after a "text:" prefix.
	if rest, ok := strings.CutPrefix(audioRef, "text:"); ok {
		return strings.TrimSpace(rest), nil
	}
	return "simulated voice input", nil
}

func (p *MockProvider) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.generated.Add(1)
	user := strings.TrimSpace(prompt.User)
	if user == "" {
		return "Let's talk! What would you like to share today?", nil
	}
	return fmt.Sprintf("That's interesting! You said: %s. Tell me more?", user), nil
}

func (p *MockProvider) Synthesize(ctx context.Context, text, voiceID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text = SanitizeSpeechText(text)
	if text == "" {
		return "", nil
	}
	payload := base64.StdEncoding.EncodeToString([]byte(text))
	return fmt.Sprintf("mock://%s/%s", voiceID, payload), nil
}

func (p *MockProvider) Search(ctx context.Context, query string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	return fmt.Sprintf("No live search configured; answer %q from general knowledge.", query), nil
}

// Generated reports how many Generate calls succeeded.
func (p *MockProvider) Generated() int64 { return p.generated.Load() }
