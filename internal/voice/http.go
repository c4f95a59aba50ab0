package voice

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/buddy/internal/reliability"
)

const defaultHTTPTimeout = 30 * time.Second

// upstreamRetry gives a flaky backend one more chance before the caller
// degrades the turn.
var upstreamRetry = reliability.Policy{Attempts: 2, Base: 200 * time.Millisecond, Cap: time.Second}

// HTTPGenerator forwards prompts to a JSON text-generation endpoint. Plain
// JSON, newline-delimited JSON and server-sent event bodies are accepted.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPGenerator{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	System  string `json:"system,omitempty"`
	Prompt  string `json:"prompt"`
	Context string `json:"context,omitempty"`
	History []Turn `json:"history,omitempty"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	res, err := postJSON(ctx, g.client, g.url, generateRequest{
		System:  prompt.System,
		Prompt:  prompt.User,
		Context: prompt.Context,
		History: prompt.History,
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	defer res.Body.Close()

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return consumeLines(res.Body)
	}
	return readText(res.Body)
}

// HTTPSearcher sends {"query": ...} to a search endpoint and reads a summary.
type HTTPSearcher struct {
	url    string
	client *http.Client
}

func NewHTTPSearcher(url string, timeout time.Duration) *HTTPSearcher {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPSearcher{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSearcher) Search(ctx context.Context, query string) (string, error) {
	res, err := postJSON(ctx, s.client, s.url, map[string]string{"query": query})
	if err != nil {
		return "", fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	return readText(res.Body)
}

func postJSON(ctx context.Context, client *http.Client, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var res *http.Response
	err = upstreamRetry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		r, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(r.Body, 4<<10))
			r.Body.Close()
			return &reliability.StatusError{Code: r.StatusCode, Body: strings.TrimSpace(string(msg))}
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func readText(body io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return strings.TrimSpace(string(raw)), nil
	}
	return strings.TrimSpace(extractText(obj)), nil
}

func consumeLines(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}
		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return strings.TrimSpace(out.String()), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "summary", "message"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}
