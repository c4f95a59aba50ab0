package archive

import (
	"context"
	"regexp"
)

var (
	emailPattern   = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern   = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern    = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	addressPattern = regexp.MustCompile(`(?i)\b\d{1,5}\s+(?:[a-z]+\s){1,3}(?:street|st|road|rd|avenue|ave|lane|ln|drive|dr)\b`)
)

// RedactPII masks contact details a child might say out loud.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range []struct {
		re   *regexp.Regexp
		mask string
	}{
		{emailPattern, "[REDACTED_EMAIL]"},
		// Cards before phones so long digit runs are not taken for phone numbers.
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
		{addressPattern, "[REDACTED_ADDRESS]"},
	} {
		next := r.re.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// RedactingStore redacts entry content before handing it to the inner store.
type RedactingStore struct {
	inner Store
}

func NewRedactingStore(inner Store) *RedactingStore {
	return &RedactingStore{inner: inner}
}

func (s *RedactingStore) SaveTurn(ctx context.Context, entry Entry) error {
	content, changed := RedactPII(entry.Content)
	entry.Content = content
	entry.PIIRedacted = entry.PIIRedacted || changed
	return s.inner.SaveTurn(ctx, entry)
}

func (s *RedactingStore) Recent(ctx context.Context, entityID string, limit int) ([]Entry, error) {
	return s.inner.Recent(ctx, entityID, limit)
}

func (s *RedactingStore) Close() error { return s.inner.Close() }
