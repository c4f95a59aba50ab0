package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	speechMarkupReplacer      = strings.NewReplacer("*", " ", "_", " ", "#", " ", "~", " ", "`", " ", "|", " ", "<", " ", ">", " ")
)

// SanitizeSpeechText strips markup, links and emoji from generated text so
// the synthesized voice only reads words a child would hear.
func SanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechURLPattern.ReplaceAllString(raw, " ")
	raw = speechMarkupReplacer.Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true
	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r), unicode.In(r, unicode.So, unicode.Sk):
			continue
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// VoiceForAge picks the child voice for ages up to 12. Unknown ages (<= 0) get
// the child voice too.
func VoiceForAge(age int, childVoice, defaultVoice string) string {
	if age <= 12 {
		return childVoice
	}
	return defaultVoice
}
