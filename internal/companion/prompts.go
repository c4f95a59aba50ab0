package companion

import (
	"fmt"
	"strings"

	"github.com/ent0n29/buddy/internal/classify"
	"github.com/ent0n29/buddy/internal/session"
	"github.com/ent0n29/buddy/internal/tasks"
	"github.com/ent0n29/buddy/internal/voice"
)

const (
	conversationSystemPrompt = "You are Buddy, a warm and curious companion for a young child. " +
		"Answer in at most three short sentences with simple words. Ask a follow-up question when it fits."
	careSystemPrompt = "You are Buddy, a gentle companion. The child may be upset or unsafe. " +
		"Respond calmly, acknowledge their feelings, and encourage them to talk to a trusted adult right now."
	callSystemPrompt = "You are Buddy on a live voice call. Reply in one or two short spoken sentences."
)

type profile struct {
	name      string
	age       int
	interests []string
}

func (p profile) describe() string {
	var b strings.Builder
	name := p.name
	if name == "" {
		name = "the child"
	}
	fmt.Fprintf(&b, "Talking with %s", name)
	if p.age > 0 {
		fmt.Fprintf(&b, ", age %d", p.age)
	}
	if len(p.interests) > 0 {
		fmt.Fprintf(&b, ", who likes %s", strings.Join(p.interests, ", "))
	}
	b.WriteString(".")
	return b.String()
}

func historyTurns(entries []session.ConversationEntry) []voice.Turn {
	out := make([]voice.Turn, 0, len(entries))
	for _, e := range entries {
		out = append(out, voice.Turn{Role: e.Role, Content: e.Content})
	}
	return out
}

// buildContext joins homework status, completed tasks and the search summary
// into the prompt context block.
func buildContext(p profile, valid []tasks.Task, completed []tasks.Task, searchSummary string) string {
	lines := []string{p.describe()}
	if len(valid) > 0 {
		subjects := make([]string, 0, len(valid))
		for _, t := range valid {
			subjects = append(subjects, t.Subject)
		}
		lines = append(lines, "Homework still to do: "+strings.Join(subjects, ", ")+".")
	} else {
		lines = append(lines, "No homework pending.")
	}
	if len(completed) > 0 {
		subjects := make([]string, 0, len(completed))
		for _, t := range completed {
			subjects = append(subjects, t.Subject)
		}
		lines = append(lines, "The child just finished: "+strings.Join(subjects, ", ")+". Praise them for it.")
	}
	if searchSummary != "" {
		lines = append(lines, "Search results: "+searchSummary)
	}
	return strings.Join(lines, "\n")
}

func systemPromptFor(label classify.Label) string {
	if label == classify.LabelCareNeeded {
		return careSystemPrompt
	}
	return conversationSystemPrompt
}

var conceptPrefixes = []string{"what is a ", "what is an ", "what is ", "what's a ", "what's an ", "what's ", "what are "}

// extractConcept pulls the asked-about term out of a "what is X" question.
func extractConcept(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range conceptPrefixes {
		idx := strings.Index(lower, prefix)
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(lower[idx+len(prefix):])
		rest = strings.TrimRight(rest, "?!. ")
		if rest == "" {
			return ""
		}
		words := strings.Fields(rest)
		if len(words) > 3 {
			return ""
		}
		return strings.Join(words, " ")
	}
	return ""
}
