package router

import "strings"

type Trigger string

const (
	TriggerCare         Trigger = "care"
	TriggerRemind       Trigger = "remind"
	TriggerPractice     Trigger = "practice"
	TriggerConversation Trigger = "conversation"
	TriggerRealtimeCall Trigger = "realtime_call"
)

type Branch string

const (
	BranchActiveCare           Branch = "active_care"
	BranchHomeworkReminder     Branch = "homework_reminder"
	BranchSpeakingPractice     Branch = "speaking_practice"
	BranchRealtimeConversation Branch = "realtime_conversation"
	BranchRealtimeCall         Branch = "realtime_call"
)

var branches = map[Trigger]Branch{
	TriggerCare:         BranchActiveCare,
	TriggerRemind:       BranchHomeworkReminder,
	TriggerPractice:     BranchSpeakingPractice,
	TriggerConversation: BranchRealtimeConversation,
	TriggerRealtimeCall: BranchRealtimeCall,
}

// Route picks the processing branch for a turn. The trigger alone decides;
// needsReminder is accepted for callers that already resolved it but does not
// change the result. Unknown triggers fall back to conversation.
func Route(trigger Trigger, needsReminder bool) Branch {
	if b, ok := branches[ParseTrigger(string(trigger))]; ok {
		return b
	}
	return BranchRealtimeConversation
}

// ParseTrigger normalizes case, surrounding whitespace and dashes.
func ParseTrigger(raw string) Trigger {
	t := strings.ToLower(strings.TrimSpace(raw))
	t = strings.ReplaceAll(t, "-", "_")
	return Trigger(t)
}

// Branches lists every branch Route can return.
func Branches() []Branch {
	return []Branch{
		BranchActiveCare,
		BranchHomeworkReminder,
		BranchSpeakingPractice,
		BranchRealtimeConversation,
		BranchRealtimeCall,
	}
}
