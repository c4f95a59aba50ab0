package dialogue

import "strings"

// Scenario groups practice topics.
type Scenario string

const (
	ScenarioDailyLife   Scenario = "daily_life"
	ScenarioInterests   Scenario = "interests"
	ScenarioEmotions    Scenario = "emotions"
	ScenarioImagination Scenario = "imagination"
	ScenarioReview      Scenario = "review"
)

var topicTable = map[Scenario][]string{
	ScenarioDailyLife:   {"school life", "family time", "a walk in the park", "ordering at a restaurant"},
	ScenarioInterests:   {"sports", "drawing", "music", "reading stories"},
	ScenarioEmotions:    {"happy things", "sad times", "what makes you angry", "surprising moments"},
	ScenarioImagination: {"future dreams", "a magic world", "adventure stories", "inventions"},
}

var (
	interestHints    = []string{"draw", "paint", "music", "sing", "sport", "football", "soccer", "swim", "read", "book"}
	emotionHints     = []string{"happy", "sad", "angry", "scared", "feeling", "emotion", "worried"}
	imaginationHints = []string{"dream", "magic", "space", "dragon", "invent", "robot", "adventure"}
)

// Topics returns the candidate topics for a scenario.
func Topics(s Scenario) []string {
	return append([]string(nil), topicTable[s]...)
}

// pickScenario chooses a topic group from the entity's interests. Interest
// hints win over emotion hints, which win over imagination hints.
func pickScenario(interests []string) Scenario {
	joined := strings.ToLower(strings.Join(interests, " "))
	switch {
	case joined == "":
		return ScenarioDailyLife
	case containsAny(joined, interestHints):
		return ScenarioInterests
	case containsAny(joined, emotionHints):
		return ScenarioEmotions
	case containsAny(joined, imaginationHints):
		return ScenarioImagination
	default:
		return ScenarioDailyLife
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
