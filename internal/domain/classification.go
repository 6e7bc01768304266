package domain

// IntentUnknown is the routing outcome for input that matched no playbook
// with enough signal. It always escalates.
const IntentUnknown = "unknown"

// IntentCandidate is a catalog entry the classifier scores text against.
type IntentCandidate struct {
	ID         string   `yaml:"id"`
	Label      string   `yaml:"label"`
	WorkflowID string   `yaml:"workflow"`
	Category   string   `yaml:"category"`
	Keywords   []string `yaml:"keywords"`
	Sample     string   `yaml:"sample"`

	// Playbook behaviour used by the simulated resolution step.
	Resolution   string   `yaml:"resolution"`
	RiskKeywords []string `yaml:"risk_keywords"`
}

type ScoredIntent struct {
	Intent IntentCandidate
	Score  int
}

// Confidence is the percentage-like heuristic shown next to a match.
// It is not a probability.
func (s ScoredIntent) Confidence() int {
	c := s.Score * 25
	if c > 100 {
		return 100
	}
	return c
}

// Classification is the classifier's verdict for one interaction.
type Classification struct {
	Ranked   []ScoredIntent
	Detected *IntentCandidate // nil when the verdict is IntentUnknown
}

func (c Classification) Unknown() bool {
	return c.Detected == nil
}

// IntentID returns the detected intent id, or IntentUnknown.
func (c Classification) IntentID() string {
	if c.Detected == nil {
		return IntentUnknown
	}
	return c.Detected.ID
}
