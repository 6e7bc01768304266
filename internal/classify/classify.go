// Package classify maps free-form customer text onto catalog intents by
// keyword hits.
package classify

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"agentdesk/internal/domain"
)

const (
	// MinWords is the shortest text the classifier will score.
	MinWords = 3
	// LowConfidenceThreshold is the minimum top score for a confident match.
	LowConfidenceThreshold = 0.8
)

// BuiltinCatalog is used when no catalog file is configured.
func BuiltinCatalog() []domain.IntentCandidate {
	return []domain.IntentCandidate{
		{
			ID:           "printer_offline",
			Label:        "Printer Offline on Floor 3",
			WorkflowID:   "printer_offline",
			Category:     "Printing",
			Keywords:     []string{"offline", "not printing", "network", "floor", "office", "printer"},
			Sample:       "Hi, my office printer on floor 3 is offline and nothing is printing.",
			Resolution:   "Printer re-registered on the office network and the print queue was restarted.",
			RiskKeywords: []string{"urgent", "again", "still"},
		},
		{
			ID:           "ink_error",
			Label:        "Genuine Ink Not Recognized",
			WorkflowID:   "ink_error",
			Category:     "Printer Supplies",
			Keywords:     []string{"cartridge", "ink", "cyan", "not recognized", "genuine", "printer"},
			Sample:       "My home printer says the cyan cartridge is not recognized even though it is genuine.",
			Resolution:   "Cartridge firmware check cleared and the genuine cartridge was re-seated remotely.",
			RiskKeywords: []string{"urgent", "again", "still"},
		},
	}
}

type Classifier struct {
	catalog []domain.IntentCandidate
}

func New(catalog []domain.IntentCandidate) *Classifier {
	return &Classifier{catalog: catalog}
}

func (c *Classifier) Catalog() []domain.IntentCandidate {
	return c.catalog
}

// Score ranks catalog intents by the number of distinct keywords that occur
// as substrings of the lowercased text. Zero scores are dropped and ties keep
// catalog order. Texts shorter than MinWords score nothing.
func (c *Classifier) Score(text string) []domain.ScoredIntent {
	lower := strings.ToLower(strings.TrimSpace(text))
	if domain.WordCount(lower) < MinWords {
		return nil
	}

	var ranked []domain.ScoredIntent
	for _, intent := range c.catalog {
		score := 0
		for _, kw := range intent.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(kw)) {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, domain.ScoredIntent{Intent: intent, Score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Classify scores text and selects the top intent when its score clears
// LowConfidenceThreshold; otherwise the verdict is unknown.
func (c *Classifier) Classify(text string) domain.Classification {
	ranked := c.Score(text)
	out := domain.Classification{Ranked: ranked}
	if len(ranked) == 0 || float64(ranked[0].Score) < LowConfidenceThreshold {
		return out
	}
	top := ranked[0].Intent
	out.Detected = &top
	return out
}

type catalogFile struct {
	Intents []domain.IntentCandidate `yaml:"intents"`
}

// LoadCatalog reads a YAML catalog of the form `intents: [...]`.
func LoadCatalog(path string) ([]domain.IntentCandidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) ([]domain.IntentCandidate, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing intent catalog: %w", err)
	}
	seen := make(map[string]bool, len(f.Intents))
	for i, intent := range f.Intents {
		id := strings.TrimSpace(intent.ID)
		switch {
		case id == "":
			return nil, fmt.Errorf("intent #%d has no id", i+1)
		case id == domain.IntentUnknown:
			return nil, fmt.Errorf("intent id %q is reserved", id)
		case seen[id]:
			return nil, fmt.Errorf("duplicate intent id %q", id)
		case len(intent.Keywords) == 0:
			return nil, fmt.Errorf("intent %q has no keywords", id)
		}
		seen[id] = true
		if intent.WorkflowID == "" {
			f.Intents[i].WorkflowID = id
		}
		if intent.Label == "" {
			f.Intents[i].Label = id
		}
	}
	return f.Intents, nil
}
