package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"agentdesk/internal/domain"
)

const maxSummaryChars = 600

const summarySystemPrompt = `You write the diagnosis section of an IT support ticket.
The customer contacted support and an automated workflow could not resolve the issue.
Write two to four plain sentences for the human agent who picks up the ticket:
what the customer reported, which device is affected, what was already tried or
detected, and why it was escalated. No greeting, no markdown, no bullet points.`

// Summarizer produces escalation diagnoses through a Completer and keeps a
// running token count.
type Summarizer struct {
	completer Completer
	logger    *zap.Logger

	mu    sync.Mutex
	usage Usage
}

func NewSummarizer(c Completer, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{completer: c, logger: logger}
}

func (s *Summarizer) Summarize(ctx context.Context, in domain.Interaction, reason string) (string, error) {
	text, usage, err := s.completer.Complete(ctx, summarySystemPrompt, buildSummaryPrompt(in, reason))

	s.mu.Lock()
	s.usage.Add(usage)
	total := s.usage.TotalTokens()
	s.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("summarizing interaction %s: %w", in.ID, err)
	}
	summary := cleanSummary(text)
	if summary == "" {
		return "", fmt.Errorf("summarizing interaction %s: empty response", in.ID)
	}
	s.logger.Debug("diagnosis summarized",
		zap.String("interaction_id", in.ID),
		zap.Int64("tokens_total", total),
	)
	return summary, nil
}

func (s *Summarizer) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func buildSummaryPrompt(in domain.Interaction, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Channel: %s\n", in.Channel)
	intent := in.DetectedIntent
	if intent == "" {
		intent = domain.IntentUnknown
	}
	fmt.Fprintf(&b, "Detected intent: %s\n", intent)
	if in.DetectedDevice != "" {
		fmt.Fprintf(&b, "Detected device: %s\n", in.DetectedDevice)
	}
	if in.Classification != nil {
		for i, c := range in.Classification.Ranked {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "Candidate: %s score=%d\n", c.Intent.ID, c.Score)
		}
	}
	fmt.Fprintf(&b, "Escalation reason: %s\n", reason)
	b.WriteString("\nCustomer message:\n")
	b.WriteString(strings.TrimSpace(in.Text))
	b.WriteString("\n")
	return b.String()
}

// cleanSummary strips code fences and surrounding quotes and caps the length.
func cleanSummary(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	text = strings.Trim(strings.TrimSpace(text), `"`)
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > maxSummaryChars {
		text = strings.TrimSpace(string(r[:maxSummaryChars-3])) + "..."
	}
	return text
}
