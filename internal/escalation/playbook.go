package escalation

import (
	"context"
	"fmt"
	"strings"

	"agentdesk/internal/domain"
)

// PlaybookResult is what a workflow's resolution step reports.
type PlaybookResult struct {
	Success bool
	Summary string
	Reason  string
}

type PlaybookRunner interface {
	Run(ctx context.Context, in domain.Interaction, intent domain.IntentCandidate) PlaybookResult
}

// RiskSignalRunner fails a playbook when the customer text carries one of the
// intent's risk keywords, and otherwise reports the catalog resolution.
type RiskSignalRunner struct{}

func (RiskSignalRunner) Run(ctx context.Context, in domain.Interaction, intent domain.IntentCandidate) PlaybookResult {
	if err := ctx.Err(); err != nil {
		return PlaybookResult{Reason: fmt.Sprintf("playbook interrupted: %v", err)}
	}
	lower := strings.ToLower(in.Text)
	for _, kw := range intent.RiskKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return PlaybookResult{Reason: fmt.Sprintf("risk signal %q detected", kw)}
		}
	}
	summary := intent.Resolution
	if summary == "" {
		summary = "Issue handled by agentic workflow."
	}
	return PlaybookResult{Success: true, Summary: summary}
}
