// Package escalation decides whether an interaction self-heals or goes to a
// human, and makes sure an escalation produces at most one ticket.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"agentdesk/internal/domain"
	"agentdesk/internal/integrations/ticketing"
)

// UnknownIntentReason is the escalation reason for inconclusive classification.
const UnknownIntentReason = "No confident playbook match for this request. Escalated to human agent with full context."

const unknownDiagnosis = "Unknown intent (no playbook match). Insufficient signal to safely auto-resolve using existing workflows."

type Store interface {
	InsertTicketOnce(ctx context.Context, t domain.Ticket) (domain.Ticket, bool, error)
	TicketByInteraction(ctx context.Context, interactionID string) (domain.Ticket, error)
	RecordOutcome(ctx context.Context, o domain.OutcomeRecord) error
	Outcome(ctx context.Context, interactionID string) (domain.OutcomeRecord, error)
}

// Summarizer writes the diagnosis attached to a ticket.
type Summarizer interface {
	Summarize(ctx context.Context, in domain.Interaction, reason string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type Orchestrator struct {
	backend    ticketing.Backend
	store      Store
	runner     PlaybookRunner
	summarizer Summarizer
	notifiers  []Notifier
	categories map[string]string
	logger     *zap.Logger
	now        func() time.Time

	flight singleflight.Group

	// unrecorded holds tickets created upstream whose row could not be
	// written, so a retry re-inserts them instead of opening a second one.
	mu         sync.Mutex
	unrecorded map[string]domain.Ticket
}

// ticketResult is shared by every caller of one single-flight attempt.
type ticketResult struct {
	ticket  domain.Ticket
	created bool
	claimed atomic.Bool
}

// claimNotification reports true to exactly one caller, and only when the
// attempt created the ticket.
func (r *ticketResult) claimNotification() bool {
	return r.created && r.claimed.CompareAndSwap(false, true)
}

type Option func(*Orchestrator)

func WithRunner(r PlaybookRunner) Option { return func(o *Orchestrator) { o.runner = r } }
func WithSummarizer(s Summarizer) Option { return func(o *Orchestrator) { o.summarizer = s } }
func WithNotifiers(n ...Notifier) Option { return func(o *Orchestrator) { o.notifiers = append(o.notifiers, n...) } }
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// WithCatalog lets retries of stored outcomes recover the intent category.
func WithCatalog(catalog []domain.IntentCandidate) Option {
	return func(o *Orchestrator) {
		for _, c := range catalog {
			o.categories[c.ID] = c.Category
		}
	}
}

func New(backend ticketing.Backend, store Store, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:    backend,
		store:      store,
		runner:     RiskSignalRunner{},
		summarizer: TemplateSummarizer{},
		categories: make(map[string]string),
		unrecorded: make(map[string]domain.Ticket),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) Backend() ticketing.Backend { return o.backend }

// Resolve runs the matched playbook or escalates. The returned error is
// non-nil only when an escalation could not produce a ticket; the outcome is
// still a valid escalation in that case and RetryTicket can be called later.
func (o *Orchestrator) Resolve(ctx context.Context, in domain.Interaction, c domain.Classification) (domain.Outcome, error) {
	if c.Unknown() {
		return o.escalate(ctx, in, UnknownIntentReason, "Unknown Category")
	}

	intent := *c.Detected
	result := o.runner.Run(ctx, in, intent)
	if !result.Success {
		o.logger.Info("playbook failed, escalating",
			zap.String("interaction_id", in.ID),
			zap.String("intent", intent.ID),
			zap.String("reason", result.Reason),
		)
		return o.escalate(ctx, in, result.Reason, intent.Category)
	}

	outcome := domain.Outcome{SelfHealed: true, Summary: result.Summary}
	o.finish(ctx, in, domain.StageCompleted, outcome)
	return outcome, nil
}

// RetryTicket re-attempts ticket creation for an escalated interaction
// without reclassifying it. An existing ticket is returned as is.
func (o *Orchestrator) RetryTicket(ctx context.Context, in domain.Interaction) (domain.Outcome, error) {
	if in.Escalation == nil || !in.Escalation.Required {
		return domain.Outcome{}, fmt.Errorf("interaction %s: %w", in.ID, domain.ErrNotEscalated)
	}
	category := "Unknown Category"
	if in.Classification != nil && in.Classification.Detected != nil {
		category = in.Classification.Detected.Category
	} else if c, ok := o.categories[in.DetectedIntent]; ok {
		category = c
	}
	return o.escalate(ctx, in, in.Escalation.Reason, category)
}

// RetryRecorded retries ticket creation for an interaction that is no longer
// in memory, rebuilding it from its stored outcome.
func (o *Orchestrator) RetryRecorded(ctx context.Context, interactionID string) (domain.Outcome, error) {
	rec, err := o.store.Outcome(ctx, interactionID)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("loading outcome for %s: %w", interactionID, err)
	}
	if rec.Stage != domain.StageEscalated {
		return domain.Outcome{}, fmt.Errorf("interaction %s is %s: %w", interactionID, rec.Stage, domain.ErrNotEscalated)
	}
	return o.RetryTicket(ctx, InteractionFromRecord(rec))
}

// InteractionFromRecord rebuilds the terminal interaction a record describes.
func InteractionFromRecord(rec domain.OutcomeRecord) domain.Interaction {
	in := domain.Interaction{
		ID:             rec.InteractionID,
		Channel:        rec.Channel,
		Text:           rec.Text,
		Stage:          rec.Stage,
		DetectedIntent: rec.Intent,
		DetectedDevice: rec.Device,
		Resolution:     rec.Summary,
		CreatedAt:      rec.RecordedAt,
		UpdatedAt:      rec.RecordedAt,
	}
	if rec.Stage == domain.StageEscalated {
		in.Escalation = &domain.Escalation{Required: true, Reason: rec.Reason, TicketID: rec.TicketID}
	}
	return in
}

func (o *Orchestrator) escalate(ctx context.Context, in domain.Interaction, reason, category string) (domain.Outcome, error) {
	outcome := domain.Outcome{
		Escalation: &domain.Escalation{Required: true, Reason: reason},
	}

	intentID := in.DetectedIntent
	if intentID == "" {
		intentID = domain.IntentUnknown
	}
	summary := o.summarize(ctx, in, reason)
	outcome.Summary = summary

	res, err := o.ensureTicket(ctx, in, ticketing.Request{
		InteractionID: in.ID,
		Channel:       in.Channel,
		Text:          in.Text,
		Intent:        intentID,
		Device:        in.DetectedDevice,
		Summary:       summary,
		Reason:        reason,
		Category:      category,
	})
	if err != nil {
		o.logger.Warn("ticket creation failed",
			zap.String("interaction_id", in.ID),
			zap.String("system", o.backend.Name()),
			zap.Error(err),
		)
		o.record(ctx, in, domain.StageEscalated, outcome)
		if !errors.Is(err, domain.ErrTicketCreationFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrTicketCreationFailed, err)
		}
		return outcome, err
	}

	ticket := res.ticket
	outcome.Ticket = &ticket
	outcome.Escalation.TicketID = ticket.TicketID
	outcome.Escalation.TicketSystem = ticket.TicketSystem
	outcome.Escalation.TicketURL = ticket.URL
	if !res.claimNotification() {
		// A repeated trigger for an existing ticket only refreshes the record.
		o.record(ctx, in, domain.StageEscalated, outcome)
		return outcome, nil
	}
	o.finish(ctx, in, domain.StageEscalated, outcome)
	return outcome, nil
}

// ensureTicket returns the interaction's ticket, creating it if none exists.
// Concurrent calls for one interaction share a single attempt and the store
// rejects a second row, so at most one ticket is ever recorded.
func (o *Orchestrator) ensureTicket(ctx context.Context, in domain.Interaction, req ticketing.Request) (*ticketResult, error) {
	v, err, _ := o.flight.Do(in.ID, func() (any, error) {
		existing, err := o.store.TicketByInteraction(ctx, in.ID)
		if err == nil {
			o.logger.Info("ticket already exists",
				zap.String("interaction_id", in.ID), zap.String("ticket_id", existing.TicketID))
			return &ticketResult{ticket: existing}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("looking up ticket: %w", err)
		}

		if pending, ok := o.takeUnrecorded(in.ID); ok {
			return &ticketResult{ticket: o.storeTicket(ctx, in.ID, pending)}, nil
		}

		created, err := o.backend.CreateTicket(ctx, req)
		if err != nil {
			return nil, err
		}
		if created.CreatedAt.IsZero() {
			created.CreatedAt = o.now()
		}
		stored := o.storeTicket(ctx, in.ID, created)
		return &ticketResult{ticket: stored, created: stored.TicketID == created.TicketID}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ticketResult), nil
}

// storeTicket writes t once and returns the ticket on record. When the write
// fails, t is kept in memory for the next attempt and returned as is.
func (o *Orchestrator) storeTicket(ctx context.Context, interactionID string, t domain.Ticket) domain.Ticket {
	stored, inserted, err := o.store.InsertTicketOnce(ctx, t)
	if err != nil {
		o.logger.Error("ticket created but not recorded",
			zap.String("interaction_id", interactionID), zap.String("ticket_id", t.TicketID), zap.Error(err))
		o.mu.Lock()
		o.unrecorded[interactionID] = t
		o.mu.Unlock()
		return t
	}
	if !inserted {
		o.logger.Warn("duplicate ticket discarded",
			zap.String("interaction_id", interactionID),
			zap.String("kept", stored.TicketID),
			zap.String("discarded", t.TicketID),
		)
		return stored
	}
	o.logger.Info("ticket recorded",
		zap.String("interaction_id", interactionID),
		zap.String("ticket_id", stored.TicketID),
		zap.String("system", stored.TicketSystem),
	)
	return stored
}

func (o *Orchestrator) takeUnrecorded(interactionID string) (domain.Ticket, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.unrecorded[interactionID]
	if ok {
		delete(o.unrecorded, interactionID)
	}
	return t, ok
}

func (o *Orchestrator) summarize(ctx context.Context, in domain.Interaction, reason string) string {
	if o.summarizer == nil {
		return TemplateSummarizer{}.summary(in, reason)
	}
	summary, err := o.summarizer.Summarize(ctx, in, reason)
	if err != nil || summary == "" {
		if err != nil {
			o.logger.Warn("summarizer failed, using template", zap.String("interaction_id", in.ID), zap.Error(err))
		}
		return TemplateSummarizer{}.summary(in, reason)
	}
	return summary
}

func (o *Orchestrator) finish(ctx context.Context, in domain.Interaction, stage domain.Stage, outcome domain.Outcome) {
	o.record(ctx, in, stage, outcome)

	kind := domain.NotificationCompleted
	if stage == domain.StageEscalated {
		kind = domain.NotificationEscalated
	}
	n := domain.Notification{Kind: kind, Interaction: in, Outcome: outcome}
	for _, notifier := range o.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			o.logger.Warn("notification failed", zap.String("interaction_id", in.ID), zap.Error(err))
		}
	}
}

func (o *Orchestrator) record(ctx context.Context, in domain.Interaction, stage domain.Stage, outcome domain.Outcome) {
	rec := domain.OutcomeRecord{
		InteractionID: in.ID,
		Channel:       in.Channel,
		Text:          in.Text,
		Intent:        in.DetectedIntent,
		Device:        in.DetectedDevice,
		Stage:         stage,
		Summary:       outcome.Summary,
		RecordedAt:    o.now(),
	}
	if outcome.Escalation != nil {
		rec.Reason = outcome.Escalation.Reason
	}
	if outcome.Ticket != nil {
		rec.TicketID = outcome.Ticket.TicketID
	}
	if err := o.store.RecordOutcome(ctx, rec); err != nil {
		o.logger.Error("recording outcome failed", zap.String("interaction_id", in.ID), zap.Error(err))
	}
}

// TemplateSummarizer builds the diagnosis from the interaction fields alone.
type TemplateSummarizer struct{}

func (t TemplateSummarizer) Summarize(_ context.Context, in domain.Interaction, reason string) (string, error) {
	return t.summary(in, reason), nil
}

func (TemplateSummarizer) summary(in domain.Interaction, reason string) string {
	if in.DetectedIntent == "" || in.DetectedIntent == domain.IntentUnknown {
		return unknownDiagnosis
	}
	device := in.DetectedDevice
	if device == "" {
		device = "device"
	}
	return fmt.Sprintf("Playbook %s on %s (%s channel) stopped: %s.", in.DetectedIntent, device, in.Channel, reason)
}
