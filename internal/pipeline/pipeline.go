// Package pipeline drives one interaction from raw channel input through
// debounce, classification and the staged run to a terminal outcome.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentdesk/internal/classify"
	"agentdesk/internal/domain"
)

type Classifier interface {
	Classify(text string) domain.Classification
}

type Resolver interface {
	Resolve(ctx context.Context, in domain.Interaction, c domain.Classification) (domain.Outcome, error)
	RetryTicket(ctx context.Context, in domain.Interaction) (domain.Outcome, error)
}

// Listener observes every stage change. It runs while the pipeline is locked
// and must not call back into the pipeline.
type Listener func(in domain.Interaction)

type Deps struct {
	Scheduler  Scheduler
	Classifier Classifier
	Resolver   Resolver
	Logger     *zap.Logger
	Listener   Listener
	Now        func() time.Time
	// Timing overrides TimingFor when set.
	Timing func(domain.Channel) Timing
}

// Pipeline owns one interaction. Each new input bumps the generation and
// stops every pending timer; callbacks from an older generation are ignored,
// so a timer that already fired cannot move the stage.
type Pipeline struct {
	ctx    context.Context
	deps   Deps
	timing Timing

	mu         sync.Mutex
	in         domain.Interaction
	gen        uint64
	timers     []Timer
	onTerminal func(domain.Interaction)
	done       chan struct{}
}

// New creates an idle pipeline. ctx bounds the orchestrator call made when
// the pipeline reaches running.
func New(ctx context.Context, id string, ch domain.Channel, deps Deps) *Pipeline {
	if deps.Scheduler == nil {
		deps.Scheduler = RealScheduler{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Timing == nil {
		deps.Timing = TimingFor
	}
	now := deps.Now()
	return &Pipeline{
		ctx:    ctx,
		deps:   deps,
		timing: deps.Timing(ch),
		in: domain.Interaction{
			ID:        id,
			Channel:   ch,
			Stage:     domain.StageIdle,
			CreatedAt: now,
			UpdatedAt: now,
		},
		done: make(chan struct{}),
	}
}

func (p *Pipeline) ID() string { return p.in.ID }

// Done is closed once the interaction is terminal.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

func (p *Pipeline) Snapshot() domain.Interaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in
}

// Input applies one channel event. Voice replaces the buffer with the
// cumulative transcript; chat and email append. Input is rejected once the
// pipeline has started running.
func (p *Pipeline) Input(ev domain.ChannelEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.in.Stage == domain.StageRunning || p.in.Stage.Terminal() {
		return fmt.Errorf("interaction %s is %s: %w", p.in.ID, p.in.Stage, domain.ErrInteractionClosed)
	}

	p.in.Text = assemble(p.in.Text, p.in.Channel, ev)
	p.in.UpdatedAt = p.deps.Now()
	p.cancelLocked()
	p.in.DetectedIntent = ""
	p.in.DetectedDevice = ""
	p.in.Classification = nil
	p.in.Resolution = ""

	words := domain.WordCount(p.in.Text)
	if ev.Partial && p.in.Channel == domain.ChannelVoice && words >= MinStreamingWords {
		// Hold in capture until the final transcript arrives.
		p.setStageLocked(domain.StageCapture)
		return nil
	}
	if words < MinWords {
		p.setStageLocked(domain.StageIdle)
		return nil
	}

	p.setStageLocked(domain.StageCapture)
	gen := p.gen
	p.timers = append(p.timers, p.deps.Scheduler.AfterFunc(p.timing.Debounce, func() { p.settle(gen) }))
	return nil
}

// Cancel stops all pending transitions, e.g. on shutdown. The stage is left
// as is.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

// RetryTicket re-attempts ticket creation for an escalated interaction that
// has no ticket yet.
func (p *Pipeline) RetryTicket(ctx context.Context) (domain.Outcome, error) {
	p.mu.Lock()
	if p.in.Stage != domain.StageEscalated || p.in.Escalation == nil {
		stage := p.in.Stage
		p.mu.Unlock()
		return domain.Outcome{}, fmt.Errorf("interaction %s is %s: %w", p.in.ID, stage, domain.ErrNotEscalated)
	}
	snapshot := p.in
	p.mu.Unlock()

	outcome, err := p.deps.Resolver.RetryTicket(ctx, snapshot)

	p.mu.Lock()
	defer p.mu.Unlock()
	if outcome.Escalation != nil {
		p.in.Escalation = outcome.Escalation
	}
	p.in.LastError = ""
	if err != nil {
		p.in.LastError = err.Error()
	}
	p.in.UpdatedAt = p.deps.Now()
	p.notifyLocked()
	return outcome, err
}

func (p *Pipeline) settle(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return
	}
	p.deps.Logger.Debug("input settled",
		zap.String("interaction_id", p.in.ID),
		zap.Int("words", domain.WordCount(p.in.Text)),
	)
	for _, s := range p.timing.Stages {
		stage := s.Stage
		p.timers = append(p.timers, p.deps.Scheduler.AfterFunc(s.After, func() { p.advance(gen, stage) }))
	}
}

func (p *Pipeline) advance(gen uint64, stage domain.Stage) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	if stage == domain.StageIntentReady || (stage == domain.StageRunning && p.in.Classification == nil) {
		p.classifyLocked()
	}
	p.setStageLocked(stage)
	if stage != domain.StageRunning {
		p.mu.Unlock()
		return
	}

	// Every scheduled transition has fired.
	p.timers = nil
	snapshot := p.in
	classification := *p.in.Classification
	p.mu.Unlock()

	outcome, err := p.deps.Resolver.Resolve(p.ctx, snapshot, classification)
	p.finish(outcome, err)
}

func (p *Pipeline) classifyLocked() {
	c := p.deps.Classifier.Classify(p.in.Text)
	p.in.Classification = &c
	p.in.DetectedIntent = c.IntentID()
	p.in.DetectedDevice = classify.DetectDevice(p.in.Text)
	p.deps.Logger.Info("intent classified",
		zap.String("interaction_id", p.in.ID),
		zap.String("intent", p.in.DetectedIntent),
		zap.Int("candidates", len(c.Ranked)),
	)
}

func (p *Pipeline) finish(outcome domain.Outcome, err error) {
	p.mu.Lock()
	p.in.Resolution = outcome.Summary
	if outcome.SelfHealed && err == nil {
		p.in.Stage = domain.StageCompleted
	} else {
		p.in.Stage = domain.StageEscalated
		p.in.Escalation = outcome.Escalation
		if p.in.Escalation == nil {
			reason := "resolution failed"
			if err != nil {
				reason = err.Error()
			}
			p.in.Escalation = &domain.Escalation{Required: true, Reason: reason}
		}
	}
	if err != nil {
		p.in.LastError = err.Error()
		p.deps.Logger.Warn("interaction resolved with error",
			zap.String("interaction_id", p.in.ID), zap.Error(err))
	}
	p.in.UpdatedAt = p.deps.Now()
	p.notifyLocked()
	snapshot := p.in
	onTerminal := p.onTerminal
	close(p.done)
	p.mu.Unlock()

	p.deps.Logger.Info("interaction finished",
		zap.String("interaction_id", snapshot.ID),
		zap.String("stage", string(snapshot.Stage)),
	)
	if onTerminal != nil {
		onTerminal(snapshot)
	}
}

func (p *Pipeline) cancelLocked() {
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
	p.gen++
}

func (p *Pipeline) setStageLocked(stage domain.Stage) {
	if p.in.Stage == stage {
		return
	}
	p.in.Stage = stage
	p.in.UpdatedAt = p.deps.Now()
	p.notifyLocked()
}

func (p *Pipeline) notifyLocked() {
	if p.deps.Listener != nil {
		p.deps.Listener(p.in)
	}
}

func assemble(current string, ch domain.Channel, ev domain.ChannelEvent) string {
	text := ev.Text
	if ch == domain.ChannelEmail && ev.Subject != "" {
		text = "Subject: " + ev.Subject + "\n\n" + text
	}
	if ch == domain.ChannelVoice {
		return text
	}
	switch {
	case current == "":
		return text
	case text == "":
		return current
	}
	return current + " " + text
}
