// Package poller lists active contact-center conversations on a schedule,
// flags new arrivals and optionally hands them to the pipeline.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"agentdesk/internal/domain"
	"agentdesk/internal/integrations/genesys"
)

type Source interface {
	ListConversations(ctx context.Context, state string, pageSize, pageNumber int) (genesys.ConversationPage, error)
}

// TranscriptSource supplies text for conversations whose listing entry has none.
type TranscriptSource interface {
	Messages(ctx context.Context, id string) ([]genesys.Message, error)
}

type Dispatcher interface {
	Dispatch(ev domain.ChannelEvent) (string, error)
}

type Options struct {
	Source      Source
	Transcripts TranscriptSource
	Local       *SimulatedStore
	// Dispatcher is set when auto-process is enabled.
	Dispatcher Dispatcher
	PageSize   int
	NewWindow  time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

// Snapshot is the result of the latest poll cycle.
type Snapshot struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
	Error         string                       `json:"error,omitempty"`
	PolledAt      time.Time                    `json:"polledAt"`
}

type Poller struct {
	opts Options

	mu        sync.Mutex
	firstSeen map[string]time.Time
	// pending holds arrivals not yet handed to the dispatcher.
	pending map[string]bool
	last    Snapshot
}

func New(opts Options) *Poller {
	if opts.PageSize <= 0 {
		opts.PageSize = 25
	}
	if opts.NewWindow <= 0 {
		opts.NewWindow = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Poller{opts: opts, firstSeen: make(map[string]time.Time), pending: make(map[string]bool)}
}

// Poll runs one cycle. Gateway failures fall back to the local entries and
// are returned alongside them.
func (p *Poller) Poll(ctx context.Context) ([]domain.ConversationSummary, error) {
	var remote []domain.ConversationSummary
	var remoteErr error
	if p.opts.Source != nil {
		page, err := p.opts.Source.ListConversations(ctx, "active", p.opts.PageSize, 1)
		if err != nil {
			remoteErr = err
		} else {
			remote = page.Entities
		}
	}
	var local []domain.ConversationSummary
	if p.opts.Local != nil {
		local = p.opts.Local.Conversations()
	}

	merged := merge(remote, local)
	now := p.opts.Now()

	p.mu.Lock()
	var arrivals, toDispatch []domain.ConversationSummary
	present := make(map[string]bool, len(merged))
	for i := range merged {
		id := merged[i].ID
		present[id] = true
		first, seen := p.firstSeen[id]
		if !seen {
			first = now
			p.firstSeen[id] = now
			arrivals = append(arrivals, merged[i])
			if p.opts.Dispatcher != nil {
				p.pending[id] = true
			}
		}
		merged[i].New = now.Sub(first) < p.opts.NewWindow
		if p.pending[id] {
			toDispatch = append(toDispatch, merged[i])
		}
	}
	// Forget ids that left the listing, unless the listing was incomplete.
	if remoteErr == nil {
		for id := range p.firstSeen {
			if !present[id] {
				delete(p.firstSeen, id)
				delete(p.pending, id)
			}
		}
	}
	p.last = Snapshot{Conversations: merged, PolledAt: now}
	if remoteErr != nil {
		p.last.Error = remoteErr.Error()
	}
	p.mu.Unlock()

	if len(arrivals) > 0 {
		p.opts.Logger.Info("new conversations detected", zap.Int("count", len(arrivals)))
	}
	for _, conv := range toDispatch {
		if p.dispatch(ctx, conv) {
			p.mu.Lock()
			delete(p.pending, conv.ID)
			p.mu.Unlock()
		}
	}
	return merged, remoteErr
}

// Latest returns the most recent poll result.
func (p *Poller) Latest() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.last
	out.Conversations = append([]domain.ConversationSummary(nil), p.last.Conversations...)
	return out
}

// dispatch hands one arrival to the pipeline. It reports false when the
// attempt should be repeated on the next cycle.
func (p *Poller) dispatch(ctx context.Context, conv domain.ConversationSummary) bool {
	text := strings.TrimSpace(conv.Text)
	if text == "" && p.opts.Transcripts != nil && !conv.Simulated {
		msgs, err := p.opts.Transcripts.Messages(ctx, conv.ID)
		if err != nil {
			p.opts.Logger.Warn("fetching transcript failed, retrying next cycle", zap.String("conversation_id", conv.ID), zap.Error(err))
			return false
		}
		text = genesys.Transcript(msgs)
	}
	if text == "" {
		text = fallbackText(conv)
	}

	_, err := p.opts.Dispatcher.Dispatch(domain.ChannelEvent{
		InteractionID: conv.ID,
		Channel:       domain.ChannelFromMediaType(conv.MediaType),
		Text:          text,
		Timestamp:     p.opts.Now(),
	})
	if errors.Is(err, domain.ErrInteractionClosed) {
		p.opts.Logger.Info("conversation already handled", zap.String("conversation_id", conv.ID))
		return true
	}
	if err != nil {
		p.opts.Logger.Warn("auto-process dispatch failed", zap.String("conversation_id", conv.ID), zap.Error(err))
		return false
	}
	p.opts.Logger.Info("conversation auto-processed", zap.String("conversation_id", conv.ID))
	return true
}

// fallbackText stands in for a conversation with no customer text yet.
func fallbackText(conv domain.ConversationSummary) string {
	media := conv.MediaType
	if media == "" {
		media = "chat"
	}
	return fmt.Sprintf("New %s conversation from Genesys", media)
}

// ParseSchedule accepts standard 5-field cron expressions and descriptors
// such as "@every 10s".
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return nil, fmt.Errorf("invalid poll_schedule '%s': %w", spec, err)
	}
	return sched, nil
}

// Run polls on sched until ctx is cancelled. A failed cycle is logged and
// the loop continues.
func (p *Poller) Run(ctx context.Context, sched cron.Schedule) {
	for {
		now := p.opts.Now()
		next := sched.Next(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		convs, err := p.Poll(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			p.opts.Logger.Warn("poll cycle failed, using local entries",
				zap.Int("conversations", len(convs)), zap.Error(err))
			continue
		}
		p.opts.Logger.Debug("poll cycle complete", zap.Int("conversations", len(convs)))
	}
}

// Start parses schedule and runs the loop in the background.
func (p *Poller) Start(ctx context.Context, schedule string) error {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	p.opts.Logger.Info("conversation polling scheduled", zap.String("schedule", schedule))
	go p.Run(ctx, sched)
	return nil
}

// merge combines remote and local entries; a remote entry wins over a local
// one with the same id. The result is ordered by start time.
func merge(remote, local []domain.ConversationSummary) []domain.ConversationSummary {
	out := make([]domain.ConversationSummary, 0, len(remote)+len(local))
	ids := make(map[string]bool, len(remote))
	for _, c := range remote {
		if c.ID == "" || ids[c.ID] {
			continue
		}
		ids[c.ID] = true
		out = append(out, c)
	}
	for _, c := range local {
		if c.ID == "" || ids[c.ID] {
			continue
		}
		ids[c.ID] = true
		c.Simulated = true
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
