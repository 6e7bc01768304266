package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentdesk/internal/domain"
)

// DefaultRetention is how long a terminal interaction stays addressable for
// lookups and ticket retries before it is dropped from memory.
const DefaultRetention = 30 * time.Minute

type retired struct {
	p  *Pipeline
	at time.Time
}

// Manager routes channel events to one pipeline per interaction id.
type Manager struct {
	ctx       context.Context
	deps      Deps
	retention time.Duration

	mu      sync.Mutex
	active  map[string]*Pipeline
	retired map[string]retired
}

func NewManager(ctx context.Context, deps Deps, retention time.Duration) *Manager {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Manager{
		ctx:       ctx,
		deps:      deps,
		retention: retention,
		active:    make(map[string]*Pipeline),
		retired:   make(map[string]retired),
	}
}

// Dispatch feeds ev to its interaction's pipeline, creating the pipeline on
// first input. An empty interaction id starts a new interaction. It returns
// the interaction id.
func (m *Manager) Dispatch(ev domain.ChannelEvent) (string, error) {
	if ev.InteractionID == "" {
		ev.InteractionID = uuid.NewString()
	}
	if ev.Channel == "" {
		ev.Channel = domain.ChannelChat
	}

	m.mu.Lock()
	m.pruneLocked()
	if _, ok := m.retired[ev.InteractionID]; ok {
		m.mu.Unlock()
		return ev.InteractionID, fmt.Errorf("interaction %s: %w", ev.InteractionID, domain.ErrInteractionClosed)
	}
	p, ok := m.active[ev.InteractionID]
	if !ok {
		p = New(m.ctx, ev.InteractionID, ev.Channel, m.deps)
		p.onTerminal = m.retire
		m.active[ev.InteractionID] = p
		m.deps.Logger.Info("interaction started",
			zap.String("interaction_id", ev.InteractionID),
			zap.String("channel", string(ev.Channel)),
		)
	}
	m.mu.Unlock()

	return ev.InteractionID, p.Input(ev)
}

// Lookup returns the current state of an active or recently finished
// interaction.
func (m *Manager) Lookup(id string) (domain.Interaction, bool) {
	p := m.find(id)
	if p == nil {
		return domain.Interaction{}, false
	}
	return p.Snapshot(), true
}

// RetryTicket re-attempts ticket creation for a retained escalated
// interaction. Unknown ids return domain.ErrNotFound.
func (m *Manager) RetryTicket(ctx context.Context, id string) (domain.Outcome, error) {
	p := m.find(id)
	if p == nil {
		return domain.Outcome{}, fmt.Errorf("interaction %s: %w", id, domain.ErrNotFound)
	}
	return p.RetryTicket(ctx)
}

// Active lists in-flight interactions, oldest first.
func (m *Manager) Active() []domain.Interaction {
	m.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(m.active))
	for _, p := range m.active {
		pipelines = append(pipelines, p)
	}
	m.mu.Unlock()

	out := make([]domain.Interaction, 0, len(pipelines))
	for _, p := range pipelines {
		out = append(out, p.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Shutdown cancels every pending transition. Interactions already running
// finish on their own.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(m.active))
	for _, p := range m.active {
		pipelines = append(pipelines, p)
	}
	m.mu.Unlock()
	for _, p := range pipelines {
		p.Cancel()
	}
}

func (m *Manager) find(id string) *Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.active[id]; ok {
		return p
	}
	if r, ok := m.retired[id]; ok {
		return r.p
	}
	return nil
}

func (m *Manager) retire(in domain.Interaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.active[in.ID]
	if !ok {
		return
	}
	delete(m.active, in.ID)
	m.retired[in.ID] = retired{p: p, at: m.deps.Now()}
}

func (m *Manager) pruneLocked() {
	cutoff := m.deps.Now().Add(-m.retention)
	for id, r := range m.retired {
		if r.at.Before(cutoff) {
			delete(m.retired, id)
		}
	}
}
