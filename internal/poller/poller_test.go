package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"agentdesk/internal/domain"
	"agentdesk/internal/integrations/genesys"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu    sync.Mutex
	convs []domain.ConversationSummary
	err   error
	calls int
}

func (f *fakeSource) set(convs []domain.ConversationSummary, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs, f.err = convs, err
}

func (f *fakeSource) ListConversations(_ context.Context, state string, pageSize, pageNumber int) (genesys.ConversationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return genesys.ConversationPage{}, f.err
	}
	return genesys.ConversationPage{Entities: append([]domain.ConversationSummary(nil), f.convs...), PageSize: pageSize, PageNumber: pageNumber}, nil
}

type fakeTranscripts map[string][]genesys.Message

func (f fakeTranscripts) Messages(_ context.Context, id string) ([]genesys.Message, error) {
	msgs, ok := f[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return msgs, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.ChannelEvent
}

func (d *recordingDispatcher) Dispatch(ev domain.ChannelEvent) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return ev.InteractionID, nil
}

func (d *recordingDispatcher) Events() []domain.ChannelEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.ChannelEvent(nil), d.events...)
}

func conv(id, media string, start time.Time) domain.ConversationSummary {
	return domain.ConversationSummary{ID: id, MediaType: media, StartTime: start}
}

func TestPollFlagsNewConversationsWithinWindow(t *testing.T) {
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	clock := base
	src := &fakeSource{convs: []domain.ConversationSummary{conv("c1", "chat", base)}}
	p := New(Options{Source: src, Now: func() time.Time { return clock }})

	got, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].New)

	clock = base.Add(5 * time.Second)
	src.set([]domain.ConversationSummary{conv("c1", "chat", base), conv("c2", "voice", base.Add(time.Second))}, nil)
	got, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].New, "c1 is still inside the window")
	require.True(t, got[1].New)

	clock = base.Add(11 * time.Second)
	got, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.False(t, got[0].New, "c1 left the window")
	require.True(t, got[1].New, "c2 was first seen 6s ago")

	clock = base.Add(30 * time.Second)
	got, _ = p.Poll(context.Background())
	for _, c := range got {
		require.False(t, c.New, "%s should no longer be new", c.ID)
	}
}

func TestPollFallsBackToLocalEntriesOnGatewayError(t *testing.T) {
	local := &SimulatedStore{}
	sim := local.Add(domain.ConversationSummary{Text: "my printer is offline"})
	src := &fakeSource{err: &domain.BackendUnavailableError{Endpoint: "https://api.example", Err: errors.New("connection refused")}}
	p := New(Options{Source: src, Local: local})

	got, err := p.Poll(context.Background())
	require.ErrorIs(t, err, domain.ErrBackendUnavailable)
	require.Len(t, got, 1)
	require.Equal(t, sim.ID, got[0].ID)
	require.True(t, got[0].Simulated)

	snap := p.Latest()
	require.Len(t, snap.Conversations, 1)
	require.NotEmpty(t, snap.Error)
}

func TestPollRemoteWinsOverLocalDuplicate(t *testing.T) {
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	local := &SimulatedStore{}
	local.Add(domain.ConversationSummary{ID: "c1", StartTime: base})
	local.Add(domain.ConversationSummary{ID: "sim-2", StartTime: base.Add(-time.Minute)})
	src := &fakeSource{convs: []domain.ConversationSummary{conv("c1", "email", base)}}
	p := New(Options{Source: src, Local: local})

	got, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "sim-2", got[0].ID, "ordered by start time")
	require.Equal(t, "c1", got[1].ID)
	require.Equal(t, "email", got[1].MediaType)
	require.False(t, got[1].Simulated)
}

func TestPollForgetsConversationsThatLeftTheListing(t *testing.T) {
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	clock := base
	src := &fakeSource{convs: []domain.ConversationSummary{conv("c1", "chat", base)}}
	p := New(Options{Source: src, Now: func() time.Time { return clock }})

	_, _ = p.Poll(context.Background())

	clock = base.Add(time.Minute)
	src.set(nil, errors.New("boom"))
	_, _ = p.Poll(context.Background())

	src.set([]domain.ConversationSummary{conv("c1", "chat", base)}, nil)
	got, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.False(t, got[0].New, "a failed listing must not reset first-seen times")

	src.set(nil, nil)
	_, _ = p.Poll(context.Background())
	src.set([]domain.ConversationSummary{conv("c1", "chat", base)}, nil)
	got, _ = p.Poll(context.Background())
	require.True(t, got[0].New, "a conversation that returns is new again")
}

func TestPollAutoProcessDispatchesArrivalsOnce(t *testing.T) {
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{convs: []domain.ConversationSummary{
		conv("c1", "callback", base),
		conv("c2", "chat", base),
		conv("c3", "email", base),
	}}
	transcripts := fakeTranscripts{
		"c1": {{ID: "m1", TextBody: "my laptop will not"}, {ID: "m2", TextBody: " connect to wifi "}},
		"c2": {},
	}
	dispatcher := &recordingDispatcher{}
	p := New(Options{Source: src, Transcripts: transcripts, Dispatcher: dispatcher, Now: func() time.Time { return base }})

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	_, err = p.Poll(context.Background())
	require.NoError(t, err)

	events := dispatcher.Events()
	require.Len(t, events, 2, "c3 has no transcript yet and stays pending")
	require.Equal(t, "c1", events[0].InteractionID)
	require.Equal(t, domain.ChannelVoice, events[0].Channel)
	require.Equal(t, "my laptop will not connect to wifi", events[0].Text)
	require.Equal(t, "c2", events[1].InteractionID)
	require.Equal(t, "New chat conversation from Genesys", events[1].Text)
}

// flakyTranscripts fails the first n fetches with a gateway error.
type flakyTranscripts struct {
	mu       sync.Mutex
	failures int
	msgs     []genesys.Message
}

func (f *flakyTranscripts) Messages(_ context.Context, id string) ([]genesys.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, &domain.GatewayError{Status: 503, Body: "service unavailable"}
	}
	return f.msgs, nil
}

func TestPollRetriesDispatchAfterTranscriptFailure(t *testing.T) {
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{convs: []domain.ConversationSummary{conv("c1", "chat", base)}}
	transcripts := &flakyTranscripts{failures: 1, msgs: []genesys.Message{{ID: "m1", TextBody: "printer on floor 3 is offline"}}}
	dispatcher := &recordingDispatcher{}
	p := New(Options{Source: src, Transcripts: transcripts, Dispatcher: dispatcher, Now: func() time.Time { return base }})

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Empty(t, dispatcher.Events())

	for i := 0; i < 3; i++ {
		_, err = p.Poll(context.Background())
		require.NoError(t, err)
	}
	events := dispatcher.Events()
	require.Len(t, events, 1, "dispatched once after the transcript recovers")
	require.Equal(t, "c1", events[0].InteractionID)
	require.Equal(t, "printer on floor 3 is offline", events[0].Text)
}

type closedDispatcher struct{ calls int }

func (d *closedDispatcher) Dispatch(ev domain.ChannelEvent) (string, error) {
	d.calls++
	return ev.InteractionID, domain.ErrInteractionClosed
}

func TestPollDropsArrivalAlreadyClosed(t *testing.T) {
	local := &SimulatedStore{}
	local.Add(domain.ConversationSummary{ID: "sim-1", Text: "printer on floor 3 is offline"})
	dispatcher := &closedDispatcher{}
	p := New(Options{Local: local, Dispatcher: dispatcher})

	for i := 0; i < 3; i++ {
		_, err := p.Poll(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 1, dispatcher.calls)
}

func TestPollAutoProcessUsesSimulatedText(t *testing.T) {
	local := &SimulatedStore{}
	sim := local.Add(domain.ConversationSummary{MediaType: "email", Text: "printer shows an ink error again"})
	dispatcher := &recordingDispatcher{}
	p := New(Options{Local: local, Dispatcher: dispatcher})

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	events := dispatcher.Events()
	require.Len(t, events, 1)
	require.Equal(t, sim.ID, events[0].InteractionID)
	require.Equal(t, domain.ChannelEmail, events[0].Channel)
}

func TestParseSchedule(t *testing.T) {
	for _, spec := range []string{"@every 10s", "*/5 * * * *", " @hourly "} {
		_, err := ParseSchedule(spec)
		require.NoError(t, err, spec)
	}
	_, err := ParseSchedule("every ten seconds")
	require.Error(t, err)

	p := New(Options{})
	require.Error(t, p.Start(context.Background(), "not a schedule"))
}

func TestRunPollsUntilCancelled(t *testing.T) {
	src := &fakeSource{err: errors.New("gateway down")}
	p := New(Options{Source: src})
	sched, err := ParseSchedule("@every 10ms")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, sched)
		close(done)
	}()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.calls >= 3
	}, 2*time.Second, 5*time.Millisecond, "failed cycles must not stop the loop")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSimulatedStoreAddAndRemove(t *testing.T) {
	s := &SimulatedStore{}
	a := s.Add(domain.ConversationSummary{})
	require.NotEmpty(t, a.ID)
	require.Equal(t, "chat", a.MediaType)
	require.False(t, a.StartTime.IsZero())
	require.True(t, a.Simulated)

	s.Add(domain.ConversationSummary{ID: "keep"})
	require.True(t, s.Remove(a.ID))
	require.False(t, s.Remove(a.ID))
	got := s.Conversations()
	require.Len(t, got, 1)
	require.Equal(t, "keep", got[0].ID)
}
