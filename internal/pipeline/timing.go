package pipeline

import (
	"time"

	"agentdesk/internal/domain"
)

const (
	// MinWords is the pipeline's minimum-signal gate.
	MinWords = 4
	// MinStreamingWords is enough for a streaming voice transcript to show
	// capture while the speaker is still talking.
	MinStreamingWords = 3
)

// StageOffset schedules a stage relative to the moment input settled.
type StageOffset struct {
	Stage domain.Stage
	After time.Duration
}

type Timing struct {
	Debounce time.Duration
	Stages   []StageOffset
}

// TimingFor returns the debounce window and stage offsets for a channel.
// Voice runs faster than chat and email.
func TimingFor(ch domain.Channel) Timing {
	if ch == domain.ChannelVoice {
		return Timing{
			Debounce: 500 * time.Millisecond,
			Stages: []StageOffset{
				{domain.StageIntentDetecting, 1500 * time.Millisecond},
				{domain.StageIntentReady, 3500 * time.Millisecond},
				{domain.StageKnowledgeReady, 5 * time.Second},
				{domain.StageTelemetry, 7 * time.Second},
				{domain.StageRunning, 9 * time.Second},
			},
		}
	}
	return Timing{
		Debounce: time.Second,
		Stages: []StageOffset{
			{domain.StageIntentDetecting, 2500 * time.Millisecond},
			{domain.StageIntentReady, 5 * time.Second},
			{domain.StageKnowledgeReady, 7 * time.Second},
			{domain.StageTelemetry, 9500 * time.Millisecond},
			{domain.StageRunning, 12 * time.Second},
		},
	}
}

// Timer is the handle returned by a Scheduler.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d. Tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type RealScheduler struct{}

func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
