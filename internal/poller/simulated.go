package poller

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"agentdesk/internal/domain"
)

// SimulatedStore holds demo conversations that are merged into every poll.
type SimulatedStore struct {
	mu    sync.Mutex
	convs []domain.ConversationSummary
}

// Add stores conv, filling in an id and start time when missing, and
// returns the stored entry.
func (s *SimulatedStore) Add(conv domain.ConversationSummary) domain.ConversationSummary {
	if conv.ID == "" {
		conv.ID = "sim-" + uuid.NewString()
	}
	if conv.StartTime.IsZero() {
		conv.StartTime = time.Now().UTC()
	}
	if conv.MediaType == "" {
		conv.MediaType = "chat"
	}
	conv.Simulated = true

	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = append(s.convs, conv)
	return conv
}

func (s *SimulatedStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.convs {
		if c.ID == id {
			s.convs = append(s.convs[:i], s.convs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *SimulatedStore) Conversations() []domain.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ConversationSummary(nil), s.convs...)
}
