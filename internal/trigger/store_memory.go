package trigger

import (
	"context"
	"sync"

	"github.com/duetapp/backend/internal/models"
)

// InMemoryMessageStore keeps step messages in process memory for tests.
type InMemoryMessageStore struct {
	mu     sync.Mutex
	byStep map[string][]models.Message
}

func NewInMemoryMessageStore() *InMemoryMessageStore {
	return &InMemoryMessageStore{byStep: make(map[string][]models.Message)}
}

var _ MessageStore = (*InMemoryMessageStore)(nil)

func (s *InMemoryMessageStore) InsertUserMessage(ctx context.Context, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStep[msg.StepID] = append(s.byStep[msg.StepID], msg)
	return nil
}

func (s *InMemoryMessageStore) InsertSystemBatch(ctx context.Context, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		s.byStep[msg.StepID] = append(s.byStep[msg.StepID], msg)
	}
	return nil
}

func (s *InMemoryMessageStore) ListForStep(ctx context.Context, stepID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.byStep[stepID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *InMemoryMessageStore) HasGeneratedForStep(ctx context.Context, stepID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.byStep[stepID] {
		if msg.Type == models.MessageTypeSystem && msg.Metadata != nil && msg.Metadata.Type == models.MetadataTypeGenerated {
			return true, nil
		}
	}
	return false, nil
}
