package program

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/duetapp/backend/internal/models"
)

// InMemoryStore keeps programs, steps, and contributions in process memory.
// It mirrors the conditional-update semantics of the SQL store so services
// and handlers can be tested without a database.
type InMemoryStore struct {
	mu            sync.Mutex
	programs      map[string]models.Program
	steps         map[string]models.Step
	contributions map[string]map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		programs:      make(map[string]models.Program),
		steps:         make(map[string]models.Step),
		contributions: make(map[string]map[string]struct{}),
	}
}

var _ Store = (*InMemoryStore)(nil)

func (s *InMemoryStore) CreateProgramWithSteps(ctx context.Context, program models.Program, steps []models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programs[program.ID] = program
	for _, step := range steps {
		s.steps[step.ID] = step
	}
	return nil
}

func (s *InMemoryStore) GetProgram(ctx context.Context, id string) (models.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	program, ok := s.programs[id]
	if !ok || program.DeletedAt != nil {
		return models.Program{}, ErrNotFound
	}
	return program, nil
}

func (s *InMemoryStore) SoftDeleteProgram(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	program, ok := s.programs[id]
	if !ok || program.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	program.DeletedAt = &now
	s.programs[id] = program
	return nil
}

func (s *InMemoryStore) ListSteps(ctx context.Context, programID string) ([]models.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Step
	for _, step := range s.steps {
		if step.ProgramID == programID {
			out = append(out, step)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (s *InMemoryStore) GetStep(ctx context.Context, stepID string) (models.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepID]
	if !ok {
		return models.Step{}, ErrNotFound
	}
	return step, nil
}

func (s *InMemoryStore) InsertContribution(ctx context.Context, stepID, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[stepID]; !ok {
		return false, ErrNotFound
	}
	byAccount := s.contributions[stepID]
	if byAccount == nil {
		byAccount = make(map[string]struct{})
		s.contributions[stepID] = byAccount
	}
	if _, exists := byAccount[accountID]; exists {
		return false, nil
	}
	byAccount[accountID] = struct{}{}
	return true, nil
}

func (s *InMemoryStore) HasContribution(ctx context.Context, stepID, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.contributions[stepID][accountID]
	return ok, nil
}

func (s *InMemoryStore) MarkStepStarted(ctx context.Context, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[stepID]
	if !ok {
		return ErrNotFound
	}
	if !step.Started {
		step.Started = true
		s.steps[stepID] = step
	}
	return nil
}

func (s *InMemoryStore) CountStartedSteps(ctx context.Context, programID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, step := range s.steps {
		if step.ProgramID == programID && step.Started {
			count++
		}
	}
	return count, nil
}
