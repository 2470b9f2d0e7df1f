package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/duetapp/backend/internal/auth"
	"github.com/duetapp/backend/internal/middleware"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/repositories"
)

var errTestBoom = errors.New("boom")

// authedRequest builds a request that already carries verified claims, as if
// it had passed the auth middleware.
func authedRequest(t *testing.T, method, target string, body any, accountID string) *http.Request {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	return req.WithContext(middleware.WithClaims(req.Context(), auth.Claims{AccountID: accountID}))
}

type fakeAccountStore struct {
	mu   sync.Mutex
	byID map[string]models.Account
}

func newFakeAccountStore(accounts ...models.Account) *fakeAccountStore {
	store := &fakeAccountStore{byID: make(map[string]models.Account)}
	for _, account := range accounts {
		store.byID[account.ID] = account
	}
	return store
}

func (s *fakeAccountStore) Create(_ context.Context, account models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.byID {
		if existing.Email == account.Email && existing.DeletedAt == nil {
			return repositories.ErrConflict
		}
	}
	s.byID[account.ID] = account
	return nil
}

func (s *fakeAccountStore) FindByEmail(_ context.Context, email string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, account := range s.byID {
		if account.Email == email && account.DeletedAt == nil {
			return account, nil
		}
	}
	return models.Account{}, repositories.ErrNotFound
}

func (s *fakeAccountStore) FindByID(_ context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok || account.DeletedAt != nil {
		return models.Account{}, repositories.ErrNotFound
	}
	return account, nil
}

func (s *fakeAccountStore) Update(_ context.Context, id string, update models.AccountUpdate) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok || account.DeletedAt != nil {
		return models.Account{}, repositories.ErrNotFound
	}
	if update.Email != nil {
		for otherID, other := range s.byID {
			if otherID != id && other.Email == *update.Email && other.DeletedAt == nil {
				return models.Account{}, repositories.ErrConflict
			}
		}
		account.Email = *update.Email
	}
	if update.DisplayName != nil {
		account.DisplayName = *update.DisplayName
	}
	if update.PasswordHash != nil {
		account.PasswordHash = *update.PasswordHash
	}
	account.UpdatedAt = time.Now().UTC()
	s.byID[id] = account
	return account, nil
}

func (s *fakeAccountStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.byID[id]
	if !ok || account.DeletedAt != nil {
		return repositories.ErrNotFound
	}
	now := time.Now().UTC()
	account.DeletedAt = &now
	s.byID[id] = account
	return nil
}

type fakeSessionManager struct {
	issueErr   error
	refreshErr error
	logoutErr  error
	revokeErr  error

	issued    []string
	loggedOut []string
	revoked   []string
}

func (m *fakeSessionManager) Issue(_ context.Context, account models.Account) (models.SessionTokens, error) {
	if m.issueErr != nil {
		return models.SessionTokens{}, m.issueErr
	}
	m.issued = append(m.issued, account.ID)
	return models.SessionTokens{AccessToken: "access-" + account.ID, RefreshToken: "refresh-" + account.ID}, nil
}

func (m *fakeSessionManager) Refresh(_ context.Context, refreshToken string) (models.SessionTokens, error) {
	if m.refreshErr != nil {
		return models.SessionTokens{}, m.refreshErr
	}
	return models.SessionTokens{AccessToken: "access-next", RefreshToken: "refresh-next"}, nil
}

func (m *fakeSessionManager) Logout(_ context.Context, refreshToken string) error {
	if m.logoutErr != nil {
		return m.logoutErr
	}
	m.loggedOut = append(m.loggedOut, refreshToken)
	return nil
}

func (m *fakeSessionManager) RevokeForAccount(_ context.Context, accountID string) (int64, error) {
	if m.revokeErr != nil {
		return 0, m.revokeErr
	}
	m.revoked = append(m.revoked, accountID)
	return 1, nil
}

type fakePairingService struct {
	requestResult models.Pairing
	requestErr    error
	acceptResult  models.Pairing
	acceptErr     error
	mutateErr     error
	list          []models.Pairing
	listErr       error
	cascadeErr    error

	mutations []string
	cascaded  []string
}

func (s *fakePairingService) Request(_ context.Context, requester models.Account) (models.Pairing, error) {
	if s.requestErr != nil {
		return models.Pairing{}, s.requestErr
	}
	return s.requestResult, nil
}

func (s *fakePairingService) AcceptByCode(_ context.Context, acceptor models.Account, code string) (models.Pairing, error) {
	if s.acceptErr != nil {
		return models.Pairing{}, s.acceptErr
	}
	return s.acceptResult, nil
}

func (s *fakePairingService) Reject(_ context.Context, actorID, pairingID string) error {
	s.mutations = append(s.mutations, "reject:"+pairingID)
	return s.mutateErr
}

func (s *fakePairingService) SoftDelete(_ context.Context, actorID, pairingID string) error {
	s.mutations = append(s.mutations, "remove:"+pairingID)
	return s.mutateErr
}

func (s *fakePairingService) Restore(_ context.Context, actorID, pairingID string) error {
	s.mutations = append(s.mutations, "restore:"+pairingID)
	return s.mutateErr
}

func (s *fakePairingService) CascadeSoftDeleteForAccount(_ context.Context, accountID string) (int64, error) {
	if s.cascadeErr != nil {
		return 0, s.cascadeErr
	}
	s.cascaded = append(s.cascaded, accountID)
	return 2, nil
}

func (s *fakePairingService) ListForAccount(_ context.Context, accountID string, includeDeleted bool) ([]models.Pairing, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.list, nil
}

type fakeProgramService struct {
	program models.Program
	steps   []models.Step

	createErr error
	nextErr   error
	getErr    error
	deleteErr error
	unlocked  bool
	unlockErr error

	deleted []string
}

func (s *fakeProgramService) Create(_ context.Context, owner models.Account, pairingID *string, seed string) (models.Program, []models.Step, error) {
	if s.createErr != nil {
		return models.Program{}, nil, s.createErr
	}
	return s.program, s.steps, nil
}

func (s *fakeProgramService) CreateNext(_ context.Context, owner models.Account, previousID, seed string) (models.Program, []models.Step, error) {
	if s.nextErr != nil {
		return models.Program{}, nil, s.nextErr
	}
	return s.program, s.steps, nil
}

func (s *fakeProgramService) Get(_ context.Context, actorID, programID string) (models.Program, []models.Step, error) {
	if s.getErr != nil {
		return models.Program{}, nil, s.getErr
	}
	return s.program, s.steps, nil
}

func (s *fakeProgramService) SoftDelete(_ context.Context, actorID, programID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, programID)
	return nil
}

func (s *fakeProgramService) ComputeUnlockStatus(_ context.Context, programID string, requiredStepCount int) (bool, error) {
	return s.unlocked, s.unlockErr
}

type fakeMessageService struct {
	message  models.Message
	postErr  error
	messages []models.Message
	listErr  error
}

func (s *fakeMessageService) HandleUserMessage(_ context.Context, actorID, stepID, body string) (models.Message, error) {
	if s.postErr != nil {
		return models.Message{}, s.postErr
	}
	return s.message, nil
}

func (s *fakeMessageService) ListMessages(_ context.Context, actorID, stepID string) ([]models.Message, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.messages, nil
}

type fakeArchiver struct {
	exported []string
}

func (a *fakeArchiver) ExportAsync(_ context.Context, programID string) {
	a.exported = append(a.exported, programID)
}

type stubLimiter struct {
	allow bool
}

func (l stubLimiter) Allow(string) bool { return l.allow }
