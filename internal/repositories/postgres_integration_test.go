package repositories

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/cockroach-go/v2/testserver"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duetapp/backend/internal/auth"
	"github.com/duetapp/backend/internal/models"
	"github.com/duetapp/backend/internal/pairing"
	"github.com/duetapp/backend/internal/program"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	server, err := testserver.NewTestServer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach test server: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, server.PGURL().String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to cockroach test server: %v\n", err)
		server.Stop()
		os.Exit(1)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "apply migrations: %v\n", err)
		pool.Close()
		server.Stop()
		os.Exit(1)
	}

	testPool = pool

	code := m.Run()

	pool.Close()
	server.Stop()

	os.Exit(code)
}

func TestPostgresAccountRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	repo := NewPostgresAccountRepository(testPool)
	account := createTestAccount(t, repo, "alice@example.com")

	dup := account
	dup.ID = uuid.NewString()
	if err := repo.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate email, got %v", err)
	}

	fetched, err := repo.FindByEmail(ctx, account.Email)
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if fetched.ID != account.ID || fetched.PasswordHash != account.PasswordHash {
		t.Fatalf("unexpected account fetched: %+v", fetched)
	}

	newName := "Alice A."
	updated, err := repo.Update(ctx, account.ID, models.AccountUpdate{DisplayName: &newName})
	if err != nil {
		t.Fatalf("update account: %v", err)
	}
	if updated.DisplayName != newName {
		t.Fatalf("display name not updated: %+v", updated)
	}
	if updated.Email != account.Email {
		t.Fatalf("untouched email changed: %+v", updated)
	}

	if _, err := repo.Update(ctx, uuid.NewString(), models.AccountUpdate{DisplayName: &newName}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound updating missing account, got %v", err)
	}

	if err := repo.SoftDelete(ctx, account.ID); err != nil {
		t.Fatalf("soft delete account: %v", err)
	}
	if _, err := repo.FindByID(ctx, account.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after soft delete, got %v", err)
	}
	if err := repo.SoftDelete(ctx, account.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound soft deleting twice, got %v", err)
	}
}

func TestPostgresPairingRepository_AcceptIsSingleWinner(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accountRepo := NewPostgresAccountRepository(testPool)
	requester := createTestAccount(t, accountRepo, "requester@example.com")
	partner := createTestAccount(t, accountRepo, "partner@example.com")
	rival := createTestAccount(t, accountRepo, "rival@example.com")

	repo := NewPostgresPairingRepository(testPool)
	code := "ABC234"
	pending := models.Pairing{
		ID:          uuid.NewString(),
		RequesterID: requester.ID,
		Code:        &code,
		Status:      models.PairingStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.Create(ctx, pending); err != nil {
		t.Fatalf("create pairing: %v", err)
	}

	clash := pending
	clash.ID = uuid.NewString()
	clash.RequesterID = rival.ID
	if err := repo.Create(ctx, clash); !errors.Is(err, pairing.ErrCodeTaken) {
		t.Fatalf("expected ErrCodeTaken on duplicate code, got %v", err)
	}

	accepted, err := repo.AcceptPending(ctx, pending.ID, partner.ID)
	if err != nil {
		t.Fatalf("accept pairing: %v", err)
	}
	if accepted.Status != models.PairingStatusAccepted {
		t.Fatalf("status = %q", accepted.Status)
	}
	if accepted.Code != nil {
		t.Fatalf("code not cleared on acceptance: %v", *accepted.Code)
	}
	if accepted.PartnerID == nil || *accepted.PartnerID != partner.ID {
		t.Fatalf("partner not bound: %+v", accepted)
	}

	if _, err := repo.AcceptPending(ctx, pending.ID, rival.ID); !errors.Is(err, pairing.ErrNotFound) {
		t.Fatalf("second accept should lose, got %v", err)
	}
	if err := repo.MarkRejected(ctx, pending.ID); !errors.Is(err, pairing.ErrNotFound) {
		t.Fatalf("reject after accept should find nothing, got %v", err)
	}

	active, err := repo.HasActiveBetween(ctx, requester.ID, partner.ID)
	if err != nil {
		t.Fatalf("HasActiveBetween: %v", err)
	}
	if !active {
		t.Fatal("expected active pairing between requester and partner")
	}

	count, err := repo.CountAccepted(ctx, partner.ID)
	if err != nil {
		t.Fatalf("CountAccepted: %v", err)
	}
	if count != 1 {
		t.Fatalf("accepted count = %d, want 1", count)
	}
}

func TestPostgresPairingRepository_CascadeSoftDelete(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accountRepo := NewPostgresAccountRepository(testPool)
	requester := createTestAccount(t, accountRepo, "requester@example.com")
	partner := createTestAccount(t, accountRepo, "partner@example.com")

	repo := NewPostgresPairingRepository(testPool)
	code := "XYZ789"
	pending := models.Pairing{
		ID:          uuid.NewString(),
		RequesterID: requester.ID,
		Code:        &code,
		Status:      models.PairingStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := repo.Create(ctx, pending); err != nil {
		t.Fatalf("create pairing: %v", err)
	}
	if _, err := repo.AcceptPending(ctx, pending.ID, partner.ID); err != nil {
		t.Fatalf("accept pairing: %v", err)
	}

	affected, err := repo.SoftDeleteForAccount(ctx, requester.ID)
	if err != nil {
		t.Fatalf("cascade soft delete: %v", err)
	}
	if affected != 1 {
		t.Fatalf("affected = %d, want 1", affected)
	}

	if _, err := repo.GetByID(ctx, pending.ID, false); !errors.Is(err, pairing.ErrNotFound) {
		t.Fatalf("expected tombstoned pairing hidden, got %v", err)
	}
	tombstoned, err := repo.GetByID(ctx, pending.ID, true)
	if err != nil {
		t.Fatalf("GetByID includeDeleted: %v", err)
	}
	if tombstoned.DeletedAt == nil {
		t.Fatal("deleted_at not set")
	}

	if err := repo.Restore(ctx, pending.ID); err != nil {
		t.Fatalf("restore pairing: %v", err)
	}
	if _, err := repo.GetByID(ctx, pending.ID, false); err != nil {
		t.Fatalf("restored pairing should be visible: %v", err)
	}
}

func TestPostgresProgramRepository_ContributionsAndUnlock(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accountRepo := NewPostgresAccountRepository(testPool)
	owner := createTestAccount(t, accountRepo, "owner@example.com")
	partner := createTestAccount(t, accountRepo, "partner@example.com")

	repo := NewPostgresProgramRepository(testPool)
	prog := models.Program{
		ID:        uuid.NewString(),
		OwnerID:   owner.ID,
		SeedText:  "cooking together",
		CreatedAt: time.Now().UTC(),
	}
	steps := []models.Step{
		{ID: uuid.NewString(), ProgramID: prog.ID, Day: 1, Prompt: "first", CreatedAt: prog.CreatedAt},
		{ID: uuid.NewString(), ProgramID: prog.ID, Day: 2, Prompt: "second", CreatedAt: prog.CreatedAt},
	}
	if err := repo.CreateProgramWithSteps(ctx, prog, steps); err != nil {
		t.Fatalf("create program: %v", err)
	}

	listed, err := repo.ListSteps(ctx, prog.ID)
	if err != nil {
		t.Fatalf("list steps: %v", err)
	}
	if len(listed) != 2 || listed[0].Day != 1 || listed[1].Day != 2 {
		t.Fatalf("unexpected steps: %+v", listed)
	}

	inserted, err := repo.InsertContribution(ctx, steps[0].ID, owner.ID)
	if err != nil {
		t.Fatalf("insert contribution: %v", err)
	}
	if !inserted {
		t.Fatal("first contribution should insert")
	}
	inserted, err = repo.InsertContribution(ctx, steps[0].ID, owner.ID)
	if err != nil {
		t.Fatalf("repeat contribution: %v", err)
	}
	if inserted {
		t.Fatal("repeat contribution must not insert")
	}

	has, err := repo.HasContribution(ctx, steps[0].ID, partner.ID)
	if err != nil {
		t.Fatalf("HasContribution: %v", err)
	}
	if has {
		t.Fatal("partner has not contributed yet")
	}

	for i := 0; i < 2; i++ {
		if err := repo.MarkStepStarted(ctx, steps[0].ID); err != nil {
			t.Fatalf("mark step started: %v", err)
		}
	}
	started, err := repo.CountStartedSteps(ctx, prog.ID)
	if err != nil {
		t.Fatalf("count started: %v", err)
	}
	if started != 1 {
		t.Fatalf("started = %d, want 1", started)
	}

	if err := repo.SoftDeleteProgram(ctx, prog.ID); err != nil {
		t.Fatalf("soft delete program: %v", err)
	}
	if _, err := repo.GetProgram(ctx, prog.ID); !errors.Is(err, program.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after soft delete, got %v", err)
	}
}

func TestPostgresMessageRepository_BatchAndOrdering(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accountRepo := NewPostgresAccountRepository(testPool)
	owner := createTestAccount(t, accountRepo, "owner@example.com")

	programRepo := NewPostgresProgramRepository(testPool)
	prog := models.Program{ID: uuid.NewString(), OwnerID: owner.ID, SeedText: "seed", CreatedAt: time.Now().UTC()}
	step := models.Step{ID: uuid.NewString(), ProgramID: prog.ID, Day: 1, Prompt: "p", CreatedAt: prog.CreatedAt}
	if err := programRepo.CreateProgramWithSteps(ctx, prog, []models.Step{step}); err != nil {
		t.Fatalf("create program: %v", err)
	}

	repo := NewPostgresMessageRepository(testPool)

	sender := owner.ID
	userMsg := models.Message{
		ID:        uuid.NewString(),
		StepID:    step.ID,
		SenderID:  &sender,
		Type:      models.MessageTypeUser,
		Body:      "hello there",
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	if err := repo.InsertUserMessage(ctx, userMsg); err != nil {
		t.Fatalf("insert user message: %v", err)
	}

	generated, err := repo.HasGeneratedForStep(ctx, step.ID)
	if err != nil {
		t.Fatalf("HasGeneratedForStep: %v", err)
	}
	if generated {
		t.Fatal("no generated batch exists yet")
	}

	now := time.Now().UTC()
	batch := []models.Message{
		{
			ID: uuid.NewString(), StepID: step.ID, Type: models.MessageTypeSystem, Body: "reflection",
			Metadata:  &models.MessageMetadata{Type: models.MetadataTypeGenerated, Sequence: 1, Total: 2},
			CreatedAt: now,
		},
		{
			ID: uuid.NewString(), StepID: step.ID, Type: models.MessageTypeSystem, Body: "question",
			Metadata:  &models.MessageMetadata{Type: models.MetadataTypeGenerated, Sequence: 2, Total: 2},
			CreatedAt: now,
		},
	}
	if err := repo.InsertSystemBatch(ctx, batch); err != nil {
		t.Fatalf("insert system batch: %v", err)
	}

	generated, err = repo.HasGeneratedForStep(ctx, step.ID)
	if err != nil {
		t.Fatalf("HasGeneratedForStep: %v", err)
	}
	if !generated {
		t.Fatal("generated batch should be detected")
	}

	msgs, err := repo.ListForStep(ctx, step.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].ID != userMsg.ID {
		t.Fatalf("user message should sort first, got %+v", msgs[0])
	}
	if msgs[1].Metadata == nil || msgs[1].Metadata.Sequence != 1 || msgs[2].Metadata.Sequence != 2 {
		t.Fatalf("batch out of order: %+v then %+v", msgs[1], msgs[2])
	}
}

func TestPostgresSessionStore_RotationPrimitives(t *testing.T) {
	ctx := context.Background()
	resetDatabase(t)

	accountRepo := NewPostgresAccountRepository(testPool)
	account := createTestAccount(t, accountRepo, "owner@example.com")

	store := NewPostgresSessionStore(testPool)
	expires := time.Now().UTC().Add(24 * time.Hour)
	session := auth.Session{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Token:     uuid.NewString(),
		ExpiresAt: expires,
	}

	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, err := store.Find(ctx, session.Token)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if loaded.AccountID != account.ID || !timesClose(loaded.ExpiresAt, expires, time.Millisecond) {
		t.Fatalf("unexpected session loaded: %+v", loaded)
	}

	horizon := expires.Add(48 * time.Hour)
	if err := store.Extend(ctx, account.ID, horizon); err != nil {
		t.Fatalf("extend session: %v", err)
	}
	loaded, err = store.Find(ctx, session.Token)
	if err != nil {
		t.Fatalf("find after extend: %v", err)
	}
	if !timesClose(loaded.ExpiresAt, horizon, time.Millisecond) {
		t.Fatalf("expiry not extended: %v", loaded.ExpiresAt)
	}

	// Extending backwards must be a no-op.
	if err := store.Extend(ctx, account.ID, expires); err != nil {
		t.Fatalf("extend backwards: %v", err)
	}
	loaded, _ = store.Find(ctx, session.Token)
	if !timesClose(loaded.ExpiresAt, horizon, time.Millisecond) {
		t.Fatalf("expiry shortened: %v", loaded.ExpiresAt)
	}

	affected, err := store.DeleteForAccount(ctx, account.ID)
	if err != nil {
		t.Fatalf("delete for account: %v", err)
	}
	if affected != 1 {
		t.Fatalf("affected = %d, want 1", affected)
	}
	if _, err := store.Find(ctx, session.Token); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after cascade, got %v", err)
	}
	if err := store.Delete(ctx, session.Token); !errors.Is(err, auth.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound deleting twice, got %v", err)
	}
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		contents, err := os.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		if _, err := pool.Exec(ctx, string(contents)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
	}

	return nil
}

func resetDatabase(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	conn, err := testPool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire connection: %v", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "TRUNCATE TABLE messages, contributions, steps, programs, pairings, sessions, accounts CASCADE"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
}

func createTestAccount(t *testing.T, repo *PostgresAccountRepository, email string) models.Account {
	t.Helper()
	account := models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: "password-hash",
		DisplayName:  "Test Account",
		MaxPairings:  1,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := repo.Create(context.Background(), account); err != nil {
		t.Fatalf("create test account: %v", err)
	}
	return account
}

func timesClose(a, b time.Time, delta time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= delta
}
