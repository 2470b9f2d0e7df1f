package pairing

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/duetapp/backend/internal/models"
)

func testAccount(id string, maxPairings int) models.Account {
	return models.Account{ID: id, Email: id + "@example.com", MaxPairings: maxPairings}
}

func TestRequestGeneratesCode(t *testing.T) {
	ledger := NewLedger(NewInMemoryStore())

	pairing, err := ledger.Request(context.Background(), testAccount("a", 1))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if pairing.Code == nil || len(*pairing.Code) != CodeLength {
		t.Fatalf("expected a %d-character code, got %+v", CodeLength, pairing.Code)
	}
	if pairing.Status != models.PairingStatusPending {
		t.Fatalf("expected pending status, got %s", pairing.Status)
	}
}

func TestRequestRejectsDuplicatePending(t *testing.T) {
	ledger := NewLedger(NewInMemoryStore())

	if _, err := ledger.Request(context.Background(), testAccount("a", 1)); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := ledger.Request(context.Background(), testAccount("a", 1)); !errors.Is(err, ErrDuplicatePending) {
		t.Fatalf("expected ErrDuplicatePending, got %v", err)
	}
}

func TestRequestQuota(t *testing.T) {
	store := NewInMemoryStore()
	ledger := NewLedger(store)
	ctx := context.Background()

	pairing, err := ledger.Request(ctx, testAccount("a", 1))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := ledger.AcceptByCode(ctx, testAccount("b", 1), *pairing.Code); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Both parties are now at their cap of one accepted pairing.
	if _, err := ledger.Request(ctx, testAccount("a", 1)); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded for requester, got %v", err)
	}

	other, err := ledger.Request(ctx, testAccount("c", 1))
	if err != nil {
		t.Fatalf("request from third account: %v", err)
	}
	if _, err := ledger.AcceptByCode(ctx, testAccount("b", 1), *other.Code); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded for acceptor, got %v", err)
	}
}

func TestRequestCodeCollisionExhaustion(t *testing.T) {
	ledger := NewLedger(NewInMemoryStore())
	ledger.newCode = func() (string, error) { return "SAMEUP", nil }

	if _, err := ledger.Request(context.Background(), testAccount("a", 1)); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := ledger.Request(context.Background(), testAccount("b", 1)); !errors.Is(err, ErrCodeExhausted) {
		t.Fatalf("expected ErrCodeExhausted, got %v", err)
	}
}

func TestAcceptByCode(t *testing.T) {
	ledger := NewLedger(NewInMemoryStore())
	ctx := context.Background()

	pairing, err := ledger.Request(ctx, testAccount("a", 1))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	accepted, err := ledger.AcceptByCode(ctx, testAccount("b", 1), *pairing.Code)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.PairingStatusAccepted {
		t.Fatalf("expected accepted status, got %s", accepted.Status)
	}
	if accepted.Code != nil {
		t.Fatal("code should be cleared on acceptance")
	}
	if accepted.PartnerID == nil || *accepted.PartnerID != "b" {
		t.Fatalf("expected partner b, got %+v", accepted.PartnerID)
	}
}

func TestAcceptByCodeFailures(t *testing.T) {
	ledger := NewLedger(NewInMemoryStore())
	ctx := context.Background()

	pairing, err := ledger.Request(ctx, testAccount("a", 1))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := ledger.AcceptByCode(ctx, testAccount("b", 1), "NOSUCH"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown code, got %v", err)
	}
	if _, err := ledger.AcceptByCode(ctx, testAccount("a", 1), *pairing.Code); !errors.Is(err, ErrSelfPairing) {
		t.Fatalf("expected ErrSelfPairing, got %v", err)
	}
}

func TestAcceptByCodeAlreadyPaired(t *testing.T) {
	ledger := NewLedger(NewInMemoryStore())
	ctx := context.Background()

	first, err := ledger.Request(ctx, testAccount("a", 2))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := ledger.AcceptByCode(ctx, testAccount("b", 2), *first.Code); err != nil {
		t.Fatalf("accept: %v", err)
	}

	second, err := ledger.Request(ctx, testAccount("a", 2))
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if _, err := ledger.AcceptByCode(ctx, testAccount("b", 2), *second.Code); !errors.Is(err, ErrAlreadyPaired) {
		t.Fatalf("expected ErrAlreadyPaired, got %v", err)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	ledger := NewLedger(NewInMemoryStore())
	ctx := context.Background()

	pairing, err := ledger.Request(ctx, testAccount("a", 5))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	code := *pairing.Code

	const attempts = 8
	results := make([]error, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			acceptor := testAccount(string(rune('b'+i)), 5)
			_, results[i] = ledger.AcceptByCode(ctx, acceptor, code)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrNotFound):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestReject(t *testing.T) {
	ledger := NewLedger(NewInMemoryStore())
	ctx := context.Background()

	pairing, err := ledger.Request(ctx, testAccount("a", 1))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := ledger.Reject(ctx, "stranger", pairing.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if err := ledger.Reject(ctx, "a", pairing.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	if err := ledger.Reject(ctx, "a", pairing.ID); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
}

func TestSoftDeleteAndRestore(t *testing.T) {
	ledger := NewLedger(NewInMemoryStore())
	ctx := context.Background()

	pairing, err := ledger.Request(ctx, testAccount("a", 1))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := ledger.SoftDelete(ctx, "a", pairing.ID); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	// Tombstoned rows are invisible to default queries.
	if _, err := ledger.GetActive(ctx, pairing.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for tombstoned pairing, got %v", err)
	}
	if err := ledger.SoftDelete(ctx, "a", pairing.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}

	if err := ledger.Restore(ctx, "a", pairing.ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := ledger.GetActive(ctx, pairing.ID); err != nil {
		t.Fatalf("expected pairing back after restore: %v", err)
	}
}

func TestCascadeSoftDeleteForAccount(t *testing.T) {
	ledger := NewLedger(NewInMemoryStore())
	ctx := context.Background()

	first, err := ledger.Request(ctx, testAccount("a", 2))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := ledger.AcceptByCode(ctx, testAccount("b", 2), *first.Code); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := ledger.Request(ctx, testAccount("a", 2)); err != nil {
		t.Fatalf("second request: %v", err)
	}

	count, err := ledger.CascadeSoftDeleteForAccount(ctx, "a")
	if err != nil {
		t.Fatalf("cascade: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 tombstoned pairings, got %d", count)
	}

	remaining, err := ledger.ListForAccount(ctx, "a", false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no visible pairings, got %d", len(remaining))
	}

	all, err := ledger.ListForAccount(ctx, "a", true)
	if err != nil {
		t.Fatalf("list including deleted: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tombstoned pairings visible with includeDeleted, got %d", len(all))
	}
}
