package generation

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubGenerator struct {
	outputs []string
	err     error
	calls   int
}

func (s *stubGenerator) GenerateContent(context.Context, string) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.outputs, nil
}

func TestCachingGeneratorReusesOutput(t *testing.T) {
	base := &stubGenerator{outputs: []string{"day one", "day two"}}
	cache := NewCachingGenerator(base, time.Minute)

	ctx := context.Background()

	first, err := cache.GenerateContent(ctx, "reconnect")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected two outputs, got %d", len(first))
	}

	second, err := cache.GenerateContent(ctx, "reconnect")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", base.calls)
	}
	if second[0] != "day one" || second[1] != "day two" {
		t.Fatalf("unexpected cached outputs: %v", second)
	}

	// Mutating the returned slice must not poison the cache.
	second[0] = "tampered"
	third, _ := cache.GenerateContent(ctx, "reconnect")
	if third[0] != "day one" {
		t.Fatalf("cache entry was mutated: %v", third)
	}
}

func TestCachingGeneratorDistinctPrompts(t *testing.T) {
	base := &stubGenerator{outputs: []string{"x"}}
	cache := NewCachingGenerator(base, time.Minute)

	ctx := context.Background()
	if _, err := cache.GenerateContent(ctx, "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.GenerateContent(ctx, "second"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected two upstream calls, got %d", base.calls)
	}
}

func TestCachingGeneratorDoesNotCacheFailures(t *testing.T) {
	base := &stubGenerator{err: errors.New("model unavailable")}
	cache := NewCachingGenerator(base, time.Minute)

	ctx := context.Background()
	if _, err := cache.GenerateContent(ctx, "reconnect"); err == nil {
		t.Fatal("expected error")
	}

	base.err = nil
	base.outputs = []string{"recovered"}
	outputs, err := cache.GenerateContent(ctx, "reconnect")
	if err != nil {
		t.Fatalf("unexpected error after recovery: %v", err)
	}
	if len(outputs) != 1 || outputs[0] != "recovered" {
		t.Fatalf("unexpected outputs: %v", outputs)
	}
	if base.calls != 2 {
		t.Fatalf("expected retry to reach upstream, got %d calls", base.calls)
	}
}
