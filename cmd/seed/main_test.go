package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/alphabot-ai/senddit/internal/processor"
	"github.com/alphabot-ai/senddit/internal/senddit"
	"github.com/alphabot-ai/senddit/internal/store/sqlite"
)

func newTestSeeder(t *testing.T) *seeder {
	t.Helper()
	st, err := sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	program, err := senddit.New(&senddit.Args{Store: st, Config: senddit.DefaultConfig()})
	if err != nil {
		t.Fatalf("new program: %v", err)
	}
	proc, err := processor.New(&processor.Args{Program: program, Store: st})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return &seeder{program: program, proc: proc, rng: rand.New(rand.NewSource(7))}
}

func TestSeedRefusesSeededLedger(t *testing.T) {
	s := newTestSeeder(t)
	ctx := context.Background()

	if err := s.seed(ctx); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	before, err := s.program.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if before.Posts != int64(len(links)) {
		t.Fatalf("expected %d posts, got %d", len(links), before.Posts)
	}

	if err := s.seed(ctx); !errors.Is(err, errAlreadySeeded) {
		t.Fatalf("expected errAlreadySeeded, got %v", err)
	}
	after, err := s.program.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if after != before {
		t.Fatalf("expected ledger unchanged, got %+v want %+v", after, before)
	}
}
