package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alphabot-ai/senddit/internal/model"
	"github.com/alphabot-ai/senddit/internal/store"
)

func TestWalletTransfer(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	err := st.Update(ctx, func(tx store.Tx) error {
		if err := tx.Credit(ctx, "alice", 100); err != nil {
			return err
		}
		return tx.Transfer(ctx, "alice", "treasury", 40)
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	err = st.Update(ctx, func(tx store.Tx) error {
		return tx.Transfer(ctx, "alice", "treasury", 61)
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	err = st.Update(ctx, func(tx store.Tx) error {
		return tx.Transfer(ctx, "nobody", "treasury", 1)
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for empty wallet, got %v", err)
	}

	_ = st.View(ctx, func(tx store.Tx) error {
		alice, err := tx.Balance(ctx, "alice")
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		treasury, err := tx.Balance(ctx, "treasury")
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if alice != 60 || treasury != 40 {
			t.Fatalf("unexpected balances alice=%d treasury=%d", alice, treasury)
		}
		unknown, err := tx.Balance(ctx, "unknown")
		if err != nil || unknown != 0 {
			t.Fatalf("expected zero balance for unknown wallet, got %d (%v)", unknown, err)
		}
		return nil
	})
}

func TestRecordTransaction(t *testing.T) {
	st := newTestStore(t)
	defer st.Close()
	ctx := context.Background()

	record := func(signer, nonce, sig string) error {
		return st.Update(ctx, func(tx store.Tx) error {
			return tx.RecordTransaction(ctx, model.ProcessedTx{
				Signer:    signer,
				Nonce:     nonce,
				Signature: sig,
				Kind:      "post_link",
				CreatedAt: time.Now(),
			})
		})
	}
	if err := record("alice", "n1", "sig"); err != nil {
		t.Fatalf("record: %v", err)
	}
	// The nonce, not the signature text, identifies the transaction.
	if err := record("alice", "n1", "other-sig"); !errors.Is(err, store.ErrDuplicateTransaction) {
		t.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
	if err := record("bob", "n1", "sig"); err != nil {
		t.Fatalf("same nonce from another signer: %v", err)
	}
}
