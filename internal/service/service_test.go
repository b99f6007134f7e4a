package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/broadcast"
	"github.com/splitsync/splitsync/internal/identity"
	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/sequencer"
	"github.com/splitsync/splitsync/internal/storage/sqlite"
)

// newTestStack wires a full service stack against a throwaway sqlite file.
func newTestStack(t *testing.T) (*GroupService, *ExpenseService, *broadcast.Hub) {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	seq := sequencer.New(2 * time.Second)
	hub := broadcast.NewHub(64, 0, 0)
	return NewGroupService(store, seq, hub), NewExpenseService(store, seq, hub), hub
}

func as(userID string) context.Context {
	return identity.WithUserID(context.Background(), userID)
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

// newDinnerGroup creates a USD equal-split group with alice (admin, creator),
// bob and charlie.
func newDinnerGroup(t *testing.T, gs *GroupService) *models.Group {
	t.Helper()

	group, err := gs.CreateGroup(as("alice"), "dinner club", "", models.Settings{})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	for _, userID := range []string{"bob", "charlie"} {
		if group, err = gs.AddMember(as("alice"), group.ID, userID, models.RoleMember); err != nil {
			t.Fatalf("AddMember(%s) failed: %v", userID, err)
		}
	}
	return group
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %q, got nil", code)
	}
	if got := apperr.CodeOf(err); got != code {
		t.Fatalf("expected code %q, got %q (%v)", code, got, err)
	}
}

func assertZeroSum(t *testing.T, table models.BalanceTable) {
	t.Helper()
	if sum := table.NetSum(); !sum.IsZero() {
		t.Fatalf("balance table nets sum to %s, want 0", sum)
	}
}

func assertNet(t *testing.T, table models.BalanceTable, userID, want string) {
	t.Helper()
	row, ok := table[userID]
	if !ok {
		t.Fatalf("no balance row for %s", userID)
	}
	if !row.Net.Equal(dec(t, want)) {
		t.Fatalf("net for %s = %s, want %s", userID, row.Net, want)
	}
}
