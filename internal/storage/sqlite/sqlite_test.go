package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/models"
	"github.com/splitsync/splitsync/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tempDir, err := os.MkdirTemp("", "splitsync-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testGroup(id string) *models.Group {
	return &models.Group{
		ID:          id,
		Name:        "Roommates",
		Description: "apartment expenses",
		CreatorID:   "alice",
		Active:      true,
		InviteToken: "token-" + id,
		Members: []models.Member{
			{UserID: "alice", Role: models.RoleAdmin, Active: true, JoinedAt: 100},
			{UserID: "bob", Role: models.RoleMember, Active: true, JoinedAt: 101},
		},
		Settings: models.Settings{
			CurrencyCode:       "USD",
			DefaultSplitPolicy: models.SplitEqual,
		},
		Balances: models.BalanceTable{
			"alice": {Net: dec("30"), OwedBy: []models.Edge{{UserID: "bob", Amount: dec("30")}}},
			"bob":   {Net: dec("-30"), OwesTo: []models.Edge{{UserID: "alice", Amount: dec("30")}}},
		},
		TotalExpense: dec("60.00"),
		TotalSettled: dec("0"),
		CreatedAt:    100,
		UpdatedAt:    100,
	}
}

func commitGroup(t *testing.T, store *SQLiteStore, g *models.Group, action models.Action) {
	t.Helper()
	err := store.Commit(context.Background(), &storage.Mutation{
		Group:    g,
		Activity: &models.ActivityRecord{GroupID: g.ID, Action: action, ActorID: "alice", CreatedAt: 100},
	})
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("group document round-trips", func(t *testing.T) {
		original := testGroup("g1")
		commitGroup(t, store, original, models.ActionGroupCreated)

		got, err := store.GetGroup(ctx, "g1")
		if err != nil {
			t.Fatalf("GetGroup failed: %v", err)
		}
		if got.Name != original.Name || got.CreatorID != original.CreatorID || !got.Active {
			t.Errorf("group fields mismatch: %+v", got)
		}
		if got.InviteToken != original.InviteToken {
			t.Errorf("invite token = %q, want %q", got.InviteToken, original.InviteToken)
		}
		if len(got.Members) != 2 {
			t.Fatalf("members = %d, want 2", len(got.Members))
		}
		if got.Members[0].UserID != "alice" || got.Members[0].Role != models.RoleAdmin {
			t.Errorf("first member = %+v, want alice/admin", got.Members[0])
		}
		if !got.TotalExpense.Equal(dec("60.00")) {
			t.Errorf("total expense = %s, want 60.00", got.TotalExpense)
		}
		if !got.Balances["alice"].Net.Equal(dec("30")) {
			t.Errorf("alice net = %s, want 30", got.Balances["alice"].Net)
		}
		if len(got.Balances["bob"].OwesTo) != 1 || got.Balances["bob"].OwesTo[0].UserID != "alice" {
			t.Errorf("bob owes-to = %+v, want edge to alice", got.Balances["bob"].OwesTo)
		}
	})

	t.Run("group upsert replaces members", func(t *testing.T) {
		g := testGroup("g2")
		commitGroup(t, store, g, models.ActionGroupCreated)

		g.Members[1].Active = false
		g.Members = append(g.Members, models.Member{UserID: "charlie", Role: models.RoleMember, Active: true, JoinedAt: 102})
		commitGroup(t, store, g, models.ActionMemberAdded)

		got, err := store.GetGroup(ctx, "g2")
		if err != nil {
			t.Fatalf("GetGroup failed: %v", err)
		}
		if len(got.Members) != 3 {
			t.Fatalf("members = %d, want 3", len(got.Members))
		}
		if got.Members[1].Active {
			t.Error("expected bob to be inactive after upsert")
		}
	})

	t.Run("GetGroup not found", func(t *testing.T) {
		_, err := store.GetGroup(ctx, "missing")
		if apperr.CodeOf(err) != apperr.CodeGroupNotFound {
			t.Errorf("error code = %q, want %q", apperr.CodeOf(err), apperr.CodeGroupNotFound)
		}
	})

	t.Run("GetGroupByInviteToken", func(t *testing.T) {
		g := testGroup("g3")
		commitGroup(t, store, g, models.ActionGroupCreated)

		got, err := store.GetGroupByInviteToken(ctx, "token-g3")
		if err != nil {
			t.Fatalf("GetGroupByInviteToken failed: %v", err)
		}
		if got.ID != "g3" {
			t.Errorf("group id = %q, want g3", got.ID)
		}

		if _, err := store.GetGroupByInviteToken(ctx, "bogus"); apperr.KindOf(err) != apperr.KindNotFound {
			t.Errorf("expected NotFound for bogus token, got %v", err)
		}
	})

	t.Run("expense document round-trips", func(t *testing.T) {
		g := testGroup("g4")
		expense := &models.Expense{
			ID:          "e1",
			GroupID:     "g4",
			Description: "dinner",
			Amount:      dec("90.00"),
			PayerID:     "alice",
			SplitPolicy: models.SplitEqual,
			Participants: []models.Share{
				{UserID: "alice", Amount: dec("30"), Type: models.SplitEqual},
				{UserID: "bob", Amount: dec("30"), Type: models.SplitEqual},
				{UserID: "charlie", Amount: dec("30"), Type: models.SplitEqual},
			},
			Settlements: []models.Settlement{
				{FromUserID: "bob", ToUserID: "alice", Amount: dec("15.00"), Method: "cash", CreatedAt: 200},
			},
			History: []models.Revision{
				{Description: "diner", Amount: dec("90.00"), PayerID: "alice", EditedBy: "alice", EditedAt: 150},
			},
			CreatedBy: "alice",
			CreatedAt: 100,
			UpdatedAt: 150,
		}
		err := store.Commit(ctx, &storage.Mutation{
			Group:      g,
			PutExpense: expense,
			Activity:   &models.ActivityRecord{GroupID: "g4", Action: models.ActionExpenseCreated, ActorID: "alice", CreatedAt: 100},
		})
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		got, err := store.GetExpense(ctx, "e1")
		if err != nil {
			t.Fatalf("GetExpense failed: %v", err)
		}
		if !got.Amount.Equal(dec("90.00")) {
			t.Errorf("amount = %s, want 90.00", got.Amount)
		}
		if len(got.Participants) != 3 || !got.Participants[1].Amount.Equal(dec("30")) {
			t.Errorf("participants = %+v", got.Participants)
		}
		if len(got.Settlements) != 1 || got.Settlements[0].Method != "cash" {
			t.Errorf("settlements = %+v", got.Settlements)
		}
		if len(got.History) != 1 || got.History[0].Description != "diner" {
			t.Errorf("history = %+v", got.History)
		}
	})

	t.Run("ListExpensesByGroup filters settled", func(t *testing.T) {
		g := testGroup("g5")
		unsettled := &models.Expense{
			ID: "e-open", GroupID: "g5", Description: "open", Amount: dec("10.00"),
			PayerID: "alice", SplitPolicy: models.SplitEqual,
			Participants: []models.Share{{UserID: "alice", Amount: dec("10.00"), Type: models.SplitEqual}},
			CreatedBy:    "alice", CreatedAt: 100, UpdatedAt: 100,
		}
		settled := &models.Expense{
			ID: "e-done", GroupID: "g5", Description: "done", Amount: dec("20.00"),
			PayerID: "alice", SplitPolicy: models.SplitEqual, Settled: true, SettledBy: "alice", SettledAt: 300,
			Participants: []models.Share{{UserID: "alice", Amount: dec("20.00"), Type: models.SplitEqual}},
			CreatedBy:    "alice", CreatedAt: 200, UpdatedAt: 300,
		}
		for _, e := range []*models.Expense{unsettled, settled} {
			err := store.Commit(ctx, &storage.Mutation{
				Group:      g,
				PutExpense: e,
				Activity:   &models.ActivityRecord{GroupID: "g5", Action: models.ActionExpenseCreated, ActorID: "alice", CreatedAt: e.CreatedAt},
			})
			if err != nil {
				t.Fatalf("Commit failed: %v", err)
			}
		}

		all, err := store.ListExpensesByGroup(ctx, "g5", false)
		if err != nil {
			t.Fatalf("ListExpensesByGroup failed: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("all expenses = %d, want 2", len(all))
		}
		if all[0].ID != "e-done" {
			t.Errorf("first expense = %q, want newest first", all[0].ID)
		}

		open, err := store.ListExpensesByGroup(ctx, "g5", true)
		if err != nil {
			t.Fatalf("ListExpensesByGroup(unsettled) failed: %v", err)
		}
		if len(open) != 1 || open[0].ID != "e-open" {
			t.Errorf("unsettled expenses = %+v, want only e-open", open)
		}
	})

	t.Run("DeleteExpense via mutation", func(t *testing.T) {
		g := testGroup("g6")
		e := &models.Expense{
			ID: "e-gone", GroupID: "g6", Description: "typo", Amount: dec("5.00"),
			PayerID: "alice", SplitPolicy: models.SplitEqual,
			Participants: []models.Share{{UserID: "alice", Amount: dec("5.00"), Type: models.SplitEqual}},
			CreatedBy:    "alice", CreatedAt: 100, UpdatedAt: 100,
		}
		err := store.Commit(ctx, &storage.Mutation{
			Group: g, PutExpense: e,
			Activity: &models.ActivityRecord{GroupID: "g6", Action: models.ActionExpenseCreated, ActorID: "alice", CreatedAt: 100},
		})
		if err != nil {
			t.Fatalf("Commit failed: %v", err)
		}

		err = store.Commit(ctx, &storage.Mutation{
			Group: g, DeleteExpenseID: "e-gone",
			Activity: &models.ActivityRecord{GroupID: "g6", Action: models.ActionExpenseDeleted, ActorID: "alice", CreatedAt: 101},
		})
		if err != nil {
			t.Fatalf("delete Commit failed: %v", err)
		}

		if _, err := store.GetExpense(ctx, "e-gone"); apperr.CodeOf(err) != apperr.CodeExpenseNotFound {
			t.Errorf("error code = %q, want %q", apperr.CodeOf(err), apperr.CodeExpenseNotFound)
		}
	})

	t.Run("activity seq increases and pages newest first", func(t *testing.T) {
		g := testGroup("g7")
		actions := []models.Action{
			models.ActionGroupCreated, models.ActionExpenseCreated,
			models.ActionExpenseUpdated, models.ActionExpenseSettled,
		}
		var lastSeq int64
		for i, action := range actions {
			rec := &models.ActivityRecord{
				GroupID: "g7", Action: action, ActorID: "alice",
				Details:   map[string]any{"step": i},
				CreatedAt: 100, // identical timestamps: order must come from seq
			}
			if err := store.Commit(ctx, &storage.Mutation{Group: g, Activity: rec}); err != nil {
				t.Fatalf("Commit failed: %v", err)
			}
			if rec.Seq <= lastSeq {
				t.Errorf("seq %d not greater than previous %d", rec.Seq, lastSeq)
			}
			lastSeq = rec.Seq
		}

		page, err := store.ListActivity(ctx, "g7", 1, 3)
		if err != nil {
			t.Fatalf("ListActivity failed: %v", err)
		}
		if len(page) != 3 {
			t.Fatalf("page size = %d, want 3", len(page))
		}
		if page[0].Action != models.ActionExpenseSettled {
			t.Errorf("first record = %q, want newest first", page[0].Action)
		}

		rest, err := store.ListActivity(ctx, "g7", 2, 3)
		if err != nil {
			t.Fatalf("ListActivity page 2 failed: %v", err)
		}
		if len(rest) != 1 || rest[0].Action != models.ActionGroupCreated {
			t.Errorf("page 2 = %+v, want the oldest record", rest)
		}
	})

	t.Run("ListGroupsForMember", func(t *testing.T) {
		mine := testGroup("g8")
		commitGroup(t, store, mine, models.ActionGroupCreated)

		deleted := testGroup("g9")
		deleted.Active = false
		deleted.InviteToken = "token-g9"
		commitGroup(t, store, deleted, models.ActionGroupDeleted)

		groups, err := store.ListGroupsForMember(ctx, "bob")
		if err != nil {
			t.Fatalf("ListGroupsForMember failed: %v", err)
		}
		for _, g := range groups {
			if g.ID == "g9" {
				t.Error("soft-deleted group returned in membership list")
			}
		}
		found := false
		for _, g := range groups {
			if g.ID == "g8" {
				found = true
			}
		}
		if !found {
			t.Error("expected g8 in bob's membership list")
		}
	})
}
