package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/splitsync/splitsync/internal/apperr"
	"github.com/splitsync/splitsync/internal/broadcast"
	"github.com/splitsync/splitsync/internal/calculator"
	"github.com/splitsync/splitsync/internal/models"
)

func TestCreateGroupDefaults(t *testing.T) {
	gs, _, _ := newTestStack(t)

	group, err := gs.CreateGroup(as("alice"), "trip", "weekend trip", models.Settings{})
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if group.Settings.CurrencyCode != "USD" {
		t.Errorf("currency = %q, want USD", group.Settings.CurrencyCode)
	}
	if group.Settings.DefaultSplitPolicy != models.SplitEqual {
		t.Errorf("split policy = %q, want equal", group.Settings.DefaultSplitPolicy)
	}
	if group.CreatorID != "alice" {
		t.Errorf("creator = %q, want alice", group.CreatorID)
	}
	if !group.IsAdmin("alice") {
		t.Error("creator should be an active admin member")
	}
	if group.InviteToken == "" {
		t.Error("invite token should be minted at creation")
	}
	if row, ok := group.Balances["alice"]; !ok || !row.Net.IsZero() {
		t.Errorf("creator should start with a zero balance row, got %+v", group.Balances)
	}

	records, err := gs.GetActivity(as("alice"), group.ID, 1, 10)
	if err != nil {
		t.Fatalf("GetActivity failed: %v", err)
	}
	if len(records) != 1 || records[0].Action != models.ActionGroupCreated {
		t.Errorf("expected a single GROUP_CREATED record, got %+v", records)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	gs, _, _ := newTestStack(t)

	tests := []struct {
		name     string
		ctx      context.Context
		group    string
		settings models.Settings
		code     string
	}{
		{
			name:  "missing caller",
			ctx:   context.Background(),
			group: "trip",
			code:  apperr.CodeAuthRequired,
		},
		{
			name:  "empty name",
			ctx:   as("alice"),
			group: "",
			code:  apperr.CodeInvalidArgument,
		},
		{
			name:     "unknown currency",
			ctx:      as("alice"),
			group:    "trip",
			settings: models.Settings{CurrencyCode: "ZZZ"},
			code:     apperr.CodeInvalidCurrency,
		},
		{
			name:     "unknown split policy",
			ctx:      as("alice"),
			group:    "trip",
			settings: models.Settings{DefaultSplitPolicy: "random"},
			code:     apperr.CodeInvalidSplitPolicy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gs.CreateGroup(tt.ctx, tt.group, "", tt.settings)
			wantCode(t, err, tt.code)
		})
	}
}

func TestUpdateMetadata(t *testing.T) {
	gs, _, _ := newTestStack(t)
	group := newDinnerGroup(t, gs)

	updated, err := gs.UpdateMetadata(as("alice"), group.ID, "dinner crew", "renamed")
	if err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}
	if updated.Name != "dinner crew" || updated.Description != "renamed" {
		t.Errorf("metadata not applied: %+v", updated)
	}

	_, err = gs.UpdateMetadata(as("bob"), group.ID, "bob's group", "")
	wantCode(t, err, apperr.CodeAdminRequired)
}

func TestUpdateSettings(t *testing.T) {
	gs, _, _ := newTestStack(t)
	group := newDinnerGroup(t, gs)

	updated, err := gs.UpdateSettings(as("alice"), group.ID, models.Settings{
		CurrencyCode:       "JPY",
		DefaultSplitPolicy: models.SplitExact,
		AllowMemberInvite:  true,
	})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if updated.Settings.CurrencyCode != "JPY" || updated.Settings.DefaultSplitPolicy != models.SplitExact {
		t.Errorf("settings not applied: %+v", updated.Settings)
	}

	_, err = gs.UpdateSettings(as("bob"), group.ID, models.Settings{
		CurrencyCode: "USD", DefaultSplitPolicy: models.SplitEqual,
	})
	wantCode(t, err, apperr.CodeAdminRequired)

	_, err = gs.UpdateSettings(as("alice"), group.ID, models.Settings{
		CurrencyCode: "ZZZ", DefaultSplitPolicy: models.SplitEqual,
	})
	wantCode(t, err, apperr.CodeInvalidCurrency)
}

func TestAddMember(t *testing.T) {
	gs, _, _ := newTestStack(t)
	group := newDinnerGroup(t, gs)

	t.Run("duplicate add fails", func(t *testing.T) {
		_, err := gs.AddMember(as("alice"), group.ID, "bob", models.RoleMember)
		wantCode(t, err, apperr.CodeAlreadyMember)
	})

	t.Run("member cannot add unless invites allowed", func(t *testing.T) {
		_, err := gs.AddMember(as("bob"), group.ID, "dave", models.RoleMember)
		wantCode(t, err, apperr.CodeAdminRequired)

		if _, err := gs.UpdateSettings(as("alice"), group.ID, models.Settings{
			CurrencyCode: "USD", DefaultSplitPolicy: models.SplitEqual, AllowMemberInvite: true,
		}); err != nil {
			t.Fatalf("UpdateSettings failed: %v", err)
		}
		updated, err := gs.AddMember(as("bob"), group.ID, "dave", models.RoleMember)
		if err != nil {
			t.Fatalf("AddMember by member failed: %v", err)
		}
		if !updated.IsActiveMember("dave") {
			t.Error("dave should be an active member")
		}
	})

	t.Run("new member gets a zero balance row", func(t *testing.T) {
		table, err := gs.GetBalances(as("dave"), group.ID)
		if err != nil {
			t.Fatalf("GetBalances failed: %v", err)
		}
		assertNet(t, table, "dave", "0")
	})
}

func TestJoinByInvite(t *testing.T) {
	gs, _, _ := newTestStack(t)
	group := newDinnerGroup(t, gs)

	joined, err := gs.JoinByInvite(as("dave"), group.InviteToken)
	if err != nil {
		t.Fatalf("JoinByInvite failed: %v", err)
	}
	if !joined.IsActiveMember("dave") {
		t.Error("dave should be an active member after joining")
	}

	_, err = gs.JoinByInvite(as("dave"), group.InviteToken)
	wantCode(t, err, apperr.CodeAlreadyMember)

	_, err = gs.JoinByInvite(as("erin"), "no-such-token")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("expected not-found for bad token, got %v", err)
	}
}

func TestRemoveMember(t *testing.T) {
	gs, es, _ := newTestStack(t)
	group := newDinnerGroup(t, gs)

	// Alice fronts 90 for all three before anyone leaves.
	if _, err := es.CreateExpense(as("alice"), ExpenseInput{
		GroupID:     group.ID,
		Description: "dinner",
		Amount:      decimal.NewFromInt(90),
		PayerID:     "alice",
		Participants: []calculator.ShareInput{
			{UserID: "alice"}, {UserID: "bob"}, {UserID: "charlie"},
		},
	}); err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}

	t.Run("member may only remove themselves", func(t *testing.T) {
		_, err := gs.RemoveMember(as("bob"), group.ID, "charlie")
		wantCode(t, err, apperr.CodeAdminRequired)
	})

	t.Run("removal purges the member's balance row and edges", func(t *testing.T) {
		updated, err := gs.RemoveMember(as("bob"), group.ID, "bob")
		if err != nil {
			t.Fatalf("RemoveMember failed: %v", err)
		}
		if updated.IsActiveMember("bob") {
			t.Error("bob should be inactive after removal")
		}
		if _, ok := updated.Balances["bob"]; ok {
			t.Error("bob's balance row should be purged")
		}
		assertNet(t, updated.Balances, "alice", "30")
		assertNet(t, updated.Balances, "charlie", "-30")
		assertZeroSum(t, updated.Balances)
		for _, edge := range updated.Balances["alice"].OwedBy {
			if edge.UserID == "bob" {
				t.Error("edges referencing a removed member should disappear")
			}
		}
	})

	t.Run("removing an inactive member fails", func(t *testing.T) {
		_, err := gs.RemoveMember(as("alice"), group.ID, "bob")
		wantCode(t, err, apperr.CodeMemberNotFound)
	})

	t.Run("removed member loses access", func(t *testing.T) {
		_, err := gs.GetGroup(as("bob"), group.ID)
		wantCode(t, err, apperr.CodeNotMember)
	})
}

func TestDeleteGroup(t *testing.T) {
	gs, es, _ := newTestStack(t)
	group := newDinnerGroup(t, gs)

	expense, err := es.CreateExpense(as("alice"), ExpenseInput{
		GroupID: group.ID, Description: "dinner",
		Amount: decimal.NewFromInt(90), PayerID: "alice",
		Participants: []calculator.ShareInput{
			{UserID: "alice"}, {UserID: "bob"}, {UserID: "charlie"},
		},
	})
	if err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}

	t.Run("only the creator may delete", func(t *testing.T) {
		wantCode(t, gs.DeleteGroup(as("bob"), group.ID), apperr.CodeCreatorRequired)
	})

	t.Run("unsettled expenses block deletion", func(t *testing.T) {
		wantCode(t, gs.DeleteGroup(as("alice"), group.ID), apperr.CodeUnsettledExpensesExist)
	})

	t.Run("deletion succeeds once everything is settled", func(t *testing.T) {
		if _, err := es.SettleExpense(as("alice"), expense.ID, nil); err != nil {
			t.Fatalf("SettleExpense failed: %v", err)
		}
		if err := gs.DeleteGroup(as("alice"), group.ID); err != nil {
			t.Fatalf("DeleteGroup failed: %v", err)
		}
	})

	t.Run("deleted group rejects reads and mutations", func(t *testing.T) {
		_, err := gs.GetGroup(as("alice"), group.ID)
		wantCode(t, err, apperr.CodeGroupInactive)

		_, err = es.CreateExpense(as("alice"), ExpenseInput{
			GroupID: group.ID, Amount: decimal.NewFromInt(10), PayerID: "alice",
			Participants: []calculator.ShareInput{{UserID: "alice"}},
		})
		wantCode(t, err, apperr.CodeGroupInactive)
	})

	t.Run("activity log stays readable after deletion", func(t *testing.T) {
		records, err := gs.GetActivity(as("alice"), group.ID, 1, 10)
		if err != nil {
			t.Fatalf("GetActivity on a deleted group failed: %v", err)
		}
		if len(records) == 0 || records[0].Action != models.ActionGroupDeleted {
			t.Errorf("newest record = %+v, want GROUP_DELETED", records)
		}

		_, err = gs.GetActivity(as("dave"), group.ID, 1, 10)
		wantCode(t, err, apperr.CodeNotMember)
	})

	t.Run("deleted group disappears from listings", func(t *testing.T) {
		groups, err := gs.ListGroups(as("alice"))
		if err != nil {
			t.Fatalf("ListGroups failed: %v", err)
		}
		for _, g := range groups {
			if g.ID == group.ID {
				t.Error("deleted group should not be listed")
			}
		}
	})
}

func TestGroupMutationsBroadcast(t *testing.T) {
	gs, _, hub := newTestStack(t)
	group := newDinnerGroup(t, gs)

	events, unsubscribe := hub.Subscribe(group.ID, "session-1")
	defer unsubscribe()

	if _, err := gs.UpdateMetadata(as("alice"), group.ID, "renamed", ""); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}
	if _, err := gs.RemoveMember(as("charlie"), group.ID, "charlie"); err != nil {
		t.Fatalf("RemoveMember failed: %v", err)
	}

	want := []string{broadcast.EventGroupUpdated, broadcast.EventMemberRemoved}
	for _, wantType := range want {
		ev := <-events
		if ev.Type != wantType {
			t.Fatalf("event = %q, want %q", ev.Type, wantType)
		}
		if ev.GroupID != group.ID {
			t.Fatalf("event group = %q, want %q", ev.GroupID, group.ID)
		}
	}
}
