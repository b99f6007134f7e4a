// Package balance derives the per-member balance table of a group from its
// unsettled expenses. The table is a pure function of that entry set:
// recomputing from the same set always yields the same table, regardless of
// the order expenses are supplied in.
package balance

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/splitsync/splitsync/internal/models"
)

// Recompute replays every unsettled expense and returns the resulting table.
//
// For each unsettled expense, every participant whose share was paid by
// someone else owes the payer that share; debts are merged per ordered
// (debtor, creditor) pair. Net balance per member is credits minus debts, so
// the nets across the table always sum to zero.
//
// Recompute never fails. A corrupt entry (payer no longer an active member)
// skips the whole expense; a share referencing a non-member skips only that
// share. Both are logged as data-integrity warnings. This is also what makes
// member removal abandon the removed member's debts rather than redistribute
// them.
func Recompute(group *models.Group, expenses []*models.Expense) models.BalanceTable {
	active := make(map[string]bool)
	for _, m := range group.Members {
		if m.Active {
			active[m.UserID] = true
		}
	}

	// debts[debtor][creditor] = merged amount owed
	debts := make(map[string]map[string]decimal.Decimal)

	for _, e := range expenses {
		if e.Settled {
			continue
		}
		if !active[e.PayerID] {
			slog.Warn("balance: skipping expense with unknown payer",
				"group_id", group.ID, "expense_id", e.ID, "payer_id", e.PayerID)
			continue
		}
		for _, share := range e.Participants {
			if share.UserID == e.PayerID {
				continue
			}
			if !active[share.UserID] {
				slog.Warn("balance: skipping share with unknown participant",
					"group_id", group.ID, "expense_id", e.ID, "user_id", share.UserID)
				continue
			}
			row, ok := debts[share.UserID]
			if !ok {
				row = make(map[string]decimal.Decimal)
				debts[share.UserID] = row
			}
			row[e.PayerID] = row[e.PayerID].Add(share.Amount)
		}
	}

	table := make(models.BalanceTable, len(active))
	for userID := range active {
		table[userID] = &models.MemberBalance{Net: decimal.Zero}
	}
	for debtor, row := range debts {
		for creditor, amount := range row {
			if amount.IsZero() {
				continue
			}
			table[debtor].OwesTo = append(table[debtor].OwesTo, models.Edge{UserID: creditor, Amount: amount})
			table[creditor].OwedBy = append(table[creditor].OwedBy, models.Edge{UserID: debtor, Amount: amount})
		}
	}

	for _, row := range table {
		sortEdges(row.OwesTo)
		sortEdges(row.OwedBy)
		net := decimal.Zero
		for _, e := range row.OwedBy {
			net = net.Add(e.Amount)
		}
		for _, e := range row.OwesTo {
			net = net.Sub(e.Amount)
		}
		row.Net = net
	}

	return table
}

func sortEdges(edges []models.Edge) {
	sort.Slice(edges, func(i, j int) bool { return edges[i].UserID < edges[j].UserID })
}
