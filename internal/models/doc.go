// Package models defines the core domain models for the group ledger.
//
// # Models
//
//   - Group: a set of members sharing expenses, with settings, lifetime
//     counters and a derived balance table
//   - Member: one user's membership in a group (role, active flag)
//   - Expense: a shared expense with per-participant shares and optional
//     settlement sub-records
//   - ActivityRecord: one append-only audit entry per mutation
//   - BalanceTable: the derived per-member net balances and pairwise edges
//
// # Design Principles
//
//  1. Amounts are decimal.Decimal everywhere; float64 never touches money.
//  2. The balance table is a pure function of the unsettled expense set. It is
//     cached on the group document but never hand-edited.
//  3. Relationships use ID strings, not pointers, to avoid circular references.
package models
