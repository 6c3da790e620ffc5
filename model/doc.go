// Package model defines the domain entities shared by every store: accounts,
// users, ideas, comments and engagement records, plus the composite keys that
// address them in the primary store.
//
// Entities are immutable once created except for their aggregate fields
// (counts, scores, balances), which are only ever changed through atomic
// increments on the primary store — never read-modify-write in the
// application layer.
package model
