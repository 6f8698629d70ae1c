// Package storage adapts the hosted data store collaborator.
//
// The engine only needs per-entity fetch/insert/update/delete plus one
// server-side bulk conditional update used by reconciliation. Drivers:
//   - "memory": process-local maps (tests, demos)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "badger": embedded BadgerDB key-value store
package storage
