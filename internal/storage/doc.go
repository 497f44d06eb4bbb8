// Package storage persists the invitation ledger and reads the candidate
// pool written by the discovery process.
//
// Two drivers are supported:
//   - "sqlite": a local database file (modernc.org/sqlite, no cgo)
//   - "postgres": a server reachable through a DSN (pgx)
//
// Schema changes are applied with golang-migrate from embedded migrations.
package storage
