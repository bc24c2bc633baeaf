// Package sqlite implements the engine's durable stores (users,
// identity links, device sessions, the refresh token ledger) on a single
// SQLite database. The schema is managed with embedded goose migrations;
// multi-row mutations such as guest conversion and account deletion run
// as single transactions.
package sqlite
