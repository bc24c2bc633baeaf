// Package goAccounts is an embeddable account and session lifecycle engine
// for the task-board backend.
//
// The engine authenticates users by password, external identity providers,
// and guest sessions; issues short-lived access and CSRF tokens together
// with ledger-backed refresh tokens; tracks one session per (user, device)
// pair; and gates sensitive account changes behind single-use emailed
// confirmation codes.
//
// Durable state (users, identity links, device sessions, the refresh token
// ledger) lives behind store interfaces implemented by the sqlite
// subpackage. Short-lived state (confirmation codes, staged two-factor
// login challenges, pending provider links) lives in Redis behind
// internal/transient. The engine itself is transport-agnostic: HTTP
// handlers call it and translate sentinel errors with ErrorStatus.
package goAccounts
