// Package middleware provides net/http middleware over the engine:
// bearer-token authentication, role gating and CSRF enforcement for
// state-changing routes.
package middleware
