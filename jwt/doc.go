// Package jwt mints and verifies the engine's signed tokens: short-lived
// access and CSRF tokens, ledger-backed refresh tokens and long-lived
// guest identity tokens. All tokens are HMAC-SHA256 signed and carry a
// "use" claim so one token kind can never be presented as another.
//
// Verification here is signature and expiry only; refresh token validity
// additionally requires a live ledger row, which is the caller's job.
package jwt
