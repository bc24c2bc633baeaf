// Package rate enforces attempt budgets with fixed-window Redis
// counters: failed password logins per (email, ip) and confirmation-code
// submissions per subject. Counters live in the shared Redis instance so
// the policy holds across engine replicas.
package rate
