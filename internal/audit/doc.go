// Package audit emits structured security events (logins, refreshes,
// provider links, account deletions) to a pluggable sink. Dispatch is
// asynchronous so a slow sink never blocks the request path.
package audit
