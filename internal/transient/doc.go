// Package transient is the TTL-backed side channel between the two legs
// of a confirmation-gated flow. It holds single-use numeric codes
// (hashed at rest) and binary staging payloads, both keyed by
// (purpose, subject) so one flow's state can never satisfy another's.
package transient
