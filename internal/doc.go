// Package internal holds small helpers shared by the engine packages:
// random nonce and numeric code generation, and secret hashing.
package internal
