// Package password hashes and verifies user passwords with argon2id.
// Hashes are stored in PHC string format so parameters can be upgraded
// without invalidating existing credentials.
package password
