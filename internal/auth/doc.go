// Package auth authenticates clients of the instrument API.
//
// Operators are issued API keys, stored in configuration as Argon2id PHC
// hashes. A client exchanges its key for a short-lived HS256 JWT and
// presents that token as a bearer credential. Each key carries one role:
//   - viewer reads instruments, snapshots and metadata
//   - operator additionally sets parameters, calls functions and captures snapshots
//   - admin additionally edits metadata and reads the audit log
package auth
