// Package session owns peer session transport settings.
//
// Ownership boundary:
// - protocol timing and size limits
// - transport security validation and tls configs
// - dial retry/backoff and the pending invocation outbox
package session
