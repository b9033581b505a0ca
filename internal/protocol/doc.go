// Package protocol owns the transmission envelope and its validation.
//
// Ownership boundary:
// - transmission kinds and their typed bodies
// - json encode/decode of envelopes
// - protocol violations and their replies
//
// Segmentation lives in protocol/frame; timing and security settings
// live in protocol/session.
package protocol
