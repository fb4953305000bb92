// Package protocol owns the bridge wire contract and its error vocabulary.
//
// Ownership boundary:
// - multipart frame pairing (frame)
// - self-describing value decoding (value)
// - array dtype and zero-copy views (ndarray)
// - header parsing (header)
// - request/reply transport session (session)
package protocol
