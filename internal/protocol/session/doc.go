// Package session owns the request/reply transport to a bridge server.
//
// Ownership boundary:
// - endpoint validation and ZeroMQ REQ dialing
// - the single outstanding "next" request and its reuse after a timeout
// - redial backoff after transport failures
// - ZMTP security mechanism selection
package session
