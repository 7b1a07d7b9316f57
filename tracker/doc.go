// Package tracker relays locally produced messages to remote tracker server.
//
// Plain text protocol over TCP, no length framing:
// - after connect client writes "REPLY\x00" once, bracketed by fixed delays
// - each payload is written as is, at most one is waiting for acknowledgment
// - server replies "OK" (ack) or "PING" (keepalive probe, answered with "PONG")
//
// Relay is single goroutine state machine advanced by ticks (20 per second by default).
// Link is reconnected when write fails and when nothing was received for 300 seconds.
package tracker
