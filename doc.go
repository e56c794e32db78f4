// Package tftp implements the core of a TFTP (RFC 1350) engine with option
// negotiation (RFC 2347-2349): the wire-format codec, per-transfer state
// machine, session dispatcher, and the timeout/retry/duplicate-handling
// logic that gives TFTP its reliability on top of UDP.
//
// This package holds the constants and error taxonomy shared by every other
// package in the module. The codec lives in packet, option negotiation in
// options, per-transfer state in session, the state machine in state, the
// client driver in client, and the server dispatcher in server.
package tftp
