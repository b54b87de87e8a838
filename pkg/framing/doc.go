// Package framing extracts job-log records from a raw spool byte stream.
//
// The Engine is a three-state machine (Idle, Open, Identified) driven by
// a Dialect that locates the start, id and end markers. Records are
// written to a store.Sink as soon as their key is known and body bytes
// stream through without being held in memory.
package framing
