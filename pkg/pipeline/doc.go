// Package pipeline binds the transport reader to the stream consumers.
//
// Spool archives each raw session and feeds the decoded bytes to a framing
// engine that writes job-log records. Watch splits the console stream into
// lines and reports job lifecycle events. Both implement transport.Handler.
package pipeline
