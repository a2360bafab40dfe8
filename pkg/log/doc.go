// Package log provides structured protocol logging for transport sessions.
//
// This package defines the Logger interface and Event types for capturing
// session-level events across every transport kind: handshakes, message
// frames, control traffic, lifecycle transitions, and failures. It is
// separate from operational logging (slog) - protocol capture provides a
// complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation in
// the transport Options:
//
//	// For development: log to console via slog
//	opts.Logger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	opts.Logger, _ = log.NewFileLogger("/var/log/uniwire/session.uwlog")
//
//	// Both: use MultiLogger
//	opts.Logger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Every event names its session, transport kind, direction, and category.
// Categories carry a typed payload:
//   - Handshake: connect/accept completion (HandshakeEvent)
//   - Frame: one application message (FrameEvent, size only by default)
//   - Control: ping/pong/close traffic (ControlEvent)
//   - State: lifecycle transitions (StateChangeEvent)
//   - Error: failures with their taxonomy kind (ErrorEventData)
//
// # File Format
//
// Log files use CBOR encoding with integer keys and the .uwlog extension.
// Reader streams events back with optional filtering.
package log
