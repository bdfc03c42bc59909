// Package memory holds the conversation state of one session.
//
// Model:
//   - One system preamble, fixed per Memory; a role switch builds a new Memory.
//   - History is append-only; Clear is the only way to remove messages.
//   - WindowedView never cuts a message, it drops whole messages oldest first.
//
// TranscriptRecord is the persisted artifact written on save.
package memory
