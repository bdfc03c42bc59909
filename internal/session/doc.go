// Package session runs one interactive chat session.
//
// States:
//
//	Idle --Start--> Active --chat line--> Streaming --reply done--> Active
//	Active --/exit, /quit, interrupt, end of input--> Terminating
//
// Commands (/help, /roles, /clear, /save, /role <id>) run synchronously in
// Active and never contact the backend. While Streaming the controller is
// blocked in Stream.Next and reads no input. Leaving for Terminating always
// flushes the transcript to the sink, best effort.
package session
