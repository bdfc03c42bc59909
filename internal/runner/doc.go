// Package runner drives one streamed completion for a prepared window.
//
// Protocol:
//
//	view -> backend.StreamCompletion -> fragment, fragment, ... -> end | error
//
// Each fragment is handed to the caller as it arrives and appended to the
// accumulated reply. The stream is always closed, on success, failure and
// cancellation alike. On failure the text received so far is still returned
// alongside the *provider.BackendError so the caller can keep the partial
// reply.
package runner
