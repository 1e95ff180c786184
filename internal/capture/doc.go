// Package capture owns per-call recording sessions: it reacts to speech
// activity events by opening raw-PCM capture streams per participant,
// persists them under the session directory, and produces an immutable
// manifest of everything recorded when the session is finalized.
package capture
