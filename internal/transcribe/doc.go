// Package transcribe is the HTTP client for the external transcription
// collaborator. It uploads WAV segments either one multipart file at a
// time or as a single batch request, with fallback from batch to
// individual upload when the batch endpoint does not handle the work.
package transcribe
