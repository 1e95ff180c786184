// Package segment turns a finalized session manifest into time-aligned,
// single-speaker transcribable parts. A participant's continuous recording
// is split wherever another participant started speaking inside it, each
// part is resampled to the transcription format and persisted, and all
// parts are uploaded in one batch with fallback to individual upload.
package segment
