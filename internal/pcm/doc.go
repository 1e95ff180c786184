// Package pcm converts raw interleaved stereo 16-bit PCM into the mono
// target format used for transcription, and encodes/decodes the minimal
// uncompressed WAV container.
package pcm
