package capture

// Recording is one continuous raw-audio capture for one participant. The
// file holds interleaved stereo 16-bit little-endian PCM at the configured
// source rate; its byte length must be a multiple of the stereo frame size
// or the recording is unusable for segmentation.
type Recording struct {
	Participant string `json:"participant"`
	Path        string `json:"path"`
	StartMillis int64  `json:"start_millis"` // capture start, milliseconds since epoch
}

// Manifest is an immutable snapshot of a finalized session: every recording
// grouped by participant, plus the frozen display labels. It is produced
// exactly once per session, at stop time, and consumed independently by the
// segmentation and mixdown engines.
type Manifest struct {
	ContextID  string                 `json:"context_id"`
	SessionID  string                 `json:"session_id"`
	Root       string                 `json:"root"`
	Recordings map[string][]Recording `json:"recordings"`
	Labels     map[string]string      `json:"labels"`
}

// RecordingCount returns the total number of recordings across all
// participants.
func (m *Manifest) RecordingCount() int {
	total := 0
	for _, recs := range m.Recordings {
		total += len(recs)
	}
	return total
}

// Label returns the display label for a participant, falling back to the
// raw participant id.
func (m *Manifest) Label(participant string) string {
	if label, ok := m.Labels[participant]; ok && label != "" {
		return label
	}
	return participant
}
