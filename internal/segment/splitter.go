package segment

import (
	"math"
	"sort"

	"github.com/AndrewMead10/discord-call-transcriber/internal/capture"
)

// speechStart is one entry on the global speech-start timeline.
type speechStart struct {
	participant string
	millis      int64
}

// timeline collects every speech-start event across all participants in
// the manifest, ordered by wall-clock timestamp regardless of arrival
// order. Each recording began at a speech-start, so the recording start
// timestamps are the timeline.
func timeline(m *capture.Manifest) []speechStart {
	events := make([]speechStart, 0, m.RecordingCount())
	for participant, recs := range m.Recordings {
		for _, rec := range recs {
			events = append(events, speechStart{participant: participant, millis: rec.StartMillis})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].millis < events[j].millis })
	return events
}

// splitPoints selects the timestamps at which a recording spanning
// [start, end) for the given participant must be cut: every other
// participant's speech start strictly inside the recording, at least
// minPadding away from both edges and from any previously accepted split.
// Events must be sorted ascending.
func splitPoints(events []speechStart, participant string, start, end, minPadding int64) []int64 {
	var accepted []int64
	for _, ev := range events {
		if ev.participant == participant {
			continue
		}
		e := ev.millis
		if e <= start || e >= end {
			continue
		}
		if e-start < minPadding || end-e < minPadding {
			continue
		}
		if len(accepted) > 0 && e-accepted[len(accepted)-1] < minPadding {
			continue
		}
		accepted = append(accepted, e)
	}
	return accepted
}

// frameIndex converts an elapsed-milliseconds boundary into a sample-frame
// index, clamped to [prev, max] so successive boundaries always yield a
// monotonic, in-range slice.
func frameIndex(elapsedMillis int64, sampleRate int, prev, max int) int {
	idx := int(math.Round(float64(elapsedMillis) / 1000.0 * float64(sampleRate)))
	if idx < prev {
		idx = prev
	}
	if idx > max {
		idx = max
	}
	return idx
}

// durationMillis returns the duration of a frame count at the given rate,
// rounded to the nearest millisecond.
func durationMillis(frames, sampleRate int) int64 {
	return int64(math.Round(float64(frames) * 1000.0 / float64(sampleRate)))
}

// span bounds one raw part: frame range plus its (possibly nudged)
// start timestamp.
type span struct {
	startMillis int64 // part start on the session timeline
	firstFrame  int
	lastFrame   int // exclusive
}

// sliceRecording walks the accepted split points plus the recording end
// and produces the frame ranges of every non-degenerate part. A part
// whose prior boundary is a split point gets its start nudged forward by
// 1ms to keep it distinct from the parent recording's start for
// downstream ordering.
func sliceRecording(start int64, frames int, sampleRate int, splits []int64) []span {
	boundaries := make([]int64, 0, len(splits)+1)
	boundaries = append(boundaries, splits...)
	boundaries = append(boundaries, start+durationMillis(frames, sampleRate))

	var parts []span
	prevTime := start
	prevFrame := 0
	prevIsSplit := false

	for _, boundary := range boundaries {
		idx := frameIndex(boundary-start, sampleRate, prevFrame, frames)

		if idx > prevFrame && boundary > prevTime {
			partStart := prevTime
			if prevIsSplit {
				partStart++
			}
			parts = append(parts, span{
				startMillis: partStart,
				firstFrame:  prevFrame,
				lastFrame:   idx,
			})
		}

		prevTime = boundary
		prevFrame = idx
		prevIsSplit = true // every boundary after the first walk step is a split or the end
	}

	return parts
}
