package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Sentinel errors for codec failures. Callers treat these as
// per-recording failures, never as fatal to a whole batch.
var (
	// ErrEmptyAudio indicates an empty input buffer.
	ErrEmptyAudio = errors.New("empty audio buffer")

	// ErrMisalignedAudio indicates an input whose byte length is not a
	// multiple of the frame size (channels * bytes per sample).
	ErrMisalignedAudio = errors.New("audio buffer not frame-aligned")

	// ErrUnsupportedRate indicates a source/target rate pair whose ratio
	// is not a positive integer. Only decimation by an integer factor is
	// supported.
	ErrUnsupportedRate = errors.New("unsupported sample rate conversion")
)

const (
	// BytesPerSample is fixed: all audio in the pipeline is 16-bit PCM.
	BytesPerSample = 2

	// StereoFrameSize is the byte size of one interleaved stereo frame.
	StereoFrameSize = 2 * BytesPerSample
)

// DownmixAndResample converts raw interleaved stereo 16-bit little-endian
// PCM at sourceRate into mono samples at targetRate.
//
// The downmix averages the left and right sample of each frame; the
// resampler decimates by the integer factor sourceRate/targetRate, each
// output sample being the arithmetic mean of the factor input samples it
// covers. All divisions round half away from zero. A trailing window with
// fewer than factor samples is averaged over the samples present.
func DownmixAndResample(stereo []byte, sourceRate, targetRate int) ([]int16, error) {
	if len(stereo) == 0 {
		return nil, ErrEmptyAudio
	}
	if len(stereo)%StereoFrameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMisalignedAudio, len(stereo), StereoFrameSize)
	}
	if sourceRate <= 0 || targetRate <= 0 || sourceRate%targetRate != 0 {
		return nil, fmt.Errorf("%w: %d Hz -> %d Hz requires an integer decimation factor", ErrUnsupportedRate, sourceRate, targetRate)
	}

	factor := sourceRate / targetRate
	frames := len(stereo) / StereoFrameSize

	// Downmix stereo frames to mono.
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		left := int32(int16(binary.LittleEndian.Uint16(stereo[i*StereoFrameSize:])))
		right := int32(int16(binary.LittleEndian.Uint16(stereo[i*StereoFrameSize+BytesPerSample:])))
		mono[i] = int16(divRound(left+right, 2))
	}

	if factor == 1 {
		return mono, nil
	}

	// Decimate by averaging each window of factor samples.
	out := make([]int16, 0, (frames+factor-1)/factor)
	for i := 0; i < frames; i += factor {
		end := i + factor
		if end > frames {
			end = frames
		}
		var sum int64
		for _, s := range mono[i:end] {
			sum += int64(s)
		}
		out = append(out, clampInt16(divRound64(sum, int64(end-i))))
	}

	return out, nil
}

// divRound divides n by d rounding half away from zero.
func divRound(n, d int32) int32 {
	if n >= 0 {
		return (n + d/2) / d
	}
	return (n - d/2) / d
}

// divRound64 divides n by d rounding half away from zero.
func divRound64(n, d int64) int64 {
	if n >= 0 {
		return (n + d/2) / d
	}
	return (n - d/2) / d
}

// clampInt16 clamps v to the signed 16-bit sample range.
func clampInt16(v int64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// SamplesFromBytes reinterprets little-endian 16-bit PCM bytes as samples.
func SamplesFromBytes(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMisalignedAudio, len(data), BytesPerSample)
	}
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples, nil
}
