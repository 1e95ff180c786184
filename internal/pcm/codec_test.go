package pcm

import (
	"encoding/binary"
	"errors"
	"testing"
)

// stereoFrames builds an interleaved stereo buffer from (left, right) pairs.
func stereoFrames(pairs ...[2]int16) []byte {
	buf := make([]byte, len(pairs)*StereoFrameSize)
	for i, p := range pairs {
		binary.LittleEndian.PutUint16(buf[i*StereoFrameSize:], uint16(p[0]))
		binary.LittleEndian.PutUint16(buf[i*StereoFrameSize+BytesPerSample:], uint16(p[1]))
	}
	return buf
}

func TestDownmixAndResample(t *testing.T) {
	// Three windows of 3 frames each at a 3:1 decimation.
	// Window averages: (100+200)/2=150, (300+500)/2=400, (0+0)/2=0 -> mean 183
	input := stereoFrames(
		[2]int16{100, 200},
		[2]int16{300, 500},
		[2]int16{0, 0},
		[2]int16{-100, -100},
		[2]int16{-200, -200},
		[2]int16{-300, -300},
		[2]int16{1000, 1000},
		[2]int16{1000, 1000},
		[2]int16{1000, 1000},
	)

	out, err := DownmixAndResample(input, 48000, 16000)
	if err != nil {
		t.Fatalf("DownmixAndResample failed: %v", err)
	}

	expected := []int16{183, -200, 1000}
	if len(out) != len(expected) {
		t.Fatalf("Expected %d output samples, got %d", len(expected), len(out))
	}
	for i, want := range expected {
		if out[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, out[i])
		}
	}
}

func TestDownmixAndResampleZeroBuffer(t *testing.T) {
	// A buffer of zeros must stay zero through downmix and decimation.
	input := make([]byte, 48*StereoFrameSize)

	out, err := DownmixAndResample(input, 48000, 16000)
	if err != nil {
		t.Fatalf("DownmixAndResample failed: %v", err)
	}

	if len(out) != 16 {
		t.Fatalf("Expected 16 output samples, got %d", len(out))
	}
	for i, s := range out {
		if s != 0 {
			t.Errorf("Sample %d: expected 0, got %d", i, s)
		}
	}
}

func TestDownmixAndResamplePartialWindow(t *testing.T) {
	// 4 frames at 3:1 decimation: the trailing window has one sample and
	// must be averaged over that single sample, not the full factor.
	input := stereoFrames(
		[2]int16{300, 300},
		[2]int16{300, 300},
		[2]int16{300, 300},
		[2]int16{900, 900},
	)

	out, err := DownmixAndResample(input, 48000, 16000)
	if err != nil {
		t.Fatalf("DownmixAndResample failed: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("Expected 2 output samples, got %d", len(out))
	}
	if out[0] != 300 {
		t.Errorf("Full window: expected 300, got %d", out[0])
	}
	if out[1] != 900 {
		t.Errorf("Partial window: expected 900, got %d", out[1])
	}
}

func TestDownmixAndResampleRoundsHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		name     string
		left     int16
		right    int16
		expected int16
	}{
		{"positive half rounds up", 1, 2, 2},      // 1.5 -> 2
		{"negative half rounds down", -1, -2, -2}, // -1.5 -> -2
		{"exact mean unchanged", 10, 20, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := DownmixAndResample(stereoFrames([2]int16{tt.left, tt.right}), 48000, 48000)
			if err != nil {
				t.Fatalf("DownmixAndResample failed: %v", err)
			}
			if len(out) != 1 {
				t.Fatalf("Expected 1 sample, got %d", len(out))
			}
			if out[0] != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, out[0])
			}
		})
	}
}

func TestDownmixAndResampleErrors(t *testing.T) {
	valid := stereoFrames([2]int16{1, 1})

	tests := []struct {
		name       string
		input      []byte
		sourceRate int
		targetRate int
		wantErr    error
	}{
		{"empty input", nil, 48000, 16000, ErrEmptyAudio},
		{"misaligned input", valid[:3], 48000, 16000, ErrMisalignedAudio},
		{"non-integer ratio", valid, 44100, 16000, ErrUnsupportedRate},
		{"upsampling", valid, 16000, 48000, ErrUnsupportedRate},
		{"zero target rate", valid, 48000, 0, ErrUnsupportedRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DownmixAndResample(tt.input, tt.sourceRate, tt.targetRate)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSamplesFromBytes(t *testing.T) {
	data := make([]byte, 6)
	negOne := int16(-1)
	binary.LittleEndian.PutUint16(data[0:], uint16(negOne))
	binary.LittleEndian.PutUint16(data[2:], 0)
	binary.LittleEndian.PutUint16(data[4:], 32767)

	samples, err := SamplesFromBytes(data)
	if err != nil {
		t.Fatalf("SamplesFromBytes failed: %v", err)
	}

	expected := []int16{-1, 0, 32767}
	for i, want := range expected {
		if samples[i] != want {
			t.Errorf("Sample %d: expected %d, got %d", i, want, samples[i])
		}
	}

	if _, err := SamplesFromBytes(data[:5]); !errors.Is(err, ErrMisalignedAudio) {
		t.Errorf("Expected ErrMisalignedAudio for odd length, got %v", err)
	}
}
