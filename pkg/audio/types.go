package audio

import "time"

// AudioFrame is a single chunk of 16-bit little-endian PCM delivered by a
// [CaptureStream] or produced by a TTS provider.
type AudioFrame struct {
	// PCM audio data. Sample rate and channel count are given by the fields below.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for microphone capture).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Sample is a single energy observation taken from the live input. It is
// produced and consumed within one scheduler tick and never stored.
type Sample struct {
	// Level is the energy metric, always ≥ 0. See [Analyser] for its scale.
	Level float64

	// ObservedAt is the wall-clock time the sample was taken.
	ObservedAt time.Time
}

// CapturedAudio is the finished recording handed from the recording session
// to the submission pipeline. Ownership transfers with the value; the
// producer must not touch Data afterwards.
type CapturedAudio struct {
	// Data is the encoded payload (see MediaType).
	Data []byte

	// MediaType is the MIME type of Data, e.g. "audio/wav".
	MediaType string

	// Filename is the file name used when the payload is uploaded as a
	// multipart form file.
	Filename string

	// Duration is the length of the captured audio.
	Duration time.Duration
}

// Empty reports whether the recording holds no audio bytes.
func (c CapturedAudio) Empty() bool { return len(c.Data) == 0 }
