package audio

import (
	"encoding/binary"
	"fmt"
)

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	switch {
	case f.Channels == 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case f.Channels == 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// BytesPerSecond is the PCM byte rate of f at 16 bits per sample.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// ConvertPCM converts interleaved 16-bit little-endian PCM between formats.
// Rates are converted by linear interpolation. Channels are remixed through
// mono: a mono target averages every input channel, any other target gets the
// mono mix copied to each channel. A trailing partial frame is dropped.
//
// Invalid formats return pcm unchanged.
func ConvertPCM(pcm []byte, from, to Format) []byte {
	if from.SampleRate <= 0 || from.Channels <= 0 || to.SampleRate <= 0 || to.Channels <= 0 {
		return pcm
	}
	frameBytes := from.Channels * 2
	pcm = pcm[:len(pcm)-len(pcm)%frameBytes]
	if from == to || len(pcm) == 0 {
		return pcm
	}

	samples := decodePCM(pcm)
	if from.SampleRate != to.SampleRate {
		samples = resample(samples, from.Channels, from.SampleRate, to.SampleRate)
	}
	if from.Channels != to.Channels {
		samples = remix(samples, from.Channels, to.Channels)
	}
	return encodePCM(samples)
}

func decodePCM(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func encodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// resample changes the rate of interleaved samples with ch channels.
func resample(samples []int16, ch, srcRate, dstRate int) []int16 {
	srcFrames := len(samples) / ch
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*ch)
	step := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for c := range ch {
			a := float64(samples[idx*ch+c])
			b := float64(samples[next*ch+c])
			out[i*ch+c] = int16(a + (b-a)*frac)
		}
	}
	return out
}

// remix maps frames of from channels onto frames of to channels.
func remix(samples []int16, from, to int) []int16 {
	frames := len(samples) / from
	out := make([]int16, frames*to)
	for i := range frames {
		var sum int32
		for c := range from {
			sum += int32(samples[i*from+c])
		}
		mono := int16(sum / int32(from))
		for c := range to {
			out[i*to+c] = mono
		}
	}
	return out
}
