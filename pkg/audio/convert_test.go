package audio_test

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/MrWong99/murmur/pkg/audio"
)

func pcm16(samples ...int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func samples16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

var (
	mono16k   = audio.Format{SampleRate: 16000, Channels: 1}
	mono8k    = audio.Format{SampleRate: 8000, Channels: 1}
	stereo16k = audio.Format{SampleRate: 16000, Channels: 2}
	stereo32k = audio.Format{SampleRate: 32000, Channels: 2}
)

func TestConvertPCM(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		in       []byte
		from, to audio.Format
		want     []int16
	}{
		{"same format", pcm16(1, 2, 3), mono16k, mono16k, []int16{1, 2, 3}},
		{"mono to stereo", pcm16(100, -200), mono16k, stereo16k, []int16{100, 100, -200, -200}},
		{"stereo to mono averages", pcm16(100, 300, -32768, -32768), stereo16k, mono16k, []int16{200, -32768}},
		{"upsample interpolates", pcm16(0, 1000), mono8k, mono16k, []int16{0, 500, 1000, 1000}},
		{"downsample", pcm16(0, 10, 20, 30), mono16k, mono8k, []int16{0, 20}},
		{"downsample and downmix", pcm16(0, 0, 100, 300, 400, 400, 600, 600), stereo32k, mono16k, []int16{0, 400}},
		{"trailing byte dropped", append(pcm16(7, 8), 0x01), mono16k, mono16k, []int16{7, 8}},
		{"partial stereo frame dropped", pcm16(1, 1, 2), stereo16k, mono16k, []int16{1}},
		{"empty", nil, mono8k, stereo16k, []int16{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := samples16(audio.ConvertPCM(tt.in, tt.from, tt.to))
			if !slices.Equal(got, tt.want) {
				t.Errorf("ConvertPCM() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConvertPCM_InvalidFormatPassesThrough(t *testing.T) {
	t.Parallel()
	in := pcm16(1, 2, 3)
	got := audio.ConvertPCM(in, audio.Format{}, mono16k)
	if !slices.Equal(got, in) {
		t.Errorf("ConvertPCM() with zero format = %v, want input unchanged", got)
	}
}

func TestConvertPCM_DurationPreserved(t *testing.T) {
	t.Parallel()
	in := make([]byte, stereo32k.BytesPerSecond()/10)
	out := audio.ConvertPCM(in, stereo32k, mono16k)
	if len(out) != mono16k.BytesPerSecond()/10 {
		t.Errorf("100ms converted to %d bytes, want %d", len(out), mono16k.BytesPerSecond()/10)
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		f    audio.Format
		want string
	}{
		{mono16k, "16000Hz mono"},
		{stereo32k, "32000Hz stereo"},
		{audio.Format{SampleRate: 48000, Channels: 6}, "48000Hz 6ch"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestFormat_BytesPerSecond(t *testing.T) {
	t.Parallel()
	if got := stereo16k.BytesPerSecond(); got != 64000 {
		t.Errorf("BytesPerSecond() = %d, want 64000", got)
	}
}
