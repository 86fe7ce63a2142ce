// Package coqui provides a TTS provider backed by a Coqui TTS server.
//
// Two server flavours are supported:
//
//   - [APIModeStandard]: the stock "tts-server" (GET /api/tts).
//   - [APIModeXTTS]: the XTTS API server (POST /tts_to_audio/).
//
// Both return WAV. The provider splits incoming text into sentences,
// synthesises them one after another and emits PCM converted to the
// configured output format, so playback starts after the first sentence.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultTimeout = 30 * time.Second

	apiTTSEndpoint         = "/api/tts"
	detailsEndpoint        = "/details"
	xttsEndpoint           = "/tts_to_audio/"
	studioSpeakersEndpoint = "/studio_speakers"

	pcmChunkSize = 4096
)

// APIMode selects the server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option is a functional option for [New].
type Option func(*Provider)

// WithAPIMode selects the server flavour. Default [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithOutputFormat sets the PCM format emitted by SynthesizeStream.
// Default 16 kHz mono.
func WithOutputFormat(f audio.Format) Option {
	return func(p *Provider) {
		p.output = f
	}
}

// Provider implements tts.Provider for Coqui servers.
type Provider struct {
	serverURL  string
	apiMode    APIMode
	output     audio.Format
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		apiMode:    APIModeStandard,
		output:     audio.Format{SampleRate: 16000, Channels: 1},
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.output.SampleRate <= 0 || p.output.Channels <= 0 {
		return nil, fmt.Errorf("coqui: invalid output format %s", p.output)
	}
	return p, nil
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice.ID must not be empty in xtts mode")
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		var buf strings.Builder
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					if rest := strings.TrimSpace(buf.String()); rest != "" {
						p.emit(ctx, rest, voice, out)
					}
					return
				}
				buf.WriteString(fragment)
				for {
					s := buf.String()
					idx := sentenceEnd(s)
					if idx < 0 {
						break
					}
					buf.Reset()
					buf.WriteString(s[idx+1:])
					if sentence := strings.TrimSpace(s[:idx+1]); sentence != "" {
						if !p.emit(ctx, sentence, voice, out) {
							return
						}
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// emit synthesises one sentence and sends its PCM in chunks. It reports
// whether the stream should continue.
func (p *Provider) emit(ctx context.Context, sentence string, voice tts.VoiceProfile, out chan<- []byte) bool {
	pcm, err := p.synthesize(ctx, sentence, voice)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("coqui: synthesis failed", "err", err)
		}
		return false
	}
	for len(pcm) > 0 {
		end := min(pcmChunkSize, len(pcm))
		select {
		case out <- pcm[:end]:
		case <-ctx.Done():
			return false
		}
		pcm = pcm[end:]
	}
	return true
}

func (p *Provider) synthesize(ctx context.Context, sentence string, voice tts.VoiceProfile) ([]byte, error) {
	lang := tts.BaseLanguage(voice.Language)

	var (
		req *http.Request
		err error
	)
	switch p.apiMode {
	case APIModeXTTS:
		if lang == "" {
			lang = "en"
		}
		body, _ := json.Marshal(struct {
			Text       string `json:"text"`
			SpeakerWav string `json:"speaker_wav"`
			Language   string `json:"language"`
		}{sentence, voice.ID, lang})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		q := url.Values{}
		q.Set("text", sentence)
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if lang != "" {
			q.Set("language_id", lang)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	pcm, format, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	return audio.ConvertPCM(pcm, format, p.output), nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	endpoint := detailsEndpoint
	if p.apiMode == APIModeXTTS {
		endpoint = studioSpeakersEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create list-voices request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: GET %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: GET %s returned status %d", endpoint, resp.StatusCode)
	}

	var names []string
	kind := "speaker"
	if p.apiMode == APIModeXTTS {
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("coqui: decode studio speakers: %w", err)
		}
		for name := range raw {
			names = append(names, name)
		}
		kind = "studio"
	} else {
		var details struct {
			Speakers []string `json:"speakers"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
			return nil, fmt.Errorf("coqui: decode details: %w", err)
		}
		names = details.Speakers
	}
	sort.Strings(names)

	profiles := make([]tts.VoiceProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, tts.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "coqui",
			Metadata: map[string]string{"type": kind},
		})
	}
	return profiles, nil
}

// sentenceEnd returns the index of the first '.', '!' or '?' that ends s or
// is followed by whitespace, or -1. "3.14" and "Dr.X" are not boundaries.
func sentenceEnd(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
