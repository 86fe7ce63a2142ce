package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/murmur/pkg/audio"
)

// Speaker synthesises a text with a Provider and plays the result.
type Speaker struct {
	provider Provider
	player   audio.Player
	voice    VoiceProfile
	format   audio.Format
}

// NewSpeaker returns a Speaker. format must match the PCM format the provider
// is configured to emit.
func NewSpeaker(p Provider, player audio.Player, voice VoiceProfile, format audio.Format) (*Speaker, error) {
	if p == nil {
		return nil, errors.New("tts: provider must not be nil")
	}
	if player == nil {
		return nil, errors.New("tts: player must not be nil")
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("tts: invalid output format %s", format)
	}
	return &Speaker{provider: p, player: player, voice: voice, format: format}, nil
}

// Speak plays text in the given locale and blocks until playback ends or ctx
// is cancelled. Cancelling ctx is how an utterance is interrupted.
func (s *Speaker) Speak(ctx context.Context, text, locale string) error {
	voice := s.voice
	if locale != "" {
		voice.Language = locale
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	pcm, err := s.provider.SynthesizeStream(ctx, textCh, voice)
	if err != nil {
		return fmt.Errorf("tts: synthesize: %w", err)
	}
	err = s.player.Play(ctx, pcm, s.format)
	cancel()
	audio.Drain(pcm)
	if err != nil {
		return fmt.Errorf("tts: play: %w", err)
	}
	return nil
}
