// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{{1, 2}, {3, 4}}}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	Voice tts.VoiceProfile

	// Text holds every fragment read from the text channel.
	Text []string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted on the audio channel once the text channel
	// is closed.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// Block makes the audio goroutine wait for ctx cancellation after reading
	// the text instead of emitting chunks.
	Block bool

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []tts.VoiceProfile

	// ListVoicesErr, if non-nil, is returned from ListVoices.
	ListVoicesErr error

	calls          []SynthesizeStreamCall
	listVoiceCalls int
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		p.calls = append(p.calls, SynthesizeStreamCall{Voice: voice})
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	idx := len(p.calls)
	p.calls = append(p.calls, SynthesizeStreamCall{Voice: voice})
	chunks := make([][]byte, len(p.SynthesizeChunks))
	copy(chunks, p.SynthesizeChunks)
	block := p.Block
	p.mu.Unlock()

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		for frag := range text {
			p.mu.Lock()
			p.calls[idx].Text = append(p.calls[idx].Text, frag)
			p.mu.Unlock()
		}
		if block {
			<-ctx.Done()
			return
		}
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listVoiceCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a copy of the recorded SynthesizeStream calls.
func (p *Provider) Calls() []SynthesizeStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeStreamCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCountListVoices returns how many times ListVoices was called.
func (p *Provider) CallCountListVoices() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listVoiceCalls
}
