package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory signatures accepted by the [Registry].
type (
	TTSFactory     func(ProviderEntry) (tts.Provider, error)
	CaptureFactory func(CaptureConfig) (audio.CaptureDevice, error)
	PlayerFactory  func(PlayerConfig) (audio.Player, error)
)

// Registry maps names to constructor functions for TTS providers, capture
// drivers and playback drivers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	tts     map[string]TTSFactory
	capture map[string]CaptureFactory
	player  map[string]PlayerFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts:     make(map[string]TTSFactory),
		capture: make(map[string]CaptureFactory),
		player:  make(map[string]PlayerFactory),
	}
}

// RegisterTTS registers a TTS provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTTS(name string, factory TTSFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterCapture registers a capture driver factory under name.
func (r *Registry) RegisterCapture(name string, factory CaptureFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterPlayer registers a playback driver factory under name.
func (r *Registry) RegisterPlayer(name string, factory PlayerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.player[name] = factory
}

// CreateTTS instantiates the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture instantiates the capture driver registered under cfg.Driver.
func (r *Registry) CreateCapture(cfg CaptureConfig) (audio.CaptureDevice, error) {
	r.mu.RLock()
	factory, ok := r.capture[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, cfg.Driver)
	}
	return factory(cfg)
}

// CreatePlayer instantiates the playback driver registered under cfg.Driver.
func (r *Registry) CreatePlayer(cfg PlayerConfig) (audio.Player, error) {
	r.mu.RLock()
	factory, ok := r.player[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: player/%q", ErrProviderNotRegistered, cfg.Driver)
	}
	return factory(cfg)
}

// Names returns the sorted registered names per kind ("tts", "capture",
// "player").
func (r *Registry) Names() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return map[string][]string{
		"tts":     sortedKeys(r.tts),
		"capture": sortedKeys(r.capture),
		"player":  sortedKeys(r.player),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
