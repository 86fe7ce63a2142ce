//go:build portaudio

package main

import (
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/audio/portaudio"
)

func init() {
	extraRegistrations = append(extraRegistrations, func(reg *config.Registry) {
		reg.RegisterCapture(config.DriverPortAudio, func(c config.CaptureConfig) (audio.CaptureDevice, error) {
			return portaudio.NewDevice(audio.Format{SampleRate: c.SampleRate, Channels: c.Channels})
		})
		reg.RegisterPlayer(config.DriverPortAudio, func(config.PlayerConfig) (audio.Player, error) {
			return portaudio.NewPlayer(), nil
		})
	})
}
