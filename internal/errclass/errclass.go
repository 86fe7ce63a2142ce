// Package errclass maps low-level failures onto the small set of error kinds
// shown to the user, each with a stable message.
//
// Classification looks at structured signals first (sentinel errors, typed
// errors, status codes, net.Error). Matching on the error text is a fallback
// for errors that carry no structure, such as failures reported by external
// programs.
package errclass

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/backend"
)

// Kind is an error category.
type Kind int

const (
	Unknown Kind = iota
	PermissionDenied
	DeviceNotFound
	NetworkUnreachable
	NotFound
	ServerFault
	Timeout
)

var kindNames = [...]string{
	Unknown:            "unknown",
	PermissionDenied:   "permission_denied",
	DeviceNotFound:     "device_not_found",
	NetworkUnreachable: "network_unreachable",
	NotFound:           "not_found",
	ServerFault:        "server_fault",
	Timeout:            "timeout",
}

// String returns the snake_case name of k, used as a metric attribute.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

var messages = map[Kind]string{
	Unknown:            "Something didn't go as expected. Could you try again?",
	PermissionDenied:   "I need permission to use your microphone. Could you enable it?",
	DeviceNotFound:     "I can't find your microphone. Is it connected properly?",
	NetworkUnreachable: "I can't reach the server right now. Could you try again?",
	NotFound:           "The service seems to be unavailable. Is the server running?",
	ServerFault:        "Oops, something went wrong on my side. Try again in a moment.",
	Timeout:            "I'm taking longer than usual. Could you try a shorter message?",
}

// audioMessage replaces the Unknown message for failures while handling a
// recording.
const audioMessage = "There was a problem processing your audio. Could you try speaking more clearly?"

// Message returns the user-facing text for k.
func Message(k Kind) string {
	if m, ok := messages[k]; ok {
		return m
	}
	return messages[Unknown]
}

// Classify returns the kind of err and the user-facing text for it.
// A nil error classifies as Unknown.
func Classify(err error) (Kind, string) {
	k := KindOf(err)
	return k, Message(k)
}

// ClassifyAudio is Classify for failures that happened while capturing or
// uploading a recording. Unknown failures get an audio-specific message.
func ClassifyAudio(err error) (Kind, string) {
	k := KindOf(err)
	if k == Unknown && err != nil {
		return k, audioMessage
	}
	return k, Message(k)
}

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	if k, ok := structured(err); ok {
		return k
	}
	return fromText(err.Error())
}

func structured(err error) (Kind, bool) {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return PermissionDenied, true
	case errors.Is(err, audio.ErrDeviceNotFound), errors.Is(err, audio.ErrCaptureUnavailable):
		return DeviceNotFound, true
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Timeout, true
	}

	var se *backend.StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusNotFound:
			return NotFound, true
		case se.StatusCode == http.StatusRequestTimeout:
			return Timeout, true
		case se.StatusCode >= 500:
			return ServerFault, true
		default:
			return Unknown, true
		}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout, true
	}

	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return NetworkUnreachable, true
	}
	return Unknown, false
}

// textRules are checked in order against the lower-cased error text.
var textRules = []struct {
	kind    Kind
	needles []string
}{
	{NetworkUnreachable, []string{"failed to fetch", "networkerror", "connection refused", "no such host", "network is unreachable"}},
	{NotFound, []string{"404", "not found"}},
	{ServerFault, []string{"500", "internal server error"}},
	{Timeout, []string{"timeout", "timed out", "aborterror", "aborted"}},
	{PermissionDenied, []string{"notallowederror", "permission denied"}},
	{DeviceNotFound, []string{"notfounderror", "no such device"}},
}

func fromText(text string) Kind {
	text = strings.ToLower(text)
	for _, r := range textRules {
		for _, n := range r.needles {
			if strings.Contains(text, n) {
				return r.kind
			}
		}
	}
	return Unknown
}
