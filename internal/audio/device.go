package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pulseproto "github.com/jfreymuth/pulse/proto"
)

// Device describes one Pulse input source.
type Device struct {
	ID          string
	Description string
	State       string
	Available   bool
	Muted       bool
	Default     bool
}

// usable reports whether capture from d would yield audio.
func (d Device) usable() bool {
	return d.Available && !d.Muted
}

func (d Device) condition() string {
	if d.Muted {
		return "muted"
	}
	return "unavailable"
}

// Selection is the capture source chosen for a conversation. Warning is set
// when the configured input was skipped.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// ListDevices returns the Pulse input sources, marking the server default.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	def, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var infos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &infos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			State:       sourceStateString(info.State),
			Available:   sourceAvailable(info),
			Muted:       info.Mute,
			Default:     info.SourceName == def.ID(),
		})
	}
	return devices, nil
}

// SelectDevice resolves the audio.input and audio.fallback preferences against
// the live device list.
func SelectDevice(ctx context.Context, input, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return chooseDevice(devices, input, fallback)
}

// chooseDevice picks the preferred input when it is usable, otherwise the
// fallback (or the default source when no fallback is named).
func chooseDevice(devices []Device, input, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}
	input = normalizeTerm(input)
	fallback = normalizeTerm(fallback)

	primary, ok := findDevice(devices, input)
	if !ok {
		if input == "" {
			return Selection{}, errors.New("default audio source is unavailable")
		}
		return Selection{}, fmt.Errorf("audio.input %q did not match any device", input)
	}
	if primary.usable() {
		return Selection{Device: primary}, nil
	}

	alt, ok := findDevice(devices, fallback)
	if !ok {
		if fallback != "" {
			return Selection{}, fmt.Errorf("primary input %q is %s and fallback %q not found", primary.ID, primary.condition(), fallback)
		}
		return Selection{}, fmt.Errorf("primary input %q is %s and no usable fallback: default audio source is unavailable", primary.ID, primary.condition())
	}
	if !alt.usable() {
		return Selection{}, fmt.Errorf("audio fallback device %q is %s", alt.ID, alt.condition())
	}
	return Selection{
		Device:   alt,
		Warning:  fmt.Sprintf("audio.input %q is %s; falling back to %q", primary.ID, primary.condition(), alt.ID),
		Fallback: alt.ID != primary.ID,
	}, nil
}

// findDevice returns the default source for an empty term, otherwise the first
// device whose id or description contains term.
func findDevice(devices []Device, term string) (Device, bool) {
	for _, dev := range devices {
		if term == "" && dev.Default {
			return dev, true
		}
		if term != "" && deviceMatches(dev, term) {
			return dev, true
		}
	}
	return Device{}, false
}

func normalizeTerm(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "default" {
		return ""
	}
	return term
}

func deviceMatches(dev Device, term string) bool {
	if term == "" {
		return false
	}
	return strings.Contains(strings.ToLower(dev.ID), term) ||
		strings.Contains(strings.ToLower(dev.Description), term)
}

func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable reads the availability of the active port. Pulse encodes it
// as unknown=0, no=1, yes=2.
func sourceAvailable(info *pulseproto.GetSourceInfoReply) bool {
	if info == nil {
		return false
	}
	for _, port := range info.Ports {
		if port.Name == info.ActivePortName {
			return port.Available != 1
		}
	}
	return true
}
