package audio

import (
	"context"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestChooseDevice(t *testing.T) {
	usb := Device{ID: "alsa_input.usb-condenser", Description: "USB Condenser Mic", Available: true, Default: true}
	headset := Device{ID: "bluez_input.headset", Description: "Bluetooth Headset", Available: true}
	mutedUSB := usb
	mutedUSB.Muted = true
	unpluggedHeadset := headset
	unpluggedHeadset.Available = false

	tests := []struct {
		name         string
		devices      []Device
		input        string
		fallback     string
		wantID       string
		wantWarning  string
		wantFallback bool
		wantErr      string
	}{
		{name: "default", devices: []Device{usb, headset}, input: "default", fallback: "default", wantID: usb.ID},
		{name: "empty means default", devices: []Device{headset, usb}, wantID: usb.ID},
		{name: "match description", devices: []Device{usb, headset}, input: "Bluetooth", wantID: headset.ID},
		{name: "muted primary uses fallback", devices: []Device{mutedUSB, headset}, input: "usb-condenser", fallback: "headset", wantID: headset.ID, wantWarning: "is muted", wantFallback: true},
		{name: "unavailable primary uses default", devices: []Device{usb, unpluggedHeadset}, input: "headset", wantID: usb.ID, wantWarning: "is unavailable", wantFallback: true},
		{name: "muted default without alternative", devices: []Device{mutedUSB}, input: "default", fallback: "default", wantErr: "is muted"},
		{name: "unknown input", devices: []Device{usb}, input: "missing", wantErr: "did not match"},
		{name: "unknown fallback", devices: []Device{mutedUSB}, input: "usb", fallback: "missing", wantErr: `fallback "missing" not found`},
		{name: "no default source", devices: []Device{headset}, wantErr: "default audio source is unavailable"},
		{name: "no devices", wantErr: "no audio input devices found"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sel, err := chooseDevice(tc.devices, tc.input, tc.fallback)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantID, sel.Device.ID)
			require.Equal(t, tc.wantFallback, sel.Fallback)
			if tc.wantWarning == "" {
				require.Empty(t, sel.Warning)
			} else {
				require.Contains(t, sel.Warning, tc.wantWarning)
			}
		})
	}
}

func TestDeviceMatchesByIDAndDescription(t *testing.T) {
	dev := Device{ID: "alsa_input.usb-condenser", Description: "USB Condenser Mic"}
	require.True(t, deviceMatches(dev, "usb-condenser"))
	require.True(t, deviceMatches(dev, "condenser mic"))
	require.False(t, deviceMatches(dev, "missing"))
	require.False(t, deviceMatches(dev, ""))
}

func TestListDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListDevices(context.Background())
	require.Error(t, err)

	_, err = SelectDevice(context.Background(), "default", "default")
	require.Error(t, err)
}

func TestSourceStateString(t *testing.T) {
	require.Equal(t, "running", sourceStateString(0))
	require.Equal(t, "idle", sourceStateString(1))
	require.Equal(t, "suspended", sourceStateString(2))
	require.Equal(t, "unknown(99)", sourceStateString(99))
}

func TestSourceAvailable(t *testing.T) {
	require.False(t, sourceAvailable(nil))
	require.True(t, sourceAvailable(&pulseproto.GetSourceInfoReply{}))

	yes := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, yes, []sourcePort{{name: "mic", available: 2}})
	require.True(t, sourceAvailable(yes))

	no := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, no, []sourcePort{{name: "line", available: 2}, {name: "mic", available: 1}})
	require.False(t, sourceAvailable(no))
}

type sourcePort struct {
	name      string
	available uint32
}

// setSourcePorts fills the unexported port element type through reflection.
func setSourcePorts(t *testing.T, reply *pulseproto.GetSourceInfoReply, ports []sourcePort) {
	t.Helper()

	slice := reflect.MakeSlice(reflect.TypeOf(reply.Ports), len(ports), len(ports))
	for i, port := range ports {
		item := slice.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}
	reflect.ValueOf(reply).Elem().FieldByName("Ports").Set(slice)
}
