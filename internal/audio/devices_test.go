// SPDX-License-Identifier: MIT
package audio

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

var fakeDevices = []*portaudio.DeviceInfo{
	{Name: "Interface", MaxInputChannels: 2, MaxOutputChannels: 2, DefaultSampleRate: 48000,
		DefaultLowInputLatency: 3 * time.Millisecond, DefaultHighInputLatency: 12 * time.Millisecond},
	{Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 44100,
		DefaultLowOutputLatency: 5 * time.Millisecond, DefaultHighOutputLatency: 20 * time.Millisecond},
	{Name: "Mic", MaxInputChannels: 1, DefaultSampleRate: 48000},
}

// withFakeDevices swaps the PortAudio device queries for fakeDevices.
func withFakeDevices(t *testing.T) {
	t.Helper()
	origDevices := paLibDevicesFunc
	origIn := paLibDefaultInputDeviceFunc
	origOut := paLibDefaultOutputDeviceFunc
	t.Cleanup(func() {
		paLibDevicesFunc = origDevices
		paLibDefaultInputDeviceFunc = origIn
		paLibDefaultOutputDeviceFunc = origOut
	})

	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return fakeDevices, nil }
	paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) { return fakeDevices[2], nil }
	paLibDefaultOutputDeviceFunc = func() (*portaudio.DeviceInfo, error) { return fakeDevices[1], nil }
}

func TestHostDevices(t *testing.T) {
	withFakeDevices(t)

	devices, err := HostDevices()
	if err != nil {
		t.Fatalf("HostDevices error: %v", err)
	}
	if len(devices) != len(fakeDevices) {
		t.Fatalf("got %d devices, want %d", len(devices), len(fakeDevices))
	}
	for i, d := range devices {
		if d.ID != i {
			t.Errorf("Device ID mismatch: got %d, want %d", d.ID, i)
		}
		if d.Name != fakeDevices[i].Name {
			t.Errorf("Device %d name = %q", i, d.Name)
		}
	}

	wantTypes := []string{"Input/Output", "Output", "Input"}
	for i, want := range wantTypes {
		if got := devices[i].Type(); got != want {
			t.Errorf("Device %d Type() = %q, want %q", i, got, want)
		}
	}
	if devices[1].LowLatency != 5*time.Millisecond {
		t.Errorf("output-only device latency = %s, want output latency", devices[1].LowLatency)
	}
}

func TestHostDevices_paDevicesError(t *testing.T) {
	orig := paDevicesFunc
	defer func() { paDevicesFunc = orig }()
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("mock error")
	}

	_, err := HostDevices()
	if err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestInputOutputDevice(t *testing.T) {
	withFakeDevices(t)

	tests := []struct {
		name   string
		pick   func(int) (*portaudio.DeviceInfo, error)
		id     int
		want   string
		substr string
	}{
		{"default input", InputDevice, -1, "Mic", ""},
		{"default output", OutputDevice, -1, "Speakers", ""},
		{"duplex as input", InputDevice, 0, "Interface", ""},
		{"duplex as output", OutputDevice, 0, "Interface", ""},
		{"negative ID", InputDevice, -2, "", "invalid device ID"},
		{"too high ID", OutputDevice, len(fakeDevices) + 10, "", "invalid device ID"},
		{"non-input device", InputDevice, 1, "", "does not support input"},
		{"non-output device", OutputDevice, 2, "", "does not support output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := tt.pick(tt.id)
			if tt.substr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.substr) {
					t.Errorf("Error = %v, want substring %q", err, tt.substr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if dev.Name != tt.want {
				t.Errorf("device = %q, want %q", dev.Name, tt.want)
			}
		})
	}
}

func TestInputDevice_paDefaultInputDeviceError(t *testing.T) {
	withFakeDevices(t)
	paLibDefaultInputDeviceFunc = func() (*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("mock default input error")
	}

	_, err := InputDevice(-1)
	if err == nil || !strings.Contains(err.Error(), "mock default input error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestListDevices(t *testing.T) {
	withFakeDevices(t)

	var buf bytes.Buffer
	if err := ListDevices(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"[0] Interface (Input/Output)", "[1] Speakers (Output)", "Default sample rate: 44100 Hz"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing missing %q:\n%s", want, out)
		}
	}
}

func TestErrorInitialize(t *testing.T) {
	orig := paLibInitialize
	defer func() { paLibInitialize = orig }()

	paLibInitialize = func() error { return nil }
	if err := Initialize(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	paLibInitialize = func() error { return fmt.Errorf("mock init error") }
	if err := Initialize(); err == nil || !strings.Contains(err.Error(), "mock init error") {
		t.Errorf("expected mock init error, got %v", err)
	}
}

func TestErrorTerminate(t *testing.T) {
	orig := paLibTerminate
	defer func() { paLibTerminate = orig }()

	paLibTerminate = func() error { return nil }
	if err := Terminate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	paLibTerminate = func() error { return fmt.Errorf("mock term error") }
	if err := Terminate(); err == nil || !strings.Contains(err.Error(), "mock term error") {
		t.Errorf("expected mock term error, got %v", err)
	}
}

func TestNilDevices(t *testing.T) {
	orig := paLibDevicesFunc
	defer func() { paLibDevicesFunc = orig }()
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, nil
	}

	devices, err := paDevices()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if devices == nil {
		t.Errorf("expected empty slice, got nil")
	}
	if len(devices) != 0 {
		t.Errorf("expected length 0, got %d", len(devices))
	}
}

func TestPortAudioNotInitialized(t *testing.T) {
	orig := paLibDevicesFunc
	defer func() { paLibDevicesFunc = orig }()
	paLibDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("PortAudio not initialized")
	}

	devices, err := paDevices()
	if err == nil || !strings.Contains(err.Error(), "PortAudio not initialized") {
		t.Errorf("expected 'PortAudio not initialized' error, got %v", err)
	}
	if devices != nil {
		t.Errorf("expected devices to be nil on error, got %v", devices)
	}
}
