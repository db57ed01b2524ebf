// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"slices"
	"strings"

	"ampsim/internal/audio"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Rates offered once an input is chosen.
var pickerRates = []float64{44100, 48000, 88200, 96000}

// Selection is the device and rate confirmed in the picker.
type Selection struct {
	DeviceID   int
	SampleRate float64
	OK         bool // false when the user quit without confirming
}

type pickerStep int

const (
	stepDevice pickerStep = iota
	stepRate
)

type pickerKeys struct {
	Up, Down, Select, Back, Quit key.Binding
}

var defaultPickerKeys = pickerKeys{
	Up:     key.NewBinding(key.WithKeys("up", "k")),
	Down:   key.NewBinding(key.WithKeys("down", "j")),
	Select: key.NewBinding(key.WithKeys("enter")),
	Back:   key.NewBinding(key.WithKeys("esc")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c")),
}

// Picker chooses the guitar input and its sample rate before the stream
// opens. Devices without input channels are not listed.
type Picker struct {
	inputs []audio.Device
	step   pickerStep
	cursor int // into inputs or pickerRates, depending on step
	device int // index into inputs once stepRate is reached
	err    error

	selection Selection
}

type devicesMsg struct{ devices []audio.Device }

type errMsg struct{ err error }

// NewPicker returns a picker that queries the host on Init.
func NewPicker() Picker { return Picker{} }

// Selection returns the confirmed choice.
func (m Picker) Selection() Selection { return m.selection }

func (m Picker) Init() tea.Cmd {
	return func() tea.Msg {
		devices, err := audio.HostDevices()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

func (m Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case devicesMsg:
		m.inputs = slices.DeleteFunc(slices.Clone(msg.devices), func(d audio.Device) bool {
			return d.MaxInputChannels == 0
		})
		m.cursor = 0
	case errMsg:
		m.err = msg.err
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Picker) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := defaultPickerKeys
	if key.Matches(msg, k.Quit) || m.err != nil {
		return m, tea.Quit
	}

	n := len(m.inputs)
	if m.step == stepRate {
		n = len(pickerRates)
	}

	switch {
	case key.Matches(msg, k.Up):
		m.cursor = max(m.cursor-1, 0)
	case key.Matches(msg, k.Down):
		m.cursor = min(m.cursor+1, max(n-1, 0))
	case key.Matches(msg, k.Back):
		if m.step == stepRate {
			m.step, m.cursor = stepDevice, m.device
		}
	case key.Matches(msg, k.Select):
		if n == 0 {
			break
		}
		if m.step == stepDevice {
			m.device = m.cursor
			m.step = stepRate
			m.cursor = rateIndex(m.inputs[m.device].DefaultSampleRate)
			break
		}
		m.selection = Selection{
			DeviceID:   m.inputs[m.device].ID,
			SampleRate: pickerRates[m.cursor],
			OK:         true,
		}
		return m, tea.Quit
	}
	return m, nil
}

// rateIndex preselects the device's native rate, falling back to 48 kHz.
func rateIndex(rate float64) int {
	if i := slices.Index(pickerRates, rate); i >= 0 {
		return i
	}
	return slices.Index(pickerRates, 48000)
}

func (m Picker) View() string {
	if m.err != nil {
		return warnStyle.Render("cannot list devices: "+m.err.Error()) + "\n\n" +
			infoStyle.Render("any key exits")
	}

	var sb strings.Builder
	if m.step == stepDevice {
		sb.WriteString(titleStyle.Render("ampsim · guitar input") + "\n\n")
		if len(m.inputs) == 0 {
			sb.WriteString("no input devices\n")
		}
		for i, d := range m.inputs {
			line := fmt.Sprintf("%2d  %s (%s)  %d in  %.0f Hz  %.1f ms",
				d.ID, d.Name, d.Type(), d.MaxInputChannels,
				d.DefaultSampleRate, d.LowLatency.Seconds()*1000)
			sb.WriteString(cursorLine(line, i == m.cursor))
		}
		sb.WriteString("\n" + infoStyle.Render("j/k move  enter choose  q quit"))
		return sb.String()
	}

	sb.WriteString(titleStyle.Render("ampsim · "+m.inputs[m.device].Name) + "\n\n")
	for i, rate := range pickerRates {
		sb.WriteString(cursorLine(fmt.Sprintf("%.1f kHz", rate/1000), i == m.cursor))
	}
	sb.WriteString("\n" + infoStyle.Render("j/k move  enter start  esc back  q quit"))
	return sb.String()
}

func cursorLine(s string, at bool) string {
	if at {
		return highlightStyle.Render("> "+s) + "\n"
	}
	return "  " + s + "\n"
}

// PickDevice runs the picker full screen. PortAudio must be initialized.
func PickDevice() (Selection, error) {
	final, err := tea.NewProgram(NewPicker(), tea.WithAltScreen()).Run()
	if err != nil {
		return Selection{}, err
	}
	return final.(Picker).Selection(), nil
}
