// SPDX-License-Identifier: MIT
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"ampsim/internal/monitor"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	refreshInterval = 50 * time.Millisecond
	gainStep        = 0.05
	meterWidth      = 40
	meterFloorDB    = -60.0
	inTuneCents     = 5.0
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1E1E1E")).
			Background(lipgloss.Color("#E5C07B")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ABB2BF"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98C379")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Width(10)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E06C75")).
			Bold(true)

	recStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#E06C75")).
			Padding(0, 1)
)

// Controller is the subset of control.Handle the panel drives.
type Controller interface {
	SetTuner(on bool) error
	Tuner() bool
	SetIRBypass(b bool) error
	IRBypass() bool
	NextIR() (string, error)
	IRName() string
	SetIRGain(g float32) error
	IRGain() float32
	SetChannel(id int) error
	Channel() int
	StartRecording(dir string) (string, error)
	StopRecording() error
	Recording() bool
}

// SnapshotSource is the read side of the engine monitor.
type SnapshotSource interface {
	Load() monitor.Snapshot
}

type panelKeys struct {
	Tuner    key.Binding
	Bypass   key.Binding
	NextIR   key.Binding
	Channel  key.Binding
	GainUp   key.Binding
	GainDown key.Binding
	Record   key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func (k panelKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Tuner, k.Bypass, k.NextIR, k.Record, k.Help, k.Quit}
}

func (k panelKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Channel, k.Tuner, k.Record},
		{k.NextIR, k.Bypass, k.GainUp, k.GainDown},
		{k.Help, k.Quit},
	}
}

var defaultPanelKeys = panelKeys{
	Tuner:    key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "tuner")),
	Bypass:   key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "cab bypass")),
	NextIR:   key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next cab")),
	Channel:  key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "channel")),
	GainUp:   key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "cab gain up")),
	GainDown: key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "cab gain down")),
	Record:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "record")),
	Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type tickMsg time.Time

type statusMsg struct {
	text string
	err  error
}

// PanelModel is the front panel: level meter, tuner read-out and the
// amp controls.
type PanelModel struct {
	ctl          Controller
	meter        SnapshotSource
	recordingDir string

	keys panelKeys
	help help.Model

	snap   monitor.Snapshot
	hold   float32 // peak hold, decays per tick
	status string
	err    error
}

// NewPanelModel returns a panel driving ctl and reading meter.
// Recordings go to recordingDir.
func NewPanelModel(ctl Controller, meter SnapshotSource, recordingDir string) PanelModel {
	return PanelModel{
		ctl:          ctl,
		meter:        meter,
		recordingDir: recordingDir,
		keys:         defaultPanelKeys,
		help:         help.New(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh timer.
func (m PanelModel) Init() tea.Cmd {
	return tick()
}

// Update applies key presses through the controller and refreshes the
// snapshot on every tick.
func (m PanelModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.snap = m.meter.Load()
		m.hold = max(m.snap.Peak, m.hold*0.95)
		return m, tick()

	case statusMsg:
		m.status, m.err = msg.text, msg.err
		return m, nil

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m PanelModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := m.keys
	m.err = nil

	switch {
	case key.Matches(msg, k.Quit):
		if m.ctl.Recording() {
			return m, tea.Sequence(m.stopRecording(), tea.Quit)
		}
		return m, tea.Quit

	case key.Matches(msg, k.Help):
		m.help.ShowAll = !m.help.ShowAll

	case key.Matches(msg, k.Tuner):
		on := !m.ctl.Tuner()
		m.err = m.ctl.SetTuner(on)
		m.status = onOff("tuner", on)

	case key.Matches(msg, k.Bypass):
		b := !m.ctl.IRBypass()
		m.err = m.ctl.SetIRBypass(b)
		m.status = onOff("cab bypass", b)

	case key.Matches(msg, k.NextIR):
		// Loading runs off the UI loop; the result arrives as a statusMsg.
		return m, m.nextIR()

	case key.Matches(msg, k.Channel):
		id := int(msg.Runes[0] - '1')
		m.err = m.ctl.SetChannel(id)
		m.status = fmt.Sprintf("channel %d", id+1)

	case key.Matches(msg, k.GainUp), key.Matches(msg, k.GainDown):
		step := float32(gainStep)
		if key.Matches(msg, k.GainDown) {
			step = -step
		}
		g := float32(math.Round(float64(m.ctl.IRGain()+step)*100) / 100)
		g = min(max(g, 0), 1)
		m.err = m.ctl.SetIRGain(g)
		m.status = fmt.Sprintf("cab gain %.2f", g)

	case key.Matches(msg, k.Record):
		if m.ctl.Recording() {
			return m, m.stopRecording()
		}
		path, err := m.ctl.StartRecording(m.recordingDir)
		m.err = err
		m.status = "recording to " + path
	}

	if m.err != nil {
		m.status = ""
	}
	return m, nil
}

func (m PanelModel) nextIR() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		name, err := ctl.NextIR()
		return statusMsg{text: "cab " + name, err: err}
	}
}

// stopRecording waits for the writer, so it runs as a command.
func (m PanelModel) stopRecording() tea.Cmd {
	ctl := m.ctl
	return func() tea.Msg {
		err := ctl.StopRecording()
		return statusMsg{text: "recording stopped", err: err}
	}
}

func onOff(name string, on bool) string {
	if on {
		return name + " on"
	}
	return name + " off"
}

// View renders the panel.
func (m PanelModel) View() string {
	var sb strings.Builder

	title := titleStyle.Render("ampsim")
	if m.ctl.Recording() {
		title += " " + recStyle.Render("● REC")
	}
	sb.WriteString(title + "\n\n")

	if m.ctl.Tuner() {
		sb.WriteString(row("tuner", renderTuner(m.snap)))
	} else {
		sb.WriteString(row("level", renderMeter(m.snap.Peak, m.hold)))
	}
	sb.WriteString("\n")

	sb.WriteString(row("channel", fmt.Sprintf("%d", m.ctl.Channel()+1)))
	cab := m.ctl.IRName()
	if cab == "" {
		cab = "none"
	}
	if m.ctl.IRBypass() {
		cab += " (bypassed)"
	}
	sb.WriteString(row("cab", cab))
	sb.WriteString(row("cab gain", fmt.Sprintf("%.2f", m.ctl.IRGain())))
	sb.WriteString("\n")

	switch {
	case m.err != nil:
		sb.WriteString(warnStyle.Render(m.err.Error()) + "\n")
	case m.status != "":
		sb.WriteString(infoStyle.Render(m.status) + "\n")
	default:
		sb.WriteString("\n")
	}

	sb.WriteString("\n" + m.help.View(m.keys))
	return sb.String()
}

func row(label, value string) string {
	return labelStyle.Render(label) + value + "\n"
}

// renderMeter draws a dBFS bar with a peak-hold marker.
func renderMeter(peak, hold float32) string {
	fill := meterCells(peak)
	mark := meterCells(hold)

	var bar strings.Builder
	for i := range meterWidth {
		switch {
		case i < fill:
			bar.WriteString("█")
		case i == mark-1 && mark > fill:
			bar.WriteString("|")
		default:
			bar.WriteString("·")
		}
	}

	db := monitor.Snapshot{Peak: peak}.PeakDB()
	label := "  -inf dB"
	if !math.IsInf(db, -1) {
		label = fmt.Sprintf(" %5.1f dB", db)
	}
	out := bar.String() + label
	if peak >= 1 {
		out = warnStyle.Render(out + " CLIP")
	}
	return out
}

func meterCells(peak float32) int {
	db := monitor.Snapshot{Peak: peak}.PeakDB()
	if math.IsInf(db, -1) || db <= meterFloorDB {
		return 0
	}
	frac := min((db-meterFloorDB)/-meterFloorDB, 1)
	return int(math.Round(frac * meterWidth))
}

// renderTuner shows the nearest note and a cents needle.
func renderTuner(s monitor.Snapshot) string {
	name, cents, ok := s.Note()
	if !ok {
		return "--"
	}

	const half = 10
	pos := half + int(math.Round(cents/50*half))
	pos = min(max(pos, 0), 2*half)

	var needle strings.Builder
	for i := 0; i <= 2*half; i++ {
		switch {
		case i == pos:
			needle.WriteString("▲")
		case i == half:
			needle.WriteString("|")
		default:
			needle.WriteString("-")
		}
	}

	out := fmt.Sprintf("%-4s %s %+5.1f cents  %.1f Hz", name, needle.String(), cents, s.Pitch)
	if math.Abs(cents) <= inTuneCents {
		out = highlightStyle.Render(out)
	}
	return out
}

// StartPanel runs the front panel until the user quits or ctx is done.
func StartPanel(ctx context.Context, ctl Controller, meter SnapshotSource, recordingDir string) error {
	p := tea.NewProgram(
		NewPanelModel(ctl, meter, recordingDir),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
