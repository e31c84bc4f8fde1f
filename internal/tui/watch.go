package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/clipforge/warden/internal/bridge"
	"github.com/clipforge/warden/internal/stats"
	"github.com/clipforge/warden/internal/supervisor"
	"github.com/clipforge/warden/pkg/consts"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	sectionStyle = lipgloss.NewStyle().PaddingLeft(1)
)

var spinFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type tickMsg time.Time

type snapshotMsg struct {
	state      bridge.StateResponse
	stats      *stats.Snapshot
	err        error
	fetched_at time.Time
}

type actionMsg struct {
	result supervisor.Result
	err    error
}

// Model is the Bubbletea model for `warden watch`: a live status pane over
// the bridge API.
type Model struct {
	bridge_url string
	client     *http.Client
	interval   time.Duration

	width      int
	height     int
	spin_frame int

	snapshot   *snapshotMsg
	action_msg string
}

func NewModel(bridgeURL string, interval time.Duration) Model {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return Model{
		bridge_url: bridgeURL,
		client:     &http.Client{Timeout: 3 * time.Second},
		interval:   interval,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetch() tea.Cmd {
	return func() tea.Msg {
		msg := snapshotMsg{fetched_at: time.Now()}

		resp, err := m.client.Get(m.bridge_url + "/api/state")
		if err != nil {
			msg.err = err
			return msg
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&msg.state); err != nil {
			msg.err = err
			return msg
		}

		if sresp, err := m.client.Get(m.bridge_url + "/api/stats"); err == nil {
			var body struct {
				Success bool            `json:"success"`
				Stats   *stats.Snapshot `json:"stats"`
			}
			if json.NewDecoder(sresp.Body).Decode(&body) == nil && body.Success {
				msg.stats = body.Stats
			}
			sresp.Body.Close()
		}
		return msg
	}
}

func (m Model) post(path string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.client.Post(m.bridge_url+path, "application/json", nil)
		if err != nil {
			return actionMsg{err: err}
		}
		defer resp.Body.Close()
		var res supervisor.Result
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{result: res}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			m.action_msg = "Ensuring backend..."
			return m, m.post("/api/backend/ensure")
		case "s":
			m.action_msg = "Shutting backend down..."
			return m, m.post("/api/backend/shutdown")
		}
		return m, nil

	case tickMsg:
		m.spin_frame++
		return m, tea.Batch(m.fetch(), m.tick())

	case snapshotMsg:
		m.snapshot = &msg
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.action_msg = "Bridge error: " + msg.err.Error()
		} else if msg.result.Success {
			m.action_msg = "OK"
		} else {
			m.action_msg = msg.result.Error + ": " + msg.result.Detail
		}
		return m, m.fetch()
	}
	return m, nil
}

func (m Model) View() string {
	frame := spinFrames[m.spin_frame%len(spinFrames)]
	out := titleStyle.Render("warden "+frame) + "\n\n"

	if m.snapshot == nil {
		return out + sectionStyle.Render(labelStyle.Render("Contacting bridge...")) + "\n"
	}
	if m.snapshot.err != nil {
		out += sectionStyle.Render(badStyle.Render("bridge unreachable: "+m.snapshot.err.Error())) + "\n"
		out += "\n" + hintStyle.Render(" q: quit")
		return out
	}

	st := m.snapshot.state
	out += sectionStyle.Render(labelStyle.Render("supervisor   ")+renderSupState(st.State)) + "\n"
	out += sectionStyle.Render(labelStyle.Render("connectivity ")+renderConn(st.Connectivity)) + "\n"
	if st.Mode != "" {
		out += sectionStyle.Render(labelStyle.Render("mode         ")+string(st.Mode)) + "\n"
	}
	if st.PID != 0 {
		out += sectionStyle.Render(labelStyle.Render("pid          ")+fmt.Sprintf("%d", st.PID)) + "\n"
	}
	if st.HealthError != "" {
		out += sectionStyle.Render(labelStyle.Render("health       ")+badStyle.Render(st.HealthError)) + "\n"
	}

	if s := m.snapshot.stats; s != nil {
		out += "\n"
		out += sectionStyle.Render(labelStyle.Render("cpu          ")+fmt.Sprintf("%.1f%%", s.CPUPercent)) + "\n"
		out += sectionStyle.Render(labelStyle.Render("rss          ")+fmt.Sprintf("%.1f MiB", float64(s.RSSBytes)/(1<<20))) + "\n"
		out += sectionStyle.Render(labelStyle.Render("threads      ")+fmt.Sprintf("%d", s.NumThreads)) + "\n"
		out += sectionStyle.Render(labelStyle.Render("uptime       ")+fmt.Sprintf("%.0fs", s.UptimeSeconds)) + "\n"
	}

	if m.action_msg != "" {
		out += "\n" + sectionStyle.Render(warnStyle.Render(m.action_msg)) + "\n"
	}

	out += "\n" + hintStyle.Render(" r: ensure | s: shutdown | q: quit")
	return out
}

func renderSupState(s consts.SupervisorState) string {
	switch s {
	case consts.StateRunning:
		return okStyle.Render(string(s))
	case consts.StateLaunching:
		return warnStyle.Render(string(s))
	case consts.StateLaunchFailed, consts.StateLost:
		return badStyle.Render(string(s))
	default:
		return labelStyle.Render(string(s))
	}
}

func renderConn(c consts.ConnectivityState) string {
	switch c {
	case consts.ConnConnected:
		return okStyle.Render(string(c))
	case consts.ConnConnecting:
		return warnStyle.Render(string(c))
	default:
		return badStyle.Render(string(c))
	}
}

// Run starts the watch view and blocks until the user quits.
func Run(bridgeURL string, interval time.Duration) error {
	p := tea.NewProgram(NewModel(bridgeURL, interval), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
