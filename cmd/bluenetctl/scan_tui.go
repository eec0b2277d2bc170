package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/backkem/bluenet/pkg/bluenet"
	bnsession "github.com/backkem/bluenet/pkg/session"
	"github.com/backkem/bluenet/pkg/transport"
)

// staleAfter drops stones from the table when they stop advertising.
const staleAfter = 30 * time.Second

type stoneRow struct {
	peer      transport.PeerID
	name      string
	rssi      int
	mode      bnsession.OperationMode
	verified  bool
	sphere    string
	hasState  bool
	stoneID   uint16
	switchVal uint8
	power     float64
	seen      time.Time
	count     int
}

type scanModel struct {
	info    string
	spheres []string
	stones  map[transport.PeerID]*stoneRow
	nearest transport.PeerID
	now     func() time.Time
	spinner spinner.Model

	width    int
	height   int
	quitting bool
}

type advertisementMsg bluenet.Advertisement
type nearestMsg bluenet.Nearest
type scanTickMsg time.Time

func newScanModel(info string, spheres []string) scanModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))

	return scanModel{
		info:    info,
		spheres: spheres,
		stones:  make(map[transport.PeerID]*stoneRow),
		now:     time.Now,
		spinner: sp,
		width:   80,
		height:  24,
	}
}

func (m scanModel) Init() tea.Cmd {
	return tea.Batch(scanTickCmd(), m.spinner.Tick)
}

func scanTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return scanTickMsg(t)
	})
}

func (m scanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "c":
			m.stones = make(map[transport.PeerID]*stoneRow)
			m.nearest = ""
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case scanTickMsg:
		m.prune(time.Time(msg))
		return m, scanTickCmd()

	case advertisementMsg:
		m.record(bluenet.Advertisement(msg))

	case nearestMsg:
		m.nearest = msg.Peer

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *scanModel) record(a bluenet.Advertisement) {
	row, ok := m.stones[a.Peer]
	if !ok {
		row = &stoneRow{peer: a.Peer}
		m.stones[a.Peer] = row
	}
	if a.Name != "" {
		row.name = a.Name
	}
	row.rssi = a.RSSI
	row.mode = a.Mode
	row.verified = a.Validated
	row.sphere = a.ReferenceID
	row.seen = m.now()
	row.count++
	if a.Data != nil && a.Data.Decrypted {
		row.hasState = true
		row.stoneID = a.Data.CrownstoneID
		row.switchVal = a.Data.SwitchState
		row.power = a.Data.PowerUsage
	}
}

func (m *scanModel) prune(now time.Time) {
	for peer, row := range m.stones {
		if now.Sub(row.seen) > staleAfter {
			delete(m.stones, peer)
		}
	}
	if _, ok := m.stones[m.nearest]; !ok {
		m.nearest = ""
	}
}

// rows returns the stones ordered by signal strength.
func (m scanModel) rows() []*stoneRow {
	rows := make([]*stoneRow, 0, len(m.stones))
	for _, r := range m.stones {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].rssi != rows[j].rssi {
			return rows[i].rssi > rows[j].rssi
		}
		return rows[i].peer < rows[j].peer
	})
	return rows
}

func (m scanModel) View() string {
	if m.quitting {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		MarginBottom(1)
	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))
	verifiedStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))
	setupStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))
	dimStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.spinner.View() + " bluenetctl scan"))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("Radio: %s   Spheres: %s", m.info, strings.Join(m.spheres, ", "))))
	b.WriteString("\n\n")

	var table strings.Builder
	table.WriteString(headerStyle.Render(fmt.Sprintf("  %-17s %5s  %-9s %-10s %4s %6s %8s  %s",
		"PEER", "RSSI", "MODE", "SPHERE", "ID", "SWITCH", "POWER", "NAME")))
	table.WriteString("\n")

	rows := m.rows()
	limit := m.height - 9
	if limit < 1 {
		limit = 1
	}
	for i, r := range rows {
		if i == limit {
			table.WriteString(dimStyle.Render(fmt.Sprintf("  ... %d more", len(rows)-limit)))
			table.WriteString("\n")
			break
		}
		marker := "  "
		if r.peer == m.nearest {
			marker = "> "
		}
		sphere, id, sw, power := "-", "-", "-", "-"
		if r.verified {
			sphere = r.sphere
		}
		if r.hasState {
			id = fmt.Sprintf("%d", r.stoneID)
			sw = fmt.Sprintf("%d", r.switchVal)
			power = fmt.Sprintf("%.1fW", r.power)
		}
		line := fmt.Sprintf("%s%-17s %5d  %-9s %-10s %4s %6s %8s  %s",
			marker, r.peer, r.rssi, r.mode, sphere, id, sw, power, r.name)
		switch {
		case r.mode == bnsession.ModeSetup:
			line = setupStyle.Render(line)
		case r.verified:
			line = verifiedStyle.Render(line)
		default:
			line = dimStyle.Render(line)
		}
		table.WriteString(line)
		table.WriteString("\n")
	}
	if len(rows) == 0 {
		table.WriteString(dimStyle.Render("  waiting for advertisements..."))
		table.WriteString("\n")
	}
	b.WriteString(boxStyle.Render(strings.TrimRight(table.String(), "\n")))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%d stones   q: quit   c: clear", len(rows))))
	return b.String()
}
