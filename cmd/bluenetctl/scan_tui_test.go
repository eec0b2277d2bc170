package main

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/backkem/bluenet/pkg/bluenet"
	"github.com/backkem/bluenet/pkg/servicedata"
	bnsession "github.com/backkem/bluenet/pkg/session"
)

func TestScanModel_Rows(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newScanModel("Pipe", []string{"home"})
	m.now = func() time.Time { return now }

	var model tea.Model = m
	for _, a := range []bluenet.Advertisement{
		{Peer: "far", RSSI: -80, Mode: bnsession.ModeOperation},
		{Peer: "near", RSSI: -40, Mode: bnsession.ModeOperation, Validated: true, ReferenceID: "home",
			Data: &servicedata.ServiceData{Decrypted: true, CrownstoneID: 4, SwitchState: 100, PowerUsage: 12.5}},
		{Peer: "setup", RSSI: -60, Mode: bnsession.ModeSetup},
	} {
		model, _ = model.Update(advertisementMsg(a))
	}
	model, _ = model.Update(nearestMsg{Peer: "near"})
	m = model.(scanModel)

	rows := m.rows()
	order := []string{"near", "setup", "far"}
	if len(rows) != len(order) {
		t.Fatalf("rows() = %d rows, want %d", len(rows), len(order))
	}
	for i, want := range order {
		if string(rows[i].peer) != want {
			t.Errorf("rows()[%d] = %s, want %s", i, rows[i].peer, want)
		}
	}
	if !rows[0].hasState || rows[0].switchVal != 100 || rows[0].stoneID != 4 {
		t.Errorf("near row = %+v", rows[0])
	}

	view := m.View()
	for _, want := range []string{"> near", "home", "12.5W", "3 stones"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestScanModel_Prune(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := newScanModel("Pipe", nil)
	m.now = func() time.Time { return now }

	var model tea.Model = m
	model, _ = model.Update(advertisementMsg{Peer: "a", RSSI: -50})
	model, _ = model.Update(nearestMsg{Peer: "a"})
	model, _ = model.Update(scanTickMsg(now.Add(staleAfter / 2)))
	if n := len(model.(scanModel).stones); n != 1 {
		t.Fatalf("stones after short tick = %d, want 1", n)
	}

	model, _ = model.Update(scanTickMsg(now.Add(staleAfter + time.Second)))
	m = model.(scanModel)
	if len(m.stones) != 0 {
		t.Errorf("stones after stale tick = %d, want 0", len(m.stones))
	}
	if m.nearest != "" {
		t.Errorf("nearest = %q, want empty", m.nearest)
	}
}

func TestScanModel_Quit(t *testing.T) {
	m := newScanModel("Pipe", nil)
	model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("Update(q) returned no command")
	}
	if !model.(scanModel).quitting {
		t.Error("quitting = false after q")
	}
	if model.View() != "" {
		t.Error("View() not empty after quit")
	}
}

func TestFormatAdvertisement(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got := formatAdvertisement(ts, bluenet.Advertisement{
		Peer:        "AA:BB",
		Name:        "Lamp",
		RSSI:        -55,
		Mode:        bnsession.ModeOperation,
		Validated:   true,
		ReferenceID: "home",
		Data:        &servicedata.ServiceData{Decrypted: true, CrownstoneID: 2, SwitchState: 0},
	})
	for _, want := range []string{"03:04:05.000", "AA:BB", "-55 dBm", "sphere=home", "id=2 switch=0", "Lamp"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatAdvertisement() = %q, missing %q", got, want)
		}
	}
}
