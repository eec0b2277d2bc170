package bluenet

import (
	"testing"
	"time"

	"github.com/backkem/bluenet/pkg/packet"
)

func TestLink_Settle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	switchCmd := packet.CommandSwitch
	timeCmd := packet.CommandSetTime

	tests := []struct {
		name    string
		written []packet.CommandType
		results []packet.CommandType
		stale   []bool
	}{
		{"single", []packet.CommandType{switchCmd}, []packet.CommandType{switchCmd}, []bool{false}},
		{"replaced same type", []packet.CommandType{switchCmd, switchCmd}, []packet.CommandType{switchCmd, switchCmd}, []bool{true, false}},
		{"replaced other type", []packet.CommandType{switchCmd, timeCmd}, []packet.CommandType{switchCmd, timeCmd}, []bool{true, false}},
		{"replaced result lost", []packet.CommandType{switchCmd, timeCmd}, []packet.CommandType{timeCmd}, []bool{false}},
		{"unsolicited", nil, []packet.CommandType{switchCmd}, []bool{false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &link{}
			for _, cmd := range tt.written {
				l.expect(cmd, now, time.Second)
			}
			for i, cmd := range tt.results {
				if got := l.settle(cmd); got != tt.stale[i] {
					t.Errorf("settle(%s) #%d = %v, want %v", cmd, i, got, tt.stale[i])
				}
			}
			if len(l.inflight) != 0 {
				t.Errorf("inflight = %v, want empty", l.inflight)
			}
		})
	}
}

func TestLink_ForgetAndExpire(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := &link{}

	failed := l.expect(packet.CommandSwitch, now, time.Second)
	l.expect(packet.CommandSwitch, now, time.Second)
	l.forget(failed)
	if l.settle(packet.CommandSwitch) {
		t.Error("settle() = true after the failed write was forgotten")
	}

	l.expect(packet.CommandSwitch, now, time.Second)
	l.expect(packet.CommandSetTime, now.Add(2*time.Second), time.Second)
	if len(l.inflight) != 1 {
		t.Fatalf("inflight = %v, want only the recent command", l.inflight)
	}
	if l.settle(packet.CommandSetTime) {
		t.Error("settle() = true for the only outstanding command")
	}
}
