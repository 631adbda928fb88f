package session

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStateNames(t *testing.T) {
	if got := DeviceReady.String(); got != "Ready" {
		t.Errorf("DeviceReady = %s", got)
	}
	if got := DeviceFailed.String(); got != "Failed" {
		t.Errorf("DeviceFailed = %s", got)
	}
	var d DeviceState
	if err := d.UnmarshalText([]byte("Failed")); err != nil || d != DeviceFailed {
		t.Errorf("UnmarshalText(Failed) = %s, %v", d, err)
	}
	if got := DeviceState(42).String(); got != "Unknown(42)" {
		t.Errorf("unknown device state = %s", got)
	}
	if got := PhaseConnecting.String(); got != "Connecting" {
		t.Errorf("PhaseConnecting = %s", got)
	}
	if got := Phase(-1).String(); got != "Unknown(-1)" {
		t.Errorf("unknown phase = %s", got)
	}
}

func TestCallStateJSON(t *testing.T) {
	in := CallState{
		CallID:      "abc",
		Phase:       PhaseConnected,
		IsConnected: true,
		Duration:    12,
		Direction:   DirectionOutbound,
		To:          "+15551234567",
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["phase"] != "Connected" {
		t.Errorf("phase = %v", m["phase"])
	}

	var out CallState
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}

	if err := json.Unmarshal([]byte(`{"phase":"Dancing"}`), &out); err == nil {
		t.Error("expected error for unknown phase")
	}
}

func TestEndedCallAnswered(t *testing.T) {
	c := EndedCall{ID: "x"}
	data, _ := json.Marshal(c)
	var m map[string]any
	json.Unmarshal(data, &m)
	if _, ok := m["answered_at"]; ok {
		t.Error("zero answered_at should be omitted")
	}
	if c.Answered() {
		t.Error("Answered() = true for unanswered call")
	}
	c.AnsweredAt = time.Now()
	if !c.Answered() {
		t.Error("Answered() = false")
	}
}
