package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAssertHTTPStatus(t *testing.T) {
	AssertHTTPStatus(t, http.StatusOK, http.StatusOK, "matching")
	if t.Failed() {
		t.Error("matching status codes should not fail")
	}
}

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","result":{"mode":"NAVIGATION"}}`)
	resp := AssertJSONResponse(t, rr, "ok")
	result, ok := resp["result"].(map[string]interface{})
	if !ok || result["mode"] != "NAVIGATION" {
		t.Errorf("unexpected decoded response %+v", resp)
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/mode", map[string]string{"mode": "NAVIGATION"})
	if req.Method != http.MethodPost || req.URL.Path != "/mode" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if req.Header.Get("Content-Type") != "application/json" {
		t.Error("expected JSON content type")
	}
}

func TestManualTimer_FiresInDueOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mt := NewManualTimer(start)
	var order []string
	mt.ScheduleAfter(2*time.Second, func() { order = append(order, "b") })
	mt.ScheduleAfter(1*time.Second, func() {
		order = append(order, "a")
		mt.ScheduleAfter(500*time.Millisecond, func() { order = append(order, "a2") })
	})
	id, _ := mt.ScheduleAfter(1500*time.Millisecond, func() { order = append(order, "cancelled") })
	mt.Cancel(id)

	mt.Advance(2 * time.Second)

	want := []string{"a", "a2", "b"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
	if !mt.Now().Equal(start.Add(2 * time.Second)) {
		t.Errorf("unexpected clock %v", mt.Now())
	}
	if mt.Pending() != 0 {
		t.Errorf("expected no pending callbacks, got %d", mt.Pending())
	}
}

func TestManualTimer_ClockDuringCallback(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mt := NewManualTimer(start)
	var seen time.Time
	mt.ScheduleAfter(time.Second, func() { seen = mt.Now() })
	mt.Advance(5 * time.Second)
	if !seen.Equal(start.Add(time.Second)) {
		t.Errorf("callback observed %v, want %v", seen, start.Add(time.Second))
	}
}

func TestRecordingSpeaker(t *testing.T) {
	s := &RecordingSpeaker{}
	s.Speak("one")
	s.Stop()
	s.Speak("two")
	if got := s.Spoken(); len(got) != 2 || got[1] != "two" {
		t.Errorf("unexpected spoken %v", got)
	}
	if s.Stops() != 1 {
		t.Errorf("expected one stop, got %d", s.Stops())
	}
}
