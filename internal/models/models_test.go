package models

import (
	"errors"
	"testing"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"VISUAL_AID", ModeVisualAid},
		{"navigation", ModeNavigation},
		{"sign interpreter", ModeSignInterpreter},
		{" social-eye ", ModeSocialEye},
		{"AUDITORY_ASSISTANT", ModeAuditoryAssistant},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if err != nil {
			t.Errorf("ParseMode(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseMode_Unknown(t *testing.T) {
	_, err := ParseMode("x-ray")
	if !errors.Is(err, ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}
}

func TestModeLabelAndCamera(t *testing.T) {
	if got := ModeSignInterpreter.Label(); got != "SIGN INTERPRETER" {
		t.Errorf("unexpected label %q", got)
	}
	if ModeAuditoryAssistant.UsesCamera() {
		t.Error("auditory assistant must not sample the camera")
	}
	for _, m := range []Mode{ModeVisualAid, ModeSocialEye, ModeNavigation, ModeSignInterpreter} {
		if !m.UsesCamera() {
			t.Errorf("%s should sample the camera", m)
		}
	}
}

func TestFlowCloneDoesNotAliasTasks(t *testing.T) {
	f := Flow{ID: "f1", Tasks: []Task{{ID: "t1", Status: TaskStatusPending}}}
	c := f.Clone()
	c.Tasks[0].Status = TaskStatusCompleted
	if f.Tasks[0].Status != TaskStatusPending {
		t.Error("clone shares task storage with the original")
	}
}

func TestFlowStatusTriggerable(t *testing.T) {
	for _, s := range []FlowStatus{FlowStatusIdle, FlowStatusSuccess, FlowStatusFailed} {
		if !s.Triggerable() {
			t.Errorf("%s should be triggerable", s)
		}
	}
	if FlowStatusRunning.Triggerable() {
		t.Error("RUNNING must not be triggerable")
	}
}

func TestLocationFixString(t *testing.T) {
	f := LocationFix{Lat: 40.712776, Lng: -74.005974}
	if got := f.String(); got != "40.7128, -74.0060" {
		t.Errorf("unexpected fix rendering %q", got)
	}
}

func TestAPIResponseHelpers(t *testing.T) {
	if r := Error("boom"); r.Status != string(APIStatusError) || r.Message != "boom" {
		t.Errorf("unexpected error response %+v", r)
	}
	if r := Success(42); r.Status != string(APIStatusOK) || r.Result != 42 {
		t.Errorf("unexpected success response %+v", r)
	}
	if r := Ignored("busy"); r.Status != string(APIStatusIgnored) {
		t.Errorf("unexpected ignored response %+v", r)
	}
}
