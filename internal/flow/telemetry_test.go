package flow

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/8428215330a-ui/Jarvis/internal/testutil"
)

func TestSimulatedTelemetryRanges(t *testing.T) {
	mt := testutil.NewManualTimer(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	src := NewSimulatedTelemetry(mt, 42)
	for i := 0; i < 200; i++ {
		s, err := src.Snapshot(context.Background())
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if s.Biometrics.HeartRate < 60 || s.Biometrics.HeartRate >= 140 {
			t.Fatalf("heart rate out of range: %d", s.Biometrics.HeartRate)
		}
		if s.Biometrics.BodyTemp < 97 || s.Biometrics.BodyTemp > 101 {
			t.Fatalf("body temp out of range: %v", s.Biometrics.BodyTemp)
		}
		if r := s.Biometrics.BodyTemp * 10; math.Abs(r-math.Round(r)) > 1e-9 {
			t.Fatalf("body temp not rounded to one decimal: %v", s.Biometrics.BodyTemp)
		}
		if s.System.BatteryLevel < 0 || s.System.BatteryLevel >= 100 {
			t.Fatalf("battery out of range: %d", s.System.BatteryLevel)
		}
		if s.External.AirQualityIndex != 120 || s.System.NetworkLatency != "45ms" {
			t.Fatalf("unexpected fixed readings: %+v", s)
		}
		if !s.Timestamp.Equal(mt.Now()) {
			t.Fatalf("timestamp should come from the clock")
		}
	}
}

func TestSimulatedTelemetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSimulatedTelemetry(nil, 1).Snapshot(ctx); err == nil {
		t.Error("expected cancelled context error")
	}
}
