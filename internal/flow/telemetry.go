package flow

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/8428215330a-ui/Jarvis/internal/models"
	"github.com/8428215330a-ui/Jarvis/internal/timer"
)

// TelemetrySource produces a fresh snapshot for each reasoning run.
type TelemetrySource interface {
	Snapshot(ctx context.Context) (models.TelemetrySnapshot, error)
}

// SimulatedTelemetry generates plausible readings that occasionally cross
// warning thresholds.
type SimulatedTelemetry struct {
	clock timer.Clock

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedTelemetry creates a generator. The seed makes runs reproducible.
func NewSimulatedTelemetry(clock timer.Clock, seed uint64) *SimulatedTelemetry {
	if clock == nil {
		clock = timer.SystemClock{}
	}
	return &SimulatedTelemetry{clock: clock, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SimulatedTelemetry) Snapshot(ctx context.Context) (models.TelemetrySnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.TelemetrySnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.TelemetrySnapshot{
		Timestamp: s.clock.Now(),
		Biometrics: models.BiometricTelemetry{
			HeartRate: 60 + s.rng.IntN(80),
			BodyTemp:  math.Round((97+s.rng.Float64()*4)*10) / 10,
		},
		System: models.SystemTelemetry{
			BatteryLevel:   s.rng.IntN(100),
			NetworkLatency: "45ms",
		},
		External: models.ExternalTelemetry{
			Weather:         "Storm Warning",
			AirQualityIndex: 120,
		},
	}, nil
}
