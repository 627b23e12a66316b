// Package models defines workflow types to avoid circular imports.
package models

import "time"

// FlowKind selects the branch logic a flow runs at its second stage.
type FlowKind string

const (
	// FlowKindGeneric advances tasks on fixed delays with no external call.
	FlowKindGeneric FlowKind = "generic"
	// FlowKindReasoning sends a telemetry snapshot to the reasoning agent.
	FlowKindReasoning FlowKind = "reasoning"
	// FlowKindEmergency dials the emergency contact.
	FlowKindEmergency FlowKind = "emergency"
)

// IsValidFlowKind checks if the given kind is supported.
func IsValidFlowKind(k FlowKind) bool {
	switch k {
	case FlowKindGeneric, FlowKindReasoning, FlowKindEmergency:
		return true
	}
	return false
}

// FlowStatus is the flow level state.
type FlowStatus string

const (
	FlowStatusIdle    FlowStatus = "IDLE"
	FlowStatusRunning FlowStatus = "RUNNING"
	FlowStatusSuccess FlowStatus = "SUCCESS"
	FlowStatusFailed  FlowStatus = "FAILED"
)

// Triggerable reports whether a flow in this status may start a new run.
func (s FlowStatus) Triggerable() bool {
	return s != FlowStatusRunning
}

// TaskStatus is the state of one stage inside a flow run.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
)

// Task is one stage inside a Flow.
type Task struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Status TaskStatus `json:"status"`
}

// Flow is one named orchestrated workflow.
type Flow struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Kind   FlowKind   `json:"kind"`
	Status FlowStatus `json:"status"`
	Tasks  []Task     `json:"tasks"`

	// Schedule is an optional cron expression that triggers the flow unattended.
	Schedule string `json:"schedule,omitempty"`

	RunID            string    `json:"run_id,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	FinishedAt       time.Time `json:"finished_at,omitempty"`
	DialingCancelled bool      `json:"dialing_cancelled,omitempty"`
}

// Clone returns a deep copy so callers never alias engine state.
func (f Flow) Clone() Flow {
	out := f
	out.Tasks = append([]Task(nil), f.Tasks...)
	return out
}

// Decision is the three level classification produced by the reasoning agent.
type Decision string

const (
	DecisionNormal   Decision = "NORMAL"
	DecisionWarning  Decision = "WARNING"
	DecisionCritical Decision = "CRITICAL"
)

// IsValidDecision checks if the given decision is one of the known levels.
func IsValidDecision(d Decision) bool {
	switch d {
	case DecisionNormal, DecisionWarning, DecisionCritical:
		return true
	}
	return false
}

// AgentVerdict is the structured answer of the reasoning collaborator.
type AgentVerdict struct {
	Summary  string   `json:"summary"`
	Decision Decision `json:"decision"`
}

// AgentResult is the live outcome of a reasoning stage.
type AgentResult struct {
	Summary    string    `json:"summary"`
	Decision   Decision  `json:"decision"`
	DataSource string    `json:"data_source"`
	FlowID     string    `json:"flow_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// TelemetrySnapshot aggregates biometric, system and environment metrics for
// the reasoning agent.
type TelemetrySnapshot struct {
	Timestamp  time.Time          `json:"timestamp"`
	Biometrics BiometricTelemetry `json:"biometrics"`
	System     SystemTelemetry    `json:"system"`
	External   ExternalTelemetry  `json:"external"`
}

type BiometricTelemetry struct {
	HeartRate int     `json:"heartRate"`
	BodyTemp  float64 `json:"bodyTemp"`
}

type SystemTelemetry struct {
	BatteryLevel   int    `json:"batteryLevel"`
	NetworkLatency string `json:"networkLatency"`
}

type ExternalTelemetry struct {
	Weather         string `json:"weather"`
	AirQualityIndex int    `json:"airQualityIndex"`
}
