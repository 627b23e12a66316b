// Package models defines the log stream record shared by every subsystem.
package models

import "time"

// Sender identifies who produced a log entry.
type Sender string

const (
	SenderAssistant    Sender = "ASSISTANT"
	SenderUser         Sender = "USER"
	SenderSystem       Sender = "SYSTEM"
	SenderOrchestrator Sender = "ORCHESTRATOR"
)

// Category classifies a log entry for rendering.
type Category string

const (
	CategoryInfo          Category = "info"
	CategoryAlert         Category = "alert"
	CategorySuccess       Category = "success"
	CategoryTranscription Category = "transcription"
	CategoryWorkflow      Category = "workflow"
)

// LogEntry is one audit/narration record. Entries are values; once appended to
// the log stream they are never changed.
type LogEntry struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Sender    Sender    `json:"sender"`
	Message   string    `json:"message"`
	Category  Category  `json:"category"`
}
