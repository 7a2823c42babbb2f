package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

type RefreshTrigger string

const (
	TriggerManual   RefreshTrigger = "manual"
	TriggerSchedule RefreshTrigger = "schedule"
	TriggerStale    RefreshTrigger = "stale"
	TriggerEmpty    RefreshTrigger = "empty"
	TriggerStartup  RefreshTrigger = "startup"
	TriggerCLI      RefreshTrigger = "cli"
)

type RefreshRun struct {
	ID          int64          `json:"id" db:"id"`
	Region      string         `json:"region" db:"region"`
	Trigger     RefreshTrigger `json:"trigger" db:"trigger"`
	StartedAt   time.Time      `json:"started_at" db:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at" db:"finished_at"`
	Status      RunStatus      `json:"status" db:"status"`
	Pages       int            `json:"pages" db:"pages"`
	Fetched     int            `json:"fetched" db:"fetched"`
	Inserted    int            `json:"inserted" db:"inserted"`
	Updated     int            `json:"updated" db:"updated"`
	Unchanged   int            `json:"unchanged" db:"unchanged"`
	Deactivated int            `json:"deactivated" db:"deactivated"`
	Error       string         `json:"error,omitempty" db:"error"`
}
