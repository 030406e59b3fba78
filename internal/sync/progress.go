package sync

import (
	"time"

	"github.com/harborlight/mailsync/internal/telemetry"
)

// Status is the sync run state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ConnectionStatus reflects provider reachability, independent of the run
// state.
type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionReconnecting ConnectionStatus = "reconnecting"
)

// Progress is a snapshot of one sync run. Counters are monotonically
// non-decreasing within a run; they reset when a new run starts.
// TotalBatches and CurrentBatch are advisory, derived from the provider's
// estimate, which may be wrong.
type Progress struct {
	Status                    Status                    `json:"status"`
	TotalMessages             int                       `json:"totalMessages"`
	ProcessedMessages         int                       `json:"processedMessages"`
	CurrentBatch              int                       `json:"currentBatch"`
	TotalBatches              int                       `json:"totalBatches"`
	StartTime                 *time.Time                `json:"startTime,omitempty"`
	EndTime                   *time.Time                `json:"endTime,omitempty"`
	MessagesPerSecond         float64                   `json:"messagesPerSecond"`
	EstimatedSecondsRemaining float64                   `json:"estimatedSecondsRemaining"`
	ConnectionStatus          ConnectionStatus          `json:"connectionStatus"`
	Error                     string                    `json:"error,omitempty"`
	DetailedErrors            []telemetry.SyncError     `json:"detailedErrors"`
	APICallLog                []telemetry.APICallRecord `json:"apiCallLog"`
}
