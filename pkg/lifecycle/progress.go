package lifecycle

import (
	"time"

	"github.com/google/uuid"
)

// ProgressSink is a channel-backed TaskHandle. Sends never block: when the
// channel buffer is full the message is dropped, since progress reporting is
// best-effort and must not stall a provisioning call.
type ProgressSink struct {
	deploymentID string
	stage        string
	events       chan<- DeploymentEvent
}

// NewProgressSink creates a sink that emits DeploymentEvents for the given
// deployment onto events.
func NewProgressSink(deploymentID, stage string, events chan<- DeploymentEvent) *ProgressSink {
	return &ProgressSink{deploymentID: deploymentID, stage: stage, events: events}
}

// ReportProgress implements TaskHandle.
func (s *ProgressSink) ReportProgress(message string) {
	ev := DeploymentEvent{
		ID:           uuid.New().String(),
		DeploymentID: s.deploymentID,
		Stage:        s.stage,
		Message:      message,
		Timestamp:    time.Now(),
	}
	select {
	case s.events <- ev:
	default:
	}
}

// WithStage returns a sink reporting under a different lifecycle stage.
func (s *ProgressSink) WithStage(stage string) *ProgressSink {
	return &ProgressSink{deploymentID: s.deploymentID, stage: stage, events: s.events}
}

// TaskFunc adapts a function to the TaskHandle interface.
type TaskFunc func(message string)

// ReportProgress implements TaskHandle.
func (f TaskFunc) ReportProgress(message string) { f(message) }

// DiscardTask is a TaskHandle that drops all progress messages.
var DiscardTask TaskHandle = TaskFunc(func(string) {})
