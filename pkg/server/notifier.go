package server

import (
	"log"

	"github.com/nicktill/tixcondenser/pkg/sender"
	"github.com/nicktill/tixcondenser/pkg/server/monitor"
	"github.com/nicktill/tixcondenser/pkg/telemetry"
)

// Notifier forwards submission outcomes to metrics, the health monitor and
// WebSocket subscribers. Any field may be nil.
type Notifier struct {
	Metrics *telemetry.Metrics
	Monitor *monitor.SubmissionMonitor
	Hub     *Hub
}

// Submitted implements sender.Observer
func (n *Notifier) Submitted(e sender.SubmittedEvent) {
	if n.Metrics != nil {
		n.Metrics.Submitted(e.Retired)
	}
	if n.Monitor != nil {
		n.Monitor.RecordSuccess()
	}
	if n.Hub != nil && n.Hub.Clients() > 0 {
		if err := n.Hub.Publish(e); err != nil {
			log.Printf("Failed to broadcast submission: %v", err)
		}
	}
}

// Failed implements sender.Observer
func (n *Notifier) Failed(installationID int64, err error) {
	log.Printf("Installation %d batch not delivered: %v", installationID, err)
	if n.Metrics != nil {
		n.Metrics.SubmitFailed()
	}
	if n.Monitor != nil {
		n.Monitor.RecordFailure(err)
	}
}

var _ sender.Observer = (*Notifier)(nil)
