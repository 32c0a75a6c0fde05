package ipc

import (
	"github.com/agentcore/agentcore/escalation"
	"github.com/agentcore/agentcore/types"
)

// Ack acknowledges requestId with no further payload.
func (p *Protocol) Ack(requestID string) error {
	return p.Send(Frame{"type": "ack", "requestId": requestID})
}

// PermitGranted reports an admitted permit (spec.md §6).
func (p *Protocol) PermitGranted(requestID string, permit types.PermitView) error {
	return p.Send(Frame{
		"type":      "permit_granted",
		"requestId": requestID,
		"permit":    permit,
	})
}

// PermitRejected reports a declined permit request.
func (p *Protocol) PermitRejected(requestID string, rejection types.PermitRejection) error {
	return p.Send(Frame{
		"type":      "permit_rejected",
		"requestId": requestID,
		"reason":    rejection.Reason,
		"detail":    rejection.Detail,
	})
}

// JobCompleted reports a job's terminal worker result.
func (p *Protocol) JobCompleted(jobID string, result types.WorkerResult) error {
	return p.Send(Frame{
		"type":         "job_completed",
		"jobId":        jobID,
		"status":       result.Status,
		"artifacts":    result.Artifacts,
		"observations": result.Observations,
		"cost":         result.Cost,
		"durationMs":   result.DurationMs,
		"errorClass":   result.ErrorClass,
	})
}

// JobCancelled reports that a job was cancelled before completion.
func (p *Protocol) JobCancelled(jobID string, reason string) error {
	return p.Send(Frame{
		"type":   "job_cancelled",
		"jobId":  jobID,
		"reason": reason,
	})
}

// Escalation forwards an escalation.Event raised by the EscalationManager.
func (p *Protocol) Escalation(event escalation.Event) error {
	return p.Send(Frame{
		"type":      "escalation",
		"scope":     event.Scope,
		"action":    event.Action,
		"target":    event.Target,
		"reason":    event.Reason,
		"timestamp": event.Timestamp,
		"severity":  event.Severity,
	})
}

// Heartbeat emits a liveness frame.
func (p *Protocol) Heartbeat(timestamp int64) error {
	return p.Send(Frame{"type": "heartbeat", "timestamp": timestamp})
}

// ErrorFrame reports an operational error keyed by the failing op.
func (p *Protocol) ErrorFrame(requestID, op string, err error) error {
	frame := Frame{"type": "error", "op": op, "message": err.Error()}
	if requestID != "" {
		frame["requestId"] = requestID
	}
	return p.Send(frame)
}

// SubmitJob is the scheduler-side outbound message requesting that the
// sentinel/runtime admit and run job.
func (p *Protocol) SubmitJob(requestID string, job types.Job) error {
	return p.Send(Frame{
		"type":      "submit_job",
		"requestId": requestID,
		"job":       job,
	})
}

// RequestPermit is the scheduler-side outbound message asking the
// PermitGate (running on the other end of the pipe) to admit an attempt.
func (p *Protocol) RequestPermit(requestID string, job types.Job, attemptIndex int) error {
	return p.Send(Frame{
		"type":         "request_permit",
		"requestId":    requestID,
		"job":          job,
		"attemptIndex": attemptIndex,
	})
}

// CancelJob is the scheduler-side outbound message asking for a running
// job to be cancelled.
func (p *Protocol) CancelJob(requestID, jobID, reason string) error {
	return p.Send(Frame{
		"type":      "cancel_job",
		"requestId": requestID,
		"jobId":     jobID,
		"reason":    reason,
	})
}

// MetricsReport is the scheduler-side outbound message carrying a
// snapshot of watchdog/budget metrics for external observability.
func (p *Protocol) MetricsReport(metrics map[string]float64) error {
	return p.Send(Frame{"type": "metrics_report", "metrics": metrics})
}
