package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/autopilot/internal/channel"
	"github.com/Iron-Ham/autopilot/internal/event"
	"github.com/Iron-Ham/autopilot/internal/util"
)

// forward relays bus events to the message channel. Delivery is best effort.
func (e *Engine) forward(ev event.Event) {
	n, ok := notificationFor(ev)
	if !ok {
		return
	}
	n.Time = ev.Timestamp()
	n.Type = ev.EventType()
	if err := e.channel.Notify(context.Background(), n); err != nil {
		e.logger.Warn("notification failed", "type", n.Type, "task_id", n.TaskID, "error", err.Error())
	}
}

// notificationFor renders the events a supervisor cares about. Checkpoint
// saves and step starts stay on the bus only.
func notificationFor(ev event.Event) (channel.Notification, bool) {
	switch e := ev.(type) {
	case event.TaskStartedEvent:
		verb := "started"
		if e.Resumed {
			verb = "resumed"
		}
		return channel.Notification{TaskID: e.TaskID, Message: fmt.Sprintf("Task %s %s: %s", e.TaskID, verb, e.Title)}, true

	case event.PhaseChangedEvent:
		return channel.Notification{
			TaskID:  e.TaskID,
			Message: fmt.Sprintf("%s -> %s (attempt %d)", e.From, e.To, e.Attempt),
		}, true

	case event.StepFinishedEvent:
		if e.Success {
			return channel.Notification{}, false
		}
		msg := fmt.Sprintf("Step %d failed", e.StepIndex+1)
		if e.Aborted {
			msg = fmt.Sprintf("Step %d aborted", e.StepIndex+1)
		}
		n := channel.Notification{TaskID: e.TaskID, Message: msg}
		if e.FailureDetail != "" && !e.Aborted {
			n.Details = []string{util.TruncateString(util.FirstLine(e.FailureDetail), 300)}
		}
		return n, true

	case event.VerificationEvent:
		n := channel.Notification{TaskID: e.TaskID}
		passed := 0
		for _, c := range e.Checks {
			status := "FAIL"
			if c.Passed {
				status = "PASS"
				passed++
			}
			n.Details = append(n.Details, fmt.Sprintf("[%s] %s: %s", status, c.Name, c.Reason))
		}
		result := "failed"
		if e.Passed {
			result = "passed"
		}
		n.Message = fmt.Sprintf("Verification %s (%d/%d checks)", result, passed, len(e.Checks))
		return n, true

	case event.RecoveryDecidedEvent:
		return channel.Notification{
			TaskID:  e.TaskID,
			Message: fmt.Sprintf("Attempt %d failed (%s): %s", e.Attempt, e.Kind, e.Strategy),
			Details: []string{e.Reason},
		}, true

	case event.TaskEscalatedEvent:
		n := channel.Notification{
			TaskID:  e.TaskID,
			Message: fmt.Sprintf("Task %s needs a decision: %s", e.TaskID, e.Reason),
		}
		n.Details = append(n.Details, strings.Split(e.History, "\n")...)
		for _, r := range e.VerifierReasons {
			n.Details = append(n.Details, "verifier: "+r)
		}
		n.Details = append(n.Details, "reply with: resume [note] | skip | complete")
		return n, true

	case event.TaskDecisionEvent:
		return channel.Notification{TaskID: e.TaskID, Message: fmt.Sprintf("Decision for %s: %s", e.TaskID, e.Decision)}, true

	case event.TaskCompletedEvent:
		msg := fmt.Sprintf("Task %s completed after %d attempt(s) in %s", e.TaskID, e.Attempts, e.Duration.Round(time.Millisecond))
		if e.Manual {
			msg = fmt.Sprintf("Task %s marked complete by a human", e.TaskID)
		}
		return channel.Notification{TaskID: e.TaskID, Message: msg}, true

	case event.TaskFailedEvent:
		return channel.Notification{
			TaskID:  e.TaskID,
			Message: fmt.Sprintf("Task %s failed after %d attempt(s): %s", e.TaskID, e.Attempts, e.Reason),
		}, true

	case event.TaskCancelledEvent:
		return channel.Notification{
			TaskID:  e.TaskID,
			Message: fmt.Sprintf("Task %s cancelled in %s at step %d", e.TaskID, e.Phase, e.StepIndex+1),
		}, true

	case event.PersistenceWarningEvent:
		return channel.Notification{
			TaskID:  e.TaskID,
			Message: "Persistence warning: " + e.Operation,
			Details: []string{e.Err},
		}, true
	}
	return channel.Notification{}, false
}
