// Package pipeline turns change events into reaction runs: synchronize the
// maildir, inspect the newest message, notify the desktop, then fire the
// best-effort audio cue and re-index triggers.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"mailwatch/internal/logging"
	"mailwatch/internal/models"
	"mailwatch/internal/protocol"
)

// Stages are the externally visible actions of one run. MailStages is the
// production implementation; tests substitute fakes.
type Stages interface {
	// Sync runs the external synchronization command.
	Sync(ctx context.Context) error
	// NewestMessage locates the most recently delivered message and
	// extracts its metadata.
	NewestMessage() (models.MailMetadata, error)
	// Notify shows a desktop notification for the message.
	Notify(meta models.MailMetadata) error
	// AudioCue plays the new-mail sound. Best effort.
	AudioCue() error
	// TriggerReindex asks the configured mail client to re-index.
	// Best effort.
	TriggerReindex() error
}

// StageStatus is the outcome of one stage within a run.
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailure StageStatus = "failure"
	StageSkipped StageStatus = "skipped"
)

// Run records one triggered reaction; it exists for the duration of the run
// and is only used for logging and tests.
type Run struct {
	TraceID   string
	Trigger   protocol.ChangeEvent
	StartedAt time.Time
	Outcomes  map[string]StageStatus
}

// Dispatcher executes runs sequentially. The capacity-1 event channel is
// the single-slot "run requested" flag: an event arriving while a run is
// executing parks in the channel, and any further events coalesce into it
// because the supervisor's send is non-blocking.
type Dispatcher struct {
	events <-chan protocol.ChangeEvent
	stages Stages
}

// NewDispatcher creates a Dispatcher consuming events and executing stages.
func NewDispatcher(events <-chan protocol.ChangeEvent, stages Stages) *Dispatcher {
	return &Dispatcher{events: events, stages: stages}
}

// Loop consumes events until ctx is cancelled. A run already executing is
// allowed to finish; no new run starts after cancellation.
func (d *Dispatcher) Loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.events:
			if ctx.Err() != nil {
				return
			}
			d.Execute(ctx, ev)
		}
	}
}

// Execute performs one run: stages strictly in order, each gated on the
// previous one's success, with the trailing stages best-effort. A stage
// failure ends the run but never propagates to the caller.
func (d *Dispatcher) Execute(ctx context.Context, trigger protocol.ChangeEvent) *Run {
	run := &Run{
		TraceID:   uuid.New().String(),
		Trigger:   trigger,
		StartedAt: time.Now(),
		Outcomes: map[string]StageStatus{
			"sync":    StageSkipped,
			"locate":  StageSkipped,
			"notify":  StageSkipped,
			"audio":   StageSkipped,
			"reindex": StageSkipped,
		},
	}
	log := logging.Log.WithField("trace_id", run.TraceID)
	log.Infof("New mail event (%s), starting pipeline", trigger.Kind)

	defer func() {
		log.Infof("Pipeline finished in %s: %v", time.Since(run.StartedAt), run.Outcomes)
	}()

	if err := d.stages.Sync(ctx); err != nil {
		run.Outcomes["sync"] = StageFailure
		log.Errorf("Synchronization failed: %v", err)
		return run
	}
	run.Outcomes["sync"] = StageSuccess

	meta, err := d.stages.NewestMessage()
	if err != nil {
		run.Outcomes["locate"] = StageFailure
		log.Errorf("Locating newest message failed: %v", err)
		return run
	}
	run.Outcomes["locate"] = StageSuccess

	if err := d.stages.Notify(meta); err != nil {
		run.Outcomes["notify"] = StageFailure
		log.Errorf("Notification failed: %v", err)
		return run
	}
	run.Outcomes["notify"] = StageSuccess

	if err := d.stages.AudioCue(); err != nil {
		run.Outcomes["audio"] = StageFailure
		log.Warnf("Audio cue failed: %v", err)
	} else {
		run.Outcomes["audio"] = StageSuccess
	}

	if err := d.stages.TriggerReindex(); err != nil {
		run.Outcomes["reindex"] = StageFailure
		log.Warnf("Re-index trigger failed: %v", err)
	} else {
		run.Outcomes["reindex"] = StageSuccess
	}

	return run
}
