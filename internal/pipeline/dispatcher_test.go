package pipeline

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"mailwatch/internal/models"
	"mailwatch/internal/protocol"
)

type fakeStages struct {
	mu        sync.Mutex
	calls     []string
	syncDelay time.Duration

	syncErr    error
	locateErr  error
	notifyErr  error
	audioErr   error
	reindexErr error
}

func (f *fakeStages) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeStages) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStages) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeStages) Sync(ctx context.Context) error {
	f.record("sync")
	if f.syncDelay > 0 {
		time.Sleep(f.syncDelay)
	}
	return f.syncErr
}

func (f *fakeStages) NewestMessage() (models.MailMetadata, error) {
	f.record("locate")
	if f.locateErr != nil {
		return models.MailMetadata{}, f.locateErr
	}
	return models.MailMetadata{From: "alice@example.com", Subject: "hi"}, nil
}

func (f *fakeStages) Notify(meta models.MailMetadata) error {
	f.record("notify")
	return f.notifyErr
}

func (f *fakeStages) AudioCue() error {
	f.record("audio")
	return f.audioErr
}

func (f *fakeStages) TriggerReindex() error {
	f.record("reindex")
	return f.reindexErr
}

func event() protocol.ChangeEvent {
	return protocol.ChangeEvent{
		Kind:       protocol.KindNewMessageCount,
		Value:      5,
		ObservedAt: time.Now(),
	}
}

func TestExecuteStageOrder(t *testing.T) {
	stages := &fakeStages{}
	d := NewDispatcher(nil, stages)

	run := d.Execute(context.Background(), event())

	want := []string{"sync", "locate", "notify", "audio", "reindex"}
	if got := stages.callList(); !reflect.DeepEqual(got, want) {
		t.Errorf("stage order = %v, want %v", got, want)
	}
	for stage, status := range run.Outcomes {
		if status != StageSuccess {
			t.Errorf("stage %s = %s, want success", stage, status)
		}
	}
	if run.TraceID == "" {
		t.Error("run missing trace id")
	}
}

func TestSyncFailureGatesRemainingStages(t *testing.T) {
	stages := &fakeStages{syncErr: errors.New("mbsync exited 1")}
	d := NewDispatcher(nil, stages)

	run := d.Execute(context.Background(), event())

	if got := stages.callList(); !reflect.DeepEqual(got, []string{"sync"}) {
		t.Errorf("calls = %v, want only sync", got)
	}
	if run.Outcomes["sync"] != StageFailure {
		t.Errorf("sync outcome = %s, want failure", run.Outcomes["sync"])
	}
	for _, stage := range []string{"locate", "notify", "audio", "reindex"} {
		if run.Outcomes[stage] != StageSkipped {
			t.Errorf("stage %s = %s, want skipped", stage, run.Outcomes[stage])
		}
	}
}

func TestLocateFailureSkipsNotify(t *testing.T) {
	stages := &fakeStages{locateErr: errors.New("no recent message")}
	d := NewDispatcher(nil, stages)

	run := d.Execute(context.Background(), event())

	if got := stages.callList(); !reflect.DeepEqual(got, []string{"sync", "locate"}) {
		t.Errorf("calls = %v, want sync then locate", got)
	}
	if run.Outcomes["notify"] != StageSkipped {
		t.Errorf("notify outcome = %s, want skipped", run.Outcomes["notify"])
	}
}

func TestBestEffortFailuresDoNotAbortRun(t *testing.T) {
	stages := &fakeStages{audioErr: errors.New("no audio device")}
	d := NewDispatcher(nil, stages)

	run := d.Execute(context.Background(), event())

	if stages.count("reindex") != 1 {
		t.Error("reindex should still run after an audio failure")
	}
	if run.Outcomes["audio"] != StageFailure {
		t.Errorf("audio outcome = %s, want failure", run.Outcomes["audio"])
	}
	if run.Outcomes["reindex"] != StageSuccess {
		t.Errorf("reindex outcome = %s, want success", run.Outcomes["reindex"])
	}
}

// forward mimics the supervisor's non-blocking send into the capacity-1
// channel: a full channel means a run is already pending and the event
// coalesces.
func forward(events chan protocol.ChangeEvent, ev protocol.ChangeEvent) {
	select {
	case events <- ev:
	default:
	}
}

func TestBurstCoalescesIntoSingleFollowUpRun(t *testing.T) {
	stages := &fakeStages{syncDelay: 100 * time.Millisecond}
	events := make(chan protocol.ChangeEvent, 1)
	d := NewDispatcher(events, stages)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		d.Loop(ctx)
		close(done)
	}()

	// First event starts a run; the burst arrives while it executes.
	forward(events, event())
	time.Sleep(30 * time.Millisecond)
	forward(events, event())
	time.Sleep(10 * time.Millisecond)
	forward(events, event())
	time.Sleep(10 * time.Millisecond)
	forward(events, event())

	// Let the original run and the single coalesced follow-up finish.
	time.Sleep(400 * time.Millisecond)

	if got := stages.count("sync"); got != 2 {
		t.Errorf("runs = %d, want exactly 2 (original + one coalesced follow-up)", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}
}

func TestNoNewRunAfterCancellation(t *testing.T) {
	stages := &fakeStages{}
	events := make(chan protocol.ChangeEvent, 1)
	d := NewDispatcher(events, stages)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	events <- event()

	done := make(chan struct{})
	go func() {
		d.Loop(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	if got := stages.count("sync"); got != 0 {
		t.Errorf("runs after cancellation = %d, want 0", got)
	}
}

func TestRunsNeverOverlap(t *testing.T) {
	stages := &fakeStages{syncDelay: 40 * time.Millisecond}
	events := make(chan protocol.ChangeEvent, 1)
	d := NewDispatcher(events, stages)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Loop(ctx)

	for i := 0; i < 5; i++ {
		forward(events, event())
		time.Sleep(15 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)

	// Sequential execution means every run's stages appear as a complete
	// block: sync is always followed by the rest before the next sync.
	calls := stages.callList()
	var current int
	for _, c := range calls {
		if c == "sync" {
			if current != 0 && current != 5 {
				t.Fatalf("overlapping runs detected in call sequence %v", calls)
			}
			current = 1
			continue
		}
		current++
	}
}
