package events

import (
	"testing"
	"time"
)

func recvTimeout(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewTaskReadyEvent("wf1", "t1"))

	ev := recvTimeout(t, ch)
	if ev.EventType() != TypeTaskReady {
		t.Errorf("event type = %s", ev.EventType())
	}
	if ev.WorkflowID() != "wf1" {
		t.Errorf("workflow = %s", ev.WorkflowID())
	}
}

func TestBus_TypeFilter(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe(TypeTaskFailed)
	bus.Publish(NewTaskReadyEvent("wf1", "t1"))
	bus.Publish(NewTaskFailedEvent("wf1", "t2", "TASK_EXHAUSTED", nil))

	ev := recvTimeout(t, ch)
	if ev.EventType() != TypeTaskFailed {
		t.Errorf("filter leaked event type %s", ev.EventType())
	}
}

func TestBus_WorkflowFilterOrdered(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.SubscribeWorkflow("wf1")
	bus.Publish(NewTaskReadyEvent("wf2", "other"))
	bus.Publish(NewTaskReadyEvent("wf1", "t1"))
	bus.Publish(NewTaskClaimedEvent("wf1", "t1", "a1", 0))

	first := recvTimeout(t, ch)
	second := recvTimeout(t, ch)
	if first.EventType() != TypeTaskReady || second.EventType() != TypeTaskClaimed {
		t.Errorf("events out of order: %s then %s", first.EventType(), second.EventType())
	}
}

func TestBus_DropsOldestWhenFull(t *testing.T) {
	bus := New(2)
	defer bus.Close()

	ch := bus.Subscribe()
	for i := 0; i < 5; i++ {
		bus.Publish(NewTaskReadyEvent("wf1", "t"))
	}

	if bus.DroppedCount() == 0 {
		t.Error("expected drops on saturated subscriber")
	}
	// Channel still delivers the most recent events.
	recvTimeout(t, ch)
}

func TestBus_PriorityNeverDrops(t *testing.T) {
	bus := New(2)
	defer bus.Close()

	ch := bus.SubscribePriority()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			recvTimeout(t, ch)
		}
	}()

	for i := 0; i < 10; i++ {
		bus.PublishPriority(NewWorkflowFailedEvent("wf1", "design", "TASK_EXHAUSTED", nil))
	}
	<-done
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	// Channel is closed after unsubscribe.
	if _, ok := <-ch; ok {
		t.Error("channel should be closed")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish(NewTaskReadyEvent("wf1", "t1"))
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := New(10)
	bus.Close()
	bus.Publish(NewTaskReadyEvent("wf1", "t1"))
	bus.Close() // idempotent
}
