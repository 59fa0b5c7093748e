package inspector

import (
	"testing"
	"time"
)

func TestNewEngineEvent(t *testing.T) {
	before := time.Now()
	event := NewEngineEvent(KindRunStarted, "run-123")
	after := time.Now()

	if event.Kind != KindRunStarted {
		t.Errorf("EngineEvent.Kind = %v, want %v", event.Kind, KindRunStarted)
	}
	if event.RunID != "run-123" {
		t.Errorf("EngineEvent.RunID = %v, want 'run-123'", event.RunID)
	}
	if event.Time.Before(before) || event.Time.After(after) {
		t.Error("EngineEvent.Time should be between before and after")
	}
	if event.Partition != -1 {
		t.Errorf("EngineEvent.Partition = %v, want -1", event.Partition)
	}
	if event.Payload == nil {
		t.Error("EngineEvent.Payload should be initialized")
	}
}

func TestEngineEvent_WithPartition(t *testing.T) {
	event := NewEngineEvent(KindPartitionStarted, "run-123").
		WithPartition(7)

	if event.Partition != 7 {
		t.Errorf("EngineEvent.Partition = %v, want 7", event.Partition)
	}
}

func TestEngineEvent_WithStream(t *testing.T) {
	event := NewEngineEvent(KindPartitionStarted, "run-123").
		WithStream("order-42")

	if event.Stream != "order-42" {
		t.Errorf("EngineEvent.Stream = %v, want 'order-42'", event.Stream)
	}
}

func TestEngineEvent_WithElapsed(t *testing.T) {
	elapsed := 5 * time.Second
	event := NewEngineEvent(KindRunFinished, "run-123").
		WithElapsed(elapsed)

	if event.Elapsed != elapsed {
		t.Errorf("EngineEvent.Elapsed = %v, want %v", event.Elapsed, elapsed)
	}
}

func TestEngineEvent_WithPayload(t *testing.T) {
	event := NewEngineEvent(KindRunStarted, "run-123").
		WithPayload("key1", "value1").
		WithPayload("key2", 42)

	if event.Payload["key1"] != "value1" {
		t.Errorf("EngineEvent.Payload['key1'] = %v, want 'value1'", event.Payload["key1"])
	}
	if event.Payload["key2"] != 42 {
		t.Errorf("EngineEvent.Payload['key2'] = %v, want 42", event.Payload["key2"])
	}
}

func TestEngineEvent_WithPayload_NilPayload(t *testing.T) {
	event := EngineEvent{Kind: KindRunStarted}
	event = event.WithPayload("key", "value")

	if event.Payload == nil {
		t.Error("WithPayload should initialize Payload if nil")
	}
	if event.Payload["key"] != "value" {
		t.Error("WithPayload should set value")
	}
}

func TestEngineEvent_Chaining(t *testing.T) {
	event := NewEngineEvent(KindBatchApplied, "run-123").
		WithPartition(2).
		WithElapsed(100 * time.Millisecond).
		WithPayload("count", 200)

	if event.Kind != KindBatchApplied {
		t.Error("Kind not preserved through chaining")
	}
	if event.RunID != "run-123" {
		t.Error("RunID not preserved through chaining")
	}
	if event.Partition != 2 {
		t.Error("Partition not set")
	}
	if event.Elapsed != 100*time.Millisecond {
		t.Error("Elapsed not set")
	}
	if event.Payload["count"] != 200 {
		t.Error("Payload not set")
	}
}

func TestMultiEventHandler(t *testing.T) {
	var calls1, calls2 int

	handler1 := func(e EngineEvent) { calls1++ }
	handler2 := func(e EngineEvent) { calls2++ }

	multi := MultiEventHandler(handler1, handler2)
	multi(NewEngineEvent(KindRunStarted, "test"))

	if calls1 != 1 {
		t.Errorf("handler1 called %d times, want 1", calls1)
	}
	if calls2 != 1 {
		t.Errorf("handler2 called %d times, want 1", calls2)
	}
}

func TestMultiEventHandler_NilHandler(t *testing.T) {
	var calls int
	handler := func(e EngineEvent) { calls++ }

	// Should not panic with nil handlers
	multi := MultiEventHandler(nil, handler, nil)
	multi(NewEngineEvent(KindRunStarted, "test"))

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestChannelEventHandler(t *testing.T) {
	ch := make(chan EngineEvent, 2)
	handler := ChannelEventHandler(ch)

	handler(NewEngineEvent(KindRunStarted, "test"))
	handler(NewEngineEvent(KindRunFinished, "test"))

	received1 := <-ch
	received2 := <-ch

	if received1.Kind != KindRunStarted {
		t.Error("First event kind incorrect")
	}
	if received2.Kind != KindRunFinished {
		t.Error("Second event kind incorrect")
	}
}

func TestChannelEventHandler_FullChannel(t *testing.T) {
	ch := make(chan EngineEvent, 1)
	handler := ChannelEventHandler(ch)

	// Fill the channel
	handler(NewEngineEvent(KindRunStarted, "test"))

	// This should not block (event dropped)
	done := make(chan bool)
	go func() {
		handler(NewEngineEvent(KindRunFinished, "test"))
		done <- true
	}()

	select {
	case <-done:
		// Good, handler returned without blocking
	case <-time.After(100 * time.Millisecond):
		t.Error("ChannelEventHandler blocked on full channel")
	}
}
