package amc

import "testing"

func TestRegisterServiceRejectsDuplicateName(t *testing.T) {
	b := New()
	if err := b.RegisterService(1, "com.axle.test"); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := b.RegisterService(2, "com.axle.test"); err == nil {
		t.Fatalf("expected duplicate-name registration to fail")
	}
}

func TestRegisterServiceRejectsOverlongName(t *testing.T) {
	b := New()
	long := make([]byte, MaxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := b.RegisterService(1, string(long)); err == nil {
		t.Fatalf("expected overlong name to be rejected")
	}
}

// TestSendReceiveRoundTrip covers spec §8 scenario 2: a message sent to a
// registered service arrives intact and in order.
func TestSendReceiveRoundTrip(t *testing.T) {
	b := New()
	if err := b.RegisterService(1, "com.axle.awm"); err != nil {
		t.Fatalf("register: %v", err)
	}

	var f1, f2 Frame
	f1.SetCharlist([]byte("hello"))
	f2.SetCharlist([]byte("world"))

	if ok := b.Send(2, "com.axle.kbd", "com.axle.awm", f1); !ok {
		t.Fatalf("send 1 failed")
	}
	if ok := b.Send(2, "com.axle.kbd", "com.axle.awm", f2); !ok {
		t.Fatalf("send 2 failed")
	}

	got1, ok := b.Pop(1, nil)
	if !ok {
		t.Fatalf("expected a pending message")
	}
	if string(got1.Charlist()) != "hello" {
		t.Fatalf("got %q, want hello", got1.Charlist())
	}
	if got1.Source != "com.axle.kbd" {
		t.Fatalf("source not tagged: %q", got1.Source)
	}

	got2, ok := b.Pop(1, nil)
	if !ok || string(got2.Charlist()) != "world" {
		t.Fatalf("expected second message world, got %+v ok=%v", got2, ok)
	}

	if _, ok := b.Pop(1, nil); ok {
		t.Fatalf("expected inbox to be empty")
	}
}

func TestSendToUnregisteredDestinationFails(t *testing.T) {
	b := New()
	var f Frame
	if ok := b.Send(1, "com.axle.kbd", "com.axle.nope", f); ok {
		t.Fatalf("expected send to unregistered service to fail")
	}
}

func TestSendFromCoreQueuesUntilRegistered(t *testing.T) {
	b := New()
	var f Frame
	f.SetCommand(CmdMapFramebuffer, nil)

	if ok := b.Send(0, "core", "com.axle.awm", f); !ok {
		t.Fatalf("expected core-origin send to queue pending registration")
	}

	if err := b.RegisterService(5, "com.axle.awm"); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, ok := b.Pop(5, nil)
	if !ok {
		t.Fatalf("expected queued message to be delivered on registration")
	}
	if got.Command() != CmdMapFramebuffer {
		t.Fatalf("wrong command delivered: %d", got.Command())
	}
}

// TestAwaitWithFilter covers spec §8 scenario 3: a task awaiting a message
// from a specific source is not woken by messages from other sources.
func TestAwaitWithFilter(t *testing.T) {
	b := New()
	if err := b.RegisterService(1, "com.axle.awm"); err != nil {
		t.Fatalf("register: %v", err)
	}

	var f Frame
	f.SetCharlist([]byte("ignored"))
	b.Send(9, "com.axle.other", "com.axle.awm", f)

	fromKbd := func(fr Frame) bool { return fr.Source == "com.axle.kbd" }
	if b.HasPending(1, fromKbd) {
		t.Fatalf("should not match message from a different source")
	}

	var f2 Frame
	f2.SetCharlist([]byte("key-event"))
	b.Send(2, "com.axle.kbd", "com.axle.awm", f2)

	if !b.HasPending(1, fromKbd) {
		t.Fatalf("expected a matching message to be pending")
	}
	got, ok := b.Pop(1, fromKbd)
	if !ok || string(got.Charlist()) != "key-event" {
		t.Fatalf("got %+v ok=%v", got, ok)
	}

	// the earlier unrelated message is still queued, untouched by the filter.
	if !b.HasPending(1, nil) {
		t.Fatalf("expected the earlier unmatched message to remain queued")
	}
}

func TestBroadcastSkipsSenderAndWakesOthers(t *testing.T) {
	b := New()
	b.RegisterService(1, "com.axle.a")
	b.RegisterService(2, "com.axle.b")

	var woken []TaskID
	b.SetUnblockFunc(func(owner TaskID, serviceName string) {
		woken = append(woken, owner)
	})

	var f Frame
	f.SetCharlist([]byte("tick"))
	b.Broadcast(1, "com.axle.a", f)

	if b.HasPending(1, nil) {
		t.Fatalf("broadcaster should not receive its own broadcast")
	}
	if !b.HasPending(2, nil) {
		t.Fatalf("expected other service to receive the broadcast")
	}
	if len(woken) != 1 || woken[0] != 2 {
		t.Fatalf("expected exactly owner 2 to be woken, got %v", woken)
	}
}

func TestInboxCapDropsExcessMessages(t *testing.T) {
	b := New()
	b.RegisterService(1, "com.axle.sink")

	var f Frame
	for i := 0; i < maxInboxDepth; i++ {
		if ok := b.Send(2, "com.axle.src", "com.axle.sink", f); !ok {
			t.Fatalf("send %d unexpectedly dropped", i)
		}
	}
	if ok := b.Send(2, "com.axle.src", "com.axle.sink", f); ok {
		t.Fatalf("expected send beyond capacity to be dropped")
	}
}

func TestTaskDiedNotifiesDeathObservers(t *testing.T) {
	b := New()
	b.RegisterService(1, "com.axle.filesystem")
	b.RegisterService(2, "com.axle.watcher")
	b.RegisterDeathObserver("com.axle.watcher", "com.axle.filesystem")

	notified := b.TaskDied(1)
	if len(notified) != 1 || notified[0] != "com.axle.watcher" {
		t.Fatalf("expected watcher notified, got %v", notified)
	}

	got, ok := b.Pop(2, nil)
	if !ok || got.Command() != cmdServiceDied {
		t.Fatalf("expected a service-died command frame, got %+v ok=%v", got, ok)
	}

	if _, ok := b.ServiceName(1); ok {
		t.Fatalf("expected dead task's service registration to be removed")
	}
}
