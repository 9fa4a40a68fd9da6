package assumption

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	objerrors "github.com/wippyai/objectmodel/errors"
)

func TestAssumption_Basic(t *testing.T) {
	a := New("single context")
	if !a.IsValid() {
		t.Fatal("new assumption should be valid")
	}
	if err := a.Check(); err != nil {
		t.Fatalf("Check on valid assumption: %v", err)
	}
	if a.Name() != "single context" {
		t.Errorf("Name = %q", a.Name())
	}

	a.Invalidate("second context created")
	if a.IsValid() {
		t.Fatal("assumption should be invalid after Invalidate")
	}
	if a.Reason() != "second context created" {
		t.Errorf("Reason = %q", a.Reason())
	}

	err := a.Check()
	if !errors.Is(err, objerrors.ErrInvalidAssumption) {
		t.Fatalf("Check = %v, want InvalidAssumption", err)
	}
}

func TestAssumption_InvalidateIdempotent(t *testing.T) {
	a := New("constant")
	var calls int
	a.Subscribe(ListenerFunc(func(e Event) {
		calls++
		if e.Assumption != a {
			t.Error("event carries wrong assumption")
		}
		if e.Reason != "first" {
			t.Errorf("Reason = %q, want first", e.Reason)
		}
	}))

	a.Invalidate("first")
	a.Invalidate("second")

	if calls != 1 {
		t.Fatalf("listener called %d times, want 1", calls)
	}
	if a.Reason() != "first" {
		t.Errorf("Reason = %q, want first", a.Reason())
	}
}

func TestAssumption_ListenersRunBeforeReturn(t *testing.T) {
	a := New("leaf")
	var seen []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		a.Subscribe(ListenerFunc(func(Event) {
			if a.IsValid() {
				t.Error("listener observed valid assumption")
			}
			seen = append(seen, name)
		}))
	}
	if a.Dependents() != 3 {
		t.Fatalf("Dependents = %d, want 3", a.Dependents())
	}

	a.Invalidate("changed")
	if len(seen) != 3 || seen[0] != "a" || seen[1] != "b" || seen[2] != "c" {
		t.Fatalf("notification order = %v, want [a b c]", seen)
	}
	if a.Dependents() != 0 {
		t.Errorf("Dependents after invalidation = %d, want 0", a.Dependents())
	}
}

func TestAssumption_SubscribeAfterInvalidation(t *testing.T) {
	a := New("late")
	a.Invalidate("gone")

	called := false
	cancel := a.Subscribe(ListenerFunc(func(e Event) {
		called = true
		if e.Reason != "gone" {
			t.Errorf("Reason = %q, want gone", e.Reason)
		}
	}))
	cancel()

	if !called {
		t.Fatal("listener should run immediately on invalid assumption")
	}
}

func TestAssumption_Cancel(t *testing.T) {
	a := New("cancel")
	called := false
	cancel := a.Subscribe(ListenerFunc(func(Event) { called = true }))
	kept := 0
	a.Subscribe(ListenerFunc(func(Event) { kept++ }))

	cancel()
	cancel()
	a.Invalidate("x")

	if called {
		t.Error("cancelled listener was notified")
	}
	if kept != 1 {
		t.Errorf("remaining listener called %d times, want 1", kept)
	}
}

func TestAssumption_ListenerPanicDoesNotStopBroadcast(t *testing.T) {
	a := New("panic")
	a.Subscribe(ListenerFunc(func(Event) { panic("boom") }))
	reached := false
	a.Subscribe(ListenerFunc(func(Event) { reached = true }))

	a.Invalidate("x")
	if !reached {
		t.Fatal("listener after a panicking one was not notified")
	}
}

func TestAlwaysAndNeverValid(t *testing.T) {
	AlwaysValid.Invalidate("ignored")
	if !AlwaysValid.IsValid() {
		t.Error("AlwaysValid became invalid")
	}
	if NeverValid.IsValid() {
		t.Error("NeverValid is valid")
	}
	if !AllValid(AlwaysValid, nil) {
		t.Error("AllValid(AlwaysValid, nil) = false")
	}
	if AllValid(AlwaysValid, NeverValid) {
		t.Error("AllValid with NeverValid = true")
	}
}

func TestAssumption_ConcurrentInvalidate(t *testing.T) {
	const goroutines = 32
	a := New("race")
	var notified atomic.Int32
	for i := 0; i < 8; i++ {
		a.Subscribe(ListenerFunc(func(Event) { notified.Add(1) }))
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			a.Invalidate("race")
			if a.IsValid() {
				t.Error("IsValid true after Invalidate returned")
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := notified.Load(); got != 8 {
		t.Fatalf("listeners notified %d times, want 8", got)
	}
}

func TestAssumption_String(t *testing.T) {
	a := New("x")
	if a.String() != "x (valid)" {
		t.Errorf("String = %q", a.String())
	}
	a.Invalidate("")
	if a.String() != "x (invalid)" {
		t.Errorf("String = %q", a.String())
	}
}

func TestAssumption_LaterInvalidateWaitsForBroadcast(t *testing.T) {
	a := New("single context")
	entered := make(chan struct{})
	release := make(chan struct{})
	var notified atomic.Bool
	a.Subscribe(ListenerFunc(func(Event) {
		close(entered)
		<-release
		notified.Store(true)
	}))

	go a.Invalidate("first")
	<-entered

	second := make(chan bool)
	go func() {
		a.Invalidate("second")
		second <- notified.Load()
	}()

	select {
	case <-second:
		t.Fatal("second Invalidate returned while listeners were running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if !<-second {
		t.Fatal("second Invalidate returned before the broadcast finished")
	}
	if a.Reason() != "first" {
		t.Fatalf("reason = %q", a.Reason())
	}
}

func TestNeverValid_InvalidateReturns(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NeverValid.Invalidate("again")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Invalidate on NeverValid blocked")
	}
}
