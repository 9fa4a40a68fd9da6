// Package assumption provides revocable validity tokens.
//
// An Assumption starts valid and becomes invalid exactly once. Code that
// speculates on some runtime fact (a single execution context exists, a
// property still holds its constant value) keys its fast path on an
// Assumption and re-checks IsValid before using it:
//
//	single := assumption.New("single context")
//	cancel := single.Subscribe(assumption.ListenerFunc(func(e assumption.Event) {
//	    cache.Reset()
//	}))
//	defer cancel()
//
//	if single.IsValid() {
//	    // fast path
//	}
//
// Invalidate flips the flag before notifying, so every goroutine observes the
// assumption as invalid once Invalidate returns. Listeners run synchronously
// on the invalidating goroutine. Subscribing to an already invalid assumption
// runs the listener immediately.
package assumption
