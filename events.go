package converge

import (
	"sync"
	"time"
)

// EventType identifies a lifecycle event emitted during a run.
type EventType string

const (
	// EventStart fires once after Initialize succeeds
	EventStart EventType = "start"
	// EventIterationStart fires before each iteration's Act call
	EventIterationStart EventType = "iteration_start"
	// EventActionComplete fires after Act returns
	EventActionComplete EventType = "action_complete"
	// EventEvaluationComplete fires after Evaluate returns
	EventEvaluationComplete EventType = "evaluation_complete"
	// EventIterationComplete fires after the history entry is recorded
	EventIterationComplete EventType = "iteration_complete"
	// EventTransitionComplete fires after Transition returns (only when the
	// transition gate let it run)
	EventTransitionComplete EventType = "transition_complete"
	// EventConverged fires when a stopping criterion other than exhaustion
	// or timeout terminates the loop
	EventConverged EventType = "converged"
	// EventComplete fires once with the final Result
	EventComplete EventType = "complete"
	// EventError fires when a phase fails, before any OnError fallback runs
	EventError EventType = "error"
)

// Event is the envelope delivered to subscribers. Payload holds one of the
// *Payload structs below; state- and result-bearing payloads are boxed as
// any so listeners stay independent of the controller's type parameters.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Time      time.Time `json:"time"`
	Iteration int       `json:"iteration"`
	Payload   any       `json:"payload,omitempty"`
}

// StartPayload accompanies EventStart.
type StartPayload struct {
	Input any `json:"input"`
}

// ActionCompletePayload accompanies EventActionComplete; Result boxes the
// iteration's ActionResult.
type ActionCompletePayload struct {
	Result any `json:"result"`
}

// EvaluationCompletePayload accompanies EventEvaluationComplete.
type EvaluationCompletePayload struct {
	Evaluation Evaluation `json:"evaluation"`
}

// IterationCompletePayload accompanies EventIterationComplete; Entry boxes
// the recorded HistoryEntry.
type IterationCompletePayload struct {
	Entry any `json:"entry"`
}

// TransitionCompletePayload accompanies EventTransitionComplete; State boxes
// the post-transition state.
type TransitionCompletePayload struct {
	State any `json:"state"`
}

// ConvergedPayload accompanies EventConverged.
type ConvergedPayload struct {
	Score  float64           `json:"score"`
	Reason TerminationReason `json:"reason"`
}

// CompletePayload accompanies EventComplete; Result boxes the *Result.
type CompletePayload struct {
	Result any `json:"result"`
}

// ErrorPayload accompanies EventError; State boxes the last known state, or
// nil when the failure happened during Initialize.
type ErrorPayload struct {
	Err   error `json:"error"`
	State any   `json:"state,omitempty"`
}

// Listener receives lifecycle events. Listeners run synchronously, in
// subscription order, on the goroutine executing the run. A panicking
// listener is isolated: the panic is logged and remaining listeners still
// run.
type Listener func(Event)

// listenerEntry pairs a listener with its subscription identity so
// unsubscribe can remove exactly this registration.
type listenerEntry struct {
	id int
	fn Listener
}

// bus is a synchronous, fault-isolated multicast notifier.
type bus struct {
	mu        sync.Mutex
	nextID    int
	listeners []listenerEntry
}

// subscribe registers fn and returns its idempotent unsubscribe function.
func (b *bus) subscribe(fn Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners = append(b.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, entry := range b.listeners {
			if entry.id == id {
				b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
				return
			}
		}
		// Already removed: unsubscribing twice is a no-op.
	}
}

// emit delivers ev to every listener in subscription order. Each invocation
// gets its own fault boundary; a panic is routed to log and never aborts the
// emitting run.
func (b *bus) emit(ev Event, log Logger) {
	b.mu.Lock()
	snapshot := make([]listenerEntry, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, entry := range snapshot {
		invokeListener(entry.fn, ev, log)
	}
}

func invokeListener(fn Listener, ev Event, log Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("converge: event listener panicked on %s: %v", ev.Type, r)
		}
	}()
	fn(ev)
}
