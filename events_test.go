package converge

import (
	"fmt"
	"strings"
	"testing"
)

type captureLogger struct {
	errors []string
}

func (c *captureLogger) Logf(format string, args ...any) {}
func (c *captureLogger) Errorf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func TestBus_OrderAndIsolation(t *testing.T) {
	b := &bus{}
	log := &captureLogger{}

	var order []int
	b.subscribe(func(Event) { order = append(order, 1) })
	b.subscribe(func(Event) { panic("boom") })
	b.subscribe(func(Event) { order = append(order, 3) })

	b.emit(Event{Type: EventStart}, log)

	if len(order) != 2 || order[0] != 1 || order[1] != 3 {
		t.Errorf("expected listeners 1 and 3 to run in order, got %v", order)
	}
	if len(log.errors) != 1 {
		t.Fatalf("expected one logged listener fault, got %d", len(log.errors))
	}
	if want := "event listener panicked"; !strings.Contains(log.errors[0], want) {
		t.Errorf("expected fault log to contain %q, got %q", want, log.errors[0])
	}
}

func TestBus_UnsubscribeIdempotent(t *testing.T) {
	b := &bus{}
	log := &captureLogger{}

	calls := 0
	unsub := b.subscribe(func(Event) { calls++ })
	b.emit(Event{Type: EventStart}, log)

	unsub()
	unsub() // second call is a no-op
	b.emit(Event{Type: EventStart}, log)

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestBus_UnsubscribeRemovesOnlyOwnRegistration(t *testing.T) {
	b := &bus{}
	log := &captureLogger{}

	var a, c int
	unsubA := b.subscribe(func(Event) { a++ })
	b.subscribe(func(Event) { c++ })
	unsubA()

	b.emit(Event{Type: EventStart}, log)
	if a != 0 {
		t.Errorf("unsubscribed listener still ran %d times", a)
	}
	if c != 1 {
		t.Errorf("remaining listener expected 1 call, got %d", c)
	}
}
