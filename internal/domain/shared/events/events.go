package events

import "time"

// DomainEvent is a fact an aggregate recorded while handling a command.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// Recorder collects events until the owning aggregate is persisted.
type Recorder struct {
	pending []DomainEvent
}

func (r *Recorder) Record(event DomainEvent) {
	if event == nil {
		return
	}
	r.pending = append(r.pending, event)
}

// Drain returns the pending events and forgets them.
func (r *Recorder) Drain() []DomainEvent {
	out := r.pending
	r.pending = nil
	return out
}

func (r *Recorder) Len() int { return len(r.pending) }

// Base carries the envelope fields every event shares. Embed it and the
// event satisfies DomainEvent; the fields are excluded from the JSON body.
type Base struct {
	Name      string    `json:"-"`
	Aggregate string    `json:"-"`
	Time      time.Time `json:"-"`
}

func NewBase(name, aggregate string, at time.Time) Base {
	if at.IsZero() {
		at = time.Now()
	}
	return Base{Name: name, Aggregate: aggregate, Time: at.UTC()}
}

func (e Base) EventName() string     { return e.Name }
func (e Base) AggregateID() string   { return e.Aggregate }
func (e Base) OccurredAt() time.Time { return e.Time }
