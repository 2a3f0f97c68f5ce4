package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer goroutine writing to a channel into the
// pull-based Stream interface. The producer runs until it returns; a nil
// return is surfaced to the consumer as io.EOF, anything else as the error
// itself. Close cancels the producer's context and drains it.
type eventStream struct {
	events    <-chan Event
	errCh     <-chan error
	cancel    context.CancelFunc
	closeOnce sync.Once
	err       error
	done      bool
}

// newEventStream starts producer on its own goroutine and returns a Stream
// over the events it emits.
func newEventStream(ctx context.Context, producer func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(events)
		errCh <- producer(ctx, events)
	}()

	return &eventStream{
		events: events,
		errCh:  errCh,
		cancel: cancel,
	}
}

func (s *eventStream) Recv() (Event, error) {
	if s.done {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}

	event, ok := <-s.events
	if !ok {
		s.done = true
		s.err = <-s.errCh
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	return event, nil
}

func (s *eventStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		// Drain so the producer goroutine can exit.
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}

// sliceStream replays a fixed event sequence. Used by tests and by the
// interpreter when re-serving already-buffered events.
type sliceStream struct {
	events []Event
	index  int
	err    error // Returned after the events are exhausted, instead of io.EOF
}

func (s *sliceStream) Recv() (Event, error) {
	if s.index >= len(s.events) {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	event := s.events[s.index]
	s.index++
	return event, nil
}

func (s *sliceStream) Close() error { return nil }
