package llm

import (
	"context"
	"io"
)

// fakeAttempt is one Stream() outcome from a fakeProvider.
type fakeAttempt struct {
	err       error   // returned from Stream() itself
	events    []Event // replayed before streamErr/EOF
	streamErr error   // returned after events, instead of io.EOF
}

// fakeProvider replays a scripted sequence of attempts.
type fakeProvider struct {
	attempts []fakeAttempt
	calls    int
}

func (p *fakeProvider) Name() string       { return "fake" }
func (p *fakeProvider) Credential() string { return "fake" }

func (p *fakeProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	idx := p.calls
	if idx >= len(p.attempts) {
		idx = len(p.attempts) - 1
	}
	p.calls++
	a := p.attempts[idx]
	if a.err != nil {
		return nil, a.err
	}
	return &sliceStream{events: a.events, err: a.streamErr}, nil
}

// fakeRouteSource serves a fixed managed route.
type fakeRouteSource struct {
	managed  Route
	cooldown *CooldownStore
	resolves int
}

func (f *fakeRouteSource) Resolve(ctx context.Context, modelID string) Route {
	f.resolves++
	return f.managed
}

func (f *fakeRouteSource) Managed(modelID string) Route { return f.managed }

func (f *fakeRouteSource) Cooldown() *CooldownStore {
	if f.cooldown == nil {
		f.cooldown = NewCooldownStore()
	}
	return f.cooldown
}

// collectEvents drains a stream, returning the events and the terminal
// error (nil when the stream ended with io.EOF).
func collectEvents(s Stream) ([]Event, error) {
	defer s.Close()
	var events []Event
	for {
		event, err := s.Recv()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, event)
	}
}

func textOf(events []Event) string {
	var out string
	for _, e := range events {
		if e.Type == EventTextDelta {
			out += e.Text
		}
	}
	return out
}
