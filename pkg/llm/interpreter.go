package llm

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultCostMargin is the multiplier applied to upstream dollar cost when
// converting to billed credits on the managed path.
const DefaultCostMargin = 1.2

// creditsPerUSD converts upstream dollar cost to credit units.
const creditsPerUSD = 100

// CostFunc receives the credit amount for a completed managed-path call.
type CostFunc func(credits float64)

// InterpreterOptions configure Interpret.
type InterpreterOptions struct {
	// Router supplies the managed fallback route and owns the shared
	// cooldown store. Required for transparent fallback; with a nil router
	// every error is terminal.
	Router RouteSource
	// CostMargin multiplies upstream cost before the OnCost callback.
	// Zero means DefaultCostMargin.
	CostMargin float64
	// OnCost is invoked once per call with the computed credit amount.
	// Subscription usage is not billed through this system, so the
	// callback only fires for the managed path.
	OnCost CostFunc
	Logger zerolog.Logger
}

// Interpret consumes the chosen transport's stream and re-emits a
// normalized event sequence with the guarantees the orchestrator depends
// on: reasoning is explicitly closed before the first text delta, stop
// sequences never straddle chunk boundaries, tool calls arrive
// materialized and validated, and a subscription-path quota or auth
// failure with no content yet forwarded falls over to the managed path
// exactly once. Fallback is a loop, not recursion, so cancellation and
// stack depth stay bounded.
func Interpret(ctx context.Context, route Route, req Request, opts InterpreterOptions) Stream {
	return newEventStream(ctx, func(ctx context.Context, out chan<- Event) error {
		current := route
		attemptedFallback := false

		for {
			state := &interpretState{req: req, out: out, opts: opts}
			err := state.streamOnce(ctx, current)
			if err == nil {
				return nil
			}

			// Transparent fallback is only legal on the subscription path
			// and only while nothing has been forwarded: switching
			// providers after partial content would mix two models'
			// output in one response.
			if !attemptedFallback && current.Subscription && !state.forwarded && opts.Router != nil {
				switch {
				case isQuotaError(err):
					reset := FetchUsageResetTime(ctx, current.Token)
					opts.Router.Cooldown().MarkRateLimited(reset)
					opts.Logger.Info().Err(err).Time("reset", reset).
						Msg("subscription quota exhausted, falling back to managed path")
					current = opts.Router.Managed(req.Model)
					attemptedFallback = true
					continue
				case isAuthError(err):
					opts.Logger.Info().Err(err).
						Msg("subscription auth failed, falling back to managed path")
					current = opts.Router.Managed(req.Model)
					attemptedFallback = true
					continue
				}
			}

			return err
		}
	})
}

// interpretState tracks one pass over a transport stream.
type interpretState struct {
	req  Request
	out  chan<- Event
	opts InterpreterOptions

	forwarded      bool // Any content event reached the consumer
	textStarted    bool
	reasoningOpen  bool
	reasoningEnded bool
}

func (s *interpretState) streamOnce(ctx context.Context, route Route) error {
	stream, err := route.Provider.Stream(ctx, s.req)
	if err != nil {
		return err
	}
	defer stream.Close()

	filter := newStopFilter(s.req.StopSequences)

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			s.flushFilter(filter)
			if s.reasoningOpen && !s.reasoningEnded {
				s.emit(Event{Type: EventReasoningEnd})
				s.reasoningEnded = true
			}
			s.emit(Event{Type: EventDone})
			return nil
		}
		if err != nil {
			return err
		}

		switch event.Type {
		case EventReasoningDelta:
			// Reasoning and answer text are two mutually exclusive
			// regions; late reasoning chunks interleaved after text began
			// are transport artifacts and are dropped.
			if s.textStarted {
				continue
			}
			s.reasoningOpen = true
			s.emit(event)

		case EventTextDelta:
			if !s.textStarted {
				if s.reasoningOpen && !s.reasoningEnded {
					s.emit(Event{Type: EventReasoningEnd})
					s.reasoningEnded = true
				}
				s.textStarted = true
			}
			if filter.Stopped() {
				continue
			}
			emit, _ := filter.Write(event.Text)
			if emit != "" {
				s.emit(Event{Type: EventTextDelta, Text: emit})
			}

		case EventToolCall:
			// Buffered near-match text must not be silently dropped when
			// the stream ends on a tool call.
			s.flushFilter(filter)
			if err := s.validateToolCall(event.Tool); err != nil {
				s.emit(Event{Type: EventError, Err: err})
				continue
			}
			s.emit(event)

		case EventCost:
			s.flushFilter(filter)
			if event.Use != nil && !route.Subscription {
				s.reportCost(event.Use)
			}
			// Forward regardless so callers can observe token counts.
			s.forward(event)

		case EventError:
			s.flushFilter(filter)
			if isToolInputError(event.Err) {
				// Recoverable: the agent gets a chance to retry with
				// corrected arguments.
				s.emit(event)
				continue
			}
			return event.Err

		case EventDone:
			s.flushFilter(filter)
			if s.reasoningOpen && !s.reasoningEnded {
				s.emit(Event{Type: EventReasoningEnd})
				s.reasoningEnded = true
			}
			s.emit(Event{Type: EventDone})
			return nil
		}
	}
}

// emit forwards an event and records that content reached the consumer.
func (s *interpretState) emit(event Event) {
	s.forwarded = true
	s.out <- event
}

// forward sends an event without marking content as forwarded; used for
// bookkeeping events that do not constitute model output.
func (s *interpretState) forward(event Event) {
	s.out <- event
}

func (s *interpretState) flushFilter(filter *stopFilter) {
	if rest := filter.Flush(); rest != "" {
		s.emit(Event{Type: EventTextDelta, Text: rest})
	}
}

func (s *interpretState) reportCost(use *Usage) {
	if s.opts.OnCost == nil || use.CostUSD == 0 {
		return
	}
	margin := s.opts.CostMargin
	if margin == 0 {
		margin = DefaultCostMargin
	}
	s.opts.OnCost(use.CostUSD * creditsPerUSD * margin)
}

// validateToolCall checks a materialized call against the request's tool
// specs. Failures are the recoverable validation class.
func (s *interpretState) validateToolCall(call *ToolCall) error {
	if call == nil {
		return &ToolInputError{Message: "empty tool call"}
	}

	var spec *ToolSpec
	for i := range s.req.Tools {
		if s.req.Tools[i].Name == call.Name {
			spec = &s.req.Tools[i]
			break
		}
	}
	if spec == nil {
		return &ToolInputError{
			ToolName: call.Name,
			Message:  fmt.Sprintf("model called unknown tool %q", call.Name),
		}
	}
	if len(spec.Schema) == 0 {
		return nil
	}

	args := call.Arguments
	if len(args) == 0 {
		args = []byte("{}")
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(spec.Schema),
		gojsonschema.NewBytesLoader(args),
	)
	if err != nil {
		return &ToolInputError{
			ToolName: call.Name,
			Message:  fmt.Sprintf("tool %q arguments are not valid JSON: %v", call.Name, err),
		}
	}
	if !result.Valid() {
		return &ToolInputError{
			ToolName: call.Name,
			Message:  fmt.Sprintf("tool %q input failed schema validation: %v", call.Name, result.Errors()),
		}
	}
	return nil
}
