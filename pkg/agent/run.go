package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/tools"
)

// DefaultStepBudget bounds how many model turns one run may take.
const DefaultStepBudget = 50

// interruptionNotice is appended to the history when a run is cancelled
// mid-stream, so the next turn sees that the previous answer was cut off.
const interruptionNotice = "[The previous response was interrupted by the user before it completed.]"

// Definition describes the agent being run: either a registered identifier
// or an inline definition supplied by the caller.
type Definition struct {
	Name         string
	Model        string
	SystemPrompt string
	// OutputSchema, when set, is enforced against the run's final payload.
	OutputSchema map[string]any
}

// Params are optional sampling overrides applied to every model turn of
// a run.
type Params struct {
	Temperature     float32
	TopP            float32
	MaxOutputTokens int
	StopSequences   []string
}

// CostMode selects how managed-path usage is converted to credits.
type CostMode string

const (
	// CostModeMargin applies the standard margin multiplier. Zero value.
	CostModeMargin CostMode = ""
	// CostModeRaw bills upstream cost at face value, without the margin.
	CostModeRaw CostMode = "raw"
)

// margin returns the multiplier handed to the interpreter; zero defers to
// its default.
func (m CostMode) margin() float64 {
	if m == CostModeRaw {
		return 1
	}
	return 0
}

// RunRequest is the run entry point's input.
type RunRequest struct {
	Agent   Definition
	Prompt  string
	Content string
	// Params optionally overrides sampling for every turn of the run.
	Params *Params
	// CostMode selects the billing margin applied on the managed path.
	CostMode CostMode
	// PreviousRun chains turns: its session state is cloned and extended.
	PreviousRun *RunState
	// OnEvent, when set, observes every normalized stream event.
	OnEvent func(llm.Event)
}

// Engine wires the router, interpreter, and dispatcher into the run state
// machine.
type Engine struct {
	router     llm.RouteSource
	dispatcher *tools.Dispatcher
	log        zerolog.Logger
	stepBudget int
}

// EngineConfig assembles an Engine.
type EngineConfig struct {
	Router     llm.RouteSource
	Dispatcher *tools.Dispatcher
	Logger     zerolog.Logger
	// StepBudget overrides DefaultStepBudget when positive.
	StepBudget int
}

func NewEngine(cfg EngineConfig) *Engine {
	budget := cfg.StepBudget
	if budget <= 0 {
		budget = DefaultStepBudget
	}
	return &Engine{
		router:     cfg.Router,
		dispatcher: cfg.Dispatcher,
		log:        cfg.Logger,
		stepBudget: budget,
	}
}

// Run executes one prompt/response cycle. It never returns an error:
// every failure mode is folded into the returned RunState's output, and
// cancellation produces a normal RunState with partial content preserved.
func (e *Engine) Run(ctx context.Context, req RunRequest) *RunState {
	runID := uuid.NewString()
	log := e.log.With().Str("run", runID).Str("agent", req.Agent.Name).Logger()

	state := e.initState(req)
	state.Append(llm.UserText(userPrompt(req)))

	// A pre-aborted signal short-circuits before any network call; the
	// user's message is still recorded so the next turn sees what was
	// asked.
	if ctx.Err() != nil {
		log.Info().Msg("run cancelled before start")
		return &RunState{
			RunID:        runID,
			SessionState: state,
			Output: Output{
				Type:    OutputError,
				Message: "run cancelled before start",
			},
		}
	}

	run := &activeRun{
		engine: e,
		req:    req,
		state:  &state,
		log:    log,
	}
	output := run.execute(ctx)

	return &RunState{
		RunID:        runID,
		SessionState: state,
		Output:       output,
	}
}

// initState builds or extends the session state. Extension deep-copies the
// previous run's state; the old state is never mutated.
func (e *Engine) initState(req RunRequest) SessionState {
	if req.PreviousRun != nil {
		state := req.PreviousRun.SessionState.Clone()
		if state.MainAgent.StepsRemaining <= 0 {
			state.MainAgent.StepsRemaining = e.stepBudget
		}
		return state
	}
	return SessionState{
		MainAgent: MainAgentState{StepsRemaining: e.stepBudget},
	}
}

func userPrompt(req RunRequest) string {
	if req.Content == "" {
		return req.Prompt
	}
	return req.Prompt + "\n\n" + req.Content
}

// activeRun is the state machine for one in-flight run.
type activeRun struct {
	engine *Engine
	req    RunRequest
	state  *SessionState
	log    zerolog.Logger

	// textBuf accumulates forwarded text so a best-effort assistant
	// message can be reconstructed if the run is cancelled mid-stream.
	textBuf strings.Builder
}

func (r *activeRun) execute(ctx context.Context) Output {
	for r.state.MainAgent.StepsRemaining > 0 {
		r.state.MainAgent.StepsRemaining--

		done, output := r.step(ctx)
		if done {
			return output
		}
	}
	return Output{
		Type:    OutputError,
		Message: "step budget exhausted before the agent finished",
	}
}

// step runs one model turn: stream, dispatch tool calls, fold results back
// into the history. Returns done=false when the turn ended on tool calls
// and another turn is needed.
func (r *activeRun) step(ctx context.Context) (bool, Output) {
	route := r.engine.router.Resolve(ctx, r.req.Agent.Model)

	stream := llm.Interpret(ctx, route, r.buildRequest(), llm.InterpreterOptions{
		Router:     r.engine.router,
		CostMargin: r.req.CostMode.margin(),
		OnCost: func(credits float64) {
			r.state.MainAgent.CreditsUsed += credits
		},
		Logger: r.log,
	})
	defer stream.Close()

	r.textBuf.Reset()
	dispatched := 0

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return true, r.failStream(ctx, err)
		}
		if r.req.OnEvent != nil {
			r.req.OnEvent(event)
		}

		switch event.Type {
		case llm.EventTextDelta:
			r.textBuf.WriteString(event.Text)

		case llm.EventToolCall:
			if out, fatal := r.dispatchCall(ctx, event.Tool); fatal {
				return true, out
			}
			dispatched++

		case llm.EventError:
			// Recoverable validation errors go back into the history so
			// the model can correct its call on the next turn.
			var tie *llm.ToolInputError
			if errors.As(event.Err, &tie) {
				r.state.Append(llm.ToolErrorMessage("", tie.ToolName, tie.Message))
				dispatched++
			}
		}
	}

	if dispatched > 0 {
		// Turn ended on tool activity; flush any narration text and go
		// around again.
		if r.textBuf.Len() > 0 {
			r.state.Append(llm.AssistantText(r.textBuf.String()))
		}
		return false, Output{}
	}

	return true, r.finish()
}

func (r *activeRun) buildRequest() llm.Request {
	messages := make([]llm.Message, 0, len(r.state.MainAgent.MessageHistory)+2)
	if r.req.Agent.SystemPrompt != "" {
		messages = append(messages, llm.SystemText(r.req.Agent.SystemPrompt))
	}
	if len(r.state.FileContext) > 0 {
		messages = append(messages, llm.SystemText("Project context:\n"+string(r.state.FileContext)))
	}
	messages = append(messages, r.state.MainAgent.MessageHistory...)

	req := llm.Request{
		Model:    r.req.Agent.Model,
		Messages: messages,
		Tools:    r.engine.dispatcher.Specs(),
	}
	if p := r.req.Params; p != nil {
		req.Temperature = p.Temperature
		req.TopP = p.TopP
		req.MaxOutputTokens = p.MaxOutputTokens
		req.StopSequences = p.StopSequences
	}
	return req
}

// dispatchCall records the model's call, executes it, and appends the
// result. Only an unknown tool is fatal; execution failures come back as
// an in-band error part.
func (r *activeRun) dispatchCall(ctx context.Context, call *llm.ToolCall) (Output, bool) {
	r.state.Append(llm.Message{
		Role:  llm.RoleAssistant,
		Parts: []llm.Part{{Type: llm.PartToolCall, ToolCall: call}},
	})

	parts, err := r.engine.dispatcher.Dispatch(ctx, tools.CallRequest{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      call.Arguments,
	})
	if err != nil {
		// The agent was offered a tool the host cannot execute; this is
		// a configuration error, not something the model can repair.
		r.log.Error().Err(err).Str("tool", call.Name).Msg("tool resolution failed")
		return Output{
			Type:    OutputError,
			Message: err.Error(),
		}, true
	}

	content := tools.Encode(parts)
	isError := len(parts) > 0 && parts[0].IsError()
	if isError {
		r.state.Append(llm.ToolErrorMessage(call.ID, call.Name, content))
	} else {
		r.state.Append(llm.ToolResultMessage(call.ID, call.Name, content))
	}
	r.log.Debug().Str("tool", call.Name).Bool("error", isError).Msg("tool dispatched")
	return Output{}, false
}

// failStream classifies a terminal stream error. Cancellation preserves the
// partial assistant text and appends an interruption notice; everything
// else becomes a typed error output with a best-effort status code.
func (r *activeRun) failStream(ctx context.Context, err error) Output {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		if r.textBuf.Len() > 0 {
			r.state.Append(llm.AssistantText(r.textBuf.String()))
		}
		r.state.Append(llm.UserText(interruptionNotice))
		r.log.Info().Msg("run interrupted")
		return Output{
			Type:    OutputError,
			Message: "run interrupted by the user",
		}
	}

	status := llm.StatusFromError(err)
	r.log.Error().Err(err).Int("status", status).Msg("run failed")
	return Output{
		Type:       OutputError,
		Message:    err.Error(),
		StatusCode: status,
	}
}

// finish validates and packages the run's final text.
func (r *activeRun) finish() Output {
	text := r.textBuf.String()
	if text != "" {
		r.state.Append(llm.AssistantText(text))
	}

	if len(r.req.Agent.OutputSchema) == 0 {
		return Output{Type: OutputSuccess, Text: text}
	}

	// A declared schema means the final payload must be structured; an
	// unvalidated shape is not trusted.
	var result map[string]any
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return Output{
			Type:    OutputError,
			Message: fmt.Sprintf("final output is not valid JSON: %v", err),
		}
	}
	check, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(r.req.Agent.OutputSchema),
		gojsonschema.NewGoLoader(result),
	)
	if err != nil {
		return Output{
			Type:    OutputError,
			Message: fmt.Sprintf("output schema validation failed: %v", err),
		}
	}
	if !check.Valid() {
		return Output{
			Type:    OutputError,
			Message: fmt.Sprintf("final output does not match the declared schema: %v", check.Errors()),
		}
	}
	return Output{Type: OutputSuccess, Text: text, Result: result}
}
