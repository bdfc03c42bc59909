package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/petasbytes/go-chat/internal/config"
	"github.com/petasbytes/go-chat/internal/logging"
	"github.com/petasbytes/go-chat/internal/provider"
	"github.com/petasbytes/go-chat/internal/runner"
	"github.com/petasbytes/go-chat/internal/storage"
	"github.com/petasbytes/go-chat/internal/telemetry"
	"github.com/petasbytes/go-chat/internal/windowing"
	"github.com/petasbytes/go-chat/memory"
)

type State int

const (
	Idle State = iota
	Active
	Streaming
	Terminating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Streaming:
		return "streaming"
	case Terminating:
		return "terminating"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// DefaultFlushTimeout bounds the final save after the session context is gone.
const DefaultFlushTimeout = 5 * time.Second

// Display is what the controller needs from the terminal.
type Display interface {
	Welcome(model, role string)
	System(title, msg string)
	Help(roles []string)
	Roles(roles []string)
	Prompt()
	AssistantHeader()
	Fragment(s string)
	EndReply()
	Goodbye()
}

// RoleSource resolves role ids to preambles.
type RoleSource interface {
	Resolve(id string) (config.Role, error)
	IDs() []string
}

// ModelSource resolves model ids.
type ModelSource interface {
	Model(id string) (config.Model, error)
}

// BackendFactory builds the backend for a model; provider.New in production.
type BackendFactory func(config.Model) (provider.Backend, error)

// Options wires a Controller. Models, Roles, NewBackend, Sink and Display are
// required.
type Options struct {
	Models     ModelSource
	Roles      RoleSource
	NewBackend BackendFactory
	Sink       storage.Sink
	Display    Display

	Counter      windowing.TokenCounter
	TokenLimit   int
	Recorder     *telemetry.Recorder
	Logger       *slog.Logger
	FlushTimeout time.Duration
}

// Controller owns the session: active model, role and memory.
// It is not safe for concurrent use; one goroutine drives it.
type Controller struct {
	opts   Options
	logger *slog.Logger

	state     State
	sessionID string
	modelID   string
	roleID    string
	model     config.Model
	role      config.Role
	runner    *runner.Runner
	mem       *memory.Memory

	// dirty is set when memory holds turns not yet saved.
	dirty  bool
	closed bool
}

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Counter == nil {
		opts.Counter = windowing.HeuristicCounter{}
	}
	if opts.TokenLimit == 0 {
		opts.TokenLimit = config.DefaultMaxContextTokens
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = DefaultFlushTimeout
	}
	return &Controller{opts: opts, logger: opts.Logger}
}

func (c *Controller) State() State { return c.state }

// SessionID tags this session's log records and telemetry events.
func (c *Controller) SessionID() string { return c.sessionID }

func (c *Controller) ModelID() string { return c.modelID }

func (c *Controller) RoleID() string { return c.roleID }

// Memory returns the live conversation memory; nil before Start.
func (c *Controller) Memory() *memory.Memory { return c.mem }

// Start resolves the model and role, builds the backend and a fresh memory,
// and moves Idle to Active. Any failure is a configuration error and leaves
// the controller Idle.
func (c *Controller) Start(modelID, roleID string) error {
	if c.state != Idle {
		return fmt.Errorf("%w: session already started", ErrBusy)
	}
	model, err := c.opts.Models.Model(modelID)
	if err != nil {
		return err
	}
	role, err := c.opts.Roles.Resolve(roleID)
	if err != nil {
		return err
	}
	backend, err := c.opts.NewBackend(model)
	if err != nil {
		return err
	}
	mem, err := memory.New(role.Template, c.opts.TokenLimit, c.opts.Counter)
	if err != nil {
		return &config.Error{Field: "memory.max_context_tokens", Err: fmt.Errorf("%w: %v", config.ErrInvalidValue, err)}
	}

	c.sessionID = telemetry.NewSessionID()
	c.logger = c.logger.With("session_id", c.sessionID)
	c.modelID, c.model = modelID, model
	c.roleID, c.role = roleID, role
	c.runner = runner.New(backend, modelID, c.opts.Recorder, c.logger)
	c.mem = mem
	c.state = Active

	c.logger.Info("session started",
		"model", modelID,
		"role", roleID,
		"token_limit", c.opts.TokenLimit,
		"counter", c.opts.Counter.Name(),
	)
	c.opts.Display.Welcome(model.DisplayName, role.DisplayName)
	return nil
}

// Run reads lines until /exit, end of input (lines closed) or ctx is done,
// then flushes. It returns nil on every orderly exit.
func (c *Controller) Run(ctx context.Context, lines <-chan string) error {
	if c.state != Active {
		return ErrBusy
	}
	for c.state == Active {
		c.opts.Display.Prompt()
		select {
		case <-ctx.Done():
			c.state = Terminating
		case line, ok := <-lines:
			if !ok {
				c.state = Terminating
				continue
			}
			if err := c.Handle(ctx, line); err != nil {
				c.logger.Debug("input rejected", "error", err)
			}
		}
	}
	c.Shutdown()
	return nil
}

// Handle processes one input line. Errors are already shown on the display;
// they are returned for callers that want to inspect them.
func (c *Controller) Handle(ctx context.Context, line string) error {
	if c.state != Active {
		return ErrBusy
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.Turn(ctx, line)
	}
	err := c.command(ctx, line)
	var cerr *CommandError
	if errors.As(err, &cerr) {
		c.opts.Display.System("Warning", cerr.Error())
	}
	return err
}

func (c *Controller) command(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]

	if name == "/role" {
		if len(args) != 1 {
			return &CommandError{Command: name, Msg: "usage: /role <id>"}
		}
		return c.SwitchRole(ctx, args[0])
	}
	if len(args) > 0 {
		switch name {
		case "/exit", "/quit", "/help", "/roles", "/clear", "/save":
			return &CommandError{Command: name, Msg: "usage: " + name + " takes no arguments"}
		}
	}

	switch name {
	case "/exit", "/quit":
		c.state = Terminating
	case "/help":
		c.opts.Display.Help(c.roleList())
	case "/roles":
		c.opts.Display.Roles(c.roleList())
	case "/clear":
		c.mem.Clear()
		c.dirty = false
		c.opts.Display.System("Info", "Conversation history cleared.")
	case "/save":
		loc, err := c.save(ctx)
		if err != nil {
			return err
		}
		if loc == "" {
			c.opts.Display.System("Info", "Nothing to save yet.")
		} else {
			c.opts.Display.System("Info", "Conversation saved to "+loc)
		}
	default:
		return &CommandError{Command: name, Msg: "unknown command; type /help for the list"}
	}
	return nil
}

// SwitchRole starts a new conversation under role id. An unknown id is a
// *CommandError and leaves the session untouched. The outgoing transcript is
// saved first; a failed save is reported but does not stop the switch.
func (c *Controller) SwitchRole(ctx context.Context, id string) error {
	if c.state != Active {
		return ErrBusy
	}
	role, err := c.opts.Roles.Resolve(id)
	if err != nil {
		return &CommandError{Command: "/role", Msg: fmt.Sprintf("cannot switch to role %q", id), Err: err}
	}
	mem, err := memory.New(role.Template, c.opts.TokenLimit, c.opts.Counter)
	if err != nil {
		return err
	}

	if c.dirty {
		c.save(ctx)
	}
	c.opts.Display.System("Info", fmt.Sprintf("Switching to role %q and starting a new conversation.", id))
	c.logger.Info("role switched", "from", c.roleID, "to", id)

	c.mem, c.role, c.roleID = mem, role, id
	c.dirty = false
	c.opts.Display.Welcome(c.model.DisplayName, role.DisplayName)
	return nil
}

// Turn sends text to the backend and records the reply. A backend failure
// keeps whatever arrived plus an annotation, and the session stays Active;
// an interrupt moves it to Terminating.
func (c *Controller) Turn(ctx context.Context, text string) error {
	if c.state != Active {
		return ErrBusy
	}
	if err := c.mem.Add(memory.RoleUser, text); err != nil {
		return err
	}
	c.dirty = true

	ctx = telemetry.WithSessionID(ctx, c.sessionID)
	ctx = telemetry.WithTurnID(ctx, telemetry.NewTurnID())
	c.opts.Recorder.EmitLocalFeatures(ctx, text, c.opts.Counter)

	c.state = Streaming
	c.opts.Display.AssistantHeader()
	res, err := c.runner.RunTurn(ctx, c.mem.WindowedView(), c.opts.Display.Fragment)

	reply := res.Text
	var be *provider.BackendError
	if err != nil {
		be = provider.Classify(err)
		note := be.Annotation()
		if reply != "" {
			c.opts.Display.Fragment("\n")
		}
		c.opts.Display.Fragment(note)
		reply = annotate(reply, note)
	}
	c.opts.Display.EndReply()
	if err := c.mem.Add(memory.RoleAssistant, reply); err != nil {
		return err
	}

	if be == nil {
		c.state = Active
		return nil
	}
	if be.Kind == provider.KindCanceled {
		c.state = Terminating
		return be
	}
	c.state = Active
	c.logger.Warn("turn failed", "kind", be.Kind.String(), "error", be.Err)
	c.opts.Display.System("Error", c.describe(be))
	return be
}

// Shutdown moves to Terminating and flushes unsaved turns with a fresh,
// time-bounded context, since the session context may already be cancelled.
// Calls after the first do nothing.
func (c *Controller) Shutdown() {
	if c.state == Idle || c.closed {
		return
	}
	c.state = Terminating
	c.closed = true
	if c.dirty {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.FlushTimeout)
		if loc, err := c.save(ctx); err == nil && loc != "" {
			c.opts.Display.System("Info", "Conversation saved to "+loc)
		}
		cancel()
	}
	c.opts.Display.Goodbye()
	c.logger.Info("session ended", "model", c.modelID, "role", c.roleID)
}

// save persists the full transcript. Failures are logged and shown.
func (c *Controller) save(ctx context.Context) (string, error) {
	loc, err := c.opts.Sink.Save(ctx, c.mem.Transcript(), c.modelID, c.roleID)
	if err != nil {
		c.logger.Error("save transcript failed", "error", err)
		c.opts.Display.System("Error", "Could not save the conversation: "+err.Error())
		return "", err
	}
	c.dirty = false
	return loc, nil
}

func (c *Controller) roleList() []string {
	ids := c.opts.Roles.IDs()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		role, err := c.opts.Roles.Resolve(id)
		if err != nil {
			continue
		}
		out = append(out, id+" - "+role.DisplayName)
	}
	return out
}

func (c *Controller) describe(be *provider.BackendError) string {
	switch be.Kind {
	case provider.KindConnectionFailure:
		where := c.model.APIBase
		if where == "" {
			where = string(c.model.Provider)
		}
		return fmt.Sprintf("Could not reach the backend at %s. Is the server running?", where)
	case provider.KindModelNotFound:
		return fmt.Sprintf("The backend does not serve model %q.", c.model.ModelName)
	case provider.KindTimeout:
		return "The backend did not answer in time."
	}
	return be.Error()
}

func annotate(partial, note string) string {
	if partial == "" {
		return note
	}
	return partial + "\n" + note
}
