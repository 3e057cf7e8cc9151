package chatbot

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"MetaChat/internal/backend"
	"MetaChat/internal/config"
	"MetaChat/internal/session"
	"MetaChat/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrorText is shown in place of a reply when the remote exchange fails
const ErrorText = "Sorry, I couldn't connect. Please try again."

// Controller owns the conversation state and every transition on it
type Controller struct {
	mu     sync.Mutex
	state  session.State
	lastID int64

	sessionID string
	store     store.Store
	simulated backend.Responder
	remote    backend.Responder
	now       func() time.Time

	logger   *slog.Logger
	tracer   trace.Tracer
	messages metric.Int64Counter
	failures metric.Int64Counter
}

// Options holds the collaborators of a Controller. Store, Simulated and
// Remote are required; the rest fall back to globals.
type Options struct {
	Store        store.Store
	Simulated    backend.Responder
	Remote       backend.Responder
	UseSimulated bool

	Logger *slog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter
	Now    func() time.Time
}

// New creates a controller awaiting its credential
func New(opts Options) *Controller {
	c := &Controller{
		sessionID: uuid.NewString(),
		store:     opts.Store,
		simulated: opts.Simulated,
		remote:    opts.Remote,
		now:       opts.Now,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
	}
	c.state.Messages = []session.Message{}
	c.state.UseSimulated = opts.UseSimulated

	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("session_id", c.sessionID)
	if c.tracer == nil {
		c.tracer = otel.Tracer("metachat/chatbot")
	}

	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("metachat/chatbot")
	}
	var err error
	c.messages, err = meter.Int64Counter("chat.messages",
		metric.WithDescription("Messages appended to the conversation"))
	if err != nil {
		c.logger.Warn("failed to create counter", "name", "chat.messages", "error", err)
	}
	c.failures, err = meter.Int64Counter("chat.exchange.failures",
		metric.WithDescription("Exchanges that ended in an error message"))
	if err != nil {
		c.logger.Warn("failed to create counter", "name", "chat.exchange.failures", "error", err)
	}

	return c
}

// SessionID identifies this controller in logs and traces
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Start loads the stored credential. A non-empty stored value confirms the
// credential without prompting.
func (c *Controller) Start(ctx context.Context) {
	value, ok, err := c.store.Get(ctx, config.CredentialKey)
	if err != nil {
		c.logger.Warn("failed to load credential", "error", err)
		return
	}
	if !ok || value == "" {
		c.logger.Info("no stored credential")
		return
	}

	c.mu.Lock()
	c.state.Credential = value
	c.state.CredentialConfirmed = true
	c.mu.Unlock()

	c.logger.Info("loaded stored credential", "fingerprint", store.Fingerprint(value))
}

// SubmitCredential sets and persists the credential. Any value is accepted.
func (c *Controller) SubmitCredential(ctx context.Context, value string) {
	c.mu.Lock()
	c.state.Credential = value
	c.state.CredentialConfirmed = true
	c.mu.Unlock()

	if err := c.store.Set(ctx, config.CredentialKey, value); err != nil {
		c.logger.Warn("failed to persist credential", "error", err)
		return
	}
	c.logger.Info("credential saved", "fingerprint", store.Fingerprint(value))
}

// Credential returns the current credential; it satisfies backend.CredentialSource
func (c *Controller) Credential() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Credential
}

// Ready reports whether the credential has been confirmed
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.CredentialConfirmed
}

// Loading reports whether an exchange is in flight
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Loading
}

// UseSimulated reports the current responder mode
func (c *Controller) UseSimulated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.UseSimulated
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// ToggleResponder switches between the simulated and remote responders and
// returns the new UseSimulated value
func (c *Controller) ToggleResponder() bool {
	c.mu.Lock()
	c.state.UseSimulated = !c.state.UseSimulated
	simulated := c.state.UseSimulated
	c.mu.Unlock()

	c.logger.Info("responder toggled", "simulated", simulated)
	return simulated
}

// Clear empties the message list
func (c *Controller) Clear() {
	c.mu.Lock()
	n := len(c.state.Messages)
	c.state.Messages = []session.Message{}
	c.mu.Unlock()

	c.logger.Info("conversation cleared", "message_count", n)
}

// SendMessage appends text as a user message and starts an exchange for it.
// It returns false without touching the state when text is blank or an
// exchange is already in flight.
func (c *Controller) SendMessage(ctx context.Context, text string) (*Exchange, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	c.mu.Lock()
	if c.state.Loading {
		c.mu.Unlock()
		return nil, false
	}
	user := c.appendLocked(session.Message{Text: text, Sender: session.SenderUser})
	c.state.Loading = true
	responder := c.remote
	if c.state.UseSimulated {
		responder = c.simulated
	}
	c.mu.Unlock()

	c.count(ctx, session.SenderUser)

	ex := &Exchange{User: user, done: make(chan struct{})}
	// detached: the exchange outlives whatever triggered it and has no deadline
	go c.run(context.WithoutCancel(ctx), responder, ex)
	return ex, true
}

func (c *Controller) run(ctx context.Context, responder backend.Responder, ex *Exchange) {
	ctx, span := c.tracer.Start(ctx, "chat.exchange",
		trace.WithAttributes(
			attribute.String("session.id", c.sessionID),
			attribute.String("responder", responder.Name()),
		),
	)
	defer span.End()

	start := c.now()
	text, err := responder.Reply(ctx, ex.User.Text)

	reply := session.Message{Text: text, Sender: session.SenderAI}
	if err != nil {
		c.logger.Error("exchange failed", "responder", responder.Name(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if c.failures != nil {
			c.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("responder", responder.Name())))
		}
		reply = session.Message{Text: ErrorText, Sender: session.SenderSystem, IsError: true}
	}

	c.mu.Lock()
	ex.reply = c.appendLocked(reply)
	c.state.Loading = false
	c.mu.Unlock()

	c.count(ctx, reply.Sender)
	c.logger.Debug("exchange settled",
		"responder", responder.Name(),
		"is_error", reply.IsError,
		"elapsed", c.now().Sub(start),
	)
	close(ex.done)
}

// appendLocked stamps msg with the next ID and appends it; c.mu must be held
func (c *Controller) appendLocked(msg session.Message) session.Message {
	id := c.now().UnixMilli()
	if id <= c.lastID {
		id = c.lastID + 1
	}
	c.lastID = id
	msg.ID = id
	c.state.Messages = append(c.state.Messages, msg)
	return msg
}

func (c *Controller) count(ctx context.Context, sender session.Sender) {
	if c.messages == nil {
		return
	}
	c.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("sender", string(sender))))
}

// Exchange is one accepted SendMessage call. It settles exactly once, after
// its reply has been appended and loading has been cleared.
type Exchange struct {
	User  session.Message
	done  chan struct{}
	reply session.Message
}

// Done is closed when the exchange settles
func (e *Exchange) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the exchange settles and returns the appended reply
func (e *Exchange) Wait() session.Message {
	<-e.done
	return e.reply
}
