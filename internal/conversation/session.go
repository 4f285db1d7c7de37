// ABOUTME: Session is the conversation aggregate root and its busy/cancel/load state machine
// ABOUTME: Every update flows record -> aggregates -> link/render/coalesce -> diff -> fan-out

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/2389/coven-sessions/internal/agent"
)

// recordTimeout bounds each persistence call made while streaming.
const recordTimeout = 5 * time.Second

// Recorder persists the raw updates appended to a session. Recording happens
// before an update is applied so the log is the source of truth.
type Recorder interface {
	RecordUpdate(ctx context.Context, sessionID string, u *agent.Update) error
}

// SendResult reports the outcome of Send.
type SendResult struct {
	Success       bool
	TurnCount     int
	LastAssistant *Turn
	Usage         Usage
	Err           error
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the local session id instead of generating one.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithRecorder persists every live update through r.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithReadTool sets the tool name whose runs are coalesced.
func WithReadTool(name string) Option {
	return func(s *Session) { s.readTool = name }
}

// WithTodoTool sets the tool name whose input replaces the todo list.
func WithTodoTool(name string) Option {
	return func(s *Session) { s.todoTool = name }
}

// WithQueryOptions sets the options forwarded with every query.
func WithQueryOptions(opts agent.Options) Option {
	return func(s *Session) { s.queryOpts = opts }
}

// cancelToken is minted per send and invalidated on completion or Cancel.
type cancelToken struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	fired  atomic.Bool
}

func newCancelToken(parent context.Context) *cancelToken {
	ctx, cancel := context.WithCancel(parent)
	return &cancelToken{id: uuid.New().String(), ctx: ctx, cancel: cancel}
}

func (t *cancelToken) fire() {
	t.fired.Store(true)
	t.cancel()
}

func (t *cancelToken) cancelled() bool {
	return t.fired.Load()
}

// Session owns one conversation's canonical history and derived state.
//
// Sends are serialized: a Send issued while another is in flight waits for
// it. Updates are applied atomically one at a time, and the events they
// produce are delivered in emission order through a per-session outbox, so
// listeners may call back into the session (accessors, Subscribe,
// Unsubscribe, Cancel) while being notified.
type Session struct {
	id        string
	transport agent.Transport
	recorder  Recorder
	queryOpts agent.Options
	readTool  string
	todoTool  string
	logger    *slog.Logger

	sendSem chan struct{}
	loads   singleflight.Group
	subs    *Broadcaster

	mu             sync.Mutex
	conversationID string
	turns          []*Turn
	turnIDs        map[string]struct{}
	snapshot       []*Turn
	busy           bool
	loading        bool
	err            error
	token          *cancelToken
	updatedAt      time.Time
	agg            *Aggregates
	coalescer      *Coalescer

	outMu  sync.Mutex
	outbox []queuedEvent
	// enqueued is the seq of the newest queued event; written under mu and outMu
	enqueued   uint64
	draining   bool
	publishing atomic.Uint64
}

// queuedEvent is an outbox entry. seq increases by one per queued event.
type queuedEvent struct {
	seq uint64
	evt Event
}

// NewSession creates an empty, idle session.
func NewSession(transport agent.Transport, opts ...Option) (*Session, error) {
	if transport == nil {
		return nil, newError(KindConstruction, "new session", ErrInvalidTransport)
	}

	s := &Session{
		transport: transport,
		sendSem:   make(chan struct{}, 1),
		turnIDs:   make(map[string]struct{}),
		updatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "session", "session_id", s.id)
	s.subs = NewBroadcaster(s.logger)
	s.agg = NewAggregates(s.todoTool)
	s.coalescer = NewCoalescer(s.readTool)

	return s, nil
}

// ID returns the local session id.
func (s *Session) ID() string {
	return s.id
}

// ConversationID returns the remote conversation id, empty until assigned.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Snapshot returns the current renderable history.
func (s *Session) Snapshot() []*Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.snapshot)
}

// Turns returns the canonical appended history, including turns that render
// as empty.
func (s *Session) Turns() []*Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.turns)
}

// Info returns the session status.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

// Usage returns the usage totals.
func (s *Session) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Usage()
}

// Todos returns the todo list.
func (s *Session) Todos() []TodoItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Todos()
}

// Tools returns the tool inventory.
func (s *Session) Tools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Tools()
}

// Summary returns the session summary.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Summary()
}

// Err returns the last recorded error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Busy reports whether a send is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Loading reports whether a history load is running.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Listeners returns the number of subscribed listeners.
func (s *Session) Listeners() int {
	return s.subs.Len()
}

// Subscribe registers l and immediately delivers the current state to it:
// session_info, messages_loaded, usage_updated, todos_updated and
// tools_updated. If l returns an error during that initial delivery the
// subscription is rolled back and the error returned.
//
// Later events reach l only after the initial delivery, in emission order,
// and events already reflected in the initial state are not repeated. l is
// never called concurrently with itself.
func (s *Session) Subscribe(l Listener) (string, error) {
	if l == nil {
		return "", newError(KindSubscription, "subscribe", ErrInvalidListener)
	}

	s.mu.Lock()
	initial := s.stateEventsLocked(Changes{Todos: true, Tools: true, Usage: true})
	sub := &subscriber{session: s, listener: l, after: s.enqueued, pending: true}
	subID := s.subs.Subscribe(sub.deliver)
	s.mu.Unlock()

	for _, evt := range initial {
		if err := l(evt); err != nil {
			s.subs.Unsubscribe(subID)
			return "", newError(KindSubscription, "subscribe", err)
		}
	}
	sub.catchUp(subID)
	return subID, nil
}

// subscriber holds back events published while its initial delivery is
// still running on the subscribing goroutine.
type subscriber struct {
	session  *Session
	listener Listener
	after    uint64

	mu      sync.Mutex
	pending bool
	held    []Event
}

func (sub *subscriber) deliver(evt Event) error {
	if sub.session.publishing.Load() <= sub.after {
		return nil
	}
	sub.mu.Lock()
	if sub.pending {
		sub.held = append(sub.held, evt)
		sub.mu.Unlock()
		return nil
	}
	sub.mu.Unlock()
	return sub.listener(evt)
}

// catchUp delivers held events until none remain, then lets the publisher
// call the listener directly.
func (sub *subscriber) catchUp(subID string) {
	for {
		sub.mu.Lock()
		held := sub.held
		sub.held = nil
		if len(held) == 0 {
			sub.pending = false
			sub.mu.Unlock()
			return
		}
		sub.mu.Unlock()

		for _, evt := range held {
			if err := sub.listener(evt); err != nil {
				sub.session.logger.Warn("listener returned error",
					"sub_id", subID,
					"event", evt.Type,
					"error", err)
			}
		}
	}
}

// Unsubscribe removes a listener. It reports whether the id was registered.
func (s *Session) Unsubscribe(subID string) bool {
	return s.subs.Unsubscribe(subID)
}

// Send appends a user turn built from prompt and attachments, streams the
// agent's response, and applies every update as it arrives. Attachments
// other than text, image and document are logged and dropped; the prompt
// text always comes last.
//
// Send never returns an error directly: failures are recorded on the session
// and reported through the result.
func (s *Session) Send(ctx context.Context, prompt string, attachments []agent.Fragment) *SendResult {
	select {
	case s.sendSem <- struct{}{}:
	case <-ctx.Done():
		return s.result(newError(KindOperation, "send", ctx.Err()))
	}
	defer func() { <-s.sendSem }()

	tok := newCancelToken(ctx)
	s.mu.Lock()
	s.busy = true
	s.err = nil
	s.token = tok
	resume := s.conversationID
	s.enqueueLocked(s.infoEventLocked())
	s.mu.Unlock()
	s.flush()

	defer s.finish(tok)

	log := s.logger.With("token", tok.id)
	outgoing := s.buildPrompt(prompt, attachments, resume)
	s.process(outgoing, true)

	stream, err := s.transport.Query(tok.ctx, &agent.QueryRequest{
		Resume:  resume,
		Prompt:  outgoing,
		Options: s.queryOpts,
	})
	if err != nil {
		return s.fail(log, fmt.Errorf("opening stream: %w", err))
	}

	var streamErr error
	count := 0
	for item := range stream {
		if tok.cancelled() {
			break
		}
		if item.Err != nil {
			streamErr = item.Err
			break
		}
		if item.Update == nil {
			continue
		}
		s.process(item.Update, true)
		count++
	}

	if tok.cancelled() {
		log.Info("send cancelled", "updates", count)
		return s.result(newError(KindCancellation, "send", ErrCancelled))
	}
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}
	if streamErr != nil {
		return s.fail(log, streamErr)
	}

	log.Debug("send completed", "updates", count)
	return s.result(nil)
}

// Cancel stops the in-flight send. Updates already applied stay applied.
// It reports false when nothing was in flight.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	tok := s.token
	if tok == nil {
		s.mu.Unlock()
		return false
	}
	tok.fire()
	s.token = nil
	s.busy = false
	s.err = newError(KindCancellation, "cancel", ErrCancelled)
	s.updatedAt = time.Now()
	s.enqueueLocked(s.infoEventLocked())
	s.mu.Unlock()

	s.logger.Info("send cancelled by user", "token", tok.id)
	s.flush()
	return true
}

// Load replaces the session history with the recorded history of the remote
// conversation. Concurrent calls share the load already running.
func (s *Session) Load(ctx context.Context, conversationID string) error {
	_, err, shared := s.loads.Do("load", func() (any, error) {
		return nil, s.load(ctx, conversationID)
	})
	if shared {
		s.logger.Debug("joined in-flight load", "conversation_id", conversationID)
	}
	return err
}

// Resume loads conversationID so later sends continue it.
func (s *Session) Resume(ctx context.Context, conversationID string) error {
	return s.Load(ctx, conversationID)
}

// Close cancels any in-flight send and drops every listener.
func (s *Session) Close() {
	s.Cancel()
	s.subs.Close()
}

func (s *Session) load(ctx context.Context, conversationID string) error {
	log := s.logger.With("conversation_id", conversationID)

	s.mu.Lock()
	s.loading = true
	s.enqueueLocked(s.infoEventLocked())
	s.mu.Unlock()
	s.flush()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.enqueueLocked(s.infoEventLocked())
		s.mu.Unlock()
		s.flush()
	}()

	updates, err := s.transport.History(ctx, conversationID)
	if err != nil {
		lerr := newError(KindLoad, "load", err)
		s.mu.Lock()
		s.err = lerr
		s.mu.Unlock()
		log.Error("failed to load history", "error", err)
		return lerr
	}

	s.mu.Lock()
	s.conversationID = conversationID
	s.turns = nil
	clear(s.turnIDs)
	s.coalescer.Reset()
	s.updatedAt = time.Now()

	var changes Changes
	if len(updates) == 0 {
		s.agg.Reset()
		s.snapshot = nil
		changes = Changes{Todos: true, Tools: true, Usage: true}
	} else {
		reset := s.agg.Reset()
		s.agg.BeginBulk()
		for _, u := range updates {
			s.applyLocked(u, true)
		}
		changes = reset.merge(s.agg.EndBulk())
		s.conversationID = conversationID
	}

	s.enqueueLocked(Event{Type: EventMessagesLoaded, SessionID: s.id, Turns: slices.Clone(s.snapshot)})
	s.enqueueLocked(s.aggregateEventsLocked(changes)...)
	turnCount := len(s.snapshot)
	s.mu.Unlock()
	s.flush()

	log.Info("history loaded", "updates", len(updates), "turns", turnCount)
	return nil
}

// process records u and applies it, then delivers the resulting events.
func (s *Session) process(u *agent.Update, record bool) {
	if record && s.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := s.recorder.RecordUpdate(recCtx, s.id, u); err != nil {
			s.logger.Error("failed to record update",
				"error", err,
				"uuid", u.UUID,
				"type", u.Type)
		}
		cancel()
	}

	s.mu.Lock()
	s.applyLocked(u, false)
	s.mu.Unlock()
	s.flush()
}

// applyLocked folds one update into the session. Unless bulk is set, it
// queues the events describing the change. Must be called with mu held.
func (s *Session) applyLocked(u *agent.Update, bulk bool) {
	changes := s.agg.Observe(u)

	infoChanged := false
	if u.SessionID != "" && u.SessionID != s.conversationID {
		s.conversationID = u.SessionID
		infoChanged = true
	}

	type linkedResult struct {
		turnID string
		result *agent.ToolResult
	}
	explicit := make(map[string]struct{})
	var linked []linkedResult
	for _, f := range u.Content {
		if f.Kind != agent.FragmentToolResult {
			continue
		}
		owner := LinkResult(s.turns, f.ToolResult)
		if owner == nil {
			s.logger.Debug("tool result has no matching invocation", "tool_use_id", f.ToolResult.ToolUseID)
			continue
		}
		explicit[owner.ID] = struct{}{}
		linked = append(linked, linkedResult{turnID: owner.ID, result: f.ToolResult})
	}

	if turn, ok := TurnFromUpdate(u); ok {
		if _, dup := s.turnIDs[turn.ID]; dup {
			fresh := uuid.New().String()
			s.logger.Warn("duplicate update id, assigning a new one",
				"uuid", turn.ID,
				"new_uuid", fresh,
				"type", u.Type)
			turn.ID = fresh
		}
		s.turns = append(s.turns, turn)
		s.turnIDs[turn.ID] = struct{}{}
	}
	s.updatedAt = time.Now()

	next := s.renderLocked()
	prev := s.snapshot
	s.snapshot = next
	if bulk {
		return
	}

	s.enqueueLocked(s.aggregateEventsLocked(changes)...)
	if infoChanged {
		s.enqueueLocked(s.infoEventLocked())
	}

	d := DiffHistory(prev, next, explicit)
	for _, t := range d.Added {
		s.enqueueLocked(Event{Type: EventMessageAdded, SessionID: s.id, Turn: t})
	}
	for _, t := range d.Updated {
		s.enqueueLocked(Event{Type: EventMessageUpdated, SessionID: s.id, Turn: t})
	}
	for _, id := range d.Removed {
		s.enqueueLocked(Event{Type: EventMessageRemoved, SessionID: s.id, TurnID: id})
	}
	for _, l := range linked {
		s.enqueueLocked(Event{
			Type:      EventToolResultUpdated,
			SessionID: s.id,
			TurnID:    l.turnID,
			ToolUseID: l.result.ToolUseID,
			Result:    l.result,
		})
	}
}

// renderLocked derives the snapshot from the canonical turns.
func (s *Session) renderLocked() []*Turn {
	visible := make([]*Turn, 0, len(s.turns))
	for _, t := range s.turns {
		if !t.IsEmpty() {
			visible = append(visible, t)
		}
	}
	return s.coalescer.Apply(visible)
}

func (s *Session) buildPrompt(prompt string, attachments []agent.Fragment, resume string) *agent.Update {
	content := make([]agent.Fragment, 0, len(attachments)+1)
	for _, a := range attachments {
		if !agent.AllowedAttachment(a.Kind) {
			s.logger.Warn("dropping unsupported attachment", "kind", a.Kind)
			continue
		}
		content = append(content, a)
	}
	content = append(content, agent.TextFragment(prompt))

	return &agent.Update{
		Type:      agent.UpdateUser,
		UUID:      uuid.New().String(),
		SessionID: resume,
		Role:      string(RoleUser),
		Timestamp: time.Now(),
		Content:   content,
	}
}

// fail records err as the session error and logs it before building the
// failed result.
func (s *Session) fail(log *slog.Logger, err error) *SendResult {
	opErr := newError(KindOperation, "send", err)
	log.Error("send failed", "error", err)
	return s.result(opErr)
}

func (s *Session) result(err error) *SendResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil && !errors.Is(err, ErrCancelled) {
		s.err = err
	}
	res := &SendResult{
		Success:       err == nil,
		TurnCount:     len(s.snapshot),
		LastAssistant: s.lastAssistantLocked(),
		Usage:         s.agg.Usage(),
		Err:           err,
	}
	if err != nil && errors.Is(err, ErrCancelled) {
		res.Err = s.err
	}
	return res
}

// finish clears in-flight bookkeeping. It runs for every outcome.
func (s *Session) finish(tok *cancelToken) {
	tok.cancel()

	s.mu.Lock()
	if s.token == tok {
		s.token = nil
	}
	wasBusy := s.busy
	s.busy = false
	if wasBusy {
		s.updatedAt = time.Now()
		s.enqueueLocked(s.infoEventLocked())
	}
	s.mu.Unlock()
	s.flush()
}

func (s *Session) lastAssistantLocked() *Turn {
	for i := len(s.turns) - 1; i >= 0; i-- {
		t := s.turns[i]
		if t.Role == RoleAssistant && !t.IsEmpty() {
			return t
		}
	}
	return nil
}

func (s *Session) infoLocked() SessionInfo {
	info := SessionInfo{
		ID:             s.id,
		ConversationID: s.conversationID,
		TurnCount:      len(s.snapshot),
		Active:         s.busy,
		Loading:        s.loading,
		UpdatedAt:      s.updatedAt,
		Summary:        s.agg.Summary(),
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	return info
}

func (s *Session) infoEventLocked() Event {
	info := s.infoLocked()
	return Event{Type: EventSessionInfo, SessionID: s.id, Info: &info}
}

func (s *Session) aggregateEventsLocked(c Changes) []Event {
	var events []Event
	if c.Usage {
		usage := s.agg.Usage()
		events = append(events, Event{Type: EventUsageUpdated, SessionID: s.id, Usage: &usage})
	}
	if c.Todos {
		events = append(events, Event{Type: EventTodosUpdated, SessionID: s.id, Todos: s.agg.Todos()})
	}
	if c.Tools {
		events = append(events, Event{Type: EventToolsUpdated, SessionID: s.id, Tools: s.agg.Tools()})
	}
	return events
}

// stateEventsLocked describes the full current state for a new listener.
func (s *Session) stateEventsLocked(c Changes) []Event {
	events := []Event{
		s.infoEventLocked(),
		{Type: EventMessagesLoaded, SessionID: s.id, Turns: slices.Clone(s.snapshot)},
	}
	return append(events, s.aggregateEventsLocked(c)...)
}

// enqueueLocked appends events to the outbox. Callers hold mu so the queue
// order matches the order state changed in.
func (s *Session) enqueueLocked(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.outMu.Lock()
	for _, evt := range events {
		s.enqueued++
		s.outbox = append(s.outbox, queuedEvent{seq: s.enqueued, evt: evt})
	}
	s.outMu.Unlock()
}

// flush delivers queued events. Only one goroutine drains at a time; a
// flush that finds another drainer leaves its events to that drainer, which
// also covers listeners that trigger new events while being notified.
func (s *Session) flush() {
	s.outMu.Lock()
	if s.draining {
		s.outMu.Unlock()
		return
	}
	s.draining = true
	for len(s.outbox) > 0 {
		q := s.outbox[0]
		s.outbox[0] = queuedEvent{}
		s.outbox = s.outbox[1:]
		s.outMu.Unlock()

		s.publishing.Store(q.seq)
		s.subs.Publish(q.evt)

		s.outMu.Lock()
	}
	s.outbox = nil
	s.draining = false
	s.outMu.Unlock()
}
