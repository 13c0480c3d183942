// Package session implements the chat session behind the widget: one realtime connection, the list of threads,
// the active thread's conversation and the answer currently streaming into it.
//
// A Session is safe for concurrent use. Network calls run outside its lock, and every state change is
// delivered to subscribers as a Snapshot, in the order the changes happened.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MegaGrindStone/chatbot-ui/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Backend is the HTTP side of the chat backend.
type Backend interface {
	Chats(ctx context.Context) ([]models.ChatThread, error)
	CreateChat(ctx context.Context) (models.ChatThread, error)
	Messages(ctx context.Context, chatID string) ([]models.Message, error)
}

// Prefs persists the identifier of the selected thread.
type Prefs interface {
	SelectedChat(ctx context.Context) (string, error)
	SetSelectedChat(ctx context.Context, chatID string) error
}

// Conn is an open realtime connection.
type Conn interface {
	Emit(ctx context.Context, event string, payload any) error
	Close() error
}

// EventHandler receives inbound realtime events. *Session implements it.
type EventHandler interface {
	HandleToken(payload string)
	HandleDisconnect(err error)
	HandleReconnect()
}

// DialFunc opens the realtime connection and routes its inbound events to h.
type DialFunc func(ctx context.Context, h EventHandler) (Conn, error)

// State is the position of the session in its request cycle.
type State int

const (
	// StateIdle accepts a new question.
	StateIdle State = iota
	// StateAwaitingAnswer has a question in flight; new questions are rejected until the terminal sentinel.
	StateAwaitingAnswer
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrNotReady is returned by Submit before the connection and the active thread are both established.
	ErrNotReady = errors.New("session is not ready")
	// ErrAwaitingAnswer is returned by Submit while a previous question is still being answered.
	ErrAwaitingAnswer = errors.New("an answer is still streaming")
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("session is closed")
)

// Snapshot is a copy of the session state. It is safe to keep and read after the session moves on.
type Snapshot struct {
	ChatID        string
	Chats         []models.ChatThread
	Messages      []models.Message
	Input         string
	Loading       bool
	InputDisabled bool
	State         State
	Connected     bool
	InFlightID    string
	Err           string
}

// Options configures a Session. Backend, Prefs and Dial are required.
type Options struct {
	Backend Backend
	Prefs   Prefs
	Dial    DialFunc
	Logger  *slog.Logger
}

// Session is the chat session state machine.
type Session struct {
	backend Backend
	prefs   Prefs
	dial    DialFunc
	logger  *slog.Logger

	mu            sync.Mutex
	conn          Conn
	connected     bool
	closed        bool
	chatID        string
	chats         []models.ChatThread
	messages      []models.Message
	input         string
	loading       bool
	inputDisabled bool
	state         State
	inFlightID    string
	err           string
	loadSeq       uint64

	notifyMu    sync.Mutex
	subsMu      sync.Mutex
	subscribers map[uint64]func(Snapshot)
	nextSubID   uint64
}

const errLoggerKey = "err"

// New creates a Session. Nothing is fetched or dialed until Mount.
func New(opts Options) (*Session, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if opts.Prefs == nil {
		return nil, fmt.Errorf("prefs is required")
	}
	if opts.Dial == nil {
		return nil, fmt.Errorf("dial func is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		backend:     opts.Backend,
		prefs:       opts.Prefs,
		dial:        opts.Dial,
		logger:      logger.With(slog.String("module", "session")),
		subscribers: make(map[uint64]func(Snapshot)),
	}, nil
}

// Mount opens the realtime connection and, concurrently, fetches the thread list and resolves the active
// thread: the stored one with its history, or a freshly created one that gets stored. Failures are recorded
// in the snapshot and the first one is returned; one failing step does not undo the others.
func (s *Session) Mount(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}

	var eg errgroup.Group
	eg.Go(func() error {
		return s.connect(ctx)
	})
	eg.Go(func() error {
		return s.refreshChats(ctx)
	})
	eg.Go(func() error {
		return s.resolveActiveChat(ctx)
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	s.logger.Info("Session mounted", slog.String("chatID", s.Snapshot().ChatID))
	return nil
}

func (s *Session) connect(ctx context.Context) error {
	conn, err := s.dial(ctx, s)
	if err != nil {
		err = fmt.Errorf("failed to connect: %w", err)
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) refreshChats(ctx context.Context) error {
	chats, err := s.backend.Chats(ctx)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.chats = chats
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) resolveActiveChat(ctx context.Context) error {
	stored, err := s.prefs.SelectedChat(ctx)
	if err != nil {
		s.fail(err)
		return err
	}
	if stored != "" {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil
		}
		s.chatID = stored
		s.mu.Unlock()
		return s.loadMessages(ctx, stored)
	}

	chat, err := s.backend.CreateChat(ctx)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.chatID = chat.ChatID
	s.mu.Unlock()
	s.notify()

	if err := s.prefs.SetSelectedChat(ctx, chat.ChatID); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

// loadMessages clears the conversation and replaces it with the backend's history of chatID. When loads
// overlap only the most recently started one is applied.
func (s *Session) loadMessages(ctx context.Context, chatID string) error {
	s.mu.Lock()
	s.loadSeq++
	seq := s.loadSeq
	s.messages = nil
	s.mu.Unlock()
	s.notify()

	messages, err := s.backend.Messages(ctx, chatID)
	if err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.closed || seq != s.loadSeq {
		s.mu.Unlock()
		s.logger.Debug("Dropping stale history", slog.String("chatID", chatID))
		return nil
	}
	s.messages = messages
	s.mu.Unlock()
	s.notify()
	return nil
}

// SetInput stores the text currently typed in the input field.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
	s.notify()
}

// Submit sends the current input as a question on the active thread.
//
// A blank input is a no-op. Otherwise the user message and a pending bot placeholder are appended, the input
// is cleared, and one offer event is emitted. If the emit fails the placeholder carries the error and the
// session returns to idle.
func (s *Session) Submit(ctx context.Context) error {
	return s.submit(ctx, nil)
}

// SubmitText sends text as a question on the active thread, checking and claiming the session in one step.
// Callers sharing the session use it instead of SetInput followed by Submit, which another caller could
// interleave with. The stored input is cleared on success and left alone otherwise.
func (s *Session) SubmitText(ctx context.Context, text string) error {
	return s.submit(ctx, &text)
}

func (s *Session) submit(ctx context.Context, text *string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	question := s.input
	if text != nil {
		question = *text
	}
	if strings.TrimSpace(question) == "" {
		s.mu.Unlock()
		return nil
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAwaitingAnswer
	}
	if s.conn == nil || !s.connected || s.chatID == "" {
		s.mu.Unlock()
		return ErrNotReady
	}

	s.messages = append(s.messages, models.Message{
		ID:             uuid.New().String(),
		Sender:         models.SenderUser,
		Text:           question,
		StreamingState: models.StreamingStateEnded,
	})
	s.loading = true
	s.inputDisabled = true
	s.input = ""

	placeholder := models.Message{
		ID:             uuid.New().String(),
		Sender:         models.SenderBot,
		Text:           models.PendingMarker,
		StreamingState: models.StreamingStateLoading,
	}
	s.messages = append(s.messages, placeholder)
	s.inFlightID = placeholder.ID
	s.state = StateAwaitingAnswer
	s.err = ""

	conn := s.conn
	offer := models.Offer{Question: question, ChatID: s.chatID}
	s.mu.Unlock()
	s.notify()

	if err := conn.Emit(ctx, models.EventOffer, offer); err != nil {
		err = fmt.Errorf("failed to send question: %w", err)
		s.abortInFlight(placeholder.ID, err)
		return err
	}

	s.logger.Debug("Question sent",
		slog.String("chatID", offer.ChatID),
		slog.String("messageID", placeholder.ID))
	return nil
}

// HandleToken folds one inbound message event into the conversation. The terminal sentinel ends the answer
// in flight; any other payload is appended to it with models.AppendToken.
func (s *Session) HandleToken(payload string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if payload == models.TerminalSentinel {
		s.loading = false
		s.inputDisabled = false
		s.state = StateIdle
		if idx := s.indexOf(s.inFlightID); idx >= 0 {
			s.messages[idx].StreamingState = models.StreamingStateEnded
		}
		s.inFlightID = ""
		s.mu.Unlock()
		s.notify()
		return
	}

	idx := s.tokenTarget()
	if idx < 0 {
		s.mu.Unlock()
		s.logger.Debug("Dropping token without target", slog.String("token", payload))
		return
	}
	s.messages[idx].Text = models.AppendToken(s.messages[idx].Text, payload)
	s.messages[idx].StreamingState = models.StreamingStateStreaming
	s.mu.Unlock()
	s.notify()
}

// tokenTarget returns the index of the message a token belongs to: the in-flight message when there is one,
// otherwise a trailing bot message. A token for an in-flight message that is no longer displayed (the thread
// changed) has no target.
func (s *Session) tokenTarget() int {
	if s.inFlightID != "" {
		return s.indexOf(s.inFlightID)
	}
	last := len(s.messages) - 1
	if last >= 0 && s.messages[last].Sender == models.SenderBot {
		return last
	}
	return -1
}

func (s *Session) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// HandleDisconnect marks the session disconnected and fails the answer in flight, if any, so the input does
// not stay disabled forever.
func (s *Session) HandleDisconnect(err error) {
	s.mu.Lock()
	s.connected = false
	id := s.inFlightID
	awaiting := s.state == StateAwaitingAnswer
	s.mu.Unlock()

	if !awaiting {
		s.fail(fmt.Errorf("realtime connection lost: %w", err))
		return
	}
	s.abortInFlight(id, fmt.Errorf("realtime connection lost: %w", err))
}

func (s *Session) abortInFlight(id string, err error) {
	s.logger.Error("Answer failed", slog.String(errLoggerKey, err.Error()))

	s.mu.Lock()
	if idx := s.indexOf(id); idx >= 0 {
		s.messages[idx].Text = "⚠️ " + err.Error()
		s.messages[idx].StreamingState = models.StreamingStateEnded
	}
	if s.inFlightID == id {
		s.inFlightID = ""
		s.loading = false
		s.inputDisabled = false
		s.state = StateIdle
	}
	s.err = err.Error()
	s.mu.Unlock()
	s.notify()
}

// HandleReconnect marks the session connected again after the realtime layer redialed.
func (s *Session) HandleReconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.connected = true
	s.mu.Unlock()
	s.notify()

	s.logger.Info("Realtime connection restored")
}

// SelectThread makes chatID the active thread, stores it, and replaces the conversation with its history.
func (s *Session) SelectThread(ctx context.Context, chatID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.chatID = chatID
	s.err = ""
	s.mu.Unlock()
	s.notify()

	if err := s.prefs.SetSelectedChat(ctx, chatID); err != nil {
		s.fail(err)
		return err
	}
	return s.loadMessages(ctx, chatID)
}

// CreateThread creates a thread on the backend, appends it to the thread list and selects it.
func (s *Session) CreateThread(ctx context.Context) (models.ChatThread, error) {
	if s.isClosed() {
		return models.ChatThread{}, ErrClosed
	}

	chat, err := s.backend.CreateChat(ctx)
	if err != nil {
		s.fail(err)
		return models.ChatThread{}, err
	}

	s.mu.Lock()
	s.chats = append(s.chats, chat)
	s.mu.Unlock()
	s.notify()

	if err := s.SelectThread(ctx, chat.ChatID); err != nil {
		return chat, err
	}
	return chat, nil
}

// Close closes the realtime connection. Events and fetch results arriving afterwards are ignored.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	s.notify()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	chats := make([]models.ChatThread, len(s.chats))
	copy(chats, s.chats)
	messages := make([]models.Message, len(s.messages))
	copy(messages, s.messages)

	return Snapshot{
		ChatID:        s.chatID,
		Chats:         chats,
		Messages:      messages,
		Input:         s.input,
		Loading:       s.loading,
		InputDisabled: s.inputDisabled,
		State:         s.state,
		Connected:     s.connected,
		InFlightID:    s.inFlightID,
		Err:           s.err,
	}
}

// Subscribe registers fn to receive a snapshot after every state change. Calls are serialized and arrive in
// change order. fn must not call back into methods that change the session. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subscribers, id)
		s.subsMu.Unlock()
	}
}

func (s *Session) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	snap := s.Snapshot()

	s.subsMu.Lock()
	subs := make([]func(Snapshot), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

func (s *Session) fail(err error) {
	s.logger.Error("Session operation failed", slog.String(errLoggerKey, err.Error()))

	s.mu.Lock()
	s.err = err.Error()
	s.mu.Unlock()
	s.notify()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
