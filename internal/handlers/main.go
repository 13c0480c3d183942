package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"time"

	chatbotui "github.com/MegaGrindStone/chatbot-ui"
	"github.com/MegaGrindStone/chatbot-ui/internal/models"
	"github.com/MegaGrindStone/chatbot-ui/internal/session"
	"github.com/tmaxmax/go-sse"
)

// Session is the chat session the web interface drives. Every browser tab shares the same one; changes
// made from any tab are pushed to all of them.
type Session interface {
	Snapshot() session.Snapshot
	Subscribe(fn func(session.Snapshot)) func()

	SubmitText(ctx context.Context, text string) error
	SelectThread(ctx context.Context, chatID string) error
	CreateThread(ctx context.Context) (models.ChatThread, error)
}

// Main handles the web interface of the widget. It renders the page from session snapshots, turns form posts
// into session operations, and pushes every session change to the connected browsers over server-sent
// events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	title       string
	session     Session
	unsubscribe func()

	logger *slog.Logger
}

type chat struct {
	ID    string
	Label string

	Active bool
}

type message struct {
	ID      string
	Sender  string
	Content template.HTML

	Pending        bool
	StreamingState string
}

type pageData struct {
	Title     string
	ChatID    string
	Chats     []chat
	Messages  []message
	Input     string
	Busy      bool
	Connected bool
	Err       string
}

// SSE event types for real-time updates.
const (
	chatsSSEEvent    = "chats"
	messagesSSEEvent = "messages"
)

const errLoggerKey = "err"

// NewMain creates a Main bound to sess. It parses the embedded templates and subscribes to the session, so
// every later change is published to the browsers. Shutdown releases the subscription.
func NewMain(sess Session, title string, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		chatbotui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic},
				}, true
			},
		},
		templates: tmpl,
		title:     title,
		session:   sess,
		logger:    logger.With(slog.String("module", "main")),
	}
	m.unsubscribe = sess.Subscribe(m.publish)

	return m, nil
}

// Shutdown gracefully terminates the Main instance's SSE server. It stops listening to the session,
// broadcasts a close message to all connected clients and waits up to 5 seconds for connections to
// terminate. After the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.unsubscribe()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// Events without data are dropped by browsers, so the close event carries a payload
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// publish renders the sidebar and the chat box of snap and sends them to every subscribed browser.
func (m Main) publish(snap session.Snapshot) {
	data, err := m.pageData(snap)
	if err != nil {
		m.logger.Error("Failed to prepare page data", slog.String(errLoggerKey, err.Error()))
		return
	}

	if err := m.publishPartial(chatsSSEEvent, "sidebar", data); err != nil {
		m.logger.Error("Failed to publish chats", slog.String(errLoggerKey, err.Error()))
		return
	}
	if err := m.publishPartial(messagesSSEEvent, "chatbox", data); err != nil {
		m.logger.Error("Failed to publish messages", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) publishPartial(event, name string, data pageData) error {
	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, data); err != nil {
		return fmt.Errorf("failed to execute %s template: %w", name, err)
	}

	msg := sse.Message{
		Type: sse.Type(event),
	}
	msg.AppendData(sb.String())
	return m.sseSrv.Publish(&msg)
}

func (m Main) pageData(snap session.Snapshot) (pageData, error) {
	chats := make([]chat, len(snap.Chats))
	for i, ch := range snap.Chats {
		chats[i] = chat{
			ID:     ch.ChatID,
			Label:  fmt.Sprintf("Chat%d", i),
			Active: ch.ChatID == snap.ChatID,
		}
	}

	msgs := make([]message, len(snap.Messages))
	for i, msg := range snap.Messages {
		content, err := models.RenderText(msg)
		if err != nil {
			return pageData{}, fmt.Errorf("failed to render message %s: %w", msg.ID, err)
		}
		msgs[i] = message{
			ID:             msg.ID,
			Sender:         string(msg.Sender),
			Content:        content,
			Pending:        msg.Text == models.PendingMarker,
			StreamingState: string(msg.StreamingState),
		}
	}

	return pageData{
		Title:     m.title,
		ChatID:    snap.ChatID,
		Chats:     chats,
		Messages:  msgs,
		Input:     snap.Input,
		Busy:      snap.Loading || snap.InputDisabled,
		Connected: snap.Connected,
		Err:       snap.Err,
	}, nil
}
