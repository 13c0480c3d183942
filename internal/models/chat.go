package models

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
)

// ChatThread represents a conversation container known to the backend. The backend is the only party that
// mints thread identifiers, the widget treats them as opaque strings.
type ChatThread struct {
	ChatID string `json:"chat_id"`
}

// Message represents an individual entry within a thread. Only Sender and Text travel over the wire; ID and
// StreamingState are local bookkeeping used to address the in-flight answer and to render it.
type Message struct {
	ID     string `json:"-"`
	Sender Sender `json:"sender"`
	Text   string `json:"text"`

	StreamingState StreamingState `json:"-"`
}

// Sender represents the author of a message.
type Sender string

const (
	// SenderUser marks a question typed into the widget.
	SenderUser Sender = "user"
	// SenderBot marks an answer produced by the backend.
	SenderBot Sender = "bot"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("github"),
		),
	),
)

// RenderText renders a message text into HTML. Bot answers are treated as markdown, user questions are
// escaped verbatim. The pending marker is rendered as an empty string so templates can show their own typing
// indicator instead.
func RenderText(msg Message) (template.HTML, error) {
	if msg.Text == PendingMarker {
		return "", nil
	}
	if msg.Sender != SenderBot {
		return template.HTML(template.HTMLEscapeString(msg.Text)), nil
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(msg.Text), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return template.HTML(buf.String()), nil //nolint:gosec // goldmark drops raw HTML by default
}
