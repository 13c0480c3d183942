package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/chatbot-ui/internal/session"
)

// HandleCreateChat creates a new thread on the backend and makes it the active one. The refreshed sidebar and
// the empty chat box reach the browsers through the SSE stream, so a successful request answers 204.
func (m Main) HandleCreateChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	thread, err := m.session.CreateThread(r.Context())
	if err != nil {
		m.logger.Error("Failed to create chat", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	m.logger.Debug("Chat created", slog.String("chatID", thread.ChatID))
	w.WriteHeader(http.StatusNoContent)
}

// HandleSelectChat switches the active thread to the one named by the "chat_id" form field and loads its
// history.
func (m Main) HandleSelectChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	if chatID == "" {
		m.logger.Error("Chat ID is required")
		http.Error(w, "Chat ID is required", http.StatusBadRequest)
		return
	}

	if err := m.session.SelectThread(r.Context(), chatID); err != nil {
		m.logger.Error("Failed to select chat",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleMessages submits the "message" form field as a question in the active thread. The answer streams to
// the browsers through the SSE stream.
//
// A question sent while the previous answer is still streaming is refused with 409, and one sent before the
// session is connected with 503.
func (m Main) HandleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	if err := m.session.SubmitText(r.Context(), msg); err != nil {
		m.logger.Error("Failed to submit message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrAwaitingAnswer):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
