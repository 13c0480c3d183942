package models

import "strings"

// StreamingState describes where a message is in its streaming lifecycle.
type StreamingState string

const (
	StreamingStateLoading   StreamingState = "loading"
	StreamingStateStreaming StreamingState = "streaming"
	StreamingStateEnded     StreamingState = "ended"
)

const (
	// PendingMarker is the placeholder text of a bot message whose answer has not produced a token yet.
	PendingMarker = "⏳"
	// TerminalSentinel is the inbound payload that ends the answer currently streaming.
	TerminalSentinel = "[FINE]"
)

// AppendToken folds one streamed token into the text of a bot message.
//
// The placeholder (or an empty text) is replaced by the first token. Later tokens are joined with a single space unless the
// text already ends with the token, which suppresses the duplicates some backends resend. The rule is a
// heuristic: an answer that legitimately repeats a word back to back loses the repetition.
func AppendToken(text, token string) string {
	if text == PendingMarker || text == "" {
		return token
	}
	if strings.HasSuffix(text, token) {
		return text
	}
	return text + " " + token
}
