package models_test

import (
	"strings"
	"testing"

	"github.com/MegaGrindStone/chatbot-ui/internal/models"
)

func TestAppendToken(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		token string
		want  string
	}{
		{name: "Placeholder is replaced", text: models.PendingMarker, token: "Hello", want: "Hello"},
		{name: "Empty text takes token", text: "", token: "Hello", want: "Hello"},
		{name: "Token joined with space", text: "Hello", token: "world", want: "Hello world"},
		{name: "Repeated suffix is not duplicated", text: "foo", token: "foo", want: "foo"},
		{name: "Partial suffix is not duplicated", text: "Hello world", token: "world", want: "Hello world"},
		{name: "Repeated word is lost", text: "very", token: "very", want: "very"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := models.AppendToken(tt.text, tt.token); got != tt.want {
				t.Errorf("AppendToken(%q, %q) = %q, want %q", tt.text, tt.token, got, tt.want)
			}
		})
	}
}

func TestAppendTokenSequence(t *testing.T) {
	text := models.PendingMarker
	for _, token := range []string{"Hello", "world"} {
		text = models.AppendToken(text, token)
	}
	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}
}

func TestRenderText(t *testing.T) {
	tests := []struct {
		name    string
		msg     models.Message
		want    string
		notWant string
	}{
		{
			name: "Pending marker renders empty",
			msg:  models.Message{Sender: models.SenderBot, Text: models.PendingMarker},
			want: "",
		},
		{
			name:    "User text is escaped",
			msg:     models.Message{Sender: models.SenderUser, Text: "<b>hi</b>"},
			want:    "&lt;b&gt;hi&lt;/b&gt;",
			notWant: "<b>",
		},
		{
			name: "Bot text is markdown",
			msg:  models.Message{Sender: models.SenderBot, Text: "**art. 2043**"},
			want: "<strong>art. 2043</strong>",
		},
		{
			name:    "Bot raw HTML is dropped",
			msg:     models.Message{Sender: models.SenderBot, Text: "<script>alert(1)</script>"},
			notWant: "<script>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := models.RenderText(tt.msg)
			if err != nil {
				t.Fatalf("RenderText() error = %v", err)
			}
			if tt.want == "" && tt.notWant == "" && got != "" {
				t.Errorf("RenderText() = %q, want empty", got)
			}
			if tt.want != "" && !strings.Contains(string(got), tt.want) {
				t.Errorf("RenderText() = %q, want to contain %q", got, tt.want)
			}
			if tt.notWant != "" && strings.Contains(string(got), tt.notWant) {
				t.Errorf("RenderText() = %q, want not to contain %q", got, tt.notWant)
			}
		})
	}
}
