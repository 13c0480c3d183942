package services_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/chatbot-ui/internal/config"
	"github.com/MegaGrindStone/chatbot-ui/internal/models"
	"github.com/MegaGrindStone/chatbot-ui/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSession(t *testing.T) {
	offers := make(chan models.Offer, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /get_chats", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"chat_id":"a"}]`))
	})
	mux.HandleFunc("POST /create_chat", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"chat_id":"new"}`))
	})
	mux.HandleFunc("GET /get_messages/{chatID}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		var offer models.Offer
		if err := json.Unmarshal(env.Data, &offer); err != nil {
			return
		}
		offers <- offer

		writeFrame(t, conn, models.EventMessage, "Salve")
		writeFrame(t, conn, models.EventMessage, models.TerminalSentinel)
		_, _, _ = conn.ReadMessage()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	prefs, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = prefs.Close() })

	cfg := config.Default()
	cfg.BackendURL = srv.URL
	cfg.StorePath = "unused"

	sess, err := services.NewSession(cfg, prefs, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	require.NoError(t, sess.Mount(context.Background()))

	snap := sess.Snapshot()
	assert.True(t, snap.Connected)
	assert.Equal(t, "new", snap.ChatID)

	stored, err := prefs.SelectedChat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", stored)

	require.NoError(t, sess.SubmitText(context.Background(), "Ciao"))
	select {
	case offer := <-offers:
		assert.Equal(t, models.Offer{Question: "Ciao", ChatID: "new"}, offer)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for offer")
	}

	require.Eventually(t, func() bool {
		return sess.Snapshot().InFlightID == ""
	}, 5*time.Second, 10*time.Millisecond)

	snap = sess.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "Salve", snap.Messages[1].Text)
}
