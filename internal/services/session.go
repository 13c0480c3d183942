package services

import (
	"context"
	"log/slog"

	"github.com/MegaGrindStone/chatbot-ui/internal/config"
	"github.com/MegaGrindStone/chatbot-ui/internal/session"
)

// NewSession creates a session talking to the backend and the realtime endpoint configured in cfg. The
// selected thread is remembered in prefs. Nothing is dialed until the session is mounted.
func NewSession(cfg config.Config, prefs session.Prefs, logger *slog.Logger) (*session.Session, error) {
	endpoint, err := cfg.RealtimeEndpoint()
	if err != nil {
		return nil, err
	}

	backend := NewBackend(cfg.BackendURL, BackendOptions{
		Timeout:  cfg.RequestTimeout,
		RetryMax: cfg.RetryMax,
	}, logger)

	rtOpts := RealtimeOptions{
		WriteTimeout:        cfg.WriteTimeout,
		ReconnectMaxElapsed: cfg.ReconnectMaxElapsed,
	}

	return session.New(session.Options{
		Backend: backend,
		Prefs:   prefs,
		Dial: func(ctx context.Context, h session.EventHandler) (session.Conn, error) {
			rt, err := DialRealtime(ctx, endpoint, h, rtOpts, logger)
			if err != nil {
				return nil, err
			}
			return rt, nil
		},
		Logger: logger,
	})
}
