package http

import (
	stdhttp "net/http"
	"testing"
	"time"

	"github.com/careline/careline-server/internal/auth"
	"github.com/careline/careline-server/internal/chat"
	"github.com/careline/careline-server/internal/config"
	"github.com/careline/careline-server/internal/log"
	"github.com/careline/careline-server/internal/relay"
	"github.com/careline/careline-server/internal/session"
	"github.com/careline/careline-server/internal/store"
	"github.com/careline/careline-server/internal/store/sqlite"
)

// testEnv bundles everything a transport test needs.
type testEnv struct {
	handler stdhttp.Handler
	store   store.Store
	auth    *auth.Service
	gateway *relay.Gateway
	chat    *chat.Service
}

// newTestEnv builds a full router over an in-memory store.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	})

	gateway := relay.NewGateway()
	chatService := chat.New(st, session.New(st), gateway)

	cfg := config.Default()
	server := NewServer(&cfg, authService, chatService, gateway, st, log.Nop())

	return &testEnv{
		handler: server.Handler,
		store:   st,
		auth:    authService,
		gateway: gateway,
		chat:    chatService,
	}
}
