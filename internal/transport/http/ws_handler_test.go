package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/careline/careline-server/internal/core"
	"github.com/careline/careline-server/internal/proto"
)

// pushFrame mirrors proto.Outbound with a concrete payload type so the
// test can decode the event data in one pass.
type pushFrame struct {
	Type  string             `json:"type"`
	Event string             `json:"event"`
	Data  proto.EventMessage `json:"data"`
	Error *proto.Error       `json:"error"`
}

func dialWS(t *testing.T, ctx context.Context, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func waitOnline(t *testing.T, env *testEnv, userID int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.gateway.Online(userID) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %d never came online", userID)
}

func TestWS_PushesMessageToRecipient(t *testing.T) {
	env := newTestEnv(t)
	patientToken := register(t, env, "pat", "patient")
	register(t, env, "doc", "doctor")

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv, patientToken)
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeHello}); err != nil {
		t.Fatalf("send hello: %v", err)
	}

	patient, err := env.store.GetUserByUsername(ctx, "pat")
	if err != nil {
		t.Fatalf("lookup patient: %v", err)
	}
	doctor, err := env.store.GetUserByUsername(ctx, "doc")
	if err != nil {
		t.Fatalf("lookup doctor: %v", err)
	}
	waitOnline(t, env, patient.ID)

	view, err := env.chat.OpenWithPatient(ctx, core.RoleDoctor, doctor.ID, patient.ID)
	if err != nil {
		t.Fatalf("open conversation: %v", err)
	}
	sent, err := env.chat.SendMessage(ctx, doctor.ID, view.Conversation.ID, "Hello from your doctor")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	var frame pushFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read push: %v", err)
	}
	if frame.Type != proto.OutboundTypeEvent || frame.Event != proto.EventNameMessage {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if frame.Data.ID != sent.ID || frame.Data.SenderID != doctor.ID || frame.Data.Content != "Hello from your doctor" {
		t.Fatalf("unexpected payload: %+v", frame.Data)
	}
}

func TestWS_RejectsUnknownFrame(t *testing.T) {
	env := newTestEnv(t)
	patientToken := register(t, env, "pat", "patient")

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv, patientToken)
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeHello}); err != nil {
		t.Fatalf("send hello: %v", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: "send", Data: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("send junk: %v", err)
	}

	var frame pushFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if frame.Type != proto.OutboundTypeError || frame.Error == nil || frame.Error.Code != "invalid_message" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestWS_ClosesWithoutHello(t *testing.T) {
	env := newTestEnv(t)
	patientToken := register(t, env, "pat", "patient")

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv, patientToken)
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: "send"}); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	var frame pushFrame
	err := wsjson.Read(ctx, conn, &frame)
	if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestWS_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if _, _, err := websocket.Dial(ctx, url, nil); err == nil {
		t.Fatal("expected dial to fail without token")
	}
}
