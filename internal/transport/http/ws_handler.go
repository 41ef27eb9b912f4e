package http

import (
	"context"
	"errors"
	"io"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/careline/careline-server/internal/proto"
	"github.com/careline/careline-server/internal/relay"
	"github.com/careline/careline-server/internal/store"
)

// WSHandler upgrades HTTP connections and bridges them to the relay gateway.
// The channel carries exactly two things: a hello handshake inbound and
// message pushes outbound.
type WSHandler struct {
	gateway    *relay.Gateway
	frameLimit int
	log        *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(gateway *relay.Gateway, frameLimit int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{gateway: gateway, frameLimit: frameLimit, log: logger}
}

// Handle runs under AuthMiddleware; the connection is keyed by the
// authenticated user, never by anything the client sends.
func (h *WSHandler) Handle(c *gin.Context) {
	userID, _, ok := caller(c)
	if !ok {
		c.Status(401)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The first frame must be the hello handshake; only then does the
	// connection become a live registration in the gateway.
	if err := h.awaitHello(ctx, conn); err != nil {
		h.log.Debug().Err(err).Int64("user_id", userID).Msg("ws handshake failed")
		conn.Close(websocket.StatusPolicyViolation, "expected hello")
		return
	}

	rc := relay.NewConn(userID)
	h.gateway.Register(rc)
	defer h.gateway.Unregister(rc)

	limiter := newRateLimiter(h.frameLimit)

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, limiter)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, rc)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Int64("user_id", userID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) awaitHello(ctx context.Context, conn *websocket.Conn) error {
	var inbound proto.Inbound
	if err := wsjson.Read(ctx, conn, &inbound); err != nil {
		return err
	}
	if inbound.Type != proto.InboundTypeHello {
		return errors.New("first frame is not hello")
	}
	return nil
}

// readLoop drains inbound frames. After hello the client has nothing to say
// on this channel; the loop exists to notice disconnects and to answer junk
// frames with a protocol error.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, limiter *rateLimiter) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}
		if !limiter.allow() {
			return errors.New("frame rate limit exceeded")
		}
		if inbound.Type == proto.InboundTypeHello {
			continue // idempotent re-hello
		}
		if err := wsjson.Write(ctx, conn, proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: "invalid_message", Msg: "unknown message type"},
		}); err != nil {
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, rc *relay.Conn) error {
	for {
		select {
		case msg := <-rc.Events():
			if msg == nil {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromMessage(msg)); err != nil {
				h.log.Error().Err(err).Int64("user_id", rc.UserID()).Msg("write ws event")
				return err
			}
		case <-rc.Done():
			// Unregistered or superseded by a newer connection.
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func outboundFromMessage(msg *store.Message) proto.Outbound {
	return proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventNameMessage,
		Data: proto.EventMessage{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			SenderID:       msg.SenderID,
			Content:        msg.Content,
			SentAt:         msg.SentAt,
			Read:           msg.Read,
		},
	}
}
