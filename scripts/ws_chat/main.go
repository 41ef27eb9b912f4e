package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/careline/careline-server/internal/proto"
)

// Interactive terminal client. Logs in, opens the conversation with the
// counterpart, listens for pushes over the WebSocket and sends typed lines
// over the REST surface.
func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

type client struct {
	api   string
	token string
}

func run() error {
	api := flag.String("api", "http://localhost:8080", "server base URL")
	ws := flag.String("ws", "ws://localhost:8080/ws", "WebSocket address")
	username := flag.String("username", "", "account to log in with")
	password := flag.String("password", "", "account password")
	patient := flag.Int64("patient", 0, "patient ID to open (doctors only; patients always reach their doctor)")
	flag.Parse()

	if *username == "" || *password == "" {
		return errors.New("both -username and -password are required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	c := &client{api: *api}
	if err := c.login(ctx, *username, *password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	convID, err := c.openConversation(ctx, *patient)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, *ws+"?token="+c.token, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeHello}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	fmt.Printf("Connected as %s, conversation %s\n", *username, convID)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, c, convID)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var outbound struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
			Error *proto.Error    `json:"error"`
		}
		if err := wsjson.Read(ctx, conn, &outbound); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch {
		case outbound.Event == proto.EventNameMessage:
			var evt proto.EventMessage
			if err := json.Unmarshal(outbound.Data, &evt); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			fmt.Printf("[%d] %s\n", evt.SenderID, evt.Content)
		case outbound.Error != nil:
			fmt.Printf("server error: %s (%s)\n", outbound.Error.Msg, outbound.Error.Code)
		}
	}
}

func writeLoop(ctx context.Context, c *client, convID string) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := c.sendMessage(ctx, convID, text); err != nil {
			log.Printf("send: %v", err)
		}
	}
}

func (c *client) login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/api/login", map[string]string{"username": username, "password": password}, &resp); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

func (c *client) openConversation(ctx context.Context, patientID int64) (string, error) {
	var conv struct {
		ID string `json:"id"`
	}
	if patientID > 0 {
		if err := c.get(ctx, fmt.Sprintf("/api/chat/with-patient/%d", patientID), &conv); err != nil {
			return "", err
		}
		return conv.ID, nil
	}
	if err := c.post(ctx, "/api/chat/with-doctor", nil, &conv); err != nil {
		return "", err
	}
	return conv.ID, nil
}

func (c *client) sendMessage(ctx context.Context, convID, content string) error {
	return c.post(ctx, "/api/chat/"+convID+"/messages", map[string]string{"content": content}, nil)
}

func (c *client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *client) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.api+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
