package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/careline/careline-server/internal/proto"
)

func main() {
	api := flag.String("api", "http://localhost:8080", "server base URL")
	ws := flag.String("ws", "ws://localhost:8080/ws", "WebSocket address")
	username := flag.String("username", "tester", "account to log in with")
	password := flag.String("password", "password123", "account password")
	timeout := flag.Duration("timeout", 30*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := login(ctx, *api, *username, *password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}

	conn, _, err := websocket.Dial(ctx, *ws+"?token="+token, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeHello}); err != nil {
		log.Fatalf("send hello: %v", err)
	}
	fmt.Printf("Connected as %s, waiting for a pushed message...\n", *username)

	var outbound struct {
		Type  string          `json:"type"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
		Error *proto.Error    `json:"error"`
	}
	if err := wsjson.Read(ctx, conn, &outbound); err != nil {
		log.Fatalf("read: %v", err)
	}

	fmt.Printf("Received outbound: type=%s", outbound.Type)
	if outbound.Event != "" {
		fmt.Printf(" event=%s", outbound.Event)
	}
	fmt.Println()
	if outbound.Error != nil {
		fmt.Printf("Error: %s (%s)\n", outbound.Error.Msg, outbound.Error.Code)
	}

	if len(outbound.Data) > 0 {
		var evt proto.EventMessage
		if err := json.Unmarshal(outbound.Data, &evt); err == nil {
			fmt.Printf("EventMessage: conversation=%s sender=%d text=%q sent_at=%s\n",
				evt.ConversationID, evt.SenderID, evt.Content, evt.SentAt.Format(time.RFC3339))
		} else {
			fmt.Printf("Raw data: %s\n", string(outbound.Data))
		}
	}
}

func login(ctx context.Context, api, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api+"/api/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", err
	}
	return auth.Token, nil
}
