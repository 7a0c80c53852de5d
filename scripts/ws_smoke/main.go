package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/onechat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// serverFrame covers every server frame shape; the "message" key is a string
// on error frames and an object on chat events, so it stays raw here.
type serverFrame struct {
	Type     string          `json:"type"`
	Username string          `json:"username"`
	IsAdmin  bool            `json:"is_admin"`
	Message  json.RawMessage `json:"message"`
	Messages []proto.Message `json:"messages"`
	Online   []string        `json:"online"`
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8765/ws", "WebSocket address")
	user := flag.String("user", "tester", "username")
	pass := flag.String("pass", "", "password")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	login := map[string]any{"type": "login", "username": *user, "password": *pass}
	if err := wsjson.Write(ctx, conn, login); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	for {
		var frame serverFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch frame.Type {
		case "login_ok":
			fmt.Printf("logged in as %s (admin=%v)\n", frame.Username, frame.IsAdmin)
			send := map[string]any{"type": "send", "kind": "text", "content": *text}
			if err := wsjson.Write(ctx, conn, send); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		case "history":
			fmt.Printf("history: %d message(s)\n", len(frame.Messages))
		case "presence":
			fmt.Printf("online: %s\n", strings.Join(frame.Online, ", "))
		case "message":
			var msg proto.Message
			if err := json.Unmarshal(frame.Message, &msg); err != nil {
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("message: id=%d %s: %q\n", msg.ID, msg.Username, msg.Content)
			if msg.Username == *user && msg.Content == *text {
				return nil
			}
		case "login_error", "error":
			var reason string
			_ = json.Unmarshal(frame.Message, &reason)
			return fmt.Errorf("server rejected: %s", reason)
		default:
			fmt.Printf("frame: type=%s\n", frame.Type)
		}
	}
}
