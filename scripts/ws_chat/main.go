package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/onechat-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

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
	user := flag.String("user", "", "username")
	pass := flag.String("pass", "", "password")
	flag.Parse()

	if *user == "" {
		return errors.New("-user is required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
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

	fmt.Printf("Connected to %s as %s\n", *addr, *user)
	fmt.Println("Type a message and press Enter. Commands: /who /sticker <token> /reply <id> <text> /newuser <name> <pass> [admin] /quit")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()

	writeLoop(ctx, cancel, conn)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame serverFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
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

		switch frame.Type {
		case "login_ok":
			fmt.Printf("* logged in as %s (admin=%v)\n", frame.Username, frame.IsAdmin)
		case "history":
			for _, m := range frame.Messages {
				fmt.Println(formatMessage(m))
			}
		case "message":
			var msg proto.Message
			if err := json.Unmarshal(frame.Message, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			fmt.Println(formatMessage(msg))
		case "presence":
			fmt.Printf("* online: %s\n", strings.Join(frame.Online, ", "))
		case "admin_create_user_ok":
			fmt.Printf("* user %q created\n", frame.Username)
		case "login_error", "error", "admin_create_user_error":
			var reason string
			_ = json.Unmarshal(frame.Message, &reason)
			fmt.Printf("! %s\n", reason)
		default:
			fmt.Printf("frame: type=%s\n", frame.Type)
		}
	}
}

func writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			frame, quit := parseInput(text)
			if quit {
				return
			}
			if frame == nil {
				continue
			}
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				cancel()
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}

// parseInput turns one line of input into an outgoing frame.
// A nil frame with quit=false means the line was consumed locally.
func parseInput(text string) (frame map[string]any, quit bool) {
	if !strings.HasPrefix(text, "/") {
		return map[string]any{"type": "send", "kind": "text", "content": text}, false
	}

	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit":
		return nil, true
	case "/who":
		return map[string]any{"type": "who_online"}, false
	case "/sticker":
		if len(fields) != 2 {
			fmt.Println("usage: /sticker <token>")
			return nil, false
		}
		return map[string]any{"type": "send", "kind": "sticker", "sticker": fields[1]}, false
	case "/reply":
		if len(fields) < 3 {
			fmt.Println("usage: /reply <id> <text>")
			return nil, false
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			fmt.Println("usage: /reply <id> <text>")
			return nil, false
		}
		body := strings.TrimSpace(strings.TrimPrefix(text, fields[0]))
		body = strings.TrimSpace(strings.TrimPrefix(body, fields[1]))
		return map[string]any{"type": "send", "kind": "text", "content": body, "reply_to": id}, false
	case "/newuser":
		if len(fields) != 3 && len(fields) != 4 {
			fmt.Println("usage: /newuser <name> <pass> [admin]")
			return nil, false
		}
		isAdmin := len(fields) == 4 && fields[3] == "admin"
		return map[string]any{"type": "admin_create_user", "username": fields[1], "password": fields[2], "is_admin": isAdmin}, false
	default:
		fmt.Println("commands: /who /sticker <token> /reply <id> <text> /newuser <name> <pass> [admin] /quit")
		return nil, false
	}
}

func formatMessage(m proto.Message) string {
	stamp := m.CreatedAt
	if t, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil {
		stamp = t.Local().Format("15:04")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] #%d %s", stamp, m.ID, m.Username)
	if m.ReplyTo != nil {
		fmt.Fprintf(&b, " (reply to #%d)", *m.ReplyTo)
	}
	if m.Kind == "sticker" && m.Sticker != nil {
		fmt.Fprintf(&b, " sent sticker %s", *m.Sticker)
		return b.String()
	}
	fmt.Fprintf(&b, ": %s", m.Content)
	return b.String()
}
