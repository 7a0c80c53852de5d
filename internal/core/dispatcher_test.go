package core

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onechat-server/internal/auth"
	"github.com/vovakirdan/onechat-server/internal/store/sqlite"
)

const testSchema = `
CREATE TABLE users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin      INTEGER NOT NULL DEFAULT 0,
	is_active     INTEGER NOT NULL DEFAULT 1,
	created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	kind       TEXT NOT NULL DEFAULT 'text',
	content    TEXT NOT NULL DEFAULT '',
	sticker    TEXT NOT NULL DEFAULT '',
	reply_to   INTEGER,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

type testEnv struct {
	dispatcher *Dispatcher
	registry   *Registry
	hub        *Hub
	auth       *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(testSchema)
		return err
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.New(nil)
	registry := NewRegistry()
	hub := NewHub(registry, &logger)
	authSvc := auth.NewService(st)

	return &testEnv{
		dispatcher: NewDispatcher(registry, hub, authSvc, st, 80, &logger),
		registry:   registry,
		hub:        hub,
		auth:       authSvc,
	}
}

func (e *testEnv) mustCreateUser(t *testing.T, username, password string, isAdmin bool) {
	t.Helper()
	if _, err := e.auth.CreateUser(context.Background(), username, password, isAdmin); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
}

func (e *testEnv) connect(t *testing.T, id string) *Client {
	t.Helper()
	c := NewClient(id)
	e.registry.Register(c)
	return c
}

func (e *testEnv) handle(c *Client, frame string) {
	e.dispatcher.HandleFrame(context.Background(), c, []byte(frame))
}

// loginAndDrain authenticates the connection and discards the login_ok,
// history and presence frames it produces on every connection.
func (e *testEnv) loginAndDrain(t *testing.T, c *Client, username, password string) {
	t.Helper()
	e.handle(c, `{"type":"login","username":"`+username+`","password":"`+password+`"}`)
	if _, ok := e.registry.Identity(c); !ok {
		t.Fatalf("login as %s did not authenticate", username)
	}
	for _, other := range e.registry.Connections() {
		drainFrames(other)
	}
}

func TestLoginSequence(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)

	c := env.connect(t, "c1")
	env.handle(c, `{"type":"login","username":"alice","password":"password"}`)

	// Exactly login_ok, history, presence, in that order.
	frame := nextFrame(t, c)
	if frame["type"] != "login_ok" || frame["username"] != "alice" || frame["is_admin"] != false {
		t.Fatalf("unexpected login_ok frame: %v", frame)
	}

	frame = nextFrame(t, c)
	if frame["type"] != "history" {
		t.Fatalf("expected history frame, got %v", frame)
	}
	msgs, ok := frame["messages"].([]any)
	if !ok {
		t.Fatalf("history frame must carry a messages array, got %v", frame)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d messages", len(msgs))
	}

	frame = nextFrame(t, c)
	if frame["type"] != "presence" {
		t.Fatalf("expected presence frame, got %v", frame)
	}
	assertNames(t, onlineNames(t, frame), []string{"alice"})

	assertNoFrame(t, c)
}

func TestLoginBroadcastsPresenceToOthers(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)
	env.mustCreateUser(t, "bob", "password", false)

	alice := env.connect(t, "c1")
	env.loginAndDrain(t, alice, "alice", "password")

	bob := env.connect(t, "c2")
	env.handle(bob, `{"type":"login","username":"bob","password":"password"}`)

	frame := mustFrame(t, alice, "presence")
	assertNames(t, onlineNames(t, frame), []string{"alice", "bob"})
}

func TestLoginInvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)

	c := env.connect(t, "c1")

	cases := []string{
		`{"type":"login","username":"alice","password":"wrong"}`,
		`{"type":"login","username":"ghost","password":"password"}`,
	}
	for _, frame := range cases {
		env.handle(c, frame)
		reply := nextFrame(t, c)
		if reply["type"] != "login_error" || reply["message"] != "Invalid credentials or inactive user" {
			t.Fatalf("unexpected reply to %s: %v", frame, reply)
		}
	}

	if _, ok := env.registry.Identity(c); ok {
		t.Fatal("failed login must not authenticate the connection")
	}
}

func TestLoginWhileAuthenticated(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)
	env.mustCreateUser(t, "bob", "password", false)

	c := env.connect(t, "c1")
	env.loginAndDrain(t, c, "alice", "password")

	env.handle(c, `{"type":"login","username":"bob","password":"password"}`)

	reply := nextFrame(t, c)
	if reply["type"] != "login_error" || reply["message"] != "Already logged in" {
		t.Fatalf("unexpected reply: %v", reply)
	}

	// The original identity stays bound.
	id, ok := env.registry.Identity(c)
	if !ok || id.Username != "alice" {
		t.Fatalf("expected identity to remain alice, got %+v ok=%v", id, ok)
	}
}

func TestAuthGate(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "c1")

	gated := []string{
		`{"type":"send","kind":"text","content":"hi"}`,
		`{"type":"who_online"}`,
		`{"type":"admin_create_user","username":"eve","password":"secret"}`,
	}
	for _, frame := range gated {
		env.handle(c, frame)
		reply := nextFrame(t, c)
		if reply["type"] != "error" || reply["message"] != "Please login first" {
			t.Fatalf("unexpected reply to %s: %v", frame, reply)
		}
	}
}

func TestRoomsAreRejectedInAnyState(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)

	anon := env.connect(t, "c1")
	authed := env.connect(t, "c2")
	env.loginAndDrain(t, authed, "alice", "password")

	for _, c := range []*Client{anon, authed} {
		for _, frame := range []string{`{"type":"join","room":"general"}`, `{"type":"history_room","room":"general"}`} {
			env.handle(c, frame)
			reply := nextFrame(t, c)
			if reply["type"] != "error" || reply["message"] != "Rooms are disabled. Single chat only." {
				t.Fatalf("unexpected reply to %s: %v", frame, reply)
			}
		}
	}
}

func TestUnknownTypeRejectedInAnyState(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)

	anon := env.connect(t, "c1")
	authed := env.connect(t, "c2")
	env.loginAndDrain(t, authed, "alice", "password")

	for _, c := range []*Client{anon, authed} {
		env.handle(c, `{"type":"frobnicate"}`)
		reply := nextFrame(t, c)
		if reply["type"] != "error" || reply["message"] != "Unknown type: frobnicate" {
			t.Fatalf("unexpected reply: %v", reply)
		}
	}
}

func TestInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "c1")

	for _, raw := range []string{`{oops`, `42`, `"login"`} {
		env.handle(c, raw)
		reply := nextFrame(t, c)
		if reply["type"] != "error" || reply["message"] != "Invalid JSON" {
			t.Fatalf("unexpected reply to %q: %v", raw, reply)
		}
	}
}

func TestSendBroadcastsToEveryConnection(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)

	alice := env.connect(t, "c1")
	env.loginAndDrain(t, alice, "alice", "password")
	anon := env.connect(t, "c2")

	env.handle(alice, `{"type":"send","kind":"text","content":"hello everyone"}`)

	for _, c := range []*Client{alice, anon} {
		frame := mustFrame(t, c, "message")
		msg, ok := frame["message"].(map[string]any)
		if !ok {
			t.Fatalf("message frame must nest the payload, got %v", frame)
		}
		if msg["username"] != "alice" || msg["kind"] != "text" || msg["content"] != "hello everyone" {
			t.Fatalf("unexpected message payload: %v", msg)
		}
		if msg["sticker"] != nil {
			t.Fatalf("expected null sticker for text, got %v", msg["sticker"])
		}
	}
}

func TestSendValidationErrors(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)

	c := env.connect(t, "c1")
	env.loginAndDrain(t, c, "alice", "password")

	cases := []struct {
		frame   string
		message string
	}{
		{`{"type":"send","kind":"text","content":"   "}`, "Send failed: Empty message"},
		{`{"type":"send","kind":"sticker","sticker":"  "}`, "Send failed: Sticker is empty"},
	}
	for _, tt := range cases {
		env.handle(c, tt.frame)
		reply := nextFrame(t, c)
		if reply["type"] != "error" || reply["message"] != tt.message {
			t.Fatalf("unexpected reply to %s: %v", tt.frame, reply)
		}
	}
}

func TestSendSticker(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)

	c := env.connect(t, "c1")
	env.loginAndDrain(t, c, "alice", "password")

	env.handle(c, `{"type":"send","kind":"sticker","sticker":"cat_wave","content":"ignored"}`)

	frame := mustFrame(t, c, "message")
	msg := frame["message"].(map[string]any)
	if msg["kind"] != "sticker" || msg["sticker"] != "cat_wave" || msg["content"] != "" {
		t.Fatalf("unexpected sticker payload: %v", msg)
	}
}

func TestHistoryAfterMessages(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)
	env.mustCreateUser(t, "bob", "password", false)

	alice := env.connect(t, "c1")
	env.loginAndDrain(t, alice, "alice", "password")

	for _, content := range []string{"first", "second", "third"} {
		env.handle(alice, `{"type":"send","kind":"text","content":"`+content+`"}`)
	}
	drainFrames(alice)

	bob := env.connect(t, "c2")
	env.handle(bob, `{"type":"login","username":"bob","password":"password"}`)

	frame := mustFrame(t, bob, "history")
	msgs, ok := frame["messages"].([]any)
	if !ok || len(msgs) != 3 {
		t.Fatalf("expected 3 history messages, got %v", frame)
	}
	want := []string{"first", "second", "third"}
	for i, raw := range msgs {
		m := raw.(map[string]any)
		if m["content"] != want[i] {
			t.Fatalf("history position %d: expected %q, got %v", i, want[i], m["content"])
		}
		if m["username"] != "alice" {
			t.Fatalf("history position %d: expected username alice, got %v", i, m["username"])
		}
	}
}

func TestWhoOnline(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)
	env.mustCreateUser(t, "bob", "password", false)

	alice := env.connect(t, "c1")
	env.loginAndDrain(t, alice, "alice", "password")
	bob := env.connect(t, "c2")
	env.loginAndDrain(t, bob, "bob", "password")

	env.handle(alice, `{"type":"who_online"}`)

	frame := nextFrame(t, alice)
	if frame["type"] != "presence" {
		t.Fatalf("expected presence frame, got %v", frame)
	}
	assertNames(t, onlineNames(t, frame), []string{"alice", "bob"})

	// Reply goes only to the requester.
	assertNoFrame(t, bob)
}

func TestAdminCreateUser(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "root", "password", true)

	admin := env.connect(t, "c1")
	env.loginAndDrain(t, admin, "root", "password")

	env.handle(admin, `{"type":"admin_create_user","username":" eve ","password":"secret"}`)

	reply := nextFrame(t, admin)
	if reply["type"] != "admin_create_user_ok" || reply["username"] != "eve" {
		t.Fatalf("unexpected reply: %v", reply)
	}

	// The new account can log in right away.
	eve := env.connect(t, "c2")
	env.handle(eve, `{"type":"login","username":"eve","password":"secret"}`)
	frame := nextFrame(t, eve)
	if frame["type"] != "login_ok" || frame["username"] != "eve" {
		t.Fatalf("expected eve to log in, got %v", frame)
	}
}

func TestAdminCreateUserErrors(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "root", "password", true)
	env.mustCreateUser(t, "alice", "password", false)

	admin := env.connect(t, "c1")
	env.loginAndDrain(t, admin, "root", "password")

	cases := []struct {
		frame   string
		message string
	}{
		{`{"type":"admin_create_user","username":"alice","password":"secret"}`, "Username already exists"},
		{`{"type":"admin_create_user","username":"ab","password":"secret"}`, "Username must be 3..32 chars, no spaces"},
		{`{"type":"admin_create_user","username":"eve","password":"abc"}`, "Password must be at least 4 chars"},
	}
	for _, tt := range cases {
		env.handle(admin, tt.frame)
		reply := nextFrame(t, admin)
		if reply["type"] != "admin_create_user_error" || reply["message"] != tt.message {
			t.Fatalf("unexpected reply to %s: %v", tt.frame, reply)
		}
	}

	// Non-admins are refused outright.
	alice := env.connect(t, "c2")
	env.loginAndDrain(t, alice, "alice", "password")
	env.handle(alice, `{"type":"admin_create_user","username":"mallory","password":"secret"}`)
	reply := nextFrame(t, alice)
	if reply["type"] != "admin_create_user_error" || reply["message"] != "Admin only" {
		t.Fatalf("unexpected reply: %v", reply)
	}
}

func TestDisconnectBroadcastsPresence(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)
	env.mustCreateUser(t, "bob", "password", false)

	alice := env.connect(t, "c1")
	env.loginAndDrain(t, alice, "alice", "password")
	bob := env.connect(t, "c2")
	env.loginAndDrain(t, bob, "bob", "password")

	env.hub.Drop(bob)

	frame := mustFrame(t, alice, "presence")
	assertNames(t, onlineNames(t, frame), []string{"alice"})
}

func TestDisconnectBeforeLoginIsSilent(t *testing.T) {
	env := newTestEnv(t)
	env.mustCreateUser(t, "alice", "password", false)

	alice := env.connect(t, "c1")
	env.loginAndDrain(t, alice, "alice", "password")
	anon := env.connect(t, "c2")

	env.hub.Drop(anon)

	assertNoFrame(t, alice)
}
