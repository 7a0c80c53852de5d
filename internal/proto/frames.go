// Package proto defines the wire frames exchanged over a chat connection.
// Every frame is a single flat JSON object carrying a "type" discriminator.
package proto

import "encoding/json"

// Client → server frame types.
const (
	TypeLogin           = "login"
	TypeSend            = "send"
	TypeWhoOnline       = "who_online"
	TypeAdminCreateUser = "admin_create_user"

	// Room traffic is permanently disabled; both types are rejected.
	TypeJoin        = "join"
	TypeHistoryRoom = "history_room"
)

// Server → client frame types.
const (
	TypeLoginOK              = "login_ok"
	TypeLoginError           = "login_error"
	TypeHistory              = "history"
	TypeMessage              = "message"
	TypePresence             = "presence"
	TypeAdminCreateUserOK    = "admin_create_user_ok"
	TypeAdminCreateUserError = "admin_create_user_error"
	TypeError                = "error"
)

// Envelope carries only the discriminator. The raw frame is decoded a second
// time into the type-specific struct once the type is known.
type Envelope struct {
	Type string `json:"type"`
}

// ParseType extracts the frame type without decoding the payload fields.
func ParseType(raw []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}

// Login authenticates the connection with stored credentials.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Send submits a text or sticker message, optionally replying to a prior one.
type Send struct {
	Kind    string `json:"kind"`
	Content string `json:"content"`
	Sticker string `json:"sticker"`
	ReplyTo *int64 `json:"reply_to"`
}

// AdminCreateUser asks the server to provision a new account.
type AdminCreateUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// Message is the wire form of a chat message. Sticker and ReplyTo are null
// when absent; Content is the empty string for sticker messages.
type Message struct {
	ID        int64   `json:"id"`
	UserID    int64   `json:"user_id"`
	Username  string  `json:"username"`
	Kind      string  `json:"kind"`
	Sticker   *string `json:"sticker"`
	ReplyTo   *int64  `json:"reply_to"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"created_at"`
}

// LoginOK confirms authentication to the connection that sent login.
type LoginOK struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// LoginError reports failed authentication; the session stays unauthenticated.
type LoginError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// History delivers the most recent messages, oldest first, right after login.
type History struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

// MessageEvent carries one chat message to every connection.
type MessageEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// Presence lists the usernames currently online.
type Presence struct {
	Type   string   `json:"type"`
	Online []string `json:"online"`
}

// AdminCreateUserOK confirms account creation to the requesting admin.
type AdminCreateUserOK struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// AdminCreateUserError reports a rejected account creation.
type AdminCreateUserError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Error is the generic failure reply for protocol-level problems.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewLoginOK(username string, isAdmin bool) LoginOK {
	return LoginOK{Type: TypeLoginOK, Username: username, IsAdmin: isAdmin}
}

func NewLoginError(message string) LoginError {
	return LoginError{Type: TypeLoginError, Message: message}
}

func NewHistory(messages []Message) History {
	if messages == nil {
		messages = []Message{}
	}
	return History{Type: TypeHistory, Messages: messages}
}

func NewMessageEvent(msg Message) MessageEvent {
	return MessageEvent{Type: TypeMessage, Message: msg}
}

func NewPresence(online []string) Presence {
	if online == nil {
		online = []string{}
	}
	return Presence{Type: TypePresence, Online: online}
}

func NewAdminCreateUserOK(username string) AdminCreateUserOK {
	return AdminCreateUserOK{Type: TypeAdminCreateUserOK, Username: username}
}

func NewAdminCreateUserError(message string) AdminCreateUserError {
	return AdminCreateUserError{Type: TypeAdminCreateUserError, Message: message}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
