package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/onechat-server/internal/auth"
	"github.com/vovakirdan/onechat-server/internal/proto"
	"github.com/vovakirdan/onechat-server/internal/store"
)

// Dispatcher routes inbound frames to their handlers and writes replies
// through the hub. The transport's read loop hands over one frame at a time,
// so handlers never run concurrently for the same connection.
type Dispatcher struct {
	registry     *Registry
	hub          *Hub
	auth         *auth.Service
	messages     store.MessageStore
	historyLimit int
	log          *zerolog.Logger
}

// NewDispatcher wires the frame handlers.
func NewDispatcher(registry *Registry, hub *Hub, authSvc *auth.Service, messages store.MessageStore, historyLimit int, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		hub:          hub,
		auth:         authSvc,
		messages:     messages,
		historyLimit: historyLimit,
		log:          logger,
	}
}

// HandleFrame processes one raw frame from the connection.
func (d *Dispatcher) HandleFrame(ctx context.Context, c *Client, raw []byte) {
	typ, err := proto.ParseType(raw)
	if err != nil {
		d.hub.Send(c, proto.NewError("Invalid JSON"))
		return
	}

	switch typ {
	case proto.TypeLogin:
		d.handleLogin(ctx, c, raw)
	case proto.TypeSend:
		d.handleSend(ctx, c, raw)
	case proto.TypeWhoOnline:
		d.handleWhoOnline(c)
	case proto.TypeAdminCreateUser:
		d.handleAdminCreateUser(ctx, c, raw)
	case proto.TypeJoin, proto.TypeHistoryRoom:
		d.hub.Send(c, proto.NewError("Rooms are disabled. Single chat only."))
	default:
		d.hub.Send(c, proto.NewError("Unknown type: "+typ))
	}
}

// access classifies a session for a handler before it runs.
type access int

const (
	accessUnauthenticated access = iota
	accessAuthorized
	accessForbidden
)

func (d *Dispatcher) authorize(c *Client, needAdmin bool) (Identity, access) {
	id, ok := d.registry.Identity(c)
	switch {
	case !ok:
		return Identity{}, accessUnauthenticated
	case needAdmin && !id.IsAdmin:
		return id, accessForbidden
	default:
		return id, accessAuthorized
	}
}

func (d *Dispatcher) handleLogin(ctx context.Context, c *Client, raw []byte) {
	if _, ok := d.registry.Identity(c); ok {
		d.hub.Send(c, proto.NewLoginError("Already logged in"))
		return
	}

	var req proto.Login
	if err := json.Unmarshal(raw, &req); err != nil {
		d.hub.Send(c, proto.NewError("Invalid JSON"))
		return
	}

	user, err := d.auth.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			d.hub.Send(c, proto.NewLoginError("Invalid credentials or inactive user"))
			return
		}
		d.log.Error().Err(err).Str("conn", c.ID).Msg("login lookup failed")
		d.hub.Send(c, proto.NewLoginError("Login failed"))
		return
	}

	identity := Identity{UserID: user.ID, Username: user.Username, IsAdmin: user.IsAdmin}
	if err := d.registry.Authenticate(c, identity); err != nil {
		if errors.Is(err, ErrAlreadyAuthenticated) {
			d.hub.Send(c, proto.NewLoginError("Already logged in"))
		}
		// ErrNotRegistered means the connection raced its own disconnect;
		// nothing left to reply to.
		return
	}

	d.hub.Send(c, proto.NewLoginOK(user.Username, user.IsAdmin))
	d.sendHistory(ctx, c)
	d.hub.BroadcastPresence()
}

// sendHistory delivers the recent backlog to a freshly authenticated
// connection. A failed fetch degrades to an empty backlog rather than
// breaking the login sequence.
func (d *Dispatcher) sendHistory(ctx context.Context, c *Client) {
	msgs, err := d.messages.FetchHistory(ctx, d.historyLimit)
	if err != nil {
		d.log.Error().Err(err).Msg("fetch history")
		d.hub.Send(c, proto.NewHistory(nil))
		return
	}

	wire := make([]proto.Message, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, toWireMessage(m))
	}
	d.hub.Send(c, proto.NewHistory(wire))
}

func (d *Dispatcher) handleSend(ctx context.Context, c *Client, raw []byte) {
	id, acc := d.authorize(c, false)
	if acc == accessUnauthenticated {
		d.hub.Send(c, proto.NewError("Please login first"))
		return
	}

	var req proto.Send
	if err := json.Unmarshal(raw, &req); err != nil {
		d.hub.Send(c, proto.NewError("Invalid JSON"))
		return
	}

	msg, err := d.messages.InsertMessage(ctx, id.UserID, req.Content, req.Kind, req.Sticker, req.ReplyTo)
	if err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			d.hub.Send(c, proto.NewError("Send failed: "+verr.Reason))
			return
		}
		d.log.Error().Err(err).Int64("user_id", id.UserID).Msg("insert message")
		d.hub.Send(c, proto.NewError("Send failed: internal error"))
		return
	}

	d.hub.Broadcast(proto.NewMessageEvent(toWireMessage(msg)))
}

func (d *Dispatcher) handleWhoOnline(c *Client) {
	if _, acc := d.authorize(c, false); acc == accessUnauthenticated {
		d.hub.Send(c, proto.NewError("Please login first"))
		return
	}
	d.hub.Send(c, proto.NewPresence(d.registry.OnlineUsernames()))
}

func (d *Dispatcher) handleAdminCreateUser(ctx context.Context, c *Client, raw []byte) {
	switch _, acc := d.authorize(c, true); acc {
	case accessUnauthenticated:
		d.hub.Send(c, proto.NewError("Please login first"))
		return
	case accessForbidden:
		d.hub.Send(c, proto.NewAdminCreateUserError("Admin only"))
		return
	}

	var req proto.AdminCreateUser
	if err := json.Unmarshal(raw, &req); err != nil {
		d.hub.Send(c, proto.NewError("Invalid JSON"))
		return
	}

	username := strings.TrimSpace(req.Username)
	if _, err := d.auth.CreateUser(ctx, username, req.Password, req.IsAdmin); err != nil {
		var verr *store.ValidationError
		if errors.As(err, &verr) {
			d.hub.Send(c, proto.NewAdminCreateUserError(verr.Reason))
			return
		}
		d.log.Error().Err(err).Str("conn", c.ID).Msg("admin create user")
		d.hub.Send(c, proto.NewAdminCreateUserError("Create failed"))
		return
	}

	d.hub.Send(c, proto.NewAdminCreateUserOK(username))
}

// toWireMessage converts a stored message to its wire form. Timestamps are
// normalized to RFC 3339 UTC; the sticker field is null unless set.
func toWireMessage(m *store.Message) proto.Message {
	wire := proto.Message{
		ID:        m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Kind:      string(m.Kind),
		ReplyTo:   m.ReplyTo,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
	if m.Sticker != "" {
		s := m.Sticker
		wire.Sticker = &s
	}
	return wire
}
