package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/onechat-server/internal/core"
)

// writeTimeout bounds a single frame write so a stalled peer cannot
// pin the write pump past its eviction.
const writeTimeout = 10 * time.Second

var errEvicted = errors.New("client evicted")

// WSHandler upgrades HTTP connections and bridges them to the dispatcher.
type WSHandler struct {
	registry        *core.Registry
	hub             *core.Hub
	dispatcher      *core.Dispatcher
	maxMessageBytes int64
	log             *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(registry *core.Registry, hub *core.Hub, dispatcher *core.Dispatcher, maxMessageBytes int64, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{
		registry:        registry,
		hub:             hub,
		dispatcher:      dispatcher,
		maxMessageBytes: maxMessageBytes,
		log:             logger,
	}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.maxMessageBytes > 0 {
		conn.SetReadLimit(h.maxMessageBytes)
	}

	client := core.NewClient(uuid.New().String())
	h.registry.Register(client)
	defer h.hub.Drop(client)

	h.log.Debug().Str("client_id", client.ID).Msg("ws connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writePump(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if errors.Is(err, errEvicted) {
		status = websocket.StatusPolicyViolation
		reason = "slow consumer"
	} else if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = "internal error"
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	h.log.Debug().Str("client_id", client.ID).Msg("ws disconnected")
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		// Frames are dispatched one at a time so replies and broadcasts
		// keep the arrival order.
		h.dispatcher.HandleFrame(ctx, client, data)
	}
}

func (h *WSHandler) writePump(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case frame := <-client.Outbound():
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return err
			}
		case <-client.Done():
			return errEvicted
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
