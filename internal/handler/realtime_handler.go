package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ably/ably-go/ably"
	"github.com/adopet/marketchat/internal/model"
	"github.com/adopet/marketchat/internal/realtime"
	"github.com/adopet/marketchat/internal/repository"
	"github.com/adopet/marketchat/internal/service"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendBuffer = 64
)

// TokenIssuer hands out client tokens for an external realtime provider.
type TokenIssuer interface {
	RequestToken(ctx context.Context, uid string, topics []string) (*ably.TokenDetails, error)
}

type RealtimeHandler struct {
	transport realtime.Transport
	convs     service.ConversationService
	msgs      service.MessageService
	tokens    TokenIssuer
	upgrader  websocket.Upgrader
}

// NewRealtimeHandler wires the websocket endpoint. tokens may be nil when no external
// provider is configured; checkOrigin nil accepts any origin.
func NewRealtimeHandler(transport realtime.Transport, convs service.ConversationService, msgs service.MessageService, tokens TokenIssuer, checkOrigin func(*http.Request) bool) *RealtimeHandler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &RealtimeHandler{
		transport: transport,
		convs:     convs,
		msgs:      msgs,
		tokens:    tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

type TokenRequest struct {
	Topics []string `json:"topics"`
}

// frame is what the websocket client receives: either a live event or the initial history batch.
type frame struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	ID    string          `json:"id,omitempty"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data"`
}

const frameHistory = "history"

// authorize checks uid may read topic.
func (h *RealtimeHandler) authorize(ctx context.Context, uid, topic string) error {
	t, err := realtime.ParseTopic(topic)
	if err != nil {
		return service.ErrValidation
	}
	switch t.Kind {
	case realtime.KindConversation, realtime.KindTransactions:
		_, err := h.convs.Get(ctx, t.ID, uid)
		return err
	default:
		if t.UID != uid {
			return service.ErrForbidden
		}
	}
	return nil
}

func (h *RealtimeHandler) Token(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	if h.tokens == nil {
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_configured", "realtime tokens are not enabled"))
	}
	var req TokenRequest
	if err := c.Bind(&req); err != nil || len(req.Topics) == 0 {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "topics are required"))
	}
	ctx := c.Request().Context()
	for _, topic := range req.Topics {
		if err := h.authorize(ctx, uid, topic); err != nil {
			return respondError(c, err)
		}
	}
	token, err := h.tokens.RequestToken(ctx, uid, req.Topics)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, token)
}

// Subscribe upgrades to a websocket streaming one topic. For conversation topics the
// subscription is opened before history is read, and live messages already present in
// the history batch are dropped, so the client sees every message exactly once.
func (h *RealtimeHandler) Subscribe(c echo.Context) error {
	uid := currentUID(c)
	if uid == "" {
		return unauthorized(c)
	}
	topic := c.QueryParam("topic")
	ctx := c.Request().Context()
	if err := h.authorize(ctx, uid, topic); err != nil {
		return respondError(c, err)
	}
	var afterID uint64
	if s := c.QueryParam("after_id"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid after_id"))
		}
		afterID = v
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the error response
		return nil
	}
	cl := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer), done: make(chan struct{})}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	events := make(chan realtime.Event, wsSendBuffer)
	sub, err := h.transport.Subscribe(connCtx, topic, func(ev realtime.Event) {
		select {
		case events <- ev:
		case <-cl.done:
		}
	})
	if err != nil {
		log.Warnf("[ws] uid=%s topic=%s stage=subscribe_fail err=%v", uid, topic, err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"), time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return nil
	}
	defer h.transport.Unsubscribe(sub)
	defer cl.close()

	go cl.writePump()
	go cl.readPump()

	var timeline *model.Timeline
	parsed, _ := realtime.ParseTopic(topic)
	if parsed.Kind == realtime.KindConversation {
		history, err := h.msgs.List(connCtx, parsed.ID, uid, repository.ListOptions{AfterID: afterID})
		if err != nil {
			log.Warnf("[ws] uid=%s topic=%s stage=history_fail err=%v", uid, topic, err)
			cl.close()
			return nil
		}
		timeline = model.NewTimeline(history...)
		if !cl.enqueue(historyFrame(topic, timeline.Messages())) {
			return nil
		}
	}

	for {
		select {
		case <-cl.done:
			return nil
		case ev := <-events:
			if timeline != nil && ev.Type == realtime.EventMessageCreated {
				var m model.Message
				if err := ev.Decode(&m); err == nil && !timeline.Add(m) {
					continue
				}
			}
			if !cl.enqueue(eventFrame(ev)) {
				return nil
			}
		}
	}
}

func historyFrame(topic string, msgs []model.Message) []byte {
	resp := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, toMessageResponse(m))
	}
	data, _ := json.Marshal(resp)
	b, _ := json.Marshal(frame{Type: frameHistory, Topic: topic, Data: data})
	return b
}

func eventFrame(ev realtime.Event) []byte {
	b, _ := json.Marshal(frame{Type: ev.Type, Topic: ev.Topic, ID: ev.ID, Seq: ev.Seq, Data: ev.Data})
	return b
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// enqueue drops the connection instead of blocking when the client cannot keep up;
// the client reconnects with after_id and replays from history.
func (c *wsClient) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		log.Infof("[ws] stage=slow_consumer")
		c.close()
		return false
	}
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *wsClient) readPump() {
	defer c.close()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
