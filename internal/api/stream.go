package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"swap-router/pkg/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins for local development
		// TODO: restrict in production
		return true
	},
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	sessionBuffer = 64
)

// session is one WebSocket subscription: a single order's lifecycle feed, or
// the firehose of every order's events when no orderId was given.
type session struct {
	conn     *websocket.Conn
	events   <-chan types.Event
	cancel   func()
	terminal bool // close the stream after a terminal event
	logger   *slog.Logger
}

// HandleWebSocket upgrades the connection and streams order events.
//
// With ?orderId= the session replays nothing: it is subscribed before the
// order is looked up, so no event can fall between lookup and subscription.
// An unknown order gets a single error frame; an already-terminal order gets
// a synthesized terminal frame. Either way the stream then closes.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("orderId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	var (
		ch     <-chan types.Event
		cancel func()
	)
	if orderID == "" {
		ch, cancel = h.bus.SubscribeAll(sessionBuffer)
	} else {
		ch, cancel = h.bus.Subscribe(orderID, sessionBuffer)
	}

	s := &session{
		conn:     conn,
		events:   ch,
		cancel:   cancel,
		terminal: orderID != "",
		logger:   h.logger.With("order_id", orderID),
	}

	if orderID != "" {
		order, err := h.cache.GetActiveOrder(r.Context(), orderID)
		if err != nil {
			order, err = h.repo.GetOrderByID(r.Context(), orderID)
		}
		if err != nil {
			s.sendOne(types.Event{
				OrderID: orderID,
				Status:  types.EventError,
				Message: "order not found: " + orderID,
				Error:   string(types.KindNotFound),
				Kind:    types.KindNotFound,
			})
			cancel()
			conn.Close()
			return
		}
		if order.Status.Terminal() {
			s.sendOne(terminalEvent(order))
			cancel()
			conn.Close()
			return
		}
	}

	go s.writePump()
	go s.readPump()
}

// terminalEvent reconstructs the terminal stream frame from a stored order,
// for clients that connect after the order finished.
func terminalEvent(order *types.Order) types.Event {
	if order.Status == types.StatusConfirmed {
		return types.Event{
			OrderID:       order.ID,
			Status:        types.EventConfirmed,
			Venue:         order.SelectedVenue,
			TxHash:        order.TxHash,
			AmountOut:     order.AmountOut,
			ExecutedPrice: order.ExecutedPrice,
		}
	}
	return types.Event{
		OrderID: order.ID,
		Status:  types.EventFailed,
		Message: order.ErrorMessage,
	}
}

// sendOne writes a single frame outside the pump loop.
func (s *session) sendOne(evt types.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.TextMessage, data)
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// writePump pumps bus events to the connection. For per-order sessions the
// stream ends after the terminal event.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.cancel()
		s.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-s.events:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Bus dropped us (slow consumer) or shut down.
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Error("failed to marshal event", "error", err)
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			if s.terminal && (evt.Status == types.EventConfirmed || evt.Status == types.EventFailed) {
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection. The stream is read-only; client messages
// are ignored, but reading is what notices disconnects and answers pings.
func (s *session) readPump() {
	defer func() {
		s.cancel()
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", "error", err)
			}
			return
		}
	}
}
