package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REALTIME STREAM - Supervised websocket channel to the broker
// ═══════════════════════════════════════════════════════════════════════════════
//
// One connection carries every feed. Protocol: LOGIN with the access
// token, then REG/REMOVE per feed type and symbol. The server sends
// PING frames that must be echoed back verbatim, REAL frames with the
// actual data, and acks mirroring the request trnm.
//
// The reader does no heavy work; frames are parsed into typed events
// and handed to the engine over a buffered channel.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	reconnectDelay = 5 * time.Second
	loginTimeout   = 10 * time.Second
	writeTimeout   = 5 * time.Second
)

// RegAck reports the outcome of a REG request.
type RegAck struct {
	OK      bool
	Message string
}

type Stream struct {
	mu sync.RWMutex

	client *Client
	loc    *time.Location

	// gorilla allows a single concurrent writer; the PING echo runs on
	// the read loop while REG/REMOVE arrive from other goroutines, so
	// every conn write goes through writeMu.
	writeMu sync.Mutex

	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	events     chan Event
	regAcks    chan RegAck
	reconnects chan struct{}
}

func NewStream(client *Client, loc *time.Location) *Stream {
	return &Stream{
		client:     client,
		loc:        loc,
		stopCh:     make(chan struct{}),
		events:     make(chan Event, 1000),
		regAcks:    make(chan RegAck, 16),
		reconnects: make(chan struct{}, 1),
	}
}

// Events delivers parsed realtime events in receipt order.
func (s *Stream) Events() <-chan Event { return s.events }

// RegAcks delivers registration acknowledgements.
func (s *Stream) RegAcks() <-chan RegAck { return s.regAcks }

// Reconnects fires after every successful connect+login, including the
// first; the engine re-registers its subscriptions on each signal.
func (s *Stream) Reconnects() <-chan struct{} { return s.reconnects }

// Start launches the supervised connection loop.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.connectionLoop()
	log.Info().Msg("📡 Realtime stream started")
}

// Stop closes the connection and stops reconnecting.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
	if s.conn != nil {
		s.conn.Close()
	}
	log.Info().Msg("Realtime stream stopped")
}

// IsConnected reports whether the channel is up and logged in.
func (s *Stream) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Register subscribes the given feed types for the given symbols. One
// REG request carries all pairs.
func (s *Stream) Register(types, symbols []string) error {
	return s.sendSubscription("REG", types, symbols)
}

// Unregister removes subscriptions for the given feed types/symbols.
func (s *Stream) Unregister(types, symbols []string) error {
	return s.sendSubscription("REMOVE", types, symbols)
}

func (s *Stream) sendSubscription(trnm string, types, symbols []string) error {
	s.mu.RLock()
	conn := s.conn
	connected := s.connected
	s.mu.RUnlock()

	if conn == nil || !connected {
		return &TransportError{Op: trnm, Err: errors.New("stream not connected")}
	}

	// One data entry per feed type; account-global feeds carry an
	// empty item key.
	data := make([]map[string]any, 0, len(types))
	for _, t := range types {
		items := symbols
		if t == FeedOrder || t == FeedBalance {
			items = []string{""}
		}
		data = append(data, map[string]any{
			"item": items,
			"type": []string{t},
		})
	}

	msg := map[string]any{
		"trnm":   trnm,
		"grp_no": "1",
		"data":   data,
	}
	if trnm == "REG" {
		msg["refresh"] = "1"
	}

	if err := s.writeJSON(conn, msg); err != nil {
		return &TransportError{Op: trnm, Err: err}
	}
	return nil
}

// writeJSON is the only JSON write path to the connection.
func (s *Stream) writeJSON(conn *websocket.Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// writeMessage is the only raw write path to the connection.
func (s *Stream) writeMessage(conn *websocket.Conn, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// connectionLoop keeps one logged-in connection alive until Stop.
func (s *Stream) connectionLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connect(); err != nil {
			log.Error().Err(err).Msg("Stream connect failed, retrying...")
			select {
			case <-s.stopCh:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		select {
		case s.reconnects <- struct{}{}:
		default:
		}

		s.readLoop()

		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()

		select {
		case <-s.stopCh:
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// connect dials the websocket and completes the LOGIN handshake.
func (s *Stream) connect() error {
	ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
	defer cancel()

	token, err := s.client.Token(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.client.StreamURL(), nil)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	login := map[string]string{"trnm": "LOGIN", "token": token}
	if err := s.writeJSON(conn, login); err != nil {
		conn.Close()
		return &TransportError{Op: "login write", Err: err}
	}

	conn.SetReadDeadline(time.Now().Add(loginTimeout))
	var resp struct {
		Trnm       string     `json:"trnm"`
		ReturnCode returnCode `json:"return_code"`
		ReturnMsg  string     `json:"return_msg"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return &TransportError{Op: "login read", Err: err}
	}
	if resp.Trnm != "LOGIN" || !resp.ReturnCode.OK() {
		conn.Close()
		return &AuthError{Reason: "stream login rejected: " + resp.ReturnMsg}
	}
	conn.SetReadDeadline(time.Time{})

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	log.Info().Msg("🔌 Realtime stream connected")
	return nil
}

// rawFrame is the common envelope of every server frame.
type rawFrame struct {
	Trnm       string          `json:"trnm"`
	ReturnCode returnCode      `json:"return_code"`
	ReturnMsg  string          `json:"return_msg"`
	Data       json.RawMessage `json:"data"`
}

// readLoop reads until the connection drops.
func (s *Stream) readLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Stream read error")
			return
		}

		var frame rawFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Warn().Err(err).Msg("Unparseable stream frame dropped")
			continue
		}

		switch frame.Trnm {
		case "PING":
			// The server expects its PING echoed back unchanged.
			if err := s.writeMessage(conn, message); err != nil {
				log.Warn().Err(err).Msg("PING echo failed")
			}
		case "REAL":
			s.handleReal(frame.Data)
		case "REG", "REMOVE":
			ack := RegAck{OK: frame.ReturnCode.OK(), Message: frame.ReturnMsg}
			if !ack.OK {
				log.Warn().Str("trnm", frame.Trnm).Str("msg", frame.ReturnMsg).Msg("⚠️ Subscription request rejected")
			}
			if frame.Trnm == "REG" {
				select {
				case s.regAcks <- ack:
				default:
				}
			}
		case "SYSTEM":
			log.Info().Str("msg", frame.ReturnMsg).Msg("Stream system notice")
		}
	}
}

// realRecord is one entry of a REAL frame's data array.
type realRecord struct {
	Type   string            `json:"type"`
	Item   string            `json:"item"`
	Values map[string]string `json:"values"`
}

// handleReal parses REAL payload records into typed events.
func (s *Stream) handleReal(data json.RawMessage) {
	var records []realRecord
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warn().Err(err).Msg("REAL payload dropped")
		return
	}

	now := time.Now().In(s.loc)
	for _, rec := range records {
		var ev Event
		var err error

		switch rec.Type {
		case FeedTrade:
			ev.Trade, err = parseTradeEvent(rec.Item, rec.Values, now, s.loc)
		case FeedBook:
			ev.Book, err = parseBookEvent(rec.Item, rec.Values, now)
		case FeedHalt:
			ev.Halt = parseHaltEvent(rec.Item, rec.Values)
		case FeedOrder:
			ev.Order, err = parseOrderUpdate(rec.Values)
		case FeedBalance:
			ev.Balance, err = parseBalanceEvent(rec.Values)
		default:
			continue
		}

		if err != nil {
			log.Warn().Err(err).Str("type", rec.Type).Str("item", rec.Item).Msg("Realtime record dropped")
			continue
		}

		select {
		case s.events <- ev:
		default:
			log.Warn().Str("type", rec.Type).Msg("⚠️ Event channel full, record dropped")
		}
	}
}
