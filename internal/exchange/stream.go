package exchange

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perps-control-plane/internal/logging"
)

// TickerStream consumes the exchange's all-market 24hr ticker WebSocket
// stream and delivers each message as a batch of ticker events.
type TickerStream struct {
	mu sync.RWMutex

	wsURL     string
	wsConn    *websocket.Conn
	isRunning bool
	stopChan  chan struct{}
	batches   chan []TickerEvent

	reconnects     int
	lastMessage    time.Time
	droppedBatches int64

	logger *logging.Logger
}

// NewTickerStream creates a stream client for the given WebSocket base URL.
func NewTickerStream(wsBaseURL string, logger *logging.Logger) *TickerStream {
	return &TickerStream{
		wsURL:    strings.TrimRight(wsBaseURL, "/") + "/ws/!ticker@arr",
		stopChan: make(chan struct{}),
		batches:  make(chan []TickerEvent, 16),
		logger:   logger.WithComponent("ticker_stream"),
	}
}

// Batches returns the channel on which ticker event batches are delivered.
// One batch corresponds to one stream message.
func (s *TickerStream) Batches() <-chan []TickerEvent {
	return s.batches
}

// Start begins consuming the stream. It returns immediately; the
// connection is maintained in the background until Stop is called.
func (s *TickerStream) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	go s.connect()

	s.logger.Info("Ticker stream started", "url", s.wsURL)
}

// Stop closes the stream and its delivery channel.
func (s *TickerStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.isRunning = false
	close(s.stopChan)

	if s.wsConn != nil {
		s.wsConn.Close()
	}

	s.logger.Info("Ticker stream stopped")
}

// IsRunning returns true if the stream is active.
func (s *TickerStream) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *TickerStream) connect() {
	backoff := time.Second

	for {
		s.mu.RLock()
		if !s.isRunning {
			s.mu.RUnlock()
			return
		}
		s.mu.RUnlock()

		conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
		if err != nil {
			s.logger.Warn("Stream connection failed, retrying", "error", err.Error(), "backoff", backoff.String())
			if !s.sleep(backoff) {
				return
			}
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}

		s.mu.Lock()
		s.wsConn = conn
		s.reconnects = 0
		s.mu.Unlock()
		backoff = time.Second

		s.logger.Info("Stream connected")

		s.readLoop(conn)

		s.mu.RLock()
		isRunning := s.isRunning
		s.mu.RUnlock()
		if !isRunning {
			return
		}

		s.logger.Warn("Stream connection lost, reconnecting")
		if !s.sleep(3 * time.Second) {
			return
		}
	}
}

func (s *TickerStream) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("Stream closed normally")
			} else {
				s.logger.Warn("Stream read error", "error", err.Error())
			}
			return
		}

		s.mu.Lock()
		s.lastMessage = time.Now()
		s.mu.Unlock()

		s.handleMessage(message)
	}
}

func (s *TickerStream) handleMessage(message []byte) {
	var events []TickerEvent
	if err := json.Unmarshal(message, &events); err != nil {
		// The combined stream wraps single events in an object.
		var single TickerEvent
		if err2 := json.Unmarshal(message, &single); err2 != nil || single.Symbol == "" {
			s.logger.Warn("Failed to parse stream message", "error", err.Error())
			return
		}
		events = []TickerEvent{single}
	}

	if len(events) == 0 {
		return
	}

	select {
	case s.batches <- events:
	default:
		// Consumer is behind. Market data is superseding, so dropping a
		// batch only delays freshness by one message.
		s.mu.Lock()
		s.droppedBatches++
		dropped := s.droppedBatches
		s.mu.Unlock()
		if dropped%100 == 1 {
			s.logger.Warn("Dropping ticker batch, consumer behind", "dropped_total", dropped)
		}
	}
}

func (s *TickerStream) sleep(d time.Duration) bool {
	select {
	case <-s.stopChan:
		return false
	case <-time.After(d):
		return true
	}
}

// Stats returns stream health counters.
func (s *TickerStream) Stats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"running":         s.isRunning,
		"reconnects":      s.reconnects,
		"dropped_batches": s.droppedBatches,
		"last_message":    s.lastMessage.Format(time.RFC3339),
	}
}
