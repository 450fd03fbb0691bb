package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kasuganosora/raidloot/server/raid/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

// Packet is the envelope of every message in both directions.
type Packet struct {
	Seq     uint64          `json:"seq,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Session is one connected observer.
type Session struct {
	MemberID string
	Conn     *websocket.Conn
	SendChan chan []byte
	Done     chan struct{}
	LastSeq  uint64
	TraceID  string

	mu        sync.RWMutex
	filter    notify.Filter
	closeOnce sync.Once
}

func NewSession(memberID string, conn *websocket.Conn) *Session {
	return &Session{
		MemberID: memberID,
		Conn:     conn,
		SendChan: make(chan []byte, sendBuffer),
		Done:     make(chan struct{}),
	}
}

// Send queues a packet. A slow client loses packets rather than stalling
// the event fan-out.
func (s *Session) Send(msgType string, payload any) bool {
	p, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	b, err := json.Marshal(Packet{Type: msgType, Payload: p})
	if err != nil {
		return false
	}
	select {
	case <-s.Done:
		return false
	default:
	}
	select {
	case s.SendChan <- b:
		return true
	default:
		return false
	}
}

func (s *Session) SetFilter(f notify.Filter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()
}

func (s *Session) Filter() notify.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// SetReadDeadline extends the read deadline after any client traffic.
func (s *Session) SetReadDeadline() {
	if s.Conn != nil {
		_ = s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.Done)
		if s.Conn != nil {
			_ = s.Conn.Close()
		}
	})
}
