package testutils

import (
	"sync"

	"huddle/internal/core/domain"
)

type Notification struct {
	Conn    domain.ConnectionID
	Method  string
	Payload any
}

// RecordingNotifier keeps every notification in delivery order.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

func (n *RecordingNotifier) Notify(conn domain.ConnectionID, method string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Conn: conn, Method: method, Payload: payload})
	return nil
}

func (n *RecordingNotifier) All() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}

// For returns the notifications of one method delivered to conn.
func (n *RecordingNotifier) For(conn domain.ConnectionID, method string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, msg := range n.sent {
		if msg.Conn == conn && msg.Method == method {
			out = append(out, msg)
		}
	}
	return out
}

// LastActiveSpeakers returns the most recent active speaker list pushed to
// conn, and false when none was sent.
func (n *RecordingNotifier) LastActiveSpeakers(conn domain.ConnectionID) ([]domain.ProducerID, bool) {
	msgs := n.For(conn, domain.NotifyUpdateActiveSpeakers)
	if len(msgs) == 0 {
		return nil, false
	}
	update := msgs[len(msgs)-1].Payload.(domain.ActiveSpeakersUpdate)
	return update.ActiveSpeakers, true
}

// NewProducers flattens every newProducersToConsume audio id sent to conn.
func (n *RecordingNotifier) NewProducers(conn domain.ConnectionID) []domain.ProducerID {
	var ids []domain.ProducerID
	for _, msg := range n.For(conn, domain.NotifyNewProducersToConsume) {
		ids = append(ids, msg.Payload.(domain.NewProducersToConsume).AudioIDsToSubscribe...)
	}
	return ids
}

func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = nil
}
