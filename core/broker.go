package core

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event subjects published by the agent.
const (
	SubjectPostPosted   = "agent.events.post"
	SubjectReplyPosted  = "agent.events.reply"
	SubjectPostFailed   = "agent.events.post_failed"
	SubjectBranchDone   = "agent.events.branch"
	SubjectBranchFailed = "agent.events.branch_failed"
)

// Event is one lifecycle announcement.
type Event struct {
	Subject string          `json:"subject"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Broker fans lifecycle events out to NATS and to in-process subscribers
// (the websocket stream). Publishing is best-effort: a missing broker, a
// closed NATS connection, or a slow subscriber never blocks or fails the
// pipeline. A nil *Broker is valid and drops everything.
type Broker struct {
	conn *nats.Conn
	log  *zap.SugaredLogger

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroker connects to NATS when url is non-empty; with an empty url events
// are only delivered to in-process subscribers.
func NewBroker(url string, log *zap.SugaredLogger) (*Broker, error) {
	b := &Broker{
		log:  log,
		subs: make(map[chan Event]struct{}),
	}
	if url == "" {
		return b, nil
	}
	nc, err := nats.Connect(url, nats.Timeout(10*time.Second))
	if err != nil {
		return nil, err
	}
	b.conn = nc
	log.Infow("connected to NATS", "url", url)
	return b, nil
}

// Publish marshals payload and delivers it on subject.
func (b *Broker) Publish(subject string, payload any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Errorw("event payload not serializable", "subject", subject, "error", err)
		return
	}
	if b.conn != nil {
		if err := b.conn.Publish(subject, data); err != nil {
			b.log.Warnw("NATS publish failed", "subject", subject, "error", err)
		}
	}

	ev := Event{Subject: subject, Payload: data, At: time.Now().UTC()}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop rather than stall.
		}
	}
}

// Subscribe registers an in-process event channel.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 16)
	if b == nil {
		return ch
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a channel registered with Subscribe.
func (b *Broker) Unsubscribe(ch chan Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, ch)
}

// Close drains the NATS connection.
func (b *Broker) Close() {
	if b == nil || b.conn == nil {
		return
	}
	b.conn.Close()
}
