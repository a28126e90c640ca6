package podtest

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// NotificationProtocol is the websocket subprotocol spoken by the fake
// provider.
const NotificationProtocol = "solid-0.1"

const publishTimeout = 2 * time.Second

type subscriber struct {
	conn   *websocket.Conn
	topics []string
}

type subscribers struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newSubscribers() *subscribers {
	return &subscribers{subs: make(map[*subscriber]struct{})}
}

func (ss *subscribers) add(sub *subscriber) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.subs[sub] = struct{}{}
}

func (ss *subscribers) remove(sub *subscriber) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	delete(ss.subs, sub)
}

func (ss *subscribers) subscribe(sub *subscriber, topic string) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !slices.Contains(sub.topics, topic) {
		sub.topics = append(sub.topics, topic)
	}
}

// publish sends "pub <uri>" to every connection subscribed to uri.
func (ss *subscribers) publish(uri string) {
	ss.mu.Lock()

	var targets []*websocket.Conn

	for sub := range ss.subs {
		if slices.Contains(sub.topics, uri) {
			targets = append(targets, sub.conn)
		}
	}
	ss.mu.Unlock()

	for _, c := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		_ = c.Write(ctx, websocket.MessageText, []byte("pub "+uri))
		cancel()
	}
}

// Publish notifies subscribers of uri as if it had changed.
func (s *Server) Publish(uri string) {
	s.subs.publish(uri)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{NotificationProtocol},
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	sub := &subscriber{conn: conn}
	s.subs.add(sub)
	defer s.subs.remove(sub)

	ctx := r.Context()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		verb, uri, ok := strings.Cut(strings.TrimSpace(string(data)), " ")
		if !ok || verb != "sub" {
			continue
		}

		s.subs.subscribe(sub, uri)

		if err := conn.Write(ctx, websocket.MessageText, []byte("ack "+uri)); err != nil {
			return
		}
	}
}
