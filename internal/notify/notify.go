// Package notify subscribes to pod change notifications over the
// solid-0.1 websocket protocol: the client sends "sub <uri>" per topic and
// the server answers "ack <uri>" and later "pub <uri>" when a resource
// changes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"
)

// Protocol is the websocket subprotocol spoken by pod servers.
const Protocol = "solid-0.1"

// Kind is the type of a notification message.
type Kind string

const (
	KindAck Kind = "ack"
	KindPub Kind = "pub"
)

// Event is one message from the server.
type Event struct {
	Kind Kind   `json:"kind"`
	URI  string `json:"uri"`
}

// Options configure a Subscriber.
type Options struct {
	// HTTPClient is used for the websocket handshake.
	HTTPClient *http.Client

	// Header is added to the handshake request.
	Header http.Header

	Logger *slog.Logger
}

// Subscriber holds one notification connection.
type Subscriber struct {
	opts   Options
	logger *slog.Logger

	received atomic.Int64
}

// NewSubscriber returns a Subscriber. It does not connect until Run.
func NewSubscriber(opts Options) *Subscriber {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Subscriber{opts: opts, logger: logger}
}

// Received returns how many events have been delivered.
func (s *Subscriber) Received() int64 {
	return s.received.Load()
}

// Run dials wsURL, subscribes to every topic, and calls handle for each
// event until ctx is done or the connection fails. A canceled context
// returns nil.
func (s *Subscriber) Run(ctx context.Context, wsURL string, topics []string, handle func(Event)) error {
	if len(topics) == 0 {
		return errors.New("notify: no topics to subscribe to")
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient:   s.opts.HTTPClient,
		HTTPHeader:   s.opts.Header,
		Subprotocols: []string{Protocol},
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	if err != nil {
		return fmt.Errorf("notify: dialing %s: %w", wsURL, err)
	}
	defer conn.CloseNow()

	if got := conn.Subprotocol(); got != Protocol {
		s.logger.Warn("server did not select notification subprotocol",
			slog.String("url", wsURL),
			slog.String("subprotocol", got),
		)
	}

	for _, topic := range topics {
		if err := conn.Write(ctx, websocket.MessageText, []byte("sub "+topic)); err != nil {
			return s.closed(ctx, fmt.Errorf("notify: subscribing to %s: %w", topic, err))
		}

		s.logger.Debug("subscribed", slog.String("topic", topic))
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return s.closed(ctx, fmt.Errorf("notify: reading: %w", err))
		}

		if typ != websocket.MessageText {
			continue
		}

		ev, ok := ParseMessage(string(data))
		if !ok {
			s.logger.Debug("ignoring notification message", slog.String("message", string(data)))
			continue
		}

		s.received.Add(1)
		handle(ev)
	}
}

// closed maps errors caused by ctx ending or a normal close to nil.
func (s *Subscriber) closed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}

	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}

	return err
}

// ParseMessage decodes "ack <uri>" and "pub <uri>".
func ParseMessage(msg string) (Event, bool) {
	verb, uri, ok := strings.Cut(strings.TrimSpace(msg), " ")
	if !ok || uri == "" {
		return Event{}, false
	}

	switch Kind(verb) {
	case KindAck, KindPub:
		return Event{Kind: Kind(verb), URI: strings.TrimSpace(uri)}, true
	default:
		return Event{}, false
	}
}
