package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podgate/podgate/internal/podtest"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/.notifications"
}

func TestRun_AckThenPub(t *testing.T) {
	srv := podtest.New(t)
	topic := srv.URL + "/todos/"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events := make(chan Event, 4)
	s := NewSubscriber(Options{})

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, wsURL(srv.URL), []string{topic}, func(ev Event) { events <- ev })
	}()

	select {
	case ev := <-events:
		assert.Equal(t, Event{Kind: KindAck, URI: topic}, ev)
	case <-ctx.Done():
		t.Fatal("no ack received")
	}

	srv.Publish(srv.URL + "/elsewhere/")
	srv.Publish(topic)

	select {
	case ev := <-events:
		assert.Equal(t, Event{Kind: KindPub, URI: topic}, ev, "only subscribed topics are delivered")
	case <-ctx.Done():
		t.Fatal("no pub received")
	}

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, int64(2), s.Received())
}

func TestRun_NoTopics(t *testing.T) {
	s := NewSubscriber(Options{})
	assert.Error(t, s.Run(context.Background(), "ws://127.0.0.1:1/", nil, func(Event) {}))
}

func TestRun_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	s := NewSubscriber(Options{})
	err := s.Run(context.Background(), wsURL(srv.URL), []string{"x"}, func(Event) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dialing")
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		in   string
		want Event
		ok   bool
	}{
		{in: "pub https://pod.example/todos/", want: Event{Kind: KindPub, URI: "https://pod.example/todos/"}, ok: true},
		{in: "ack https://pod.example/todos/\n", want: Event{Kind: KindAck, URI: "https://pod.example/todos/"}, ok: true},
		{in: "protocol solid-0.1", ok: false},
		{in: "pub", ok: false},
		{in: "", ok: false},
	}

	for _, tt := range tests {
		got, ok := ParseMessage(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
