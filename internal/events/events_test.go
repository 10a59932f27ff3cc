package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func TestNoopPublisher(t *testing.T) {
	var pub Publisher = &NoopPublisher{}
	if err := pub.Publish(context.Background(), TopicSessionOpened, SessionChanged{User: "ada"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNATSPublisher_ImplementsPublisher(t *testing.T) {
	var _ Publisher = (*NATSPublisher)(nil)
}

func TestNATSPublisher_Publish(t *testing.T) {
	url := startTestNATS(t)

	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()

	ch := make(chan *nats.Msg, 4)
	sub, err := nc.ChanSubscribe("plancast.>", ch)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer sub.Unsubscribe() //nolint:errcheck
	nc.Flush()

	id := uuid.New()
	event := TransmissionAccepted{Seq: 42, ID: id, Type: "plan.set", Scope: "plan-a", Origin: "client"}
	if err := pub.Publish(context.Background(), TopicTransmissionAccepted, event); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := pub.Publish(context.Background(), TopicPlaybackEnd, PlaybackEnded{Played: 3}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	pub.conn.Flush()

	subjects := map[string][]byte{}
	for i := 0; i < 2; i++ {
		select {
		case msg := <-ch:
			subjects[msg.Subject] = msg.Data
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}

	var got TransmissionAccepted
	if err := json.Unmarshal(subjects[TopicTransmissionAccepted], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Seq != 42 || got.ID != id {
		t.Errorf("got seq=%d id=%s, want 42 %s", got.Seq, got.ID, id)
	}
	if _, ok := subjects[TopicPlaybackEnd]; !ok {
		t.Errorf("missing %s", TopicPlaybackEnd)
	}
}

func TestNATSPublisher_CancelledContext(t *testing.T) {
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pub.Publish(ctx, TopicSessionClosed, SessionChanged{}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestNewNATSPublisher_Unreachable(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", nats.MaxReconnects(0), nats.Timeout(200*time.Millisecond))
	if err == nil {
		t.Fatal("expected connection error")
	}
}
