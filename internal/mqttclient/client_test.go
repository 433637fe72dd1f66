package mqttclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type fakeToken struct {
	mqtt.Token
	done bool
	err  error
}

func (t *fakeToken) Wait() bool                     { return t.done }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeConn struct {
	mqtt.Client
	token *fakeToken
	sent  []published
}

func (f *fakeConn) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.sent = append(f.sent, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return f.token
}

func TestPublishJSON(t *testing.T) {
	conn := &fakeConn{token: &fakeToken{done: true}}
	c := &Client{conn: conn, topic: "scribe/transcriptions", log: zerolog.Nop()}

	ev := map[string]any{"job_id": "abc", "artifact": "transcription_2024-01-01_00-00-00.json"}
	if err := c.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(conn.sent))
	}
	msg := conn.sent[0]
	if msg.topic != "scribe/transcriptions" || msg.qos != 0 {
		t.Errorf("topic=%q qos=%d", msg.topic, msg.qos)
	}
	var got map[string]any
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got["job_id"] != "abc" {
		t.Errorf("payload = %s", msg.payload)
	}
}

func TestPublishErrors(t *testing.T) {
	t.Run("broker_error", func(t *testing.T) {
		c := &Client{conn: &fakeConn{token: &fakeToken{done: true, err: errors.New("not connected")}}, topic: "t", log: zerolog.Nop()}
		if err := c.Publish(context.Background(), struct{}{}); err == nil {
			t.Error("expected broker error")
		}
	})
	t.Run("timeout", func(t *testing.T) {
		c := &Client{conn: &fakeConn{token: &fakeToken{done: false}}, topic: "t", log: zerolog.Nop()}
		if err := c.Publish(context.Background(), struct{}{}); err == nil {
			t.Error("expected timeout error")
		}
	})
	t.Run("unmarshalable", func(t *testing.T) {
		c := &Client{conn: &fakeConn{token: &fakeToken{done: true}}, topic: "t", log: zerolog.Nop()}
		if err := c.Publish(context.Background(), make(chan int)); err == nil {
			t.Error("expected marshal error")
		}
	})
}

func TestConnectRequiresTopic(t *testing.T) {
	if _, err := Connect(Options{BrokerURL: "tcp://127.0.0.1:1", Log: zerolog.Nop()}); err == nil {
		t.Error("expected error for empty topic")
	}
}
