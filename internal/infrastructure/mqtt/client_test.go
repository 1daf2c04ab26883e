package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/config"
)

const (
	testBrokerHost = "127.0.0.1"
	testBrokerPort = 1883
)

// testConfig returns a configuration for a local broker, skipping the test
// when none is listening.
func testConfig(t *testing.T, clientID string) config.MQTTConfig {
	t.Helper()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", testBrokerHost, testBrokerPort), 500*time.Millisecond)
	if err != nil {
		t.Skipf("no MQTT broker at %s:%d: %v", testBrokerHost, testBrokerPort, err)
	}
	conn.Close()

	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     testBrokerHost,
			Port:     testBrokerPort,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicPrefix: "instruments-test",
	}
}

func connectClient(t *testing.T, cfg config.MQTTConfig, opts ...Option) *Client {
	t.Helper()

	c, err := Connect(cfg, opts...)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// =============================================================================
// Unit Tests (no broker)
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := NewTopics("lab/")

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"SystemStatus", topics.SystemStatus(), "lab/system/status"},
		{"DelegateRequest", topics.DelegateRequest("gpib0"), "lab/delegate/gpib0/request"},
		{"DelegateResponse", topics.DelegateResponse("gpib0", "hub-1"), "lab/delegate/gpib0/response/hub-1"},
		{"DelegateStatus", topics.DelegateStatus("gpib0"), "lab/delegate/gpib0/status"},
		{"AllDelegateStatus", topics.AllDelegateStatus(), "lab/delegate/+/status"},
		{"InstrumentReading", topics.InstrumentReading("dmm", "volt"), "lab/instrument/dmm/reading/volt"},
		{"ZeroValuePrefix", Topics{}.SystemStatus(), "instruments/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestTopics_DelegateFromTopic(t *testing.T) {
	topics := NewTopics("lab")

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"lab/delegate/gpib0/status", "gpib0", true},
		{"lab/delegate/gpib0/response/hub", "gpib0", true},
		{"lab/system/status", "", false},
		{"other/delegate/gpib0/status", "", false},
		{"lab/delegate/gpib0", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := topics.DelegateFromTopic(tt.topic)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("DelegateFromTopic(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestStatusPayloads(t *testing.T) {
	online, err := ParseStatus(buildOnlinePayload("w1"))
	if err != nil {
		t.Fatalf("ParseStatus(online) error = %v", err)
	}
	if !online.Online() || online.ClientID != "w1" || online.Timestamp == "" {
		t.Errorf("online status = %+v", online)
	}

	offline, err := ParseStatus(buildOfflinePayload("w1", ReasonUnexpected))
	if err != nil {
		t.Fatalf("ParseStatus(offline) error = %v", err)
	}
	if offline.Online() || offline.Reason != ReasonUnexpected {
		t.Errorf("offline status = %+v", offline)
	}

	for _, bad := range []string{"not json", `{"status":"sleeping"}`} {
		if _, err := ParseStatus([]byte(bad)); err == nil {
			t.Errorf("ParseStatus(%q) error = nil", bad)
		}
	}
}

func TestResolveSettings(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:      config.MQTTBrokerConfig{ClientID: "hub"},
		TopicPrefix: "lab",
	}

	s := resolveSettings(cfg, nil)
	if s.clientID != "hub" || s.statusTopic != "lab/system/status" {
		t.Errorf("defaults = %+v", s)
	}

	s = resolveSettings(cfg, []Option{WithClientID("worker"), WithStatusTopic("lab/delegate/w/status")})
	if s.clientID != "worker" || s.statusTopic != "lab/delegate/w/status" {
		t.Errorf("overridden = %+v", s)
	}
}

func TestIsConnected_InitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on uninitialised client error = %v", err)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestPublish_ValidationWithoutConnection(t *testing.T) {
	client := &Client{subscriptions: make(map[string]subscription)}
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", client.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", client.Publish("a", nil, 3, false), ErrInvalidQoS},
		{"publish oversized", client.Publish("a", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed},
		{"publish disconnected", client.Publish("a", nil, 1, false), ErrNotConnected},
		{"subscribe empty topic", client.Subscribe("", 1, handler), ErrInvalidTopic},
		{"subscribe bad qos", client.Subscribe("a", 3, handler), ErrInvalidQoS},
		{"subscribe nil handler", client.Subscribe("a", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", client.Subscribe("a", 1, handler), ErrNotConnected},
		{"unsubscribe empty topic", client.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", client.Unsubscribe("a"), ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("error = %v, want %v", tt.err, tt.want)
			}
		})
	}
}

// =============================================================================
// Broker Tests
// =============================================================================

func TestConnect(t *testing.T) {
	client := connectClient(t, testConfig(t, "instruments-test-connect"))

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig(t, "instruments-test-refused")
	cfg.Broker.Port = 19998

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	cfg := testConfig(t, "instruments-test-sub")
	sub := connectClient(t, cfg)
	cfg.Broker.ClientID = "instruments-test-pub"
	pub := connectClient(t, cfg)

	topic := sub.Topics().DelegateRequest("roundtrip")
	got := make(chan []byte, 1)
	if err := sub.Subscribe(topic, 1, func(_ string, payload []byte) error {
		got <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !sub.HasSubscription(topic) || sub.SubscriptionCount() != 1 {
		t.Error("subscription not tracked")
	}

	if err := pub.Publish(topic, []byte{0xa1, 0x01, 0x02}, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-got:
		if len(payload) != 3 {
			t.Errorf("payload = %x", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	if err := sub.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if sub.HasSubscription(topic) {
		t.Error("HasSubscription() = true after Unsubscribe")
	}
}

func TestStatusTopic_OnlineThenGracefulOffline(t *testing.T) {
	cfg := testConfig(t, "instruments-test-watcher")
	watcher := connectClient(t, cfg)

	statusTopic := watcher.Topics().DelegateStatus("status-test")

	var (
		mu       sync.Mutex
		statuses []Status
	)
	seen := make(chan struct{}, 4)
	if err := watcher.Subscribe(statusTopic, 1, func(_ string, payload []byte) error {
		st, err := ParseStatus(payload)
		if err != nil {
			return err
		}
		mu.Lock()
		statuses = append(statuses, st)
		mu.Unlock()
		seen <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	cfg.Broker.ClientID = "instruments-test-worker"
	worker, err := Connect(cfg, WithStatusTopic(statusTopic))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, seen)
	worker.Close()

	gracefulOffline := func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(statuses) == 0 {
			return false
		}
		last := statuses[len(statuses)-1]
		return !last.Online() && last.Reason == ReasonGraceful && last.ClientID == "instruments-test-worker"
	}
	deadline := time.Now().Add(3 * time.Second)
	for !gracefulOffline() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if !gracefulOffline() {
		t.Errorf("statuses = %+v, want a final graceful offline", statuses)
	}
}

func TestHandlerReturnsError(t *testing.T) {
	client := connectClient(t, testConfig(t, "instruments-test-handler-err"))
	logger := &mockLogger{}
	client.SetLogger(logger)

	topic := client.Topics().DelegateRequest("handler-error")
	called := make(chan struct{}, 1)
	if err := client.Subscribe(topic, 1, func(string, []byte) error {
		called <- struct{}{}
		return errors.New("handler error")
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.PublishString(topic, "test", 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitFor(t, called)

	deadline := time.Now().Add(time.Second)
	for logger.warnCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if logger.warnCount() == 0 {
		t.Error("handler error was not logged")
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

type mockLogger struct {
	mu    sync.Mutex
	warns int
}

func (l *mockLogger) Error(string, ...any) {}

func (l *mockLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func (l *mockLogger) warnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warns
}
