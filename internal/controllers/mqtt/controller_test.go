package mqttctrl

import (
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/loopctl-dev/loopctl/internal/loop"
	"github.com/loopctl-dev/loopctl/internal/testutil"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeToken struct {
	err  error
	done chan struct{}
}

func (t fakeToken) Done() <-chan struct{} {
	if t.done == nil {
		t.done = make(chan struct{})
		close(t.done)
	}
	return t.done
}

func (t fakeToken) Wait() bool                       { return true }
func (t fakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t fakeToken) Error() error                     { return t.err }

type publishCall struct {
	topic   string
	qos     byte
	retain  bool
	payload []byte
}

type fakeClient struct {
	publishes []publishCall
}

func (c *fakeClient) IsConnected() bool      { return true }
func (c *fakeClient) IsConnectionOpen() bool { return true }
func (c *fakeClient) Connect() mqtt.Token    { return fakeToken{} }
func (c *fakeClient) Disconnect(_ uint)      {}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = append([]byte(nil), v...)
	case string:
		b = []byte(v)
	default:
		// shouldn't happen in our controller, but keep it safe
		tmp, _ := json.Marshal(v)
		b = tmp
	}
	c.publishes = append(c.publishes, publishCall{
		topic: topic, qos: qos, retain: retained, payload: b,
	})
	return fakeToken{}
}
func (c *fakeClient) Subscribe(_ string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(_ map[string]byte, _ mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}
func (c *fakeClient) Unsubscribe(_ ...string) mqtt.Token       { return fakeToken{} }
func (c *fakeClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader  { return mqtt.ClientOptionsReader{} }

// ---- tests ----
func newDefaultSvc() *testutil.FakeLoopService {
	return testutil.NewFakeLoopService()
}

func TestNewDefaults(t *testing.T) {
	svc := newDefaultSvc()
	c, err := New(svc, Config{DeviceID: "line4"})
	if err != nil {
		t.Fatal(err)
	}

	if c.cfg.BrokerURL != "tcp://localhost:1883" {
		t.Fatalf("expected default BrokerURL, got %q", c.cfg.BrokerURL)
	}
	if c.cfg.BaseTopic != "loopctl/line4" {
		t.Fatalf("expected default BaseTopic, got %q", c.cfg.BaseTopic)
	}
	if c.cfg.ClientID != "loopctl-line4" {
		t.Fatalf("expected default ClientID, got %q", c.cfg.ClientID)
	}
	if c.cfg.PublishInterval != 1*time.Second {
		t.Fatalf("expected default PublishInterval, got %v", c.cfg.PublishInterval)
	}
}

func TestNewValidation(t *testing.T) {
	svc := newDefaultSvc()

	if _, err := New(svc, Config{}); err == nil {
		t.Fatal("expected error when DeviceID missing")
	}

	if _, err := New(svc, Config{DeviceID: "x", QoS: 2}); err == nil {
		t.Fatal("expected error when QoS > 1")
	}
}

func TestTopicJoin(t *testing.T) {
	svc := newDefaultSvc()
	c, err := New(svc, Config{DeviceID: "line4", BaseTopic: "loopctl/line4/"})
	if err != nil {
		t.Fatal(err)
	}
	if got := c.topic("snapshot"); got != "loopctl/line4/snapshot" {
		t.Fatalf("expected topic without double slashes, got %q", got)
	}
}

func TestDecodeValueStrict(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		v, err := decodeValueStrict[float64]([]byte(`{"value": 12.5}`))
		if err != nil {
			t.Fatal(err)
		}
		if v != 12.5 {
			t.Fatalf("expected 12.5, got %v", v)
		}
	})

	t.Run("missing value", func(t *testing.T) {
		_, err := decodeValueStrict[bool]([]byte(`{}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		_, err := decodeValueStrict[string]([]byte(`{"value":"auto","extra":1}`))
		if err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := decodeValueStrict[string]([]byte(`{"value":`))
		if err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestOnMessage_IgnoresWrongPrefix(t *testing.T) {
	svc := newDefaultSvc()
	c, err := New(svc, Config{DeviceID: "line4"})
	if err != nil {
		t.Fatal(err)
	}

	c.onMessage(nil, fakeMessage{
		topic:   "otherprefix/set/enabled",
		payload: []byte(`{"value":true}`),
	})

	if svc.SetEnabledCalled {
		t.Fatal("expected SetEnabled not called")
	}
}

func TestOnMessage_Enabled(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := New(svc, Config{DeviceID: "line4"})
	fc := &fakeClient{}
	c.client = fc
	c.onMessage(nil, fakeMessage{
		topic:   "loopctl/line4/set/enabled",
		payload: []byte(`{"value":false}`),
	})

	if !svc.SetEnabledCalled || svc.SetEnabledArg != false {
		t.Fatalf("expected SetEnabled(false), got called=%v arg=%v", svc.SetEnabledCalled, svc.SetEnabledArg)
	}
}

func TestOnMessage_Setpoint(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := New(svc, Config{DeviceID: "line4"})
	c.onMessage(nil, fakeMessage{
		topic:   "loopctl/line4/set/setpoint",
		payload: []byte(`{"value":24.5}`),
	})

	if !svc.SetSetpointCalled || svc.SetSetpointArg != 24.5 {
		t.Fatalf("expected SetSetpoint(24.5), got called=%v arg=%v", svc.SetSetpointCalled, svc.SetSetpointArg)
	}
}

func TestOnMessage_Mode(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := New(svc, Config{DeviceID: "line4"})
	c.onMessage(nil, fakeMessage{
		topic:   "loopctl/line4/set/mode",
		payload: []byte(`{"value":"adaptive"}`),
	})

	if !svc.SetModeCalled || svc.SetModeArg != loop.ModeAdaptive {
		t.Fatalf("expected SetMode(adaptive), got called=%v arg=%v", svc.SetModeCalled, svc.SetModeArg)
	}
}

func TestOnMessage_ModeInvalidIgnored(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := New(svc, Config{DeviceID: "line4"})
	c.onMessage(nil, fakeMessage{
		topic:   "loopctl/line4/set/mode",
		payload: []byte(`{"value":"weird"}`),
	})

	if svc.SetModeCalled {
		t.Fatal("expected SetMode not called for invalid mode")
	}
}

func TestOnMessage_Gains(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := New(svc, Config{DeviceID: "line4"})
	c.onMessage(nil, fakeMessage{
		topic:   "loopctl/line4/set/gains",
		payload: []byte(`{"value":{"kp":2.5,"ki":0.25,"kd":0.01}}`),
	})

	if !svc.SetGainsCalled || svc.SetGainsKp != 2.5 || svc.SetGainsKi != 0.25 || svc.SetGainsKd != 0.01 {
		t.Fatalf("expected SetGains(2.5, 0.25, 0.01), got called=%v kp=%v ki=%v kd=%v",
			svc.SetGainsCalled, svc.SetGainsKp, svc.SetGainsKi, svc.SetGainsKd)
	}
}

func TestOnMessage_Output(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := New(svc, Config{DeviceID: "line4"})
	c.onMessage(nil, fakeMessage{
		topic:   "loopctl/line4/set/output",
		payload: []byte(`{"value":7.25}`),
	})

	if !svc.SetOutputCalled || svc.SetOutputArg != 7.25 {
		t.Fatalf("expected SetOutput(7.25), got called=%v arg=%v", svc.SetOutputCalled, svc.SetOutputArg)
	}
}

func TestPublishSnapshot(t *testing.T) {
	svc := newDefaultSvc()
	c, _ := New(svc, Config{DeviceID: "line4"})
	fc := &fakeClient{}
	c.client = fc

	c.publishSnapshot()

	if len(fc.publishes) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(fc.publishes))
	}
	pub := fc.publishes[0]
	if pub.topic != "loopctl/line4/snapshot" {
		t.Fatalf("unexpected topic %q", pub.topic)
	}

	var dto snapshotDTO
	if err := json.Unmarshal(pub.payload, &dto); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if dto.Mode != "auto" || dto.Setpoint != 22 || dto.Gains.Kp != 1.0 {
		t.Fatalf("unexpected snapshot payload: %+v", dto)
	}
}
