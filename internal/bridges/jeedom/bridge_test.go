package jeedom

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/dispatch"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/config"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/jeedom-bridge/internal/overrides"
)

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []mockSubscription
	connected     bool
	handlers      map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockSubscription struct {
	Topic string
	QoS   byte
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  payload,
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, mockSubscription{Topic: topic, QoS: qos})
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

func (m *MockMQTTClient) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockMQTTClient) GetSubscriptions() []mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// LastPublished returns the last message published on topic.
func (m *MockMQTTClient) LastPublished(topic string) (mockPublish, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].Topic == topic {
			return m.published[i], true
		}
	}
	return mockPublish{}, false
}

// SimulateMessage delivers a message to the handler whose subscription
// pattern matches topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var handler func(topic string, payload []byte)
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		handler(topic, payload)
	}
}

func topicMatches(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	for i, seg := range p {
		if seg == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if seg != "+" && seg != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []dispatch.Request
	err      error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req dispatch.Request) (*dispatch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	res := &dispatch.Result{CorrelationID: "c-1", Slug: req.Slug, Action: req.Action, Source: req.Source, Success: f.err == nil}
	return res, f.err
}

func (f *fakeDispatcher) Requests() []dispatch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.Request(nil), f.requests...)
}

type memoryStore struct {
	mu      sync.Mutex
	records map[int]device.DiscoveryRecord
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[int]device.DiscoveryRecord)}
}

func (s *memoryStore) Save(_ context.Context, rec device.DiscoveryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.DeviceID] = rec
	return nil
}

func (s *memoryStore) LoadAll(_ context.Context) ([]device.DiscoveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]device.DiscoveryRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}

func (s *memoryStore) Delete(_ context.Context, deviceID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, deviceID)
	return nil
}

type fakeValueSampler struct {
	mu      sync.Mutex
	samples []influxdb.CommandSample
}

func (f *fakeValueSampler) WriteCommandValue(s influxdb.CommandSample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, s)
}

func testConfig() *config.Config {
	return &config.Config{
		Jeedom: config.JeedomConfig{
			Protocol:       config.ProtocolMQTT,
			ImportMode:     config.ImportModeNative,
			RequestTimeout: 1,
			DiscoveryTopic: "jeedom/discovery/eqLogic/#",
			EventTopic:     "jeedom/cmd/event/#",
		},
		MQTT: config.MQTTConfig{
			QoS:         1,
			TopicPrefix: "jeedombridge",
		},
	}
}

type bridgeFixture struct {
	bridge     *Bridge
	mqtt       *MockMQTTClient
	dispatcher *fakeDispatcher
	store      *memoryStore
	sampler    *fakeValueSampler
	registry   *device.Registry
	index      *device.EntityIndex
}

func newBridgeFixture(t *testing.T, cfg *config.Config) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		mqtt:       NewMockMQTTClient(),
		dispatcher: &fakeDispatcher{},
		store:      newMemoryStore(),
		sampler:    &fakeValueSampler{},
		registry:   device.NewRegistry(),
		index:      device.NewEntityIndex(),
	}
	b, err := NewBridge(BridgeOptions{
		Config:     cfg,
		MQTTClient: f.mqtt,
		Registry:   f.registry,
		Index:      f.index,
		Dispatcher: f.dispatcher,
		Store:      f.store,
		Sampler:    f.sampler,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	f.bridge = b
	t.Cleanup(b.Stop)
	return f
}

// priseWithoutPower re-announces the plug after its meter was excluded
// on the Jeedom side.
const priseWithoutPower = `{
	"id": "11",
	"name": "Prise Salon",
	"cmds": [
		{"id": "1", "name": "Etat", "type": "info", "subType": "binary", "order": "0"},
		{"id": "2", "name": "On", "type": "action", "subType": "other", "logicalId": "37-0-setValue-true", "order": "1"},
		{"id": "3", "name": "Off", "type": "action", "subType": "other", "logicalId": "37-0-setValue-false", "order": "2"}
	]
}`

func TestNewBridge_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"no config", BridgeOptions{Registry: device.NewRegistry(), Index: device.NewEntityIndex()}},
		{"no registry", BridgeOptions{Config: testConfig(), Index: device.NewEntityIndex()}},
		{"no index", BridgeOptions{Config: testConfig(), Registry: device.NewRegistry()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() should fail")
			}
		})
	}
}

func TestBridge_StartSubscribes(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	subs := f.mqtt.GetSubscriptions()
	want := []string{"jeedom/discovery/eqLogic/#", "jeedom/cmd/event/#", "jeedombridge/entity/+/set"}
	if len(subs) != len(want) {
		t.Fatalf("subscriptions = %+v", subs)
	}
	for i, w := range want {
		if subs[i].Topic != w || subs[i].QoS != 1 {
			t.Errorf("subscription[%d] = %+v, want %s", i, subs[i], w)
		}
	}
}

func TestBridge_StartAPIProtocol(t *testing.T) {
	cfg := testConfig()
	cfg.Jeedom.Protocol = config.ProtocolAPI
	f := newBridgeFixture(t, cfg)
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	subs := f.mqtt.GetSubscriptions()
	if len(subs) != 1 || subs[0].Topic != "jeedombridge/entity/+/set" {
		t.Errorf("subscriptions = %+v, want commands only", subs)
	}
}

func TestBridge_DiscoveryPublishesConfig(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	f.mqtt.SimulateMessage("jeedom/discovery/eqLogic/11", []byte(prisePayload))

	msg, ok := f.mqtt.LastPublished("jeedombridge/entity/prise_salon/config")
	if !ok {
		t.Fatal("switch config not published")
	}
	if !msg.Retained {
		t.Error("config should be retained")
	}
	var cfg map[string]any
	if err := json.Unmarshal(msg.Payload, &cfg); err != nil {
		t.Fatalf("config payload: %v", err)
	}
	if cfg["platform"] != "switch" || cfg["unique_id"] != "jeedom_11_switch" {
		t.Errorf("config = %v", cfg)
	}
	if cfg["state_topic"] != "jeedombridge/entity/prise_salon/state" {
		t.Errorf("state_topic = %v", cfg["state_topic"])
	}
	if cfg["command_topic"] != "jeedombridge/entity/prise_salon/set" {
		t.Errorf("command_topic = %v", cfg["command_topic"])
	}

	msg, ok = f.mqtt.LastPublished("jeedombridge/entity/prise_salon_puissance/config")
	if !ok {
		t.Fatal("sensor config not published")
	}
	cfg = nil
	if err := json.Unmarshal(msg.Payload, &cfg); err != nil {
		t.Fatalf("config payload: %v", err)
	}
	if _, has := cfg["command_topic"]; has {
		t.Error("sensor config should have no command_topic")
	}

	if _, ok := f.store.records[11]; !ok {
		t.Error("discovery not cached")
	}
	if f.registry.Count() != 1 || f.index.Count() != 2 {
		t.Errorf("registry=%d index=%d", f.registry.Count(), f.index.Count())
	}
}

func TestBridge_DiscoveryClearsRemoved(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	if _, err := f.bridge.HandleDiscovery([]byte(prisePayload)); err != nil {
		t.Fatalf("HandleDiscovery() error = %v", err)
	}
	f.mqtt.ClearPublished()

	out, err := f.bridge.HandleDiscovery([]byte(priseWithoutPower))
	if err != nil {
		t.Fatalf("HandleDiscovery() error = %v", err)
	}
	if len(out.Removed) != 1 {
		t.Fatalf("Removed = %v", out.Removed)
	}

	for _, topic := range []string{
		"jeedombridge/entity/prise_salon_puissance/config",
		"jeedombridge/entity/prise_salon_puissance/state",
	} {
		msg, ok := f.mqtt.LastPublished(topic)
		if !ok || len(msg.Payload) != 0 || !msg.Retained {
			t.Errorf("%s = %+v, want empty retained payload", topic, msg)
		}
	}
}

func TestBridge_DiscoveryRepublishesMovedSlug(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	twin := `{"id": "12", "name": "Prise Salon", "cmds": [
		{"id": "21", "name": "Etat", "type": "info", "subType": "binary"},
		{"id": "22", "name": "On", "type": "action", "subType": "other", "logicalId": "5-0-setValue-true"},
		{"id": "23", "name": "Off", "type": "action", "subType": "other", "logicalId": "5-0-setValue-false"}
	]}`
	if _, err := f.bridge.HandleDiscovery([]byte(twin)); err != nil {
		t.Fatalf("HandleDiscovery(twin) error = %v", err)
	}
	f.mqtt.ClearPublished()

	out, err := f.bridge.HandleDiscovery([]byte(prisePayload))
	if err != nil {
		t.Fatalf("HandleDiscovery() error = %v", err)
	}
	if len(out.Moved) != 1 || out.Moved[0].DeviceID != 12 || out.Moved[0].To != "prise_salon_12" {
		t.Fatalf("Moved = %+v", out.Moved)
	}

	for topic, wantDevice := range map[string]float64{
		"jeedombridge/entity/prise_salon/config":    11,
		"jeedombridge/entity/prise_salon_12/config": 12,
	} {
		msg, ok := f.mqtt.LastPublished(topic)
		if !ok {
			t.Errorf("%s not published", topic)
			continue
		}
		var cfg map[string]any
		if err := json.Unmarshal(msg.Payload, &cfg); err != nil {
			t.Fatalf("%s payload: %v", topic, err)
		}
		if cfg["eqlogic_id"] != wantDevice {
			t.Errorf("%s eqlogic_id = %v, want %v", topic, cfg["eqlogic_id"], wantDevice)
		}
	}
	if desc, ok := f.index.BySlug("prise_salon"); !ok || desc.DeviceID != 11 {
		t.Errorf("BySlug(prise_salon) = %+v, %v", desc, ok)
	}
}

func TestBridge_DiscoveryRejected(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	if _, err := f.bridge.HandleDiscovery([]byte(`{"name": "no id"}`)); !errors.Is(err, ErrMissingIdentity) {
		t.Errorf("HandleDiscovery() error = %v", err)
	}
	if len(f.mqtt.GetPublished()) != 0 || len(f.store.records) != 0 {
		t.Error("rejected payload should have no effect")
	}
}

func TestBridge_EventPublishesState(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.mqtt.SimulateMessage("jeedom/discovery/eqLogic/11", []byte(prisePayload))

	f.mqtt.SimulateMessage("jeedom/cmd/event/4", []byte(`{"value": 230.5}`))

	msg, ok := f.mqtt.LastPublished("jeedombridge/entity/prise_salon_puissance/state")
	if !ok || !msg.Retained {
		t.Fatalf("state not published: %+v", msg)
	}
	var st device.EntityState
	if err := json.Unmarshal(msg.Payload, &st); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if st.State != 230.5 {
		t.Errorf("state = %v", st.State)
	}

	if len(f.sampler.samples) != 1 {
		t.Fatalf("samples = %+v", f.sampler.samples)
	}
	s := f.sampler.samples[0]
	if s.DeviceID != 11 || s.CommandID != 4 || s.EntitySlug != "prise_salon_puissance" || s.Platform != "sensor" {
		t.Errorf("sample = %+v", s)
	}
}

func TestBridge_EventForUnknownCommand(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	u, err := f.bridge.HandleEvent("jeedom/cmd/event/77", []byte(`1`))
	if err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}
	if u.Known {
		t.Error("Known = true for unknown command")
	}
	if len(f.mqtt.GetPublished()) != 0 || len(f.sampler.samples) != 0 {
		t.Error("unknown command should publish nothing")
	}
}

func TestBridge_CommandMessageDispatches(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.mqtt.SimulateMessage("jeedom/discovery/eqLogic/11", []byte(prisePayload))

	f.mqtt.SimulateMessage("jeedombridge/entity/prise_salon/set", []byte(`{"action": "on"}`))
	f.bridge.Stop() // waits for in-flight dispatches

	reqs := f.dispatcher.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[0].Slug != "prise_salon" || reqs[0].Action != "on" || reqs[0].Source != "mqtt" {
		t.Errorf("request = %+v", reqs[0])
	}

	msg, ok := f.mqtt.LastPublished("jeedombridge/entity/prise_salon/result")
	if !ok || msg.Retained {
		t.Fatalf("result = %+v, %v", msg, ok)
	}
	var res dispatch.Result
	if err := json.Unmarshal(msg.Payload, &res); err != nil {
		t.Fatalf("result payload: %v", err)
	}
	if res.CorrelationID != "c-1" || !res.Success {
		t.Errorf("result = %+v", res)
	}
}

func TestBridge_CommandMessagesDuringStop(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.mqtt.SimulateMessage("jeedom/discovery/eqLogic/11", []byte(prisePayload))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				f.mqtt.SimulateMessage("jeedombridge/entity/prise_salon/set", []byte(`{"action": "toggle"}`))
			}
		}()
	}
	f.bridge.Stop()
	settled := len(f.dispatcher.Requests())
	wg.Wait()

	// Nothing is dispatched once Stop has returned.
	f.mqtt.SimulateMessage("jeedombridge/entity/prise_salon/set", []byte(`{"action": "on"}`))
	if got := len(f.dispatcher.Requests()); got != settled {
		t.Errorf("requests after Stop = %d, want %d", got, settled)
	}
}

func TestBridge_DispatchWithoutDispatcher(t *testing.T) {
	b, err := NewBridge(BridgeOptions{
		Config:   testConfig(),
		Registry: device.NewRegistry(),
		Index:    device.NewEntityIndex(),
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	defer b.Stop()

	if _, err := b.Dispatch(context.Background(), dispatch.Request{Slug: "x"}); !errors.Is(err, dispatch.ErrDispatch) {
		t.Errorf("Dispatch() error = %v", err)
	}
}

func TestBridge_RestoresCache(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	f.store.records[11] = device.DiscoveryRecord{DeviceID: 11, Payload: []byte(prisePayload)}
	f.store.records[12] = device.DiscoveryRecord{DeviceID: 12, Payload: []byte(`{broken`)}

	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if f.registry.Count() != 1 {
		t.Errorf("registry Count() = %d, want 1", f.registry.Count())
	}
	if _, ok := f.index.BySlug("prise_salon"); !ok {
		t.Error("cached entity not restored")
	}
	if _, ok := f.mqtt.LastPublished("jeedombridge/entity/prise_salon/config"); !ok {
		t.Error("restored config not published")
	}
}

func TestBridge_ReloadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	cfg := testConfig()
	cfg.Jeedom.ConfigPath = path

	f := newBridgeFixture(t, cfg)
	if _, err := f.bridge.HandleDiscovery([]byte(prisePayload)); err != nil {
		t.Fatalf("HandleDiscovery() error = %v", err)
	}

	doc := `
devices:
  - match: {eqlogic_id: 11}
    include:
      cmd_ids: [1, 2, 3]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	n, err := f.bridge.ReloadOverrides()
	if err != nil {
		t.Fatalf("ReloadOverrides() error = %v", err)
	}
	if n != 1 {
		t.Errorf("reclassified = %d, want 1", n)
	}
	if _, ok := f.index.BySlug("prise_salon_puissance"); ok {
		t.Error("excluded entity still indexed")
	}
	stats := f.bridge.Stats()
	if stats.OverrideRules != 1 || stats.OverridesPath != path || stats.Entities != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	if err := os.WriteFile(path, []byte("devices: [\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := f.bridge.ReloadOverrides(); !errors.Is(err, overrides.ErrConfig) {
		t.Errorf("ReloadOverrides() error = %v, want ErrConfig", err)
	}
	if f.bridge.Resolver().RuleCount() != 1 {
		t.Error("previous document should stay active")
	}
}

func TestBridge_Stats(t *testing.T) {
	f := newBridgeFixture(t, testConfig())
	if _, err := f.bridge.HandleDiscovery([]byte(prisePayload)); err != nil {
		t.Fatalf("HandleDiscovery() error = %v", err)
	}
	stats := f.bridge.Stats()
	if !stats.Connected || stats.Devices != 1 || stats.Entities != 2 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.ByPlatform["switch"] != 1 || stats.ByPlatform["sensor"] != 1 {
		t.Errorf("ByPlatform = %v", stats.ByPlatform)
	}
}
