package jeedom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/jeedom-bridge/internal/classify"
	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/dispatch"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/config"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/jeedom-bridge/internal/metrics"
	"github.com/nerrad567/jeedom-bridge/internal/overrides"
)

// Bridge operation constants.
const (
	// restoreTimeout bounds loading the discovery cache at start-up.
	restoreTimeout = 30 * time.Second

	// storeTimeout bounds persisting one discovery payload.
	storeTimeout = 5 * time.Second

	// dispatchGrace is added to twice the request timeout so a dispatch
	// with a fallback attempt can finish.
	dispatchGrace = 2 * time.Second
)

// Bridge glues the Jeedom bus to the engine.
// It handles:
//   - Discovery payloads: registry update, classification, entity config output
//   - Event payloads: value routing and entity state output
//   - Entity commands from MQTT or the API: dispatch and result output
//   - Discovery cache restore at start-up and override reload
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg        *config.Config
	mqtt       MQTTClient
	topics     mqtt.Topics
	qos        byte
	registry   *device.Registry
	index      *device.EntityIndex
	ingestor   *Ingestor
	router     *Router
	dispatcher Dispatcher
	store      device.DiscoveryStore
	sampler    ValueSampler
	metrics    *metrics.Metrics

	// reloadMu serialises override reloads.
	reloadMu sync.Mutex

	// Shutdown coordination. stopMu orders wg.Add against Stop's wg.Wait.
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopMu    sync.Mutex
	stopping  bool
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// Dispatcher executes entity actions. Satisfied by *dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error)
}

// ValueSampler receives routed command values for the time series store.
// Satisfied by *influxdb.Client.
type ValueSampler interface {
	WriteCommandValue(s influxdb.CommandSample)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded application configuration.
	Config *config.Config

	// MQTTClient is optional: without it the bridge is driven through the
	// HTTP API only and publishes nothing.
	MQTTClient MQTTClient

	// Registry and Index are the shared engine state.
	Registry *device.Registry
	Index    *device.EntityIndex

	// Resolver is the loaded override document; nil includes everything.
	Resolver *overrides.Resolver

	// Classifier defaults to classify.New().
	Classifier *classify.Classifier

	// Dispatcher is optional; without it entity commands are rejected.
	Dispatcher Dispatcher

	// Store is optional discovery cache persistence.
	Store device.DiscoveryStore

	// Sampler is optional time series output for routed values.
	Sampler ValueSampler

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("entity index is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ingestor, err := NewIngestor(IngestorOptions{
		Registry:   opts.Registry,
		Index:      opts.Index,
		Classifier: opts.Classifier,
		Resolver:   opts.Resolver,
		Domains:    opts.Config.Jeedom.Domains,
		ImportMode: opts.Config.Jeedom.ImportMode,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ingestor: %w", err)
	}
	router := NewRouter(opts.Registry, opts.Index)
	router.SetLogger(logger)

	// Create bridge-level context for dispatch cancellation on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		cfg:        opts.Config,
		mqtt:       opts.MQTTClient,
		topics:     mqtt.NewTopics(opts.Config.MQTT.TopicPrefix),
		qos:        byte(opts.Config.MQTT.QoS),
		registry:   opts.Registry,
		index:      opts.Index,
		ingestor:   ingestor,
		router:     router,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		sampler:    opts.Sampler,
		metrics:    opts.Metrics,
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     logger,
	}, nil
}

// Start restores cached discoveries, then subscribes to the bus.
//
// Restoring first makes cached entities resolvable before Jeedom
// re-announces anything.
func (b *Bridge) Start(ctx context.Context) error {
	restored := b.restore(ctx)

	if b.mqtt != nil {
		if b.cfg.Jeedom.Protocol != config.ProtocolAPI {
			if err := b.mqtt.Subscribe(b.cfg.Jeedom.DiscoveryTopic, b.qos, b.handleDiscoveryMessage); err != nil {
				return fmt.Errorf("subscribe to discovery: %w", err)
			}
			b.logInfo("subscribed to discovery", "topic", b.cfg.Jeedom.DiscoveryTopic)

			if err := b.mqtt.Subscribe(b.cfg.Jeedom.EventTopic, b.qos, b.handleEventMessage); err != nil {
				return fmt.Errorf("subscribe to events: %w", err)
			}
			b.logInfo("subscribed to events", "topic", b.cfg.Jeedom.EventTopic)
		}

		commandTopic := b.topics.AllEntityCommands()
		if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleCommandMessage); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		b.logInfo("subscribed to commands", "topic", commandTopic)
	}

	b.logInfo("bridge started",
		"protocol", b.cfg.Jeedom.Protocol,
		"import_mode", b.cfg.Jeedom.ImportMode,
		"restored", restored,
		"devices", b.registry.Count(),
		"entities", b.index.Count())
	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopping = true
		close(b.done)
		b.stopMu.Unlock()

		// Cancel bridge context to abort in-flight dispatches
		b.ctxCancel()

		// Wait for pending operations
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// restore re-ingests the discovery cache. Bad records are skipped.
func (b *Bridge) restore(ctx context.Context) int {
	if b.store == nil {
		return 0
	}
	loadCtx, cancel := context.WithTimeout(ctx, restoreTimeout)
	defer cancel()

	records, err := b.store.LoadAll(loadCtx)
	if err != nil {
		b.logError("failed to load discovery cache", err)
		return 0
	}

	restored := 0
	for _, rec := range records {
		d, err := ParseDiscovery(rec.Payload)
		if err != nil {
			b.logWarn("skipping unreadable cached discovery", "eqlogic_id", rec.DeviceID, "error", err)
			continue
		}
		out, err := b.ingestor.Apply(d)
		if err != nil {
			b.logWarn("skipping cached discovery", "eqlogic_id", rec.DeviceID, "error", err)
			continue
		}
		b.publishOutcome(out)
		restored++
	}
	if restored > 0 {
		b.logInfo("restored discovery cache", "devices", restored)
	}
	b.updateGauges()
	return restored
}

// HandleDiscovery ingests one discovery payload, persists it and publishes
// the resulting entity configs.
func (b *Bridge) HandleDiscovery(payload []byte) (Outcome, error) {
	d, err := ParseDiscovery(payload)
	if err != nil {
		b.metrics.ObserveDiscovery(metrics.ResultRejected)
		return Outcome{}, err
	}
	out, err := b.ingestor.Apply(d)
	if err != nil {
		b.metrics.ObserveDiscovery(metrics.ResultRejected)
		return Outcome{}, err
	}
	b.metrics.ObserveDiscovery(metrics.ResultAccepted)

	b.persist(d, payload)
	b.publishOutcome(out)
	b.updateGauges()

	b.logDebug("discovery ingested",
		"eqlogic_id", out.DeviceID,
		"entities", len(out.Descriptors),
		"removed", len(out.Removed),
		"skipped", len(out.Skipped))
	return out, nil
}

func (b *Bridge) persist(d *Discovery, payload []byte) {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(b.ctx, storeTimeout)
	defer cancel()
	err := b.store.Save(ctx, device.DiscoveryRecord{
		DeviceID:   d.Device.ID,
		Name:       d.Device.Name,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		b.logError("failed to cache discovery", err)
	}
}

// HandleEvent routes one event payload and publishes the new entity states.
func (b *Bridge) HandleEvent(topic string, payload []byte) (Update, error) {
	u, err := b.router.Route(topic, payload)
	if err != nil {
		b.metrics.ObserveEvent(metrics.ResultRejected)
		return u, err
	}
	switch {
	case !u.Present:
		b.metrics.ObserveEvent(metrics.ResultIgnored)
		return u, nil
	case !u.Known:
		b.metrics.ObserveEvent(metrics.ResultUnknown)
		return u, nil
	}
	b.metrics.ObserveEvent(metrics.ResultRouted)

	for _, su := range u.States {
		b.publishState(su.Slug, device.EntityState{State: su.State, Attributes: su.Attributes, UpdatedAt: su.UpdatedAt})
	}
	b.sample(u)
	return u, nil
}

func (b *Bridge) sample(u Update) {
	if b.sampler == nil {
		return
	}
	s := influxdb.CommandSample{
		DeviceID:  u.DeviceID,
		CommandID: u.CommandID,
		Value:     u.Value,
		At:        time.Now().UTC(),
	}
	if descs := b.index.ForCommand(u.CommandID); len(descs) > 0 {
		s.EntitySlug = descs[0].Slug
		s.Platform = string(descs[0].Platform)
	}
	b.sampler.WriteCommandValue(s)
}

// Dispatch executes an entity command and publishes its result.
func (b *Bridge) Dispatch(ctx context.Context, req dispatch.Request) (*dispatch.Result, error) {
	if b.dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher not configured", dispatch.ErrDispatch)
	}
	res, err := b.dispatcher.Dispatch(ctx, req)
	if res != nil && !errors.Is(err, dispatch.ErrUnresolvedEntity) {
		b.publishJSON(b.topics.EntityResult(req.Slug), res, false)
	}
	return res, err
}

// ReloadOverrides reloads the override document and reclassifies every
// known device. A malformed document is rejected and the active one kept.
//
// Returns:
//   - int: Number of devices reclassified
//   - error: overrides.ErrConfig when the document is invalid
func (b *Bridge) ReloadOverrides() (int, error) {
	b.reloadMu.Lock()
	defer b.reloadMu.Unlock()

	resolver, err := overrides.Load(b.cfg.Jeedom.ConfigPath)
	if err != nil {
		b.logError("override reload rejected, keeping previous document", err)
		return 0, err
	}
	b.ingestor.SetResolver(resolver)

	outs := b.ingestor.ReclassifyAll()
	for _, out := range outs {
		b.publishOutcome(out)
	}
	b.updateGauges()

	b.logInfo("overrides reloaded",
		"path", resolver.Source(),
		"rules", resolver.RuleCount(),
		"devices", len(outs),
		"entities", b.index.Count())
	return len(outs), nil
}

// Resolver returns the active override resolver.
func (b *Bridge) Resolver() *overrides.Resolver {
	return b.ingestor.Resolver()
}

// handleDiscoveryMessage handles jeedom/discovery/eqLogic/#.
func (b *Bridge) handleDiscoveryMessage(topic string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	if _, err := b.HandleDiscovery(payload); err != nil {
		b.logWarn("discovery payload rejected", "topic", topic, "error", err)
	}
}

// handleEventMessage handles jeedom/cmd/event/#.
func (b *Bridge) handleEventMessage(topic string, payload []byte) {
	if _, err := b.HandleEvent(topic, payload); err != nil {
		b.logWarn("event payload rejected", "topic", topic, "error", err)
	}
}

// handleCommandMessage handles {prefix}/entity/{slug}/set. Dispatch blocks
// on Jeedom, so it runs off the MQTT callback goroutine.
func (b *Bridge) handleCommandMessage(topic string, payload []byte) {
	slug, leaf, ok := b.topics.ParseEntityTopic(topic)
	if !ok || leaf != mqtt.LeafCommand {
		b.logWarn("ignoring command on unexpected topic", "topic", topic)
		return
	}
	req, err := ParseCommandRequest(payload)
	if err != nil {
		b.logWarn("command payload rejected", "topic", topic, "error", err)
		return
	}

	if !b.track() {
		return
	}
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, b.dispatchTimeout())
		defer cancel()

		source := req.Source
		if source == "" {
			source = "mqtt"
		}
		_, err := b.Dispatch(ctx, dispatch.Request{
			Slug:   slug,
			Action: req.Action,
			Value:  req.Value,
			Source: source,
		})
		if err != nil {
			b.logWarn("entity command failed", "slug", slug, "error", err)
		}
	}()
}

// track registers a background operation, or reports false once Stop has
// begun.
func (b *Bridge) track() bool {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	if b.stopping {
		return false
	}
	b.wg.Add(1)
	return true
}

func (b *Bridge) dispatchTimeout() time.Duration {
	timeout := b.cfg.Jeedom.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return 2*timeout + dispatchGrace
}

// entityConfig is the retained descriptor payload.
type entityConfig struct {
	*device.EntityDescriptor
	StateTopic   string `json:"state_topic"`
	CommandTopic string `json:"command_topic,omitempty"`
}

// publishOutcome publishes entity configs, clears vanished entities and
// republishes states computed from stored values.
func (b *Bridge) publishOutcome(out Outcome) {
	for _, slug := range out.Removed {
		b.clearEntity(slug)
	}
	for _, mv := range out.Moved {
		b.clearEntity(mv.From)
	}
	for _, mv := range out.Moved {
		desc, ok := b.index.BySlug(mv.To)
		if !ok {
			continue
		}
		b.publishConfig(desc)
		if st, ok := b.index.State(mv.To); ok {
			b.publishState(mv.To, st)
		}
	}
	for _, desc := range out.Descriptors {
		b.publishConfig(desc)
	}
	if len(out.Descriptors) == 0 {
		return
	}

	states, err := b.router.Refresh(out.DeviceID)
	if err != nil {
		b.logDebug("state refresh skipped", "eqlogic_id", out.DeviceID, "error", err)
		return
	}
	for _, su := range states {
		b.publishState(su.Slug, device.EntityState{State: su.State, Attributes: su.Attributes, UpdatedAt: su.UpdatedAt})
	}
}

// clearEntity removes the retained config and state of a slug.
func (b *Bridge) clearEntity(slug string) {
	b.publish(b.topics.EntityConfig(slug), nil, true)
	b.publish(b.topics.EntityState(slug), nil, true)
}

func (b *Bridge) publishConfig(desc *device.EntityDescriptor) {
	cfg := entityConfig{
		EntityDescriptor: desc,
		StateTopic:       b.topics.EntityState(desc.Slug),
	}
	if len(desc.Actions) > 0 || len(desc.OptionActions) > 0 {
		cfg.CommandTopic = b.topics.EntityCommand(desc.Slug)
	}
	b.publishJSON(b.topics.EntityConfig(desc.Slug), cfg, true)
}

func (b *Bridge) publishState(slug string, st device.EntityState) {
	b.publishJSON(b.topics.EntityState(slug), st, true)
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logError("failed to encode payload", fmt.Errorf("%s: %w", topic, err))
		return
	}
	b.publish(topic, data, retained)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if b.mqtt == nil {
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.logDebug("publish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) updateGauges() {
	if b.metrics == nil {
		return
	}
	b.metrics.SetDevices(b.registry.Count())
	counts := make(map[string]int)
	for p, n := range b.index.CountByPlatform() {
		counts[string(p)] = n
	}
	b.metrics.SetEntities(counts)
}

// BridgeStats summarises the bridge for the health endpoint.
type BridgeStats struct {
	Connected     bool           `json:"mqtt_connected"`
	Protocol      string         `json:"protocol"`
	ImportMode    string         `json:"import_mode"`
	Devices       int            `json:"devices"`
	Entities      int            `json:"entities"`
	ByPlatform    map[string]int `json:"entities_by_platform,omitempty"`
	OverridesPath string         `json:"overrides_path,omitempty"`
	OverrideRules int            `json:"override_rules"`
}

// Stats returns current bridge statistics.
func (b *Bridge) Stats() BridgeStats {
	byPlatform := make(map[string]int)
	for p, n := range b.index.CountByPlatform() {
		byPlatform[string(p)] = n
	}
	resolver := b.ingestor.Resolver()
	return BridgeStats{
		Connected:     b.mqtt != nil && b.mqtt.IsConnected(),
		Protocol:      b.cfg.Jeedom.Protocol,
		ImportMode:    b.cfg.Jeedom.ImportMode,
		Devices:       b.registry.Count(),
		Entities:      b.index.Count(),
		ByPlatform:    byPlatform,
		OverridesPath: resolver.Source(),
		OverrideRules: resolver.RuleCount(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.ingestor.SetLogger(logger)
	b.router.SetLogger(logger)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.getLogger().Info(msg, keysAndValues...)
}

// logWarn logs a warning.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.getLogger().Warn(msg, keysAndValues...)
}

// logError logs an error message.
func (b *Bridge) logError(msg string, err error) {
	b.getLogger().Error(msg, "error", err)
}

// logDebug logs a debug message.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.getLogger().Debug(msg, keysAndValues...)
}
