package jeedom

import (
	"fmt"
	"sync/atomic"

	"github.com/nerrad567/jeedom-bridge/internal/classify"
	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/config"
	"github.com/nerrad567/jeedom-bridge/internal/overrides"
)

// Logger defines the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Outcome is what one ingestion or reclassification changed.
type Outcome struct {
	DeviceID int

	// Descriptors are the entities now emitted for the device, with the
	// slugs the index settled on.
	Descriptors []*device.EntityDescriptor

	// Removed are slugs the device emitted before and no longer does.
	Removed []string

	// Moved are entities of other devices renamed by this one joining or
	// leaving a shared slug.
	Moved []device.SlugMove

	// Pruned are command ids the re-announcement no longer lists.
	Pruned []int

	Skipped []classify.Skip
}

// IngestorOptions holds configuration for creating an Ingestor.
type IngestorOptions struct {
	// Registry and Index are required.
	Registry *device.Registry
	Index    *device.EntityIndex

	// Classifier defaults to classify.New().
	Classifier *classify.Classifier

	// Resolver defaults to overrides.Empty().
	Resolver *overrides.Resolver

	// Domains is the platform allow-list. Empty allows every platform.
	Domains []string

	// ImportMode "mqtt_entities" registers devices without emitting entities.
	ImportMode string

	Logger Logger
}

// Ingestor turns discovery payloads into registry updates and entity
// descriptors.
//
// Registry mutation, classification and index replacement for one device
// happen under that device's lock, so a re-announcement and a concurrent
// event on the same device are applied in arrival order. Unrelated devices
// proceed in parallel.
type Ingestor struct {
	registry   *device.Registry
	index      *device.EntityIndex
	classifier *classify.Classifier
	resolver   atomic.Pointer[overrides.Resolver]
	domains    map[device.Platform]bool
	native     bool
	logger     Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(opts IngestorOptions) (*Ingestor, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Index == nil {
		return nil, fmt.Errorf("entity index is required")
	}

	in := &Ingestor{
		registry:   opts.Registry,
		index:      opts.Index,
		classifier: opts.Classifier,
		native:     opts.ImportMode != config.ImportModeMQTTEntities,
		logger:     opts.Logger,
	}
	if in.classifier == nil {
		in.classifier = classify.New()
	}
	if in.logger == nil {
		in.logger = noopLogger{}
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = overrides.Empty()
	}
	in.resolver.Store(resolver)

	if len(opts.Domains) > 0 {
		in.domains = make(map[device.Platform]bool, len(opts.Domains))
		for _, name := range opts.Domains {
			p, ok := device.ParsePlatform(name)
			if !ok {
				return nil, fmt.Errorf("unknown domain %q", name)
			}
			in.domains[p] = true
		}
	}
	return in, nil
}

// SetLogger sets the logger.
func (in *Ingestor) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	in.logger = logger
}

// Resolver returns the active override resolver.
func (in *Ingestor) Resolver() *overrides.Resolver {
	return in.resolver.Load()
}

// SetResolver swaps the override resolver. Call ReclassifyAll afterwards to
// apply it to known devices.
func (in *Ingestor) SetResolver(r *overrides.Resolver) {
	if r == nil {
		r = overrides.Empty()
	}
	in.resolver.Store(r)
}

// NativeMode reports whether entities are emitted.
func (in *Ingestor) NativeMode() bool {
	return in.native
}

// Ingest parses a discovery payload, updates the registry and returns the
// device's entity descriptors.
//
// Re-ingesting the same payload returns the same descriptors; command
// values already routed are kept.
//
// Returns:
//   - []*device.EntityDescriptor: Entities for the device, empty in mqtt_entities mode
//   - error: ErrParse/ErrMissingIdentity, or device.ErrIdentityConflict
func (in *Ingestor) Ingest(payload []byte) ([]*device.EntityDescriptor, error) {
	d, err := ParseDiscovery(payload)
	if err != nil {
		return nil, err
	}
	out, err := in.Apply(d)
	if err != nil {
		return nil, err
	}
	return out.Descriptors, nil
}

// Apply registers a parsed discovery and reclassifies the device.
func (in *Ingestor) Apply(d *Discovery) (Outcome, error) {
	if d.Dropped > 0 {
		in.logger.Warn("discovery payload has commands without id",
			"eqlogic_id", d.Device.ID,
			"dropped", d.Dropped,
		)
	}

	var out Outcome
	err := in.registry.Update(d.Device.ID, func(tx *device.Tx) error {
		if err := tx.ClaimCommands(d.CommandIDs()); err != nil {
			return err
		}
		tx.UpsertDevice(d.Device)
		for _, cmd := range d.Commands {
			if _, err := tx.UpsertCommand(cmd); err != nil {
				return err
			}
		}
		pruned := tx.PruneCommands(d.CommandIDs())
		out = in.classifyLocked(tx.Snapshot())
		out.Pruned = pruned
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}

// Reclassify recomputes the descriptors of one known device.
func (in *Ingestor) Reclassify(id int) (Outcome, error) {
	var out Outcome
	err := in.registry.Update(id, func(tx *device.Tx) error {
		if tx.Device() == nil {
			return fmt.Errorf("%w: %d", device.ErrUnknownDevice, id)
		}
		out = in.classifyLocked(tx.Snapshot())
		return nil
	})
	return out, err
}

// ReclassifyAll recomputes every known device, in id order.
func (in *Ingestor) ReclassifyAll() []Outcome {
	ids := in.registry.IDs()
	outs := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		out, err := in.Reclassify(id)
		if err != nil {
			in.logger.Warn("reclassify failed", "eqlogic_id", id, "error", err)
			continue
		}
		outs = append(outs, out)
	}
	return outs
}

// classifyLocked runs under the device lock held by Registry.Update.
func (in *Ingestor) classifyLocked(d *device.Device) Outcome {
	out := Outcome{DeviceID: d.ID}

	var descs []*device.EntityDescriptor
	if in.native {
		resolver := in.resolver.Load()
		if forced := in.forcedPlatform(d, resolver); forced != "" && !in.allowed(forced) {
			in.logger.Warn("forced platform not in allowed domains, skipping device",
				"eqlogic_id", d.ID,
				"device", d.Name,
				"platform", forced,
				"error", ErrDomainNotAllowed,
			)
		} else {
			report := in.classifier.Classify(d, resolver)
			out.Skipped = report.Skipped
			for _, desc := range report.Descriptors {
				if !in.allowed(desc.Platform) {
					in.logger.Debug("dropping entity outside allowed domains",
						"eqlogic_id", d.ID,
						"slug", desc.Slug,
						"platform", desc.Platform,
					)
					continue
				}
				descs = append(descs, desc)
			}
		}
	}

	res := in.index.ReplaceDevice(d.ID, descs)
	out.Descriptors, out.Removed, out.Moved = res.Stored, res.Removed, res.Moved
	for _, mv := range res.Moved {
		in.logger.Warn("entity slug moved by a same-named device",
			"eqlogic_id", mv.DeviceID,
			"from", mv.From,
			"to", mv.To,
			"by", d.ID,
		)
	}
	return out
}

func (in *Ingestor) forcedPlatform(d *device.Device, r *overrides.Resolver) device.Platform {
	forced := d.PlatformOverride
	if forced == "" {
		forced = r.MatchFor(d.ID, d.Name).ForcedPlatform()
	}
	if !forced.IsComposite() {
		return ""
	}
	return forced
}

func (in *Ingestor) allowed(p device.Platform) bool {
	return in.domains == nil || in.domains[p]
}
