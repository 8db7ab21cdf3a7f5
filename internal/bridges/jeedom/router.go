package jeedom

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/jeedom-bridge/internal/classify"
	"github.com/nerrad567/jeedom-bridge/internal/device"
)

// StateUpdate is the translated state of one entity after an event.
type StateUpdate struct {
	Slug       string         `json:"slug"`
	State      any            `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Update is the result of routing one event.
type Update struct {
	DeviceID  int `json:"eqlogic_id"`
	CommandID int `json:"cmd_id"`
	Value     any `json:"value"`

	// Present is false for events carrying no value; nothing was stored.
	Present bool `json:"-"`

	// Known is false when the command was never discovered.
	Known bool `json:"known"`

	// States holds the new state of every entity bound to the command.
	States []StateUpdate `json:"states,omitempty"`
}

// Router applies value events to the registry and translates them into
// entity states.
type Router struct {
	registry *device.Registry
	index    *device.EntityIndex
	logger   Logger
	now      func() time.Time
}

// NewRouter creates a Router.
func NewRouter(registry *device.Registry, index *device.EntityIndex) *Router {
	return &Router{
		registry: registry,
		index:    index,
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger.
func (r *Router) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Route parses a jeedom/cmd/event/{cmdID} message and applies it.
//
// Events for commands never discovered are reported with Known=false and
// a warning; they are not errors.
//
// Returns:
//   - Update: Device/command/value triple plus translated entity states
//   - error: ErrParse when the payload is malformed
func (r *Router) Route(topic string, payload []byte) (Update, error) {
	ev, err := ParseEvent(topic, payload)
	if err != nil {
		return Update{}, err
	}
	return r.Apply(ev), nil
}

// Apply stores an already parsed event.
func (r *Router) Apply(ev Event) Update {
	u := Update{CommandID: ev.CmdID, Value: ev.Value, Present: ev.Present}
	if !ev.Present {
		r.logger.Debug("ignoring event without value", "cmd_id", ev.CmdID)
		return u
	}

	devID, ok := r.registry.DeviceForCommand(ev.CmdID)
	if !ok {
		r.logger.Warn("event for unknown command", "cmd_id", ev.CmdID)
		return u
	}
	u.DeviceID = devID

	err := r.registry.Update(devID, func(tx *device.Tx) error {
		if err := tx.SetValue(ev.CmdID, ev.Value); err != nil {
			return err
		}
		u.Known = true
		u.States = r.translateLocked(tx.Device(), ev.CmdID)
		return nil
	})
	if err != nil {
		if errors.Is(err, device.ErrUnknownDevice) || errors.Is(err, device.ErrUnknownCommand) {
			r.logger.Warn("event for unknown command", "cmd_id", ev.CmdID, "eqlogic_id", devID)
		} else {
			r.logger.Error("event not applied", "cmd_id", ev.CmdID, "error", err)
		}
	}
	return u
}

// translateLocked recomputes the state of every entity bound to cmdID.
// It runs under the device lock so the index sees values in arrival order.
func (r *Router) translateLocked(d *device.Device, cmdID int) []StateUpdate {
	return r.storeStates(d, r.index.ForCommand(cmdID))
}

func (r *Router) storeStates(d *device.Device, descs []*device.EntityDescriptor) []StateUpdate {
	if len(descs) == 0 {
		return nil
	}

	values := make(map[int]any, len(d.Commands))
	for id, c := range d.Commands {
		if c.HasValue {
			values[id] = c.Value
		}
	}

	now := r.now()
	updates := make([]StateUpdate, 0, len(descs))
	for _, desc := range descs {
		state, attrs := classify.StateFor(desc, values)
		if state == nil && len(attrs) == 0 {
			continue
		}
		st := device.EntityState{State: state, Attributes: attrs, UpdatedAt: now}
		if err := r.index.SetState(desc.Slug, st); err != nil {
			r.logger.Debug("entity vanished during routing", "slug", desc.Slug, "error", err)
			continue
		}
		updates = append(updates, StateUpdate{
			Slug:       desc.Slug,
			State:      state,
			Attributes: attrs,
			UpdatedAt:  now,
		})
	}
	return updates
}

// Refresh recomputes the states of a device's entities from the values
// already stored, e.g. after a reclassification.
func (r *Router) Refresh(deviceID int) ([]StateUpdate, error) {
	var updates []StateUpdate
	err := r.registry.Update(deviceID, func(tx *device.Tx) error {
		d := tx.Device()
		if d == nil {
			return fmt.Errorf("%w: %d", device.ErrUnknownDevice, deviceID)
		}
		updates = r.storeStates(d, r.index.ForDevice(deviceID))
		return nil
	})
	return updates, err
}
