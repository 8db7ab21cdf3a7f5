package device

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
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

// DeviceInfo carries the device-level fields of a discovery payload.
type DeviceInfo struct {
	ID               int
	Name             string
	LogicalID        string
	EqType           string
	Enabled          bool
	Categories       map[Category]bool
	PlatformOverride Platform
}

// Registry is the in-memory store of discovered devices and commands.
//
// Mutations are serialised per device id: each device has its own mutex,
// so unrelated devices never wait on each other. r.mu only guards the maps
// and is never held while a device mutex is being acquired.
//
// All public methods are thread-safe. Returned devices and commands are
// copies.
type Registry struct {
	mu       sync.RWMutex
	devices  map[int]*entry
	cmdIndex map[int]int // command id → device id

	logger Logger
	now    func() time.Time
}

type entry struct {
	mu  sync.Mutex
	dev *Device // nil until the first UpsertDevice
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[int]*entry),
		cmdIndex: make(map[int]int),
		logger:   noopLogger{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

func (r *Registry) entryFor(id int, create bool) *entry {
	r.mu.RLock()
	e, ok := r.devices[id]
	r.mu.RUnlock()
	if ok || !create {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.devices[id]; !ok {
		e = &entry{}
		r.devices[id] = e
	}
	return e
}

// Update runs fn with exclusive access to device id, creating its slot if
// needed. Everything fn does through tx is ordered with respect to other
// Update, View and SetValue calls for the same id.
func (r *Registry) Update(id int, fn func(tx *Tx) error) error {
	e := r.entryFor(id, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&Tx{r: r, e: e, id: id})
}

// View runs fn with the live device under its lock. fn must not retain d.
func (r *Registry) View(id int, fn func(d *Device) error) error {
	e := r.entryFor(id, false)
	if e == nil {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dev == nil {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	return fn(e.dev)
}

// UpsertDevice creates or updates a device, preserving its commands.
func (r *Registry) UpsertDevice(info DeviceInfo) *Device {
	var snap *Device
	_ = r.Update(info.ID, func(tx *Tx) error { //nolint:errcheck // fn never fails
		tx.UpsertDevice(info)
		snap = tx.Snapshot()
		return nil
	})
	return snap
}

// UpsertCommand creates or updates a command on an existing device.
// It fails with ErrUnknownDevice if the device was never upserted.
func (r *Registry) UpsertCommand(cmd Command) (*Command, error) {
	e := r.entryFor(cmd.DeviceID, false)
	if e == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, cmd.DeviceID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	tx := &Tx{r: r, e: e, id: cmd.DeviceID}
	c, err := tx.UpsertCommand(cmd)
	if err != nil {
		return nil, err
	}
	cpy := *c
	return &cpy, nil
}

// SetValue records the current value of a command.
//
// Unknown references are expected while discovery catches up: the miss is
// logged at debug level and returned wrapped in ErrUnknownDevice or
// ErrUnknownCommand for the caller to report, never to abort on.
func (r *Registry) SetValue(deviceID, cmdID int, value any) error {
	e := r.entryFor(deviceID, false)
	if e == nil {
		r.logger.Debug("value for unknown device", "eqlogic_id", deviceID, "cmd_id", cmdID)
		return fmt.Errorf("%w: %d", ErrUnknownDevice, deviceID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return (&Tx{r: r, e: e, id: deviceID}).SetValue(cmdID, value)
}

// Lookup returns a copy of the device.
func (r *Registry) Lookup(id int) (*Device, bool) {
	var snap *Device
	err := r.View(id, func(d *Device) error {
		snap = d.DeepCopy()
		return nil
	})
	return snap, err == nil
}

// LookupCommand returns a copy of a command.
func (r *Registry) LookupCommand(deviceID, cmdID int) (*Command, bool) {
	var cmd *Command
	_ = r.View(deviceID, func(d *Device) error { //nolint:errcheck // absence reported via ok
		if c, ok := d.Commands[cmdID]; ok {
			cpy := *c
			cmd = &cpy
		}
		return nil
	})
	return cmd, cmd != nil
}

// DeviceForCommand returns the device owning cmdID.
func (r *Registry) DeviceForCommand(cmdID int) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.cmdIndex[cmdID]
	return id, ok
}

// IDs returns every known device id in ascending order.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	entries := make(map[int]*entry, len(r.devices))
	for id, e := range r.devices {
		entries[id] = e
	}
	r.mu.RUnlock()

	ids := make([]int, 0, len(entries))
	for id, e := range entries {
		e.mu.Lock()
		known := e.dev != nil
		e.mu.Unlock()
		if known {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// List returns copies of all devices ordered by id.
func (r *Registry) List() []*Device {
	ids := r.IDs()
	out := make([]*Device, 0, len(ids))
	for _, id := range ids {
		if d, ok := r.Lookup(id); ok {
			out = append(out, d)
		}
	}
	return out
}

// Count returns the number of known devices.
func (r *Registry) Count() int {
	return len(r.IDs())
}

// Tx is exclusive access to one device, handed out by Registry.Update.
// It is only valid inside the callback.
type Tx struct {
	r  *Registry
	e  *entry
	id int
}

// Device returns the live device, or nil if it was never upserted.
func (tx *Tx) Device() *Device {
	return tx.e.dev
}

// Snapshot returns a copy of the device.
func (tx *Tx) Snapshot() *Device {
	return tx.e.dev.DeepCopy()
}

// UpsertDevice creates the device or refreshes its metadata.
func (tx *Tx) UpsertDevice(info DeviceInfo) *Device {
	now := tx.r.now()
	d := tx.e.dev
	if d == nil {
		d = &Device{
			ID:        tx.id,
			Commands:  make(map[int]*Command),
			CreatedAt: now,
		}
		tx.e.dev = d
		tx.r.logger.Info("device discovered", "eqlogic_id", tx.id, "name", info.Name)
	}
	d.Name = info.Name
	d.LogicalID = info.LogicalID
	d.EqType = info.EqType
	d.Enabled = info.Enabled
	d.Categories = nil
	if len(info.Categories) > 0 {
		d.Categories = make(map[Category]bool, len(info.Categories))
		for k, v := range info.Categories {
			d.Categories[k] = v
		}
	}
	d.PlatformOverride = info.PlatformOverride
	d.UpdatedAt = now
	return d
}

// ClaimCommands assigns every id to the device, or none of them when one
// already belongs to another device. Calling it before any mutation keeps
// a conflicting announcement from leaving the device half updated.
func (tx *Tx) ClaimCommands(ids map[int]bool) error {
	tx.r.mu.Lock()
	defer tx.r.mu.Unlock()

	var conflicts []int
	for id := range ids {
		if owner, ok := tx.r.cmdIndex[id]; ok && owner != tx.id {
			conflicts = append(conflicts, id)
		}
	}
	if len(conflicts) > 0 {
		sort.Ints(conflicts)
		id := conflicts[0]
		return fmt.Errorf("%w: cmd %d belongs to %d, not %d", ErrIdentityConflict, id, tx.r.cmdIndex[id], tx.id)
	}
	for id := range ids {
		tx.r.cmdIndex[id] = tx.id
	}
	return nil
}

// UpsertCommand creates a command or refreshes its metadata, keeping the
// last routed value.
func (tx *Tx) UpsertCommand(cmd Command) (*Command, error) {
	d := tx.e.dev
	if d == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, tx.id)
	}
	cmd.DeviceID = tx.id

	tx.r.mu.Lock()
	owner, indexed := tx.r.cmdIndex[cmd.ID]
	if indexed && owner != tx.id {
		tx.r.mu.Unlock()
		return nil, fmt.Errorf("%w: cmd %d belongs to %d, not %d", ErrIdentityConflict, cmd.ID, owner, tx.id)
	}
	tx.r.cmdIndex[cmd.ID] = tx.id
	tx.r.mu.Unlock()

	if existing, ok := d.Commands[cmd.ID]; ok {
		cmd.Value = existing.Value
		cmd.HasValue = existing.HasValue
		cmd.UpdatedAt = existing.UpdatedAt
	}
	c := cmd
	d.Commands[cmd.ID] = &c
	return &c, nil
}

// PruneCommands drops commands whose ids are not in keep and returns the
// removed ids. Used when a re-announcement no longer lists a command.
func (tx *Tx) PruneCommands(keep map[int]bool) []int {
	d := tx.e.dev
	if d == nil {
		return nil
	}
	var removed []int
	for id := range d.Commands {
		if !keep[id] {
			removed = append(removed, id)
			delete(d.Commands, id)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	tx.r.mu.Lock()
	for _, id := range removed {
		if tx.r.cmdIndex[id] == tx.id {
			delete(tx.r.cmdIndex, id)
		}
	}
	tx.r.mu.Unlock()

	sort.Ints(removed)
	return removed
}

// SetValue records a command value. See Registry.SetValue.
func (tx *Tx) SetValue(cmdID int, value any) error {
	d := tx.e.dev
	if d == nil {
		tx.r.logger.Debug("value for unknown device", "eqlogic_id", tx.id, "cmd_id", cmdID)
		return fmt.Errorf("%w: %d", ErrUnknownDevice, tx.id)
	}
	c, ok := d.Commands[cmdID]
	if !ok {
		tx.r.logger.Debug("value for unknown command", "eqlogic_id", tx.id, "cmd_id", cmdID)
		return fmt.Errorf("%w: %d on device %d", ErrUnknownCommand, cmdID, tx.id)
	}
	now := tx.r.now()
	c.Value = value
	c.HasValue = true
	c.UpdatedAt = &now
	return nil
}
