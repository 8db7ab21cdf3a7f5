package device

import (
	"sort"
	"time"
)

// Platform is the kind of entity a Jeedom equipment or command becomes.
type Platform string

// Platform constants.
const (
	PlatformSensor       Platform = "sensor"
	PlatformBinarySensor Platform = "binary_sensor"
	PlatformSwitch       Platform = "switch"
	PlatformLight        Platform = "light"
	PlatformCover        Platform = "cover"
	PlatformNumber       Platform = "number"
	PlatformSelect       Platform = "select"
	PlatformClimate      Platform = "climate"
	PlatformWaterHeater  Platform = "water_heater"
	PlatformAlarm        Platform = "alarm_control_panel"
)

// AllPlatforms returns every supported platform.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformSensor, PlatformBinarySensor, PlatformSwitch, PlatformLight,
		PlatformCover, PlatformNumber, PlatformSelect, PlatformClimate,
		PlatformWaterHeater, PlatformAlarm,
	}
}

// ParsePlatform validates a platform name.
func ParsePlatform(s string) (Platform, bool) {
	for _, p := range AllPlatforms() {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// IsComposite reports whether the platform binds several commands into
// one entity. Sensors and binary sensors are per-command.
func (p Platform) IsComposite() bool {
	return p != PlatformSensor && p != PlatformBinarySensor && p != ""
}

// Direction distinguishes readable state from writable actions.
type Direction string

// Direction constants (Jeedom cmd "type").
const (
	DirectionInfo   Direction = "info"
	DirectionAction Direction = "action"
)

// ValueType is the Jeedom cmd "subType".
type ValueType string

// ValueType constants.
const (
	ValueBinary  ValueType = "binary"
	ValueNumeric ValueType = "numeric"
	ValueString  ValueType = "string"
	ValueSlider  ValueType = "slider"
	ValueOther   ValueType = "other"
	ValueSelect  ValueType = "select"
	ValueMessage ValueType = "message"
	ValueColor   ValueType = "color"
)

// Category is a Jeedom equipment category flag.
type Category string

// Category constants.
const (
	CategoryLight      Category = "light"
	CategoryOpening    Category = "opening"
	CategoryAutomatism Category = "automatism"
	CategoryHeating    Category = "heating"
	CategorySecurity   Category = "security"
)

// Command is one Jeedom cmd: an observable or controllable point on a Device.
type Command struct {
	ID          int       `json:"id"`
	DeviceID    int       `json:"eqlogic_id"`
	Name        string    `json:"name"`
	LogicalID   string    `json:"logical_id,omitempty"`
	GenericType string    `json:"generic_type,omitempty"`
	Direction   Direction `json:"direction"`
	ValueType   ValueType `json:"value_type"`
	Unit        string    `json:"unit,omitempty"`
	Order       int       `json:"order"`

	// Property and ActionValue come from the cmd configuration
	// (Z-Wave property name, e.g. "targetValue", and the fixed value an
	// action sends, e.g. "true").
	Property    string   `json:"property,omitempty"`
	ActionValue string   `json:"action_value,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	ZWaveClass  string   `json:"zwave_class,omitempty"`

	// Value is the last routed raw value.
	Value     any        `json:"value,omitempty"`
	HasValue  bool       `json:"has_value"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// IsInfo reports whether the command carries readable state.
func (c *Command) IsInfo() bool { return c.Direction == DirectionInfo }

// IsAction reports whether the command is writable.
func (c *Command) IsAction() bool { return c.Direction == DirectionAction }

// Device is one Jeedom eqLogic.
type Device struct {
	ID         int               `json:"id"`
	Name       string            `json:"name"`
	LogicalID  string            `json:"logical_id,omitempty"`
	EqType     string            `json:"eq_type,omitempty"`
	Enabled    bool              `json:"enabled"`
	Categories map[Category]bool `json:"categories,omitempty"`
	Commands   map[int]*Command  `json:"commands"`

	// PlatformOverride forces a single composite entity.
	PlatformOverride Platform `json:"platform_override,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasCategory reports whether the equipment carries a category flag.
func (d *Device) HasCategory(c Category) bool {
	return d.Categories[c]
}

// SortedCommands returns the commands ordered by Jeedom order, then id.
func (d *Device) SortedCommands() []*Command {
	cmds := make([]*Command, 0, len(d.Commands))
	for _, c := range d.Commands {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool {
		if cmds[i].Order != cmds[j].Order {
			return cmds[i].Order < cmds[j].Order
		}
		return cmds[i].ID < cmds[j].ID
	})
	return cmds
}

// DeepCopy returns an independent copy of the Device and its commands.
// Classification works on copies so it never races with the registry.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cpy := *d
	if d.Categories != nil {
		cpy.Categories = make(map[Category]bool, len(d.Categories))
		for k, v := range d.Categories {
			cpy.Categories[k] = v
		}
	}
	cpy.Commands = make(map[int]*Command, len(d.Commands))
	for id, c := range d.Commands {
		cc := *c
		cc.Min = copyFloat(c.Min)
		cc.Max = copyFloat(c.Max)
		cpy.Commands[id] = &cc
	}
	return &cpy
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
