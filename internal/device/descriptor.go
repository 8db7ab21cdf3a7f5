package device

import "sort"

// Role names a command's function inside an entity. Per-command entities
// only use RoleState.
type Role string

// State roles (bound to info commands).
const (
	RoleState              Role = "state"
	RolePosition           Role = "position"
	RoleBrightness         Role = "brightness"
	RoleCurrentTemperature Role = "current_temperature"
	RoleTargetTemperature  Role = "target_temperature"
	RoleMode               Role = "mode"
)

// Action roles (bound to action commands).
const (
	ActionOn             Role = "on"
	ActionOff            Role = "off"
	ActionOpen           Role = "open"
	ActionClose          Role = "close"
	ActionStop           Role = "stop"
	ActionSetPosition    Role = "set_position"
	ActionSet            Role = "set"
	ActionBrightness     Role = "brightness"
	ActionSetTemperature Role = "set_temperature"
	ActionArmHome        Role = "arm_home"
	ActionArmAway        Role = "arm_away"
	ActionArmNight       Role = "arm_night"
	ActionDisarm         Role = "disarm"
	ActionSelectOption   Role = "select_option"
	ActionPreset         Role = "preset"
)

// ActionBinding ties an action role to a Jeedom action command.
type ActionBinding struct {
	CmdID int `json:"cmd_id"`

	// Value is sent as-is when set (e.g. a pilot-wire level).
	Value string `json:"value,omitempty"`

	// Slider marks commands that take the caller's value in options.slider.
	Slider bool `json:"slider,omitempty"`

	// Min and Max bound the Jeedom-side value range of slider commands.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// Property is the Z-Wave property of the command, used for 0-99 scaling.
	Property string `json:"property,omitempty"`
}

// EntityDescriptor is the externally visible result of classification.
// It is derived and never persisted; classification recomputes it.
type EntityDescriptor struct {
	Platform   Platform `json:"platform"`
	UniqueID   string   `json:"unique_id"`
	Slug       string   `json:"slug"`
	Name       string   `json:"name"`
	DeviceID   int      `json:"eqlogic_id"`
	DeviceName string   `json:"device_name"`
	DeviceSlug string   `json:"device_slug"`

	States  map[Role]int           `json:"states,omitempty"`
	Actions map[Role]ActionBinding `json:"actions,omitempty"`

	Inverted bool              `json:"inverted,omitempty"`
	StateMap map[string]string `json:"state_map,omitempty"`

	DeviceClass string `json:"device_class,omitempty"`
	StateClass  string `json:"state_class,omitempty"`
	Unit        string `json:"unit_of_measurement,omitempty"`
	Icon        string `json:"icon,omitempty"`
	PayloadOn   string `json:"payload_on,omitempty"`
	PayloadOff  string `json:"payload_off,omitempty"`

	// Options are select choices or climate presets, in display order.
	// OptionActions binds each one to the action command that selects it.
	Options       []string                 `json:"options,omitempty"`
	OptionActions map[string]ActionBinding `json:"option_actions,omitempty"`

	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Step  *float64 `json:"step,omitempty"`
	Modes []string `json:"modes,omitempty"`
}

// StateCmd returns the command bound to role, if any.
func (e *EntityDescriptor) StateCmd(role Role) (int, bool) {
	id, ok := e.States[role]
	return id, ok
}

// Action returns the action binding for role, if any.
func (e *EntityDescriptor) Action(role Role) (ActionBinding, bool) {
	b, ok := e.Actions[role]
	return b, ok
}

// CommandIDs returns every command id the entity binds, sorted.
func (e *EntityDescriptor) CommandIDs() []int {
	seen := make(map[int]bool, len(e.States)+len(e.Actions))
	for _, id := range e.States {
		seen[id] = true
	}
	for _, b := range e.Actions {
		seen[b.CmdID] = true
	}
	for _, b := range e.OptionActions {
		seen[b.CmdID] = true
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// RoleFor returns the state role cmdID is bound to.
func (e *EntityDescriptor) RoleFor(cmdID int) (Role, bool) {
	for role, id := range e.States {
		if id == cmdID {
			return role, true
		}
	}
	return "", false
}

// Clone returns a deep copy.
func (e *EntityDescriptor) Clone() *EntityDescriptor {
	if e == nil {
		return nil
	}
	cpy := *e
	if e.States != nil {
		cpy.States = make(map[Role]int, len(e.States))
		for k, v := range e.States {
			cpy.States[k] = v
		}
	}
	if e.Actions != nil {
		cpy.Actions = make(map[Role]ActionBinding, len(e.Actions))
		for k, v := range e.Actions {
			cpy.Actions[k] = v
		}
	}
	cpy.StateMap = cloneStrings(e.StateMap)
	if e.OptionActions != nil {
		cpy.OptionActions = make(map[string]ActionBinding, len(e.OptionActions))
		for k, v := range e.OptionActions {
			cpy.OptionActions[k] = v
		}
	}
	cpy.Options = append([]string(nil), e.Options...)
	cpy.Modes = append([]string(nil), e.Modes...)
	return &cpy
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cpy := make(map[string]string, len(m))
	for k, v := range m {
		cpy[k] = v
	}
	return cpy
}
