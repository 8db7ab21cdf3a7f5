package overrides

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/jeedom-bridge/internal/device"
	"gopkg.in/yaml.v3"
)

// Document is the raw override file.
//
//	defaults:
//	  include_all_if_no_filter: true
//	  global_generic_whitelist: [TEMPERATURE, HUMIDITY]
//	devices:
//	  - match: {eqlogic_name: "RFID Keypad"}
//	    platform: alarm_control_panel
//	    alarm_control_panel:
//	      state_map: {"0": disarmed, "1": armed_away}
type Document struct {
	Defaults Defaults `yaml:"defaults"`
	Devices  []Rule   `yaml:"devices"`
}

// Defaults is the global fallback policy.
type Defaults struct {
	// IncludeAllIfNoFilter defaults to true when absent.
	IncludeAllIfNoFilter *bool `yaml:"include_all_if_no_filter"`

	GlobalGenericWhitelist []string `yaml:"global_generic_whitelist"`
}

// Match selects devices by Jeedom id or by exact name. When both are set
// either one matching is enough.
type Match struct {
	EqLogicID   *int   `yaml:"eqlogic_id"`
	EqLogicName string `yaml:"eqlogic_name"`
}

// Include restricts a matched device to the listed commands.
type Include struct {
	CmdIDs       []int    `yaml:"cmd_ids"`
	GenericTypes []string `yaml:"generic_types"`
	CmdNames     []string `yaml:"cmd_names"`
}

// Empty reports whether no filter list is populated.
func (i *Include) Empty() bool {
	return i == nil || (len(i.CmdIDs) == 0 && len(i.GenericTypes) == 0 && len(i.CmdNames) == 0)
}

// AlarmPanelRule configures a forced or detected alarm panel.
type AlarmPanelRule struct {
	StateMap map[string]string `yaml:"state_map"`
}

// WaterHeaterRule binds a water heater explicitly. Unset ids fall back to
// switch-style detection.
type WaterHeaterRule struct {
	StateCmdID *int     `yaml:"state_cmd_id"`
	OnCmdID    *int     `yaml:"on_cmd_id"`
	OffCmdID   *int     `yaml:"off_cmd_id"`
	Modes      []string `yaml:"modes"`
}

// ClimateRule bounds the target temperature of a climate entity.
type ClimateRule struct {
	MinTemp  *float64 `yaml:"min_temp"`
	MaxTemp  *float64 `yaml:"max_temp"`
	TempStep *float64 `yaml:"temp_step"`
}

// EntityOverride changes the metadata of the entity built from one command.
// It never changes the platform decision.
type EntityOverride struct {
	Name          string            `yaml:"name"`
	UniqueID      string            `yaml:"unique_id"`
	CmdSlug       string            `yaml:"cmd_slug"`
	DeviceClass   *string           `yaml:"device_class"`
	StateClass    *string           `yaml:"state_class"`
	Icon          string            `yaml:"icon"`
	Unit          *string           `yaml:"unit_of_measurement"`
	Inverted      *bool             `yaml:"inverted"`
	StateMap      map[string]string `yaml:"state_map"`
	AlarmStateMap map[string]string `yaml:"alarm_state_map"`
	PayloadOn     string            `yaml:"payload_on"`
	PayloadOff    string            `yaml:"payload_off"`
}

// EffectiveStateMap returns state_map, falling back to alarm_state_map.
func (o EntityOverride) EffectiveStateMap() map[string]string {
	if len(o.StateMap) > 0 {
		return o.StateMap
	}
	return o.AlarmStateMap
}

// Rule is one entry of the devices list.
type Rule struct {
	Match Match `yaml:"match"`

	// PlatformName forces a composite platform. DeviceType is an alias.
	PlatformName string `yaml:"platform"`
	DeviceType   string `yaml:"device_type"`

	Slug       string   `yaml:"slug"`
	DeviceName string   `yaml:"device_name"`
	Include    *Include `yaml:"include"`

	// RawEntityOverrides is keyed by command id; YAML allows both 5678 and
	// "5678" so keys are decoded as strings and validated.
	RawEntityOverrides map[string]EntityOverride `yaml:"entity_overrides"`

	AlarmControlPanel   *AlarmPanelRule   `yaml:"alarm_control_panel"`
	LegacyAlarmStateMap map[string]string `yaml:"alarm_state_map"`
	WaterHeater         *WaterHeaterRule  `yaml:"water_heater"`
	Climate             *ClimateRule      `yaml:"climate"`

	index     int
	platform  device.Platform
	overrides map[int]EntityOverride
}

// Index is the rule's position in the document.
func (r *Rule) Index() int {
	return r.index
}

// ForcedPlatform returns the platform the rule forces, or "".
func (r *Rule) ForcedPlatform() device.Platform {
	if r == nil {
		return ""
	}
	return r.platform
}

// Override returns the entity override for cmdID.
func (r *Rule) Override(cmdID int) (EntityOverride, bool) {
	if r == nil {
		return EntityOverride{}, false
	}
	ov, ok := r.overrides[cmdID]
	return ov, ok
}

// OverriddenCommands returns the command ids carrying an override.
func (r *Rule) OverriddenCommands() []int {
	if r == nil {
		return nil
	}
	ids := make([]int, 0, len(r.overrides))
	for id := range r.overrides {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// AlarmStateMap returns alarm_control_panel.state_map, falling back to the
// rule-level alarm_state_map.
func (r *Rule) AlarmStateMap() map[string]string {
	if r == nil {
		return nil
	}
	if r.AlarmControlPanel != nil && r.AlarmControlPanel.StateMap != nil {
		return r.AlarmControlPanel.StateMap
	}
	return r.LegacyAlarmStateMap
}

// matches reports whether the rule selects the device.
func (r *Rule) matches(id int, name string) bool {
	if r.Match.EqLogicID != nil && *r.Match.EqLogicID == id {
		return true
	}
	return r.Match.EqLogicName != "" && r.Match.EqLogicName == name
}

// Load reads the override document at path.
//
// An empty path or a missing file yields Empty(): every device and every
// command is included and classified automatically.
//
// Parameters:
//   - path: Location of the YAML override document (jeedom.config_path)
//
// Returns:
//   - *Resolver: Ready for matching
//   - error: ErrConfig if the document is unreadable or invalid
func Load(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return Empty(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Empty(), nil
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfig, path, err)
	}

	r, err := Parse(data)
	if err != nil {
		return nil, err
	}
	r.source = path
	return r, nil
}

// Parse decodes and validates an override document.
func Parse(data []byte) (*Resolver, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing: %v", ErrConfig, err)
	}

	if err := doc.prepare(); err != nil {
		return nil, err
	}

	return newResolver(&doc), nil
}

// prepare validates every rule and resolves derived fields.
func (d *Document) prepare() error {
	var errs []string

	for i := range d.Devices {
		r := &d.Devices[i]
		r.index = i
		errs = append(errs, r.prepare(i)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfig, strings.Join(errs, "; "))
	}
	return nil
}

func (r *Rule) prepare(i int) []string {
	var errs []string

	if r.Match.EqLogicID == nil && r.Match.EqLogicName == "" {
		errs = append(errs, fmt.Sprintf("devices[%d].match needs eqlogic_id or eqlogic_name", i))
	}

	name := strings.ToLower(strings.TrimSpace(r.PlatformName))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(r.DeviceType))
	}
	if name != "" {
		p, ok := device.ParsePlatform(name)
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("devices[%d].platform %q is unknown", i, name))
		case !p.IsComposite():
			errs = append(errs, fmt.Sprintf("devices[%d].platform %q cannot be forced (use include filters)", i, name))
		default:
			r.platform = p
		}
	}

	r.overrides = make(map[int]EntityOverride, len(r.RawEntityOverrides))
	for key, ov := range r.RawEntityOverrides {
		id, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			errs = append(errs, fmt.Sprintf("devices[%d].entity_overrides key %q is not a command id", i, key))
			continue
		}
		r.overrides[id] = ov
	}

	if c := r.Climate; c != nil {
		if c.MinTemp != nil && c.MaxTemp != nil && *c.MinTemp >= *c.MaxTemp {
			errs = append(errs, fmt.Sprintf("devices[%d].climate.min_temp must be below max_temp", i))
		}
		if c.TempStep != nil && *c.TempStep <= 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].climate.temp_step must be positive", i))
		}
	}

	return errs
}
