package classify

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/nerrad567/jeedom-bridge/internal/device"
)

// Known alarm panel states.
var alarmStates = map[string]bool{
	"disarmed":            true,
	"armed_home":          true,
	"armed_away":          true,
	"armed_night":         true,
	"armed_vacation":      true,
	"armed_custom_bypass": true,
	"arming":              true,
	"pending":             true,
	"triggered":           true,
}

var alarmAliases = map[string]string{
	"home":     "armed_home",
	"arm_home": "armed_home",
	"away":     "armed_away",
	"arm_away": "armed_away",
	"disarm":   "disarmed",
	"off":      "disarmed",
	"false":    "disarmed",
}

// NormalizeValue renders a raw Jeedom value as a lookup key: booleans
// become "1"/"0", integral numbers lose their fraction, strings are
// trimmed and lowercased.
func NormalizeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if x {
			return "1"
		}
		return "0"
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return NormalizeValue(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return NormalizeValue(f)
		}
		return strings.ToLower(x.String())
	case string:
		return strings.ToLower(strings.TrimSpace(x))
	default:
		b, _ := json.Marshal(x)
		return strings.ToLower(string(b))
	}
}

// ToFloat converts a raw value to a number.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(x, ",", ".")), 64)
		return f, err == nil
	}
	return 0, false
}

// isDigits reports whether s is a non-empty run of ASCII digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CoerceBool interprets a switch or light state.
func CoerceBool(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		switch s {
		case "1", "true", "on", "yes", "open":
			return true
		case "0", "false", "off", "no", "closed", "":
			return false
		}
		if f, ok := ToFloat(s); ok {
			return f > 0
		}
		return false
	}
	f, ok := ToFloat(v)
	return ok && f > 0
}

// BinaryState interprets a binary sensor value. payloadOn and payloadOff
// default to "1" and "0" and are compared case-insensitively.
func BinaryState(v any, payloadOn, payloadOff string, inverted bool) bool {
	if payloadOn == "" {
		payloadOn = "1"
	}
	if payloadOff == "" {
		payloadOff = "0"
	}
	s := NormalizeValue(v)
	var on bool
	switch {
	case s == strings.ToLower(payloadOn):
		on = true
	case s == strings.ToLower(payloadOff):
		on = false
	default:
		on = CoerceBool(v)
	}
	if inverted {
		return !on
	}
	return on
}

// AlarmState maps a raw keypad value to an alarm panel state.
//
// The state map is consulted first, then known state names, aliases and
// finally digits (any positive number is armed_away).
func AlarmState(v any, stateMap map[string]string) string {
	key := NormalizeValue(v)
	if mapped, ok := stateMap[key]; ok {
		return mapped
	}
	if raw, ok := v.(string); ok {
		if mapped, ok := stateMap[strings.TrimSpace(raw)]; ok {
			return mapped
		}
	}
	if alarmStates[key] {
		return key
	}
	if alias, ok := alarmAliases[key]; ok {
		return alias
	}
	if isDigits(key) {
		if n, _ := strconv.Atoi(key); n > 0 {
			return "armed_away"
		}
	}
	return "disarmed"
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func isZWaveLevel(property string) bool {
	p := strings.ToLower(strings.TrimSpace(property))
	return p == "targetvalue" || p == "currentvalue"
}

// PercentToPosition converts a 0-100 cover position to the device range.
// Explicit min/max map linearly; a Z-Wave targetValue property uses 0-99.
func PercentToPosition(pct float64, minV, maxV *float64, property string) string {
	var v float64
	switch {
	case minV != nil && maxV != nil:
		lo, hi := *minV, *maxV
		v = lo + clamp(pct, 0, 100)/100*(hi-lo)
		v = clamp(v, math.Min(lo, hi), math.Max(lo, hi))
	case strings.EqualFold(strings.TrimSpace(property), "targetvalue"):
		if pct <= 100 {
			v = clamp(pct, 0, 100) / 100 * JeedomBrightnessMax
		} else {
			v = clamp(pct, 0, JeedomBrightnessMax)
		}
	default:
		v = clamp(pct, 0, 100)
	}
	return strconv.Itoa(int(math.Round(v)))
}

// PositionToPercent is the inverse of PercentToPosition.
func PositionToPercent(v float64, minV, maxV *float64, property string) int {
	var pct float64
	switch {
	case minV != nil && maxV != nil:
		if *maxV == *minV {
			return int(math.Round(v))
		}
		pct = clamp((v-*minV)/(*maxV-*minV)*100, 0, 100)
	case isZWaveLevel(property):
		pct = clamp(v, 0, JeedomBrightnessMax) / JeedomBrightnessMax * 100
	default:
		pct = clamp(v, 0, 100)
	}
	return int(math.Round(pct))
}

// BrightnessToJeedom converts 0-255 brightness to the 0-99 device level.
func BrightnessToJeedom(v float64) int {
	return int(math.Round(clamp(v, 0, 255) * JeedomBrightnessMax / 255))
}

// BrightnessFromJeedom converts a 0-99 device level to 0-255 brightness.
func BrightnessFromJeedom(v float64) int {
	return int(math.Round(clamp(v, 0, JeedomBrightnessMax) * 255 / JeedomBrightnessMax))
}

// PilotWirePreset maps a pilot-wire level to a climate preset. The
// comfort-1/-2 levels only exist when additional is true.
func PilotWirePreset(v float64, additional bool) string {
	switch {
	case v <= PilotWireOff:
		return PresetNone
	case v <= PilotWireFrost:
		return PresetAway
	case v <= PilotWireEco:
		return PresetEco
	case !additional:
		return PresetComfort
	case v <= PilotWireComfort2:
		return PresetComfort2
	case v <= PilotWireComfort1:
		return PresetComfort1
	}
	return PresetComfort
}

// PilotWireOption is the default select label for a pilot-wire level.
func PilotWireOption(v float64) string {
	switch {
	case v <= PilotWireOff:
		return "Off"
	case v <= PilotWireFrost:
		return "Away"
	case v <= PilotWireEco:
		return "Eco"
	case v <= PilotWireComfort2:
		return "Comfort -2"
	case v <= PilotWireComfort1:
		return "Comfort -1"
	}
	return "Comfort"
}

// WaterHeaterOnMode is the mode reported while the heater is on.
func WaterHeaterOnMode(modes []string) string {
	for _, m := range modes {
		if m == "heat" {
			return m
		}
	}
	for _, m := range modes {
		if m != "off" {
			return m
		}
	}
	return "on"
}

// WaterHeaterMode maps a raw state to one of modes.
func WaterHeaterMode(v any, modes []string) string {
	s := NormalizeValue(v)
	if oneOf(s, "on", "heat", "eco", "boost", "1", "true") {
		return WaterHeaterOnMode(modes)
	}
	if f, ok := ToFloat(v); ok && f > 0 {
		return WaterHeaterOnMode(modes)
	}
	return "off"
}

// StateFor translates the current command values of an entity into the
// state and attributes the host platform sees. state is nil while the
// primary command has no value yet.
func StateFor(desc *device.EntityDescriptor, values map[int]any) (state any, attrs map[string]any) {
	attrs = make(map[string]any)
	value := func(role device.Role) (any, bool) {
		id, ok := desc.States[role]
		if !ok {
			return nil, false
		}
		v, ok := values[id]
		return v, ok
	}

	switch desc.Platform {
	case device.PlatformSensor:
		v, ok := value(device.RoleState)
		if !ok {
			return nil, attrs
		}
		if mapped, found := desc.StateMap[NormalizeValue(v)]; found {
			return mapped, attrs
		}
		return v, attrs

	case device.PlatformBinarySensor:
		v, ok := value(device.RoleState)
		if !ok {
			return nil, attrs
		}
		return BinaryState(v, desc.PayloadOn, desc.PayloadOff, desc.Inverted), attrs

	case device.PlatformSwitch:
		v, ok := value(device.RoleState)
		if !ok {
			return nil, attrs
		}
		return CoerceBool(v) != desc.Inverted, attrs

	case device.PlatformLight:
		level, hasLevel := value(device.RoleBrightness)
		if hasLevel {
			if f, ok := ToFloat(level); ok {
				attrs["brightness"] = BrightnessFromJeedom(f)
			}
		}
		if v, ok := value(device.RoleState); ok {
			return CoerceBool(v), attrs
		}
		if hasLevel {
			f, _ := ToFloat(level)
			return f > 0, attrs
		}
		return nil, attrs

	case device.PlatformCover:
		v, ok := value(device.RolePosition)
		if !ok {
			return nil, attrs
		}
		f, ok := ToFloat(v)
		if !ok {
			return NormalizeValue(v), attrs
		}
		minV, maxV, prop := desc.Min, desc.Max, ""
		if b, found := desc.Actions[device.ActionSetPosition]; found {
			prop = b.Property
			if minV == nil || maxV == nil {
				minV, maxV = b.Min, b.Max
			}
		}
		pct := PositionToPercent(f, minV, maxV, prop)
		attrs["current_position"] = pct
		if pct <= 0 {
			return "closed", attrs
		}
		return "open", attrs

	case device.PlatformNumber:
		v, ok := value(device.RoleState)
		if !ok {
			return nil, attrs
		}
		if f, ok := ToFloat(v); ok {
			return f, attrs
		}
		return v, attrs

	case device.PlatformSelect:
		v, ok := value(device.RoleState)
		if !ok {
			return nil, attrs
		}
		return selectOption(desc, v), attrs

	case device.PlatformClimate:
		return climateState(desc, value, attrs)

	case device.PlatformWaterHeater:
		v, ok := value(device.RoleState)
		if !ok {
			return nil, attrs
		}
		return WaterHeaterMode(v, desc.Modes), attrs

	case device.PlatformAlarm:
		v, ok := value(device.RoleState)
		if !ok {
			return nil, attrs
		}
		return AlarmState(v, desc.StateMap), attrs
	}
	return nil, attrs
}

// selectOption finds the option whose fixed value equals the state,
// falling back to the pilot-wire label.
func selectOption(desc *device.EntityDescriptor, v any) string {
	key := NormalizeValue(v)
	for _, opt := range desc.Options {
		if b, ok := desc.OptionActions[opt]; ok && NormalizeValue(b.Value) == key {
			return opt
		}
	}
	for _, opt := range desc.Options {
		if strings.EqualFold(opt, key) {
			return opt
		}
	}
	if f, ok := ToFloat(v); ok {
		return PilotWireOption(f)
	}
	return key
}

func climateState(desc *device.EntityDescriptor, value func(device.Role) (any, bool), attrs map[string]any) (any, map[string]any) {
	if v, ok := value(device.RoleCurrentTemperature); ok {
		if f, ok := ToFloat(v); ok {
			attrs["current_temperature"] = f
		}
	}
	if v, ok := value(device.RoleTargetTemperature); ok {
		if f, ok := ToFloat(v); ok {
			attrs["temperature"] = f
		}
	}

	if v, ok := value(device.RoleMode); ok {
		f, ok := ToFloat(v)
		if !ok {
			return nil, attrs
		}
		if f <= PilotWireOff {
			attrs["preset_mode"] = PresetNone
			return "off", attrs
		}
		attrs["preset_mode"] = PilotWirePreset(f, hasComfortLevels(desc))
		return "heat", attrs
	}

	if _, bound := desc.States[device.RoleMode]; bound {
		return nil, attrs
	}
	if _, ok := attrs["current_temperature"]; !ok {
		return nil, attrs
	}
	if len(desc.Modes) > 0 {
		return desc.Modes[0], attrs
	}
	return "heat", attrs
}

func hasComfortLevels(desc *device.EntityDescriptor) bool {
	_, c1 := desc.OptionActions[PresetComfort1]
	_, c2 := desc.OptionActions[PresetComfort2]
	return c1 && c2
}
