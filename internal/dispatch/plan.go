package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/jeedom-bridge/internal/classify"
	"github.com/nerrad567/jeedom-bridge/internal/device"
)

// platformActions lists the actions each platform accepts.
var platformActions = map[device.Platform][]device.Role{
	device.PlatformSwitch:      {device.ActionOn, device.ActionOff},
	device.PlatformLight:       {device.ActionOn, device.ActionOff, device.ActionBrightness},
	device.PlatformCover:       {device.ActionOpen, device.ActionClose, device.ActionStop, device.ActionSetPosition},
	device.PlatformNumber:      {device.ActionSet},
	device.PlatformSelect:      {device.ActionSelectOption},
	device.PlatformClimate:     {device.ActionOn, device.ActionOff, device.ActionSetTemperature, device.ActionPreset},
	device.PlatformWaterHeater: {device.ActionOn, device.ActionOff},
	device.PlatformAlarm:       {device.ActionArmHome, device.ActionArmAway, device.ActionArmNight, device.ActionDisarm},
}

// alarmRequests maps free-form alarm values to actions.
var alarmRequests = map[string]device.Role{
	"arm_home":    device.ActionArmHome,
	"armed_home":  device.ActionArmHome,
	"home":        device.ActionArmHome,
	"arm_away":    device.ActionArmAway,
	"armed_away":  device.ActionArmAway,
	"away":        device.ActionArmAway,
	"arm_night":   device.ActionArmNight,
	"armed_night": device.ActionArmNight,
	"night":       device.ActionArmNight,
	"disarm":      device.ActionDisarm,
	"disarmed":    device.ActionDisarm,
	"off":         device.ActionDisarm,
}

func accepts(p device.Platform, action device.Role) bool {
	for _, a := range platformActions[p] {
		if a == action {
			return true
		}
	}
	return false
}

// plan resolves the action of a request and encodes it as a Call.
func plan(desc *device.EntityDescriptor, req Request) (device.Role, Call, error) {
	action := device.Role(strings.ToLower(strings.TrimSpace(req.Action)))
	if action == "" {
		inferred, err := inferAction(desc, req.Value)
		if err != nil {
			return "", Call{}, err
		}
		action = inferred
	}
	if !accepts(desc.Platform, action) {
		return action, Call{}, fmt.Errorf("%w: %s on %s", ErrUnsupportedAction, action, desc.Platform)
	}

	call, err := encode(desc, action, req.Value)
	return action, call, err
}

// inferAction picks an action from the platform and the value alone.
func inferAction(desc *device.EntityDescriptor, v any) (device.Role, error) {
	if v == nil {
		return "", fmt.Errorf("%w: action or value required", ErrInvalidValue)
	}
	text := classify.NormalizeValue(v)
	_, isString := v.(string)
	num, isNum := classify.ToFloat(v)

	switch desc.Platform {
	case device.PlatformSwitch:
		return onOff(v), nil

	case device.PlatformLight:
		if _, isBool := v.(bool); !isBool && isNum && !isOnOffWord(text) {
			if _, ok := desc.Action(device.ActionBrightness); ok {
				return device.ActionBrightness, nil
			}
		}
		return onOff(v), nil

	case device.PlatformCover:
		switch text {
		case "open", "close", "stop":
			return device.Role(text), nil
		case "closed":
			return device.ActionClose, nil
		}
		if isNum {
			return device.ActionSetPosition, nil
		}

	case device.PlatformNumber:
		return device.ActionSet, nil

	case device.PlatformSelect:
		return device.ActionSelectOption, nil

	case device.PlatformClimate:
		switch text {
		case "off":
			return device.ActionOff, nil
		case "heat", "on":
			return device.ActionOn, nil
		}
		if isNum && !hasOption(desc, text) {
			return device.ActionSetTemperature, nil
		}
		return device.ActionPreset, nil

	case device.PlatformWaterHeater:
		if text == "off" || (!isString && !classify.CoerceBool(v)) {
			return device.ActionOff, nil
		}
		if isNum && num <= 0 {
			return device.ActionOff, nil
		}
		return device.ActionOn, nil

	case device.PlatformAlarm:
		if a, ok := alarmRequests[text]; ok {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: cannot infer action for %v on %s", ErrUnsupportedAction, v, desc.Platform)
}

func onOff(v any) device.Role {
	if classify.CoerceBool(v) {
		return device.ActionOn
	}
	return device.ActionOff
}

func isOnOffWord(s string) bool {
	switch s {
	case "on", "off", "true", "false", "yes", "no":
		return true
	}
	return false
}

func hasOption(desc *device.EntityDescriptor, label string) bool {
	_, ok := findOption(desc, label)
	return ok
}

// findOption matches an option label exactly, then case-insensitively.
func findOption(desc *device.EntityDescriptor, label string) (device.ActionBinding, bool) {
	if b, ok := desc.OptionActions[label]; ok {
		return b, true
	}
	for name, b := range desc.OptionActions {
		if strings.EqualFold(name, strings.TrimSpace(label)) {
			return b, true
		}
	}
	return device.ActionBinding{}, false
}

// encode builds the Call for a resolved action.
func encode(desc *device.EntityDescriptor, action device.Role, v any) (Call, error) {
	switch action {
	case device.ActionOn, device.ActionOff:
		if b, ok := desc.Action(action); ok {
			return fixed(b), nil
		}
		// Dimmers without on/off commands are driven through brightness.
		if b, ok := desc.Action(device.ActionBrightness); ok {
			level := 0
			if action == device.ActionOn {
				level = classify.BrightnessToJeedom(255)
			}
			return slider(b, strconv.Itoa(level)), nil
		}

	case device.ActionOpen, device.ActionClose:
		if b, ok := desc.Action(action); ok {
			return fixed(b), nil
		}
		if b, ok := desc.Action(device.ActionSetPosition); ok {
			pct := 0.0
			if action == device.ActionOpen {
				pct = 100
			}
			return slider(b, classify.PercentToPosition(pct, b.Min, b.Max, b.Property)), nil
		}

	case device.ActionStop, device.ActionArmHome, device.ActionArmAway, device.ActionArmNight, device.ActionDisarm:
		if b, ok := desc.Action(action); ok {
			return fixed(b), nil
		}

	case device.ActionSetPosition:
		b, ok := desc.Action(device.ActionSetPosition)
		if !ok {
			break
		}
		pct, err := number(v)
		if err != nil {
			return Call{}, err
		}
		return slider(b, classify.PercentToPosition(pct, b.Min, b.Max, b.Property)), nil

	case device.ActionBrightness:
		b, ok := desc.Action(device.ActionBrightness)
		if !ok {
			break
		}
		level, err := number(v)
		if err != nil {
			return Call{}, err
		}
		return slider(b, strconv.Itoa(classify.BrightnessToJeedom(level))), nil

	case device.ActionSet, device.ActionSetTemperature:
		b, ok := desc.Action(action)
		if !ok {
			break
		}
		n, err := number(v)
		if err != nil {
			return Call{}, err
		}
		return slider(b, strconv.FormatFloat(n, 'f', -1, 64)), nil

	case device.ActionSelectOption, device.ActionPreset:
		label, ok := v.(string)
		if !ok {
			label = classify.NormalizeValue(v)
		}
		b, found := findOption(desc, label)
		if !found {
			return Call{}, fmt.Errorf("%w: unknown option %q", ErrInvalidValue, label)
		}
		return fixed(b), nil
	}
	return Call{}, fmt.Errorf("%w: %s has no %s binding", ErrUnsupportedAction, desc.Slug, action)
}

func fixed(b device.ActionBinding) Call {
	return Call{CmdID: b.CmdID, Value: b.Value}
}

func slider(b device.ActionBinding, value string) Call {
	return Call{
		CmdID:   b.CmdID,
		Value:   value,
		Options: map[string]string{"slider": value},
	}
}

func number(v any) (float64, error) {
	if _, isBool := v.(bool); isBool {
		return 0, fmt.Errorf("%w: expected a number, got %v", ErrInvalidValue, v)
	}
	f, ok := classify.ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: expected a number, got %v", ErrInvalidValue, v)
	}
	return f, nil
}
