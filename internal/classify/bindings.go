package classify

import (
	"fmt"
	"strings"

	"github.com/nerrad567/jeedom-bridge/internal/device"
)

// binding names one role in either the States or the Actions map.
type binding struct {
	role   device.Role
	action bool
}

func needState(role device.Role) binding  { return binding{role: role} }
func needAction(role device.Role) binding { return binding{role: role, action: true} }

func (b binding) String() string { return string(b.role) }

// requirement is satisfied when any of its bindings is present.
type requirement []binding

// requiredBindings is the platform→required-bindings table for composite
// entities. Add a platform here when adding a detector for it.
var requiredBindings = map[device.Platform][]requirement{
	device.PlatformAlarm: {
		{needState(device.RoleState)},
	},
	device.PlatformSwitch: {
		{needState(device.RoleState)},
		{needAction(device.ActionOn)},
		{needAction(device.ActionOff)},
	},
	device.PlatformLight: {
		{needAction(device.ActionOn), needAction(device.ActionBrightness)},
		{needAction(device.ActionOff), needAction(device.ActionBrightness)},
	},
	device.PlatformCover: {
		{needState(device.RolePosition)},
		{needAction(device.ActionOpen)},
		{needAction(device.ActionClose)},
		{needAction(device.ActionStop), needAction(device.ActionSetPosition)},
	},
	device.PlatformNumber: {
		{needState(device.RoleState)},
		{needAction(device.ActionSet)},
	},
	device.PlatformSelect: {
		{needState(device.RoleState)},
		{needAction(device.ActionSelectOption)},
	},
	device.PlatformClimate: {
		{needState(device.RoleCurrentTemperature), needState(device.RoleMode)},
		{needAction(device.ActionSetTemperature), needAction(device.ActionPreset)},
	},
	device.PlatformWaterHeater: {
		{needState(device.RoleState)},
		{needAction(device.ActionOn)},
		{needAction(device.ActionOff)},
	},
}

// missingBindings lists the requirements a composite descriptor does not
// satisfy, formatted as "a|b". A select bound through per-option actions
// satisfies select_option.
func missingBindings(desc *device.EntityDescriptor) []string {
	var missing []string
	for _, req := range requiredBindings[desc.Platform] {
		if !satisfied(desc, req) {
			names := make([]string, len(req))
			for i, b := range req {
				names[i] = b.String()
			}
			missing = append(missing, strings.Join(names, "|"))
		}
	}
	return missing
}

func satisfied(desc *device.EntityDescriptor, req requirement) bool {
	for _, b := range req {
		if !b.action {
			if _, ok := desc.States[b.role]; ok {
				return true
			}
			continue
		}
		if _, ok := desc.Actions[b.role]; ok {
			return true
		}
		optionBound := b.role == device.ActionSelectOption || b.role == device.ActionPreset
		if optionBound && len(desc.OptionActions) > 0 {
			return true
		}
	}
	return false
}

// validateBindings returns an error naming the unresolved requirements.
func validateBindings(desc *device.EntityDescriptor) error {
	if _, known := requiredBindings[desc.Platform]; !known {
		return fmt.Errorf("no binding table for platform %q", desc.Platform)
	}
	if missing := missingBindings(desc); len(missing) > 0 {
		return fmt.Errorf("%s: missing %s", desc.Platform, strings.Join(missing, ", "))
	}
	return nil
}
