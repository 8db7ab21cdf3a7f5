package classify

import (
	"strings"

	"github.com/nerrad567/jeedom-bridge/internal/device"
)

// Blacklisted reports whether a command must never yield an entity:
// Z-Wave node management (ping, heal, status...) and Central Scene ids.
func Blacklisted(c *device.Command) bool {
	return isNodeManagement(c) || isSceneID(c)
}

func isNodeManagement(c *device.Command) bool {
	lid := strings.ToLower(c.LogicalID)
	prop := strings.ToLower(c.Property)
	name := strings.ToLower(c.Name)

	if containsAny(lid, nodeMgmtLogicalIDs) || containsAny(prop, nodeMgmtProperties) {
		return true
	}
	if strings.Contains(name, "node") || strings.Contains(name, "noeud") {
		return containsAny(name, nodeMgmtNameVerbs)
	}
	return false
}

func isSceneID(c *device.Command) bool {
	return strings.Contains(strings.ToLower(c.LogicalID), "sceneid") ||
		strings.ToLower(strings.TrimSpace(c.Name)) == "sceneid" ||
		strings.Contains(strings.ToLower(c.Property), "sceneid")
}

// hintText flattens a free-form label for substring hints: lowercase,
// underscores and dashes become spaces.
func hintText(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// binaryDeviceClass returns the device class of an info command that
// should be a binary sensor, or ok=false.
//
// Only binary and numeric sub-types qualify. The order is Z-Wave
// notification class, vibration, tamper, then motion (PRESENCE or name
// hints) and finally the generic binary table.
func binaryDeviceClass(c *device.Command) (class string, ok bool) {
	if !c.IsInfo() || (c.ValueType != device.ValueBinary && c.ValueType != device.ValueNumeric) {
		return "", false
	}

	lid, name, prop := hintText(c.LogicalID), hintText(c.Name), hintText(c.Property)
	anyOf := func(hints []string) bool {
		return containsAny(lid, hints) || containsAny(name, hints) || containsAny(prop, hints)
	}

	if strings.TrimSpace(c.ZWaveClass) == zwaveNotificationClass {
		if strings.Contains(lid, "sensor status") || strings.Contains(prop, "sensor status") || strings.Contains(name, "sensor status") {
			return "vibration", true
		}
		if anyOf(tamperHints) {
			return "tamper", true
		}
	}
	if anyOf(vibrationHints) {
		return "vibration", true
	}
	if anyOf(tamperHints) {
		return "tamper", true
	}

	generic := normalizeGeneric(c.GenericType)
	cmdSlug := device.GenerateSlug(firstNonEmpty(c.Name, c.LogicalID))
	if generic == "PRESENCE" || containsAny(cmdSlug, motionHints) {
		return "motion", true
	}
	if dc, found := binaryDefaults[generic]; found {
		return dc, true
	}
	return "", false
}

// isKeypad reports whether the equipment looks like an alarm keypad.
func isKeypad(d *device.Device) bool {
	for _, s := range []string{d.Name, d.LogicalID, d.EqType} {
		if containsAny(device.GenerateSlug(s), keypadDeviceHints) {
			return true
		}
	}
	return false
}

func isKeypadAlarmState(c *device.Command) bool {
	return containsAny(device.GenerateSlug(c.Name), keypadAlarmHints) ||
		containsAny(device.GenerateSlug(c.LogicalID), keypadAlarmHints)
}

func isSlider(c *device.Command) bool {
	return c.ValueType == device.ValueSlider || strings.Contains(strings.ToLower(c.LogicalID), "#slider#")
}

func isOnAction(c *device.Command) bool {
	return strings.Contains(strings.ToLower(c.LogicalID), "setvalue-true") ||
		strings.ToLower(strings.TrimSpace(c.Name)) == "on" ||
		isOnOffGeneric(c, "_ON")
}

func isOffAction(c *device.Command) bool {
	return strings.Contains(strings.ToLower(c.LogicalID), "setvalue-false") ||
		strings.ToLower(strings.TrimSpace(c.Name)) == "off" ||
		isOnOffGeneric(c, "_OFF")
}

// isOnOffGeneric reports whether an action carries an on/off style generic
// type (LIGHT_ON, ENERGY_OFF...) that the domain table maps to a switch or
// a light.
func isOnOffGeneric(c *device.Command, suffix string) bool {
	if !c.IsAction() {
		return false
	}
	g := normalizeGeneric(c.GenericType)
	if !strings.HasSuffix(g, suffix) {
		return false
	}
	p, ok := DomainFor(g)
	return ok && (p == device.PlatformSwitch || p == device.PlatformLight)
}

// genericDomain is DomainFor for a command, ok=false when untyped.
func genericDomain(c *device.Command) (device.Platform, bool) {
	return DomainFor(c.GenericType)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
