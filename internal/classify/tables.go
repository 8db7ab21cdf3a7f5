package classify

import (
	"sort"
	"strings"

	"github.com/nerrad567/jeedom-bridge/internal/device"
)

// genericRule maps a Jeedom generic type to the platform it suggests.
type genericRule struct {
	platform device.Platform
	prefix   bool
}

// genericDomains is the type→domain table. Exact entries win over prefix
// entries: THERMOSTAT_TEMPERATURE is a sensor even though THERMOSTAT_ is
// climate. Add new generic types here.
var genericDomains = map[string]genericRule{
	"TEMPERATURE":             {platform: device.PlatformSensor},
	"HUMIDITY":                {platform: device.PlatformSensor},
	"POWER":                   {platform: device.PlatformSensor},
	"CONSUMPTION":             {platform: device.PlatformSensor},
	"VOLTAGE":                 {platform: device.PlatformSensor},
	"ILLUMINANCE":             {platform: device.PlatformSensor},
	"BRIGHTNESS":              {platform: device.PlatformSensor},
	"BATTERY":                 {platform: device.PlatformSensor},
	"BATTERIE":                {platform: device.PlatformSensor},
	"UV":                      {platform: device.PlatformSensor},
	"CO2":                     {platform: device.PlatformSensor},
	"THERMOSTAT_TEMPERATURE":  {platform: device.PlatformSensor},
	"THERMOSTAT_SETPOINT":     {platform: device.PlatformSensor},
	"THERMOSTAT_SET_SETPOINT": {platform: device.PlatformClimate},
	"FLAP_STATE":              {platform: device.PlatformSensor},
	"PRESENCE":                {platform: device.PlatformBinarySensor},
	"OPENING":                 {platform: device.PlatformBinarySensor},
	"OPENING_WINDOW":          {platform: device.PlatformBinarySensor},
	"SMOKE":                   {platform: device.PlatformBinarySensor},
	"FLOOD":                   {platform: device.PlatformBinarySensor},
	"SABOTAGE":                {platform: device.PlatformBinarySensor},
	"LIGHT_STATE":             {platform: device.PlatformLight},
	"LIGHT_SLIDER":            {platform: device.PlatformLight},
	"DIMMER":                  {platform: device.PlatformLight},
	"ENERGY_STATE":            {platform: device.PlatformSwitch},
	"FAN_STATE":               {platform: device.PlatformSelect},

	"LIGHT_":       {platform: device.PlatformLight, prefix: true},
	"FLAP_":        {platform: device.PlatformCover, prefix: true},
	"THERMOSTAT_":  {platform: device.PlatformClimate, prefix: true},
	"ALARM_":       {platform: device.PlatformAlarm, prefix: true},
	"ENERGY_":      {platform: device.PlatformSwitch, prefix: true},
	"SWITCH_":      {platform: device.PlatformSwitch, prefix: true},
	"HEATING_":     {platform: device.PlatformSelect, prefix: true},
	"WATER_HEATER": {platform: device.PlatformWaterHeater, prefix: true},
}

// prefixKeys holds the prefix entries, longest first.
var prefixKeys = func() []string {
	var keys []string
	for k, r := range genericDomains {
		if r.prefix {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// DomainFor returns the platform a generic type suggests. An exact entry
// is preferred; otherwise the longest matching prefix decides.
func DomainFor(genericType string) (device.Platform, bool) {
	g := normalizeGeneric(genericType)
	if g == "" {
		return "", false
	}
	if r, ok := genericDomains[g]; ok && !r.prefix {
		return r.platform, true
	}
	for _, k := range prefixKeys {
		if strings.HasPrefix(g, k) {
			return genericDomains[k].platform, true
		}
	}
	return "", false
}

// sensorDefault is the metadata a generic type implies for a sensor.
type sensorDefault struct {
	deviceClass string
	stateClass  string
	unit        string
}

var sensorDefaults = map[string]sensorDefault{
	"POWER":                   {deviceClass: "power", stateClass: "measurement"},
	"CONSUMPTION":             {deviceClass: "energy", stateClass: "total_increasing"},
	"VOLTAGE":                 {deviceClass: "voltage", stateClass: "measurement"},
	"TEMPERATURE":             {deviceClass: "temperature", stateClass: "measurement"},
	"HUMIDITY":                {deviceClass: "humidity", stateClass: "measurement"},
	"ILLUMINANCE":             {deviceClass: "illuminance", stateClass: "measurement", unit: "lx"},
	"BRIGHTNESS":              {deviceClass: "illuminance", stateClass: "measurement", unit: "lx"},
	"BATTERY":                 {deviceClass: "battery", stateClass: "measurement", unit: "%"},
	"BATTERIE":                {deviceClass: "battery", stateClass: "measurement", unit: "%"},
	"THERMOSTAT_TEMPERATURE":  {deviceClass: "temperature", stateClass: "measurement"},
	"THERMOSTAT_SETPOINT":     {deviceClass: "temperature", stateClass: "measurement"},
	"THERMOSTAT_SET_SETPOINT": {deviceClass: "temperature", stateClass: "measurement"},
	"FLAP_STATE":              {stateClass: "measurement"},
}

var binaryDefaults = map[string]string{
	"PRESENCE":       "motion",
	"OPENING":        "opening",
	"OPENING_WINDOW": "window",
	"SMOKE":          "smoke",
	"FLOOD":          "moisture",
	"SABOTAGE":       "tamper",
}

// Hard blacklist: Z-Wave node management and Central Scene commands.
var (
	nodeMgmtLogicalIDs = []string{"pingnode", "healnode", "isfailednode", "nodestatus", "refreshinfo", "refreshvalues", "refresh"}
	nodeMgmtProperties = []string{"pingnode", "healnode", "isfailednode", "nodestatus"}
	nodeMgmtNameVerbs  = []string{"ping", "pinguer", "heal", "soigner", "tester", "test", "statut", "status", "health", "sant"}
)

// Name hints, matched against slugified text.
var (
	motionHints    = []string{"presence", "motion", "mouvement", "occupancy"}
	vibrationHints = []string{"shock", "vibration", "vibrate", "impact", "choc"}
	tamperHints    = []string{"sabotage", "tamper"}

	keypadDeviceHints = []string{"keypad", "clavier", "rfid"}
	keypadAlarmHints  = []string{"alarm", "alarme", "armed", "arm"}
	keypadHomeHints   = []string{"home", "maison", "domicile"}
	keypadAwayHints   = []string{"away", "absent", "exterieur", "exterior", "outside"}
	keypadDisarmHints = []string{"disarm", "desarm", "unarm", "off", "unlock"}

	brightnessHints      = []string{"brightness", "dimmer", "level", "niveau", "intensite", "luminosite"}
	brightnessStateNames = []string{"niveau", "brightness", "dimmer", "level", "valeur", "intensite", "luminosite"}
)

// zwaveNotificationClass is the Z-Wave Notification command class.
const zwaveNotificationClass = "113"

// Pilot-wire levels sent by Qubino-style heater modules.
var pilotWireValues = map[int]bool{0: true, 20: true, 30: true, 40: true, 50: true, 99: true, 255: true}

// Pilot-wire thresholds, inclusive upper bounds.
const (
	PilotWireOff      = 10
	PilotWireFrost    = 20
	PilotWireEco      = 30
	PilotWireComfort2 = 40
	PilotWireComfort1 = 50
)

// Climate defaults.
const (
	defaultMinTemp  = 5.0
	defaultMaxTemp  = 30.0
	defaultTempStep = 0.5
)

// JeedomBrightnessMax is the top of the Z-Wave multilevel range.
const JeedomBrightnessMax = 99

var defaultAlarmStateMap = map[string]string{
	"0":    "disarmed",
	"1":    "armed_away",
	"home": "disarmed",
	"away": "armed_away",
}

var defaultWaterHeaterModes = []string{"off", "heat"}

func normalizeGeneric(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func containsAny(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}

func oneOf(text string, values ...string) bool {
	for _, v := range values {
		if text == v {
			return true
		}
	}
	return false
}
