package classify

import (
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/overrides"
)

// pool is the set of included commands a device still has to offer.
// Detectors read from it; the classifier consumes what they bind.
type pool struct {
	cmds []*device.Command
	used map[int]bool
}

func newPool(cmds []*device.Command) *pool {
	return &pool{cmds: cmds, used: make(map[int]bool)}
}

func (p *pool) infos() []*device.Command {
	return p.filter(func(c *device.Command) bool { return c.IsInfo() })
}

func (p *pool) actions() []*device.Command {
	return p.filter(func(c *device.Command) bool { return c.IsAction() })
}

func (p *pool) filter(keep func(*device.Command) bool) []*device.Command {
	var out []*device.Command
	for _, c := range p.cmds {
		if !p.used[c.ID] && keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func (p *pool) byID(id int) *device.Command {
	for _, c := range p.cmds {
		if c.ID == id && !p.used[c.ID] {
			return c
		}
	}
	return nil
}

func (p *pool) consume(desc *device.EntityDescriptor) {
	for _, id := range desc.CommandIDs() {
		p.used[id] = true
	}
}

func (p *pool) remaining() []*device.Command {
	return p.filter(func(*device.Command) bool { return true })
}

// bindAction builds the action binding of a command.
func bindAction(c *device.Command) device.ActionBinding {
	return device.ActionBinding{
		CmdID:    c.ID,
		Slider:   isSlider(c),
		Min:      c.Min,
		Max:      c.Max,
		Property: c.Property,
	}
}

func newComposite(p device.Platform) *device.EntityDescriptor {
	return &device.EntityDescriptor{
		Platform: p,
		States:   make(map[device.Role]int),
		Actions:  make(map[device.Role]device.ActionBinding),
	}
}

// detectAlarm binds a keypad's alarm state and its arm/disarm actions.
// Forced detection does not require keypad hints on the device and falls
// back to the first readable command.
func detectAlarm(d *device.Device, p *pool, forced bool) *device.EntityDescriptor {
	if !forced && !isKeypad(d) {
		return nil
	}

	var stateCmd, fallback *device.Command
	for _, c := range p.infos() {
		if c.ValueType != device.ValueBinary && c.ValueType != device.ValueNumeric && c.ValueType != device.ValueString {
			continue
		}
		if isKeypadAlarmState(c) {
			stateCmd = c
			break
		}
		if fallback == nil {
			fallback = c
		}
	}
	if stateCmd == nil && forced {
		stateCmd = fallback
	}
	if stateCmd == nil {
		return nil
	}

	desc := newComposite(device.PlatformAlarm)
	desc.States[device.RoleState] = stateCmd.ID
	for _, c := range p.actions() {
		label := device.GenerateSlug(firstNonEmpty(c.Name, c.LogicalID))
		var role device.Role
		switch {
		case containsAny(label, keypadHomeHints):
			role = device.ActionArmHome
		case containsAny(label, keypadAwayHints):
			role = device.ActionArmAway
		case containsAny(label, keypadDisarmHints):
			role = device.ActionDisarm
		case strings.Contains(label, "night") || strings.Contains(label, "nuit"):
			role = device.ActionArmNight
		default:
			continue
		}
		if _, taken := desc.Actions[role]; !taken {
			desc.Actions[role] = bindAction(c)
		}
	}
	return desc
}

// pilotOption is one pilot-wire level command.
type pilotOption struct {
	label string
	value int
	cmd   *device.Command
}

// detectPilotWire finds a pilot-wire heater: a numeric level state and
// at least three fixed-level actions.
func detectPilotWire(d *device.Device, p *pool) (*device.Command, []pilotOption) {
	var stateCmd *device.Command
	for _, c := range p.infos() {
		if c.ValueType != device.ValueNumeric {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(c.Property))
		if normalizeGeneric(c.GenericType) == "FAN_STATE" ||
			(prop == "currentvalue" && strings.Contains(strings.ToLower(c.LogicalID), "currentvalue")) {
			stateCmd = c
			break
		}
	}
	if stateCmd == nil {
		return nil, nil
	}

	var options []pilotOption
	modeGeneric := false
	for _, c := range p.actions() {
		if c.ValueType != device.ValueOther || strings.ToLower(strings.TrimSpace(c.Property)) != "targetvalue" {
			continue
		}
		raw := strings.TrimSpace(c.ActionValue)
		if raw == "" || raw == "#slider#" {
			continue
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		g := normalizeGeneric(c.GenericType)
		if strings.HasPrefix(g, "FAN_") || strings.HasPrefix(g, "HEATING_") {
			modeGeneric = true
		}
		value := int(f)
		label := strings.TrimSpace(firstNonEmpty(c.Name, c.LogicalID))
		if label == "" {
			label = "mode_" + strconv.Itoa(value)
		}
		options = append(options, pilotOption{label: label, value: value, cmd: c})
	}
	if len(options) < 3 {
		return nil, nil
	}

	known := 0
	for _, o := range options {
		if pilotWireValues[o.value] {
			known++
		}
	}
	if known < 3 && !modeGeneric && !d.HasCategory(device.CategoryHeating) {
		return nil, nil
	}

	sort.SliceStable(options, func(i, j int) bool { return options[i].cmd.Order < options[j].cmd.Order })
	seenLabel := make(map[string]bool)
	seenValue := make(map[int]bool)
	filtered := options[:0]
	for _, o := range options {
		if seenLabel[o.label] || seenValue[o.value] {
			continue
		}
		seenLabel[o.label] = true
		seenValue[o.value] = true
		filtered = append(filtered, o)
	}
	return stateCmd, filtered
}

// pilotSelect turns a pilot-wire detection into a select entity.
func pilotSelect(stateCmd *device.Command, options []pilotOption) *device.EntityDescriptor {
	if stateCmd == nil || len(options) < 2 {
		return nil
	}
	desc := newComposite(device.PlatformSelect)
	desc.States[device.RoleState] = stateCmd.ID
	desc.OptionActions = make(map[string]device.ActionBinding, len(options))
	for _, o := range options {
		b := bindAction(o.cmd)
		b.Value = strconv.Itoa(o.value)
		desc.Options = append(desc.Options, o.label)
		desc.OptionActions[o.label] = b
	}
	return desc
}

// Pilot-wire presets of a climate entity.
const (
	PresetNone     = "none"
	PresetAway     = "away"
	PresetEco      = "eco"
	PresetComfort2 = "comfort-2"
	PresetComfort1 = "comfort-1"
	PresetComfort  = "comfort"
)

// pilotClimate turns a pilot-wire detection into a heat/off climate entity
// with presets. Off and comfort levels are required.
func pilotClimate(p *pool, stateCmd *device.Command, options []pilotOption) *device.EntityDescriptor {
	if stateCmd == nil || len(options) == 0 {
		return nil
	}
	byValue := make(map[int]pilotOption, len(options))
	minV, maxV := options[0].value, options[0].value
	for _, o := range options {
		byValue[o.value] = o
		minV = min(minV, o.value)
		maxV = max(maxV, o.value)
	}
	pick := func(values ...int) (pilotOption, bool) {
		for _, v := range values {
			if o, ok := byValue[v]; ok {
				return o, true
			}
		}
		return pilotOption{}, false
	}

	off, ok := pick(0, 10)
	if !ok {
		off = byValue[minV]
	}
	comfort, ok := pick(255, 99, 100)
	if !ok {
		comfort = byValue[maxV]
	}
	if off.cmd == nil || comfort.cmd == nil || off.value == comfort.value {
		return nil
	}

	desc := newComposite(device.PlatformClimate)
	desc.States[device.RoleMode] = stateCmd.ID
	desc.Modes = []string{"heat", "off"}
	desc.Actions[device.ActionOn] = bindPilot(comfort)
	desc.Actions[device.ActionOff] = bindPilot(off)
	desc.OptionActions = map[string]device.ActionBinding{PresetComfort: bindPilot(comfort)}
	desc.Options = []string{PresetComfort}

	c1, has1 := pick(50)
	c2, has2 := pick(40)
	if has1 && has2 {
		desc.Options = append(desc.Options, PresetComfort1, PresetComfort2)
		desc.OptionActions[PresetComfort1] = bindPilot(c1)
		desc.OptionActions[PresetComfort2] = bindPilot(c2)
	}
	if eco, found := pick(30); found {
		desc.Options = append(desc.Options, PresetEco)
		desc.OptionActions[PresetEco] = bindPilot(eco)
	}
	if away, found := pick(20); found {
		desc.Options = append(desc.Options, PresetAway)
		desc.OptionActions[PresetAway] = bindPilot(away)
	}

	for _, c := range p.infos() {
		if c.ValueType == device.ValueNumeric && normalizeGeneric(c.GenericType) == "TEMPERATURE" {
			desc.States[device.RoleCurrentTemperature] = c.ID
			break
		}
	}
	return desc
}

func bindPilot(o pilotOption) device.ActionBinding {
	b := bindAction(o.cmd)
	b.Value = strconv.Itoa(o.value)
	return b
}

// setpointKind classifies a thermostat command as a heating ("hot"),
// cooling ("cold") or auto-changeover ("auto") setpoint.
func setpointKind(c *device.Command) string {
	for _, s := range []string{strings.ToLower(c.LogicalID), strings.ToLower(c.Property)} {
		switch setpointNumber(s) {
		case "1":
			return "hot"
		case "2":
			return "cold"
		case "10":
			return "auto"
		}
	}
	name := strings.ToLower(c.Name)
	switch {
	case containsAny(name, []string{"chaud", "hot", "heat"}):
		return "hot"
	case containsAny(name, []string{"froid", "cold", "cool"}):
		return "cold"
	case strings.Contains(name, "auto"):
		return "auto"
	}
	return ""
}

// setpointNumber extracts N from "...setpoint-N...".
func setpointNumber(s string) string {
	i := strings.Index(s, "setpoint-")
	if i < 0 {
		return ""
	}
	rest := s[i+len("setpoint-"):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	return rest[:end]
}

// hvacModes maps a setpoint kind to the single mode of the thermostat.
var hvacModes = map[string]string{"hot": "heat", "cold": "cool", "auto": "auto"}

// detectThermostat binds a setpoint thermostat: current temperature,
// target temperature state and the setpoint slider.
func detectThermostat(d *device.Device, p *pool, rule *overrides.Rule) *device.EntityDescriptor {
	eq := strings.ToLower(d.LogicalID + " " + d.Name)
	if strings.Contains(eq, "fgrgbw") || d.HasCategory(device.CategoryLight) {
		return nil
	}

	var current *device.Command
	targets := make(map[string]*device.Command)
	sets := make(map[string]*device.Command)

	for _, c := range p.infos() {
		if c.ValueType != device.ValueNumeric {
			continue
		}
		g := normalizeGeneric(c.GenericType)
		kind := setpointKind(c)
		switch {
		case g == "THERMOSTAT_TEMPERATURE":
			if current == nil {
				current = c
			}
		case kind != "":
			targets[kind] = c
		case g == "THERMOSTAT_SETPOINT":
			if _, ok := targets["auto"]; !ok {
				targets["auto"] = c
			}
		}
	}
	for _, c := range p.actions() {
		if !isSlider(c) {
			continue
		}
		g := normalizeGeneric(c.GenericType)
		name := strings.ToLower(c.Name)
		if kind := setpointKind(c); kind != "" {
			sets[kind] = c
		} else if g == "THERMOSTAT_SET_SETPOINT" || g == "THERMOSTAT_SETPOINT" ||
			strings.Contains(name, "consigne") || strings.Contains(name, "setpoint") {
			if _, ok := sets["auto"]; !ok {
				sets["auto"] = c
			}
		}
	}

	kind := ""
	for _, k := range []string{"hot", "auto", "cold"} {
		if _, ok := sets[k]; ok {
			kind = k
			break
		}
	}
	if kind == "" || current == nil {
		return nil
	}

	desc := newComposite(device.PlatformClimate)
	desc.States[device.RoleCurrentTemperature] = current.ID
	if t, ok := targets[kind]; ok {
		desc.States[device.RoleTargetTemperature] = t.ID
	} else if t, ok := targets["auto"]; ok {
		desc.States[device.RoleTargetTemperature] = t.ID
	}
	set := sets[kind]
	desc.Actions[device.ActionSetTemperature] = bindAction(set)
	desc.Modes = []string{hvacModes[kind]}

	minT, maxT, step := defaultMinTemp, defaultMaxTemp, defaultTempStep
	if set.Min != nil && set.Max != nil && *set.Min < *set.Max {
		minT, maxT = *set.Min, *set.Max
	}
	if rule != nil && rule.Climate != nil {
		if rule.Climate.MinTemp != nil {
			minT = *rule.Climate.MinTemp
		}
		if rule.Climate.MaxTemp != nil {
			maxT = *rule.Climate.MaxTemp
		}
		if rule.Climate.TempStep != nil {
			step = *rule.Climate.TempStep
		}
	}
	desc.Min, desc.Max, desc.Step = &minT, &maxT, &step
	return desc
}

// Cover action labels.
var (
	coverOpenNames  = []string{"haut", "up", "open"}
	coverCloseNames = []string{"bas", "down", "close"}
)

// detectCover binds open/close actions, stop or set-position, and a
// numeric or string position state.
func detectCover(p *pool) *device.EntityDescriptor {
	var open, closeCmd, stop, setPos, pos *device.Command
	for _, c := range p.actions() {
		g := normalizeGeneric(c.GenericType)
		lid := strings.ToLower(c.LogicalID)
		name := strings.ToLower(strings.TrimSpace(c.Name))
		switch {
		case g == "FLAP_UP" || strings.Contains(lid, "-open-true") || oneOf(name, coverOpenNames...):
			open = c
		case g == "FLAP_DOWN" || strings.Contains(lid, "-close-true") || oneOf(name, coverCloseNames...):
			closeCmd = c
		case g == "FLAP_STOP" || (strings.Contains(lid, "-open-false") && strings.Contains(name, "stop")) || name == "stop":
			stop = c
		case g == "FLAP_SLIDER" || isSlider(c):
			setPos = c
		}
	}
	for _, c := range p.infos() {
		g := normalizeGeneric(c.GenericType)
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if g == "FLAP_STATE" || strings.Contains(strings.ToLower(c.LogicalID), "currentvalue") || oneOf(name, "etat", "position", "state") {
			if c.ValueType == device.ValueNumeric || c.ValueType == device.ValueString {
				pos = c
			}
		}
	}
	if open == nil || closeCmd == nil || pos == nil || (stop == nil && setPos == nil) {
		return nil
	}

	desc := newComposite(device.PlatformCover)
	desc.States[device.RolePosition] = pos.ID
	desc.Actions[device.ActionOpen] = bindAction(open)
	desc.Actions[device.ActionClose] = bindAction(closeCmd)
	if stop != nil {
		desc.Actions[device.ActionStop] = bindAction(stop)
	}
	if setPos != nil {
		desc.Actions[device.ActionSetPosition] = bindAction(setPos)
	}
	desc.Min, desc.Max = pos.Min, pos.Max
	return desc
}

// detectLight binds on/off, brightness and their states. Unless forced,
// the device must look like a light: a brightness action, the light
// category or a light generic type.
func detectLight(d *device.Device, p *pool, forced bool) *device.EntityDescriptor {
	if !forced && (d.HasCategory(device.CategoryOpening) || d.HasCategory(device.CategoryAutomatism)) &&
		!d.HasCategory(device.CategoryLight) {
		return nil
	}

	var on, off, brightness, stateCmd, brightnessState *device.Command
	for _, c := range p.actions() {
		switch {
		case isOnAction(c):
			on = c
		case isOffAction(c):
			off = c
		}
	}
	for _, c := range p.actions() {
		if c == on || c == off {
			continue
		}
		g := normalizeGeneric(c.GenericType)
		if isSlider(c) || oneOf(g, "LIGHT_SLIDER", "DIMMER") || containsAny(strings.ToLower(c.Name), brightnessHints) {
			brightness = c
			break
		}
	}
	for _, c := range p.infos() {
		lid := strings.ToLower(c.LogicalID)
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if stateCmd == nil && c.ValueType == device.ValueBinary &&
			(oneOf(name, "etat", "state", "on", "off") || strings.Contains(lid, "currentvalue")) {
			stateCmd = c
		}
		if brightnessState == nil && c.ValueType == device.ValueNumeric &&
			(strings.Contains(lid, "currentvalue") || oneOf(name, brightnessStateNames...)) {
			brightnessState = c
		}
	}

	if !forced {
		lightGeneric := false
		for _, c := range p.remaining() {
			if dom, ok := genericDomain(c); ok && dom == device.PlatformLight {
				lightGeneric = true
				break
			}
		}
		if brightness == nil && !d.HasCategory(device.CategoryLight) && !lightGeneric {
			return nil
		}
	}
	if !(on != nil && off != nil) && brightness == nil {
		return nil
	}

	desc := newComposite(device.PlatformLight)
	if on != nil {
		desc.Actions[device.ActionOn] = bindAction(on)
	}
	if off != nil {
		desc.Actions[device.ActionOff] = bindAction(off)
	}
	if brightness != nil {
		desc.Actions[device.ActionBrightness] = bindAction(brightness)
	}
	if stateCmd != nil {
		desc.States[device.RoleState] = stateCmd.ID
	}
	if brightnessState != nil {
		desc.States[device.RoleBrightness] = brightnessState.ID
	}
	return desc
}

// detectSwitch binds a state with on and off actions. The state is the
// binary command the domain table maps to a switch, else any switch-typed
// command, else the first binary command. A brightness action turns the
// same actions into a light, which detectLight claims first.
func detectSwitch(p *pool) *device.EntityDescriptor {
	var typedBinary, typed, binary *device.Command
	for _, c := range p.infos() {
		dom, ok := genericDomain(c)
		isSwitch := ok && dom == device.PlatformSwitch
		switch {
		case isSwitch && c.ValueType == device.ValueBinary && typedBinary == nil:
			typedBinary = c
		case isSwitch && c.ValueType == device.ValueNumeric && typed == nil:
			typed = c
		case c.ValueType == device.ValueBinary && binary == nil:
			binary = c
		}
	}
	stateCmd := typedBinary
	if stateCmd == nil {
		stateCmd = typed
	}
	if stateCmd == nil {
		stateCmd = binary
	}
	if stateCmd == nil {
		return nil
	}

	var on, off *device.Command
	for _, c := range p.actions() {
		switch {
		case on == nil && isOnAction(c):
			on = c
		case off == nil && isOffAction(c):
			off = c
		}
	}
	if on == nil || off == nil {
		return nil
	}

	desc := newComposite(device.PlatformSwitch)
	desc.States[device.RoleState] = stateCmd.ID
	desc.Actions[device.ActionOn] = bindAction(on)
	desc.Actions[device.ActionOff] = bindAction(off)
	return desc
}

// detectWaterHeater binds an on/off water heater. Explicit command ids in
// the rule win; the rest comes from switch detection and then from a
// scored search over the remaining commands.
func detectWaterHeater(p *pool, cfg *overrides.WaterHeaterRule) *device.EntityDescriptor {
	if cfg == nil {
		cfg = &overrides.WaterHeaterRule{}
	}
	byID := func(id *int) *device.Command {
		if id == nil {
			return nil
		}
		return p.byID(*id)
	}
	stateCmd, on, off := byID(cfg.StateCmdID), byID(cfg.OnCmdID), byID(cfg.OffCmdID)

	if stateCmd == nil || on == nil || off == nil {
		if sw := detectSwitch(p); sw != nil {
			if stateCmd == nil {
				stateCmd = p.byID(sw.States[device.RoleState])
			}
			if on == nil {
				on = p.byID(sw.Actions[device.ActionOn].CmdID)
			}
			if off == nil {
				off = p.byID(sw.Actions[device.ActionOff].CmdID)
			}
		}
	}

	if on == nil || off == nil {
		for _, c := range p.actions() {
			g := normalizeGeneric(c.GenericType)
			if on == nil && (isOnAction(c) || g == "WATER_HEATER_ON") {
				on = c
			}
			if off == nil && (isOffAction(c) || g == "WATER_HEATER_OFF") {
				off = c
			}
		}
	}
	if stateCmd == nil {
		best := -1
		for _, c := range p.infos() {
			score := 0
			if c.ValueType == device.ValueBinary {
				score += 3
			}
			if containsAny(strings.ToLower(c.Name), []string{"etat", "state", "status"}) {
				score += 2
			}
			if strings.Contains(strings.ToLower(c.LogicalID), "currentvalue") {
				score++
			}
			if score > best {
				best, stateCmd = score, c
			}
		}
	}
	if stateCmd == nil || on == nil || off == nil {
		return nil
	}

	desc := newComposite(device.PlatformWaterHeater)
	desc.States[device.RoleState] = stateCmd.ID
	desc.Actions[device.ActionOn] = bindAction(on)
	desc.Actions[device.ActionOff] = bindAction(off)
	desc.Modes = waterHeaterModes(cfg.Modes)
	return desc
}

// waterHeaterModes normalises configured modes so "off" always comes first.
func waterHeaterModes(configured []string) []string {
	if len(configured) == 0 {
		configured = defaultWaterHeaterModes
	}
	modes := []string{"off"}
	seen := map[string]bool{"off": true}
	for _, m := range configured {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		modes = append(modes, m)
	}
	return modes
}

// detectNumber binds a slider action and the first numeric state.
func detectNumber(p *pool) *device.EntityDescriptor {
	var set, stateCmd *device.Command
	for _, c := range p.actions() {
		if isSlider(c) {
			set = c
		}
	}
	for _, c := range p.infos() {
		if c.ValueType == device.ValueNumeric {
			stateCmd = c
			break
		}
	}
	if set == nil || stateCmd == nil {
		return nil
	}

	desc := newComposite(device.PlatformNumber)
	desc.States[device.RoleState] = stateCmd.ID
	desc.Actions[device.ActionSet] = bindAction(set)
	desc.Min, desc.Max = set.Min, set.Max
	return desc
}

// detectSelect is the forced-select fallback for non pilot-wire devices:
// every fixed-value action becomes an option.
func detectSelect(p *pool) *device.EntityDescriptor {
	infos := p.infos()
	if len(infos) == 0 {
		return nil
	}
	desc := newComposite(device.PlatformSelect)
	desc.States[device.RoleState] = infos[0].ID
	desc.OptionActions = make(map[string]device.ActionBinding)
	for _, c := range p.actions() {
		if c.ValueType != device.ValueOther {
			continue
		}
		label := strings.TrimSpace(firstNonEmpty(c.Name, c.LogicalID))
		if _, dup := desc.OptionActions[label]; dup || label == "" {
			continue
		}
		b := bindAction(c)
		b.Value = c.ActionValue
		desc.Options = append(desc.Options, label)
		desc.OptionActions[label] = b
	}
	if len(desc.Options) < 2 {
		return nil
	}
	return desc
}
