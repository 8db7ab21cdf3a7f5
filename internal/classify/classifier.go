package classify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/overrides"
)

// Logger defines the logging interface used by the Classifier.
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

// Skip reasons.
const (
	SkipBlacklisted       = "blacklisted"
	SkipExcluded          = "excluded"
	SkipUnclassified      = "unclassified_action"
	SkipUnresolvedBinding = "unresolved_bindings"
)

// Skip records a command that yielded no descriptor.
type Skip struct {
	CmdID  int    `json:"cmd_id"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// Report is the result of classifying one device.
type Report struct {
	Descriptors []*device.EntityDescriptor
	Skipped     []Skip
}

// Classifier turns devices into entity descriptors.
//
// Classification is a pure function of the device snapshot and the
// override resolver; the Classifier only holds its logger and is safe for
// concurrent use.
type Classifier struct {
	logger Logger
}

// New creates a Classifier.
func New() *Classifier {
	return &Classifier{logger: noopLogger{}}
}

// SetLogger sets the logger.
func (c *Classifier) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// Classify computes the entity descriptors of a device.
//
// A platform forced by the device or by its matching rule produces exactly
// one composite entity, or none when its required bindings are missing.
// Otherwise composites are detected first (alarm, pilot wire, climate,
// water heater, cover, light, switch, number) and the remaining readable
// commands become sensors and binary sensors. Overrides are applied last.
//
// Parameters:
//   - d: Device snapshot (not modified)
//   - r: Override resolver; nil behaves like overrides.Empty()
//
// Returns:
//   - Report: Descriptors in a deterministic order, plus skipped commands
func (c *Classifier) Classify(d *device.Device, r *overrides.Resolver) Report {
	if r == nil {
		r = overrides.Empty()
	}
	rule := r.MatchFor(d.ID, d.Name)

	var report Report
	var included []*device.Command
	for _, cmd := range d.SortedCommands() {
		if Blacklisted(cmd) {
			report.Skipped = append(report.Skipped, Skip{CmdID: cmd.ID, Reason: SkipBlacklisted})
			continue
		}
		decision := r.IncludeDecision(overrides.Candidate{
			ID:          cmd.ID,
			Name:        cmd.Name,
			GenericType: cmd.GenericType,
		}, rule)
		if !decision.Include {
			report.Skipped = append(report.Skipped, Skip{CmdID: cmd.ID, Reason: SkipExcluded, Detail: string(decision.Reason)})
			continue
		}
		included = append(included, cmd)
	}

	p := newPool(included)
	b := newBuilder(d, rule)

	forced := d.PlatformOverride
	if forced == "" {
		forced = rule.ForcedPlatform()
	}
	if forced != "" && !forced.IsComposite() {
		c.logger.Warn("ignoring non-composite platform override", "device_id", d.ID, "platform", forced)
		forced = ""
	}

	if forced != "" {
		desc := forcedComposite(forced, d, p, rule)
		var err error
		if desc == nil {
			err = fmt.Errorf("%s: no matching commands", forced)
		} else {
			err = validateBindings(desc)
		}
		if err != nil {
			c.logger.Warn("forced platform has unresolved bindings, skipping device",
				"device_id", d.ID,
				"device", d.Name,
				"error", err,
			)
			for _, cmd := range included {
				report.Skipped = append(report.Skipped, Skip{CmdID: cmd.ID, Reason: SkipUnresolvedBinding, Detail: err.Error()})
			}
			return report
		}
		report.Descriptors = append(report.Descriptors, b.composite(desc))
		return report
	}

	for _, desc := range detectComposites(d, p, rule) {
		report.Descriptors = append(report.Descriptors, b.composite(desc))
	}

	for _, cmd := range p.remaining() {
		if cmd.IsAction() {
			c.logger.Warn("skipping unclassified action command",
				"device_id", d.ID,
				"cmd_id", cmd.ID,
				"cmd", cmd.Name,
			)
			report.Skipped = append(report.Skipped, Skip{CmdID: cmd.ID, Reason: SkipUnclassified})
			continue
		}
		report.Descriptors = append(report.Descriptors, b.perCommand(cmd))
	}
	return report
}

// detectComposites runs the automatic detectors in priority order. Each
// accepted composite consumes its commands before the next detector runs.
func detectComposites(d *device.Device, p *pool, rule *overrides.Rule) []*device.EntityDescriptor {
	var found []*device.EntityDescriptor
	accept := func(desc *device.EntityDescriptor) bool {
		if desc == nil || validateBindings(desc) != nil {
			return false
		}
		p.consume(desc)
		found = append(found, desc)
		return true
	}

	accept(detectAlarm(d, p, false))
	accept(pilotSelect(detectPilotWire(d, p)))
	climate := accept(detectThermostat(d, p, rule))

	waterHeater := false
	if rule != nil && rule.WaterHeater != nil {
		waterHeater = accept(detectWaterHeater(p, rule.WaterHeater))
	}
	cover := accept(detectCover(p))

	light := false
	if !cover && !climate && !waterHeater {
		light = accept(detectLight(d, p, false))
	}
	if !light && !cover && !climate && !waterHeater {
		accept(detectSwitch(p))
	}
	accept(detectNumber(p))
	return found
}

// forcedComposite builds the single entity of a forced platform from the
// included commands.
func forcedComposite(platform device.Platform, d *device.Device, p *pool, rule *overrides.Rule) *device.EntityDescriptor {
	switch platform {
	case device.PlatformAlarm:
		return detectAlarm(d, p, true)
	case device.PlatformSwitch:
		return detectSwitch(p)
	case device.PlatformLight:
		return detectLight(d, p, true)
	case device.PlatformCover:
		return detectCover(p)
	case device.PlatformNumber:
		return detectNumber(p)
	case device.PlatformSelect:
		if desc := pilotSelect(detectPilotWire(d, p)); desc != nil {
			return desc
		}
		return detectSelect(p)
	case device.PlatformClimate:
		if desc := detectThermostat(d, p, rule); desc != nil {
			return desc
		}
		state, options := detectPilotWire(d, p)
		return pilotClimate(p, state, options)
	case device.PlatformWaterHeater:
		var cfg *overrides.WaterHeaterRule
		if rule != nil {
			cfg = rule.WaterHeater
		}
		return detectWaterHeater(p, cfg)
	}
	return nil
}

// builder names descriptors and applies overrides for one device.
type builder struct {
	d          *device.Device
	rule       *overrides.Rule
	deviceName string
	deviceSlug string
	usedSlugs  map[string]bool
}

func newBuilder(d *device.Device, rule *overrides.Rule) *builder {
	name := d.Name
	if rule != nil && strings.TrimSpace(rule.DeviceName) != "" {
		name = rule.DeviceName
	}
	if strings.TrimSpace(name) == "" {
		name = "Jeedom " + strconv.Itoa(d.ID)
	}
	slug := device.GenerateSlug(name)
	if rule != nil && strings.TrimSpace(rule.Slug) != "" {
		slug = device.GenerateSlug(rule.Slug)
	}
	return &builder{
		d:          d,
		rule:       rule,
		deviceName: name,
		deviceSlug: slug,
		usedSlugs:  make(map[string]bool),
	}
}

// claimSlug reserves slug within the device, appending the command id on
// collision.
func (b *builder) claimSlug(slug string, cmdID int) string {
	if b.usedSlugs[slug] {
		slug = slug + "_" + strconv.Itoa(cmdID)
	}
	b.usedSlugs[slug] = true
	return slug
}

func (b *builder) base(desc *device.EntityDescriptor) {
	desc.DeviceID = b.d.ID
	desc.DeviceName = b.deviceName
	desc.DeviceSlug = b.deviceSlug
}

// primaryCmd is the command whose override governs a composite entity.
func primaryCmd(desc *device.EntityDescriptor) int {
	for _, role := range []device.Role{device.RoleState, device.RolePosition, device.RoleMode, device.RoleCurrentTemperature} {
		if id, ok := desc.States[role]; ok {
			return id
		}
	}
	if ids := desc.CommandIDs(); len(ids) > 0 {
		return ids[0]
	}
	return 0
}

func (b *builder) composite(desc *device.EntityDescriptor) *device.EntityDescriptor {
	b.base(desc)
	primary := primaryCmd(desc)

	desc.UniqueID = fmt.Sprintf("jeedom_%d_%s", b.d.ID, desc.Platform)
	desc.Name = b.deviceName
	if desc.Platform == device.PlatformSelect {
		desc.Name = b.deviceName + " Mode"
	}

	if desc.Platform == device.PlatformAlarm {
		desc.StateMap = alarmStateMap(b.rule)
	}

	slug := b.deviceSlug
	ov, hasOverride := b.rule.Override(primary)
	if hasOverride {
		applyCommon(desc, ov)
		if ov.CmdSlug != "" {
			slug = device.JoinSlug(b.deviceSlug, device.GenerateSlug(ov.CmdSlug))
		}
		if ov.Inverted != nil && desc.Platform == device.PlatformSwitch {
			desc.Inverted = *ov.Inverted
		}
		if sm := ov.EffectiveStateMap(); len(sm) > 0 {
			desc.StateMap = lowerKeys(sm)
		}
	}
	desc.Slug = b.claimSlug(slug, primary)
	return desc
}

func (b *builder) perCommand(cmd *device.Command) *device.EntityDescriptor {
	desc := &device.EntityDescriptor{
		States: map[device.Role]int{device.RoleState: cmd.ID},
	}
	b.base(desc)
	desc.UniqueID = fmt.Sprintf("jeedom_%d_%d", b.d.ID, cmd.ID)

	cmdName := strings.TrimSpace(firstNonEmpty(cmd.Name, cmd.LogicalID))
	desc.Name = strings.TrimSpace(b.deviceName + " " + cmdName)
	generic := normalizeGeneric(cmd.GenericType)

	if class, ok := binaryDeviceClass(cmd); ok {
		desc.Platform = device.PlatformBinarySensor
		desc.DeviceClass = class
	} else if cmd.ValueType == device.ValueBinary {
		desc.Platform = device.PlatformBinarySensor
	} else if p, ok := DomainFor(generic); ok && p == device.PlatformBinarySensor {
		desc.Platform = device.PlatformBinarySensor
	} else {
		desc.Platform = device.PlatformSensor
		def := sensorDefaults[generic]
		desc.DeviceClass = def.deviceClass
		desc.StateClass = def.stateClass
		desc.Unit = firstNonEmpty(cmd.Unit, def.unit)
	}

	ov, hasOverride := b.rule.Override(cmd.ID)
	cmdSlug := device.GenerateSlug(firstNonEmpty(cmd.Name, cmd.LogicalID, "cmd_"+strconv.Itoa(cmd.ID)))
	if hasOverride {
		applyCommon(desc, ov)
		if ov.CmdSlug != "" {
			cmdSlug = device.GenerateSlug(ov.CmdSlug)
		}
		if ov.Unit != nil && desc.Platform == device.PlatformSensor {
			desc.Unit = *ov.Unit
		}
		if ov.Inverted != nil && desc.Platform == device.PlatformBinarySensor {
			desc.Inverted = *ov.Inverted
		}
		if desc.Platform == device.PlatformBinarySensor {
			desc.PayloadOn = ov.PayloadOn
			desc.PayloadOff = ov.PayloadOff
		}
		if sm := ov.EffectiveStateMap(); len(sm) > 0 {
			desc.StateMap = lowerKeys(sm)
		}
	}
	if desc.DeviceClass == "illuminance" && strings.EqualFold(desc.Unit, "lux") {
		desc.Unit = "lx"
	}

	desc.Slug = b.claimSlug(device.JoinSlug(b.deviceSlug, cmdSlug), cmd.ID)
	return desc
}

// applyCommon applies the override fields shared by every platform.
func applyCommon(desc *device.EntityDescriptor, ov overrides.EntityOverride) {
	if ov.Name != "" {
		desc.Name = ov.Name
	}
	if ov.UniqueID != "" {
		desc.UniqueID = ov.UniqueID
	}
	if ov.Icon != "" {
		desc.Icon = ov.Icon
	}
	if ov.DeviceClass != nil {
		desc.DeviceClass = *ov.DeviceClass
	}
	if ov.StateClass != nil {
		desc.StateClass = *ov.StateClass
	}
}

// alarmStateMap returns the rule's alarm state map, or the default one.
func alarmStateMap(rule *overrides.Rule) map[string]string {
	if sm := rule.AlarmStateMap(); len(sm) > 0 {
		return lowerKeys(sm)
	}
	return lowerKeys(defaultAlarmStateMap)
}

// lowerKeys copies a state map with keys normalised like raw values.
func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
