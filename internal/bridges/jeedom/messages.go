package jeedom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/mqtt"
)

// Jeedom's MQTT plugin publishes PHP-encoded JSON: ids arrive as numbers or
// strings, flags as "0"/"1" or booleans, and empty objects as [].

// Discovery is one parsed eqLogic announcement.
type Discovery struct {
	Device   device.DeviceInfo
	Commands []device.Command

	// Dropped counts cmds without a usable id.
	Dropped int
}

// CommandIDs returns the ids of the announced commands as a set.
func (d *Discovery) CommandIDs() map[int]bool {
	ids := make(map[int]bool, len(d.Commands))
	for _, c := range d.Commands {
		ids[c.ID] = true
	}
	return ids
}

// Event is one parsed value update.
type Event struct {
	CmdID int

	// Value is the decoded JSON value (float64, string, bool).
	Value any

	// Present is false when the payload carried no value (null or absent).
	// Such events are ignored.
	Present bool
}

// CommandRequest is an inbound control message on {prefix}/entity/{slug}/set.
//
// Examples:
//
//	{"action": "on"}
//	{"value": 42}
//	{"action": "select_option", "value": "Eco"}
//	42
type CommandRequest struct {
	Action string `json:"action,omitempty"`
	Value  any    `json:"value,omitempty"`
	Source string `json:"source,omitempty"`
}

// rawEqLogic mirrors the eqLogic object of jeedom/discovery/eqLogic/{id}.
type rawEqLogic struct {
	ID               flexInt       `json:"id"`
	Name             string        `json:"name"`
	LogicalID        flexString    `json:"logicalId"`
	EqTypeName       string        `json:"eqType_name"`
	IsEnable         *flexBool     `json:"isEnable"`
	Category         rawCategories `json:"category"`
	PlatformOverride string        `json:"platform_override"`
	Cmds             rawCmdList    `json:"cmds"`
}

type rawCmd struct {
	ID            flexInt      `json:"id"`
	EqLogicID     flexInt      `json:"eqLogic_id"`
	Name          string       `json:"name"`
	LogicalID     flexString   `json:"logicalId"`
	Type          string       `json:"type"`
	SubType       string       `json:"subType"`
	GenericType   flexString   `json:"generic_type"`
	Unite         flexString   `json:"unite"`
	Order         flexInt      `json:"order"`
	Configuration rawCmdConfig `json:"configuration"`
}

type rawCmdConfig struct {
	Property flexString `json:"property"`
	Value    flexString `json:"value"`
	MinValue flexFloat  `json:"minValue"`
	MaxValue flexFloat  `json:"maxValue"`
	Class    flexString `json:"class"`
}

// UnmarshalJSON tolerates [] for an empty configuration.
func (c *rawCmdConfig) UnmarshalJSON(data []byte) error {
	if isEmptyContainer(data) {
		*c = rawCmdConfig{}
		return nil
	}
	type plain rawCmdConfig
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = rawCmdConfig(p)
	return nil
}

// rawCategories accepts {"light":"1"}, {"light":true} or [].
type rawCategories map[string]flexBool

func (rc *rawCategories) UnmarshalJSON(data []byte) error {
	if isEmptyContainer(data) {
		*rc = nil
		return nil
	}
	m := make(map[string]flexBool)
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*rc = m
	return nil
}

// rawCmdList accepts cmds as an object keyed by id or as an array.
type rawCmdList []rawCmd

func (l *rawCmdList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var list []rawCmd
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var byID map[string]rawCmd
	if err := json.Unmarshal(data, &byID); err != nil {
		return err
	}
	keys := make([]string, 0, len(byID))
	for k := range byID {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	list := make([]rawCmd, 0, len(byID))
	for _, k := range keys {
		c := byID[k]
		if c.ID == 0 {
			if id, err := strconv.Atoi(k); err == nil {
				c.ID = flexInt(id)
			}
		}
		list = append(list, c)
	}
	*l = list
	return nil
}

// maxExactInt is the largest integer a float64 holds exactly.
const maxExactInt = 1 << 53

// flexInt accepts 12, "12", 12.0 and null. Fractional and out-of-range
// numbers are rejected.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = flexInt(n)
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || n != math.Trunc(n) || math.Abs(n) > maxExactInt {
		return fmt.Errorf("invalid integer %q", s)
	}
	*f = flexInt(int(n))
	return nil
}

// flexBool accepts true, 1, "1", "true" and their negatives.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	switch s {
	case "1", "true", "on", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

// flexString accepts any scalar and keeps its text form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*f = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case data[0] == '{' || data[0] == '[':
		*f = ""
	default:
		*f = flexString(data)
	}
	return nil
}

// flexFloat accepts 12.5, "12,5", "" and null.
type flexFloat struct {
	v  float64
	ok bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || s == "null" {
		*f = flexFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = flexFloat{}
		return nil
	}
	*f = flexFloat{v: v, ok: true}
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.ok {
		return nil
	}
	v := f.v
	return &v
}

func isEmptyContainer(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte("[]"))
}

// ParseDiscovery decodes an eqLogic discovery payload.
//
// Commands without an id are dropped and counted; a command claiming a
// different eqLogic is re-homed to the announcing device.
//
// Returns:
//   - *Discovery: Device fields and its commands in payload order
//   - error: ErrParse for invalid JSON, ErrMissingIdentity when the id is absent
func ParseDiscovery(payload []byte) (*Discovery, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrParse)
	}

	var raw rawEqLogic
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if raw.ID <= 0 {
		return nil, ErrMissingIdentity
	}

	enabled := true
	if raw.IsEnable != nil {
		enabled = bool(*raw.IsEnable)
	}

	var categories map[device.Category]bool
	for k, v := range raw.Category {
		if !v {
			continue
		}
		if categories == nil {
			categories = make(map[device.Category]bool)
		}
		categories[device.Category(strings.ToLower(k))] = true
	}

	override, _ := device.ParsePlatform(strings.TrimSpace(raw.PlatformOverride))

	d := &Discovery{
		Device: device.DeviceInfo{
			ID:               int(raw.ID),
			Name:             strings.TrimSpace(raw.Name),
			LogicalID:        string(raw.LogicalID),
			EqType:           raw.EqTypeName,
			Enabled:          enabled,
			Categories:       categories,
			PlatformOverride: override,
		},
	}

	seen := make(map[int]bool, len(raw.Cmds))
	for _, rc := range raw.Cmds {
		if rc.ID <= 0 || seen[int(rc.ID)] {
			d.Dropped++
			continue
		}
		seen[int(rc.ID)] = true
		d.Commands = append(d.Commands, device.Command{
			ID:          int(rc.ID),
			DeviceID:    d.Device.ID,
			Name:        strings.TrimSpace(rc.Name),
			LogicalID:   string(rc.LogicalID),
			GenericType: strings.TrimSpace(string(rc.GenericType)),
			Direction:   device.Direction(strings.ToLower(rc.Type)),
			ValueType:   device.ValueType(strings.ToLower(rc.SubType)),
			Unit:        strings.TrimSpace(string(rc.Unite)),
			Order:       int(rc.Order),
			Property:    string(rc.Configuration.Property),
			ActionValue: string(rc.Configuration.Value),
			Min:         rc.Configuration.MinValue.ptr(),
			Max:         rc.Configuration.MaxValue.ptr(),
			ZWaveClass:  string(rc.Configuration.Class),
		})
	}
	return d, nil
}

// ParseEvent decodes a jeedom/cmd/event/{cmdID} payload.
//
// The command id comes from the topic suffix, or from a cmd_id/id body
// field when the topic carries none. The body is {"value": ...} or a bare
// JSON scalar. A null or absent value yields Present=false and no error.
func ParseEvent(topic string, payload []byte) (Event, error) {
	var ev Event
	if id, err := strconv.Atoi(mqtt.TopicSuffix(topic)); err == nil && id > 0 {
		ev.CmdID = id
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		if ev.CmdID == 0 {
			return ev, fmt.Errorf("%w: no command id in topic %q", ErrParse, topic)
		}
		return ev, nil
	}

	var body any
	if err := json.Unmarshal(payload, &body); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrParse, err)
	}

	switch v := body.(type) {
	case map[string]any:
		if ev.CmdID == 0 {
			ev.CmdID = bodyID(v)
		}
		if val, ok := v["value"]; ok && val != nil {
			ev.Value = val
			ev.Present = true
		}
	case []any:
		return ev, fmt.Errorf("%w: unexpected array body", ErrParse)
	case nil:
	default:
		ev.Value = v
		ev.Present = true
	}

	if ev.CmdID == 0 {
		return ev, fmt.Errorf("%w: no command id in topic %q", ErrParse, topic)
	}
	return ev, nil
}

func bodyID(m map[string]any) int {
	for _, key := range []string{"cmd_id", "id"} {
		switch v := m[key].(type) {
		case float64:
			if v > 0 && v == math.Trunc(v) && v <= maxExactInt {
				return int(v)
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// ParseCommandRequest decodes an inbound entity command. A bare scalar is
// taken as the value.
func ParseCommandRequest(payload []byte) (CommandRequest, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return CommandRequest{}, fmt.Errorf("%w: empty command", ErrParse)
	}
	if payload[0] == '{' {
		var req CommandRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return CommandRequest{}, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return req, nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		// Plain text such as ON or open.
		return CommandRequest{Value: string(payload)}, nil //nolint:nilerr // unquoted text is a valid value
	}
	if _, isList := v.([]any); isList {
		return CommandRequest{}, fmt.Errorf("%w: unexpected array command", ErrParse)
	}
	return CommandRequest{Value: v}, nil
}
