package dispatch

import (
	"errors"
	"testing"

	"github.com/nerrad567/jeedom-bridge/internal/device"
)

func planFixtures() map[string]*device.EntityDescriptor {
	return map[string]*device.EntityDescriptor{
		"dimmer": {
			Platform: device.PlatformLight,
			Slug:     "salon_lampe",
			Actions: map[device.Role]device.ActionBinding{
				device.ActionBrightness: {CmdID: 21, Slider: true},
			},
		},
		"light": {
			Platform: device.PlatformLight,
			Slug:     "cuisine_lampe",
			Actions: map[device.Role]device.ActionBinding{
				device.ActionOn:         {CmdID: 31},
				device.ActionOff:        {CmdID: 32},
				device.ActionBrightness: {CmdID: 33, Slider: true},
			},
		},
		"cover": {
			Platform: device.PlatformCover,
			Slug:     "volet_chambre",
			Actions: map[device.Role]device.ActionBinding{
				device.ActionOpen:        {CmdID: 41},
				device.ActionClose:       {CmdID: 42},
				device.ActionStop:        {CmdID: 43},
				device.ActionSetPosition: {CmdID: 44, Slider: true, Property: "targetValue"},
			},
		},
		"cover_slider_only": {
			Platform: device.PlatformCover,
			Slug:     "store",
			Actions: map[device.Role]device.ActionBinding{
				device.ActionSetPosition: {CmdID: 45, Slider: true, Min: floatPtr(0), Max: floatPtr(255)},
			},
		},
		"select": {
			Platform: device.PlatformSelect,
			Slug:     "radiateur_mode",
			Options:  []string{"Off", "Eco", "Comfort"},
			OptionActions: map[string]device.ActionBinding{
				"Off":     {CmdID: 51, Value: "0"},
				"Eco":     {CmdID: 52, Value: "30"},
				"Comfort": {CmdID: 53, Value: "99"},
			},
		},
		"climate": {
			Platform: device.PlatformClimate,
			Slug:     "thermostat",
			Actions: map[device.Role]device.ActionBinding{
				device.ActionSetTemperature: {CmdID: 61, Slider: true},
			},
			Options: []string{"eco", "comfort"},
			OptionActions: map[string]device.ActionBinding{
				"eco":     {CmdID: 62, Value: "30"},
				"comfort": {CmdID: 63, Value: "99"},
			},
		},
		"alarm": {
			Platform: device.PlatformAlarm,
			Slug:     "clavier",
			Actions: map[device.Role]device.ActionBinding{
				device.ActionArmAway: {CmdID: 71},
				device.ActionDisarm:  {CmdID: 72},
			},
		},
		"water_heater": {
			Platform: device.PlatformWaterHeater,
			Slug:     "ballon",
			Actions: map[device.Role]device.ActionBinding{
				device.ActionOn:  {CmdID: 81},
				device.ActionOff: {CmdID: 82},
			},
		},
	}
}

func TestPlan(t *testing.T) {
	fx := planFixtures()
	tests := []struct {
		name       string
		desc       string
		req        Request
		wantAction device.Role
		wantCmd    int
		wantValue  string
		wantSlider bool
	}{
		{"dimmer brightness", "dimmer", Request{Value: 128}, device.ActionBrightness, 21, "50", true},
		{"dimmer on without on cmd", "dimmer", Request{Action: "on"}, device.ActionOn, 21, "99", true},
		{"dimmer off without off cmd", "dimmer", Request{Value: false}, device.ActionOff, 21, "0", true},
		{"light on word", "light", Request{Value: "ON"}, device.ActionOn, 31, "", false},
		{"light explicit off", "light", Request{Action: "off"}, device.ActionOff, 32, "", false},
		{"cover word", "cover", Request{Value: "stop"}, device.ActionStop, 43, "", false},
		{"cover percent zwave", "cover", Request{Value: 100}, device.ActionSetPosition, 44, "99", true},
		{"cover open fallback to slider", "cover_slider_only", Request{Action: "open"}, device.ActionOpen, 45, "255", true},
		{"select exact", "select", Request{Value: "Eco"}, device.ActionSelectOption, 52, "30", false},
		{"select case insensitive", "select", Request{Action: "select_option", Value: "comfort"}, device.ActionSelectOption, 53, "99", false},
		{"climate setpoint", "climate", Request{Value: 21.5}, device.ActionSetTemperature, 61, "21.5", true},
		{"climate preset", "climate", Request{Value: "eco"}, device.ActionPreset, 62, "30", false},
		{"alarm state name", "alarm", Request{Value: "armed_away"}, device.ActionArmAway, 71, "", false},
		{"alarm disarm", "alarm", Request{Action: "disarm"}, device.ActionDisarm, 72, "", false},
		{"water heater mode", "water_heater", Request{Value: "eco"}, device.ActionOn, 81, "", false},
		{"water heater off", "water_heater", Request{Value: "off"}, device.ActionOff, 82, "", false},
		{"water heater zero", "water_heater", Request{Value: 0}, device.ActionOff, 82, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, call, err := plan(fx[tt.desc], tt.req)
			if err != nil {
				t.Fatalf("plan() error = %v", err)
			}
			if action != tt.wantAction {
				t.Errorf("action = %s, want %s", action, tt.wantAction)
			}
			if call.CmdID != tt.wantCmd || call.Value != tt.wantValue {
				t.Errorf("call = %+v, want cmd %d value %q", call, tt.wantCmd, tt.wantValue)
			}
			if got := call.Options["slider"] != ""; got != tt.wantSlider {
				t.Errorf("slider option = %v, want %v", call.Options, tt.wantSlider)
			}
		})
	}
}

func TestPlan_Errors(t *testing.T) {
	fx := planFixtures()
	tests := []struct {
		name string
		desc string
		req  Request
		want error
	}{
		{"no action no value", "light", Request{}, ErrInvalidValue},
		{"unknown option", "select", Request{Value: "Turbo"}, ErrInvalidValue},
		{"non numeric position", "cover", Request{Action: "set_position", Value: "half"}, ErrInvalidValue},
		{"bool brightness", "light", Request{Action: "brightness", Value: true}, ErrInvalidValue},
		{"action of other platform", "alarm", Request{Action: "open"}, ErrUnsupportedAction},
		{"missing binding", "alarm", Request{Action: "arm_home"}, ErrUnsupportedAction},
		{"uninferable alarm", "alarm", Request{Value: "panic"}, ErrUnsupportedAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := plan(fx[tt.desc], tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("plan() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRPCValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"42", 42},
		{"-5", -5.0},
		{"21.5", 21.5},
		{"abc", "abc"},
		{"NaN", "NaN"},
	}
	for _, tt := range tests {
		if got := rpcValue(tt.in); got != tt.want {
			t.Errorf("rpcValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
