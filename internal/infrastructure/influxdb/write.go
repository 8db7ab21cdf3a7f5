package influxdb

import (
	"fmt"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementCommandValue = "jeedom_cmd"
	MeasurementDispatch     = "jeedom_dispatch"
)

// CommandSample is one observed Jeedom info-command value.
type CommandSample struct {
	DeviceID   int
	CommandID  int
	EntitySlug string
	Platform   string
	Value      any
	At         time.Time
}

// DispatchSample is the outcome of one command sent to Jeedom.
type DispatchSample struct {
	EntitySlug string
	Action     string
	Transport  string
	Success    bool
	Fallback   bool
	Duration   time.Duration
	At         time.Time
}

// WriteCommandValue records a command value. Numbers and booleans land in
// the "value" and "state" fields; anything else is stored as "text".
func (c *Client) WriteCommandValue(s CommandSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(s))
}

// WriteDispatch records a dispatch outcome.
func (c *Client) WriteDispatch(s DispatchSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(dispatchPoint(s))
}

func commandPoint(s CommandSample) *write.Point {
	tags := map[string]string{
		"eqlogic_id": strconv.Itoa(s.DeviceID),
		"cmd_id":     strconv.Itoa(s.CommandID),
	}
	if s.EntitySlug != "" {
		tags["entity"] = s.EntitySlug
	}
	if s.Platform != "" {
		tags["platform"] = s.Platform
	}

	fields := make(map[string]interface{}, 1)
	switch v := s.Value.(type) {
	case bool:
		fields["state"] = v
	case float64:
		fields["value"] = v
	case float32:
		fields["value"] = float64(v)
	case int:
		fields["value"] = float64(v)
	case int64:
		fields["value"] = float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			fields["value"] = f
		} else {
			fields["text"] = v
		}
	case nil:
		fields["text"] = ""
	default:
		fields["text"] = fmt.Sprint(v)
	}

	return write.NewPoint(MeasurementCommandValue, tags, fields, timestampOrNow(s.At))
}

func dispatchPoint(s DispatchSample) *write.Point {
	tags := map[string]string{
		"entity":    s.EntitySlug,
		"action":    s.Action,
		"transport": s.Transport,
	}
	fields := map[string]interface{}{
		"success":     s.Success,
		"fallback":    s.Fallback,
		"duration_ms": s.Duration.Milliseconds(),
	}
	return write.NewPoint(MeasurementDispatch, tags, fields, timestampOrNow(s.At))
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
