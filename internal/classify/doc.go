// Package classify decides which entities a Jeedom device becomes.
//
// Classify is a pure function of a device snapshot and the override
// resolver. A forced platform yields exactly one composite entity or,
// when its required bindings (bindings.go) cannot be met, none. Without
// one, composite detectors run in priority order and consume the commands
// they bind; leftover readable commands become sensors or binary sensors
// through the generic-type tables in tables.go.
//
// StateFor and the conversion helpers translate raw Jeedom values into
// entity state, and back for dispatch (cover percent, 0-99 brightness,
// pilot-wire levels).
package classify
