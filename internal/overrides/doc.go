// Package overrides loads the declarative override document that filters
// and customises what the bridge builds from Jeedom discovery.
//
// Resolution happens in two independent passes. MatchFor picks the first
// device rule (in document order) whose match selects the device; that rule
// alone governs the device. Override then looks up per-command metadata
// inside the chosen rule by command id, independently of inclusion.
//
// A missing document, or no config_path at all, behaves like an empty one:
// every device and command is included and auto-classified.
package overrides
