// Package api implements the HTTP REST API of the Jeedom bridge.
//
// This package provides:
//   - Read-only views of the device registry and the entity index
//   - Entity commands, dispatched to Jeedom through the bridge
//   - HTTP ingestion of discovery and event payloads (jeedom.protocol "api")
//   - Override reload without restart
//   - The dispatch audit trail and the Prometheus scrape endpoint
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/devices
//	GET  /api/v1/devices/{id}
//	GET  /api/v1/entities
//	GET  /api/v1/entities/{slug}
//	POST /api/v1/entities/{slug}/commands
//	GET  /api/v1/dispatches
//	POST /api/v1/jeedom/discovery
//	POST /api/v1/jeedom/events/{cmdID}
//	POST /api/v1/overrides/reload
//	GET  /metrics
//
// # Graceful Degradation
//
// The server runs without MQTT or a dispatch audit repository. Reads and
// HTTP ingestion keep working; /dispatches answers 503 and /health reports
// the failing component.
package api
