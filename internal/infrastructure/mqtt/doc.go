// Package mqtt provides MQTT client connectivity for the Jeedom bridge.
//
// The same broker carries two kinds of traffic:
//
//	Jeedom MQTT plugin → jeedom/discovery/eqLogic/#, jeedom/cmd/event/#
//	Bridge outputs     → {prefix}/entity/{slug}/config|state|result
//	Bridge inputs      ← {prefix}/entity/{slug}/set
//
// {prefix}/status carries a retained online marker and doubles as the Last
// Will topic, so consumers can tell when the bridge is gone.
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on localhost
//   - Set the password via JEEDOMBRIDGE_MQTT_PASSWORD rather than the file
package mqtt
