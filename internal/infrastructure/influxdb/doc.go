// Package influxdb records Jeedom command history in InfluxDB.
//
// Two measurements are written:
//   - jeedom_cmd: every routed info-command value, tagged by equipment,
//     command, entity and platform
//   - jeedom_dispatch: every command sent to Jeedom with its transport
//     and outcome
//
// History is optional. A nil *Client is safe to call and writes nothing,
// so the bridge runs unchanged when influxdb.enabled is false.
//
// Writes are non-blocking and batched (batch_size, flush_interval);
// async failures are reported through SetOnError.
package influxdb
