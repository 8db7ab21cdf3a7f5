// Package jeedom implements the Jeedom side of the bridge.
//
// Jeedom's MQTT plugin announces every eqLogic (device) with its cmds on
// jeedom/discovery/eqLogic/{id} and publishes value changes on
// jeedom/cmd/event/{cmdID}. This package turns those messages into registry
// updates, entity descriptors and entity states, and accepts entity
// commands back from MQTT or the HTTP API.
//
// # Architecture
//
//	┌─────────────────┐  discovery  ┌─────────────────┐   config/state
//	│  Jeedom MQTT    │────────────►│     Bridge      │──────────────► MQTT
//	│     plugin      │   events    │   (this pkg)    │◄────────────── {prefix}/entity/+/set
//	└─────────────────┘             └────────┬────────┘
//	                                         │ dispatch
//	                                         ▼
//	                                  Jeedom JSON-RPC / HTTP API
//
// # Components
//
//   - Ingestor: discovery payload → registry upsert → classification → entity index
//   - Router: event payload → stored value → translated entity states
//   - Bridge: MQTT wiring, discovery cache, override reload, result publishing
//
// All mutations of one device (re-announcement, event) run under that
// device's registry lock, so they are applied in arrival order.
//
// # Output Topics
//
//	{prefix}/entity/{slug}/config   retained descriptor, empty when removed
//	{prefix}/entity/{slug}/state    retained translated state
//	{prefix}/entity/{slug}/result   dispatch outcome, not retained
//
// Example:
//
//	b, err := jeedom.NewBridge(jeedom.BridgeOptions{
//	    Config:     cfg,
//	    MQTTClient: client,
//	    Registry:   device.NewRegistry(),
//	    Index:      device.NewEntityIndex(),
//	    Dispatcher: dispatcher,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := b.Start(ctx); err != nil {
//	    return err
//	}
//	defer b.Stop()
package jeedom
