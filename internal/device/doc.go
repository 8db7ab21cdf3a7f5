// Package device holds the bridge's model of Jeedom equipment.
//
// # Key Types
//
//   - Device / Command: one Jeedom eqLogic and its cmds, keyed by the ids
//     Jeedom assigns. A command id is the join key between discovery,
//     events and dispatch.
//   - Registry: the in-memory store of devices. Mutations are serialised
//     per device id through Update, so a discovery re-announcement and a
//     concurrent event for the same device are applied in arrival order
//     while unrelated devices proceed in parallel.
//   - EntityDescriptor: what classification produces (platform, slug,
//     command bindings, metadata).
//   - EntityIndex: the last classification result, used to resolve a slug
//     back to Jeedom command ids and to cache translated state.
//   - DiscoveryStore: raw discovery payloads persisted in SQLite and
//     replayed at start-up.
//
// # Usage
//
//	reg := device.NewRegistry()
//	err := reg.Update(1234, func(tx *device.Tx) error {
//	    tx.UpsertDevice(device.DeviceInfo{ID: 1234, Name: "Salon"})
//	    _, err := tx.UpsertCommand(device.Command{ID: 5678, GenericType: "TEMPERATURE"})
//	    return err
//	})
//
//	// Events: unknown references are returned, not fatal.
//	if err := reg.SetValue(1234, 5678, 21.5); errors.Is(err, device.ErrUnknownCommand) {
//	    // discovery has not caught up yet
//	}
package device
