package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrUnknownCommand) {
//	    // event arrived before discovery
//	}
var (
	// ErrUnknownDevice is returned when a device id was never upserted.
	ErrUnknownDevice = errors.New("device: unknown device")

	// ErrUnknownCommand is returned when a command id was never upserted.
	ErrUnknownCommand = errors.New("device: unknown command")

	// ErrIdentityConflict is returned when a command id already belongs to
	// another device. Jeedom ids are stable within a session.
	ErrIdentityConflict = errors.New("device: command id bound to another device")

	// ErrEntityNotFound is returned by the entity index for unknown slugs.
	ErrEntityNotFound = errors.New("device: entity not found")
)
