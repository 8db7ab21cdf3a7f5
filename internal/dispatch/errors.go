package dispatch

import "errors"

// Domain errors for the dispatch package.
//
// A dispatch that exhausts its transports returns ErrDispatch joined with
// every transport error, so both of these hold:
//
//	errors.Is(err, dispatch.ErrDispatch)
//	errors.Is(err, dispatch.ErrRPC) // when JSON-RPC answered with an error
var (
	// ErrUnresolvedEntity is returned when the slug has no descriptor in
	// the last classification result.
	ErrUnresolvedEntity = errors.New("dispatch: unresolved entity")

	// ErrUnsupportedAction is returned when the entity has no binding for
	// the requested (or inferred) action.
	ErrUnsupportedAction = errors.New("dispatch: unsupported action")

	// ErrInvalidValue is returned when the value cannot be encoded for the
	// action (e.g. a non-numeric position, an unknown option).
	ErrInvalidValue = errors.New("dispatch: invalid value")

	// ErrDispatch is returned when every allowed transport failed.
	ErrDispatch = errors.New("dispatch: command failed")

	// ErrTransport is returned for network failures, timeouts and HTTP
	// error statuses.
	ErrTransport = errors.New("dispatch: transport error")

	// ErrRPC is returned when Jeedom answers a JSON-RPC call with an error
	// object or an unreadable body.
	ErrRPC = errors.New("dispatch: json-rpc error")
)
