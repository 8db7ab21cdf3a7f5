package jeedom

import (
	"errors"
	"fmt"
)

// Domain errors for the Jeedom bridge package.
var (
	// ErrParse is returned when a discovery or event payload is malformed.
	// The payload is dropped; the bus never retries it.
	ErrParse = errors.New("jeedom: parse error")

	// ErrMissingIdentity is returned when a discovery payload carries no
	// usable eqLogic id. It wraps ErrParse.
	ErrMissingIdentity = fmt.Errorf("%w: missing identity", ErrParse)

	// ErrDomainNotAllowed is reported when a device forces a platform that
	// is absent from the domains allow-list.
	ErrDomainNotAllowed = errors.New("jeedom: platform not in allowed domains")
)
