package instrument

import "errors"

var (
	ErrAlreadyConnected  = errors.New("instrument: already connected")
	ErrNotConnected      = errors.New("instrument: not connected")
	ErrNotConfigured     = errors.New("instrument: not configured")
	ErrDeviceNotFound    = errors.New("instrument: device not found")
	ErrInvalidChannels   = errors.New("instrument: invalid channel list")
	ErrMalformedResponse = errors.New("instrument: malformed response")
	ErrUnknownOperation  = errors.New("instrument: unknown operation")
	ErrUnsupportedScheme = errors.New("instrument: unsupported address scheme")
	ErrReadTimeout       = errors.New("instrument: read timeout")
	ErrTransportBroken   = errors.New("instrument: transport broken")
)
