// Provides common metasync errors definitions.
package metasync_errors

import "errors"

var (
	ErrNotAuthority     = errors.New("metasync: not the state authority")
	ErrCapacityExceeded = errors.New("metasync: payload exceeds declared capacity")
	ErrNotPermitted     = errors.New("metasync: authority transfer not permitted")

	ErrObjectUnknown  = errors.New("metasync: unknown object")
	ErrObjectExists   = errors.New("metasync: object already exists")
	ErrUnknownField   = errors.New("metasync: unknown field")
	ErrWrongFieldType = errors.New("metasync: wrong field type")
	ErrBadClass       = errors.New("metasync: bad class description")
	ErrBadLength      = errors.New("metasync: used length out of range")
	ErrTornBuffer     = errors.New("metasync: buffer length and contents disagree")
	ErrUnknownCommand = errors.New("metasync: unknown command")
	ErrBadPacket      = errors.New("metasync: bad packet")
	ErrBadHPacket     = errors.New("metasync: bad handshake packet")
	ErrClosed         = errors.New("metasync: no replica open")
)
