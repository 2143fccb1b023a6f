package codec

import "errors"

var (
	ErrShortMessage        = errors.New("message shorter than its layout")
	ErrUnknownProvider     = errors.New("provider is neither TCP nor UDP")
	ErrUnexpectedType      = errors.New("unexpected message type")
	ErrBadFamily           = errors.New("unknown address family")
	ErrUnsupportedRevision = errors.New("unsupported protocol revision")
)
