package protocol

import "errors"

var (
	ErrShortHeader  = errors.New("protocol: short header")
	ErrShortPayload = errors.New("protocol: short payload")
	ErrUnknownType  = errors.New("protocol: unknown message type")
)

// DropReason maps a decode error to a short metrics label.
func DropReason(err error) string {
	switch {
	case errors.Is(err, ErrShortHeader):
		return "short_header"
	case errors.Is(err, ErrShortPayload):
		return "short_payload"
	case errors.Is(err, ErrUnknownType):
		return "unknown_type"
	}
	return "malformed"
}
