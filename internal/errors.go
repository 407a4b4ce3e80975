package internal

import "errors"

var ErrSlugExists = errors.New("slug already exists")
var ErrLinkNotFound = errors.New("link not found")

var (
	ErrInvalidURL     = errors.New("invalid url")
	ErrInvalidFormat  = errors.New("unsupported qr format")
	ErrInvalidSize    = errors.New("qr size out of range")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrUnknownKind    = errors.New("unknown entity kind")
	ErrInvalidEvent   = errors.New("invalid event")
)
