package models

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("unsupported file type")
	ErrMalformedInput       = errors.New("malformed input")
	ErrMissingCredential    = errors.New("llm api key is not configured")
	ErrUpstream             = errors.New("upstream failure")
	ErrDuplicateDocument    = errors.New("document already exists")
)
