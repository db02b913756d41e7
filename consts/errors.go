package consts

import "errors"

var (
	ErrInternalError = errors.New("internal error")
	ErrNotPermitted  = errors.New("operation not permitted")

	ErrScriptTooLarge   = errors.New("script too large")
	ErrInvalidScript    = errors.New("invalid script")
	ErrBinaryNotFound   = errors.New("compiled binary not found")
	ErrMalformedMessage = errors.New("malformed message")

	ErrStoreClosed = errors.New("binary store closed")
)
