package alarms

import "errors"

// ErrNotFound indicates a missing alarm instance.
var ErrNotFound = errors.New("alarm: not found")

// ErrUnknownState indicates a source state code outside U/A/M/C.
var ErrUnknownState = errors.New("alarm: unknown source state")
