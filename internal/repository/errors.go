package repository

import "errors"

var (
	ErrEventNotFound  = errors.New("event log entry not found")
	ErrDuplicateEvent = errors.New("event already stored")
)
