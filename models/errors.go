package models

import "errors"

var (
	ErrQueueNotFound   = errors.New("queue does not exist")
	ErrIncorrectValues = errors.New("Incorrect Values parsed")
	ErrBackendNotKnown = errors.New("unknown broker backend")
	ErrEmptyQueueName  = errors.New("queue name is required")
)
