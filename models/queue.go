package models

import "context"

// Broker opens sessions against a message broker. One Broker is used for
// exactly one probe run.
type Broker interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is an open, authenticated view onto the broker. Count must not
// consume, lock or otherwise alter the messages it counts.
type Session interface {
	Count(ctx context.Context, queue string) (int, error)
	Close() error
}
