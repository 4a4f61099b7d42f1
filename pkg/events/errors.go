package events

import "errors"

var (
	ErrMissingURL      = errors.New("events: AMQP_URL is required")
	ErrInvalidURL      = errors.New("events: AMQP URL must use the amqp:// or amqps:// scheme")
	ErrPublisherClosed = errors.New("events: publisher is closed")
	ErrFailedToConnect = errors.New("events: failed to connect to broker")
	ErrFailedToPublish = errors.New("events: failed to publish message")
)
