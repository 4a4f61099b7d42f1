// Package events publishes subscription change notifications to a RabbitMQ
// topic exchange (github.com/rabbitmq/amqp091-go).
//
// Every committed lifecycle write becomes one JSON message with routing key
// "subscription.changed". Delivery is best effort: the write is already
// durable, so publish failures are logged and dropped.
//
//	pub, err := events.NewAMQPPublisher(cfg, log)
//	ctrl := subscription.NewController(store, catalog,
//		subscription.WithChangeHook(events.ChangeHook(pub, log)))
//
// NoopPublisher stands in when AMQP_URL is not configured.
package events
