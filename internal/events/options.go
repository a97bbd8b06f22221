package events

type ProducerOptions func(e *EventProducer)

func WithOutputTopic(topic string) ProducerOptions {
	return func(e *EventProducer) {
		e.topic = topic
	}
}

func WithSource(source string) ProducerOptions {
	return func(e *EventProducer) {
		e.source = source
	}
}

// WithCapacity bounds the number of pending events. The oldest pending
// event is dropped when the bound is reached.
func WithCapacity(n int) ProducerOptions {
	return func(e *EventProducer) {
		e.buffer = newBuffer(n)
	}
}
