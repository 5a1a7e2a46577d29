package domain

// MessageBus carries inbound messages from channels to the pipeline.
// Outbound delivery does not go through the bus: the dispatcher calls
// Channel.Send directly so delivery failures can be surfaced.
type MessageBus interface {
	Publish(msg InboundMessage)
	Subscribe() <-chan InboundMessage
	Close()
}
