package subscriber

// TransportMetadata is attached to an Envelope during Decode and is never
// serialized back out. Exactly one of QueueMetadata, TopicMetadata, or
// EventBusMetadata implements it for a given decoded message, depending on
// which service the message was tunneled through.
type TransportMetadata interface {
	transport()
}

// QueueMetadata is attached when a message arrived directly on the queue
// service (no topic or event-bus tunnel detected).
type QueueMetadata struct {
	MessageID         string
	ReceiptHandle     string
	MessageGroupID    string // FIFO queues only; empty otherwise
	DeduplicationID   string // FIFO queues only; empty otherwise
	Attributes        map[string]string
}

func (QueueMetadata) transport() {}

// TopicMetadata is attached when the raw message was a notification
// envelope tunneled through the topic/notification service.
type TopicMetadata struct {
	TopicID       string
	Subject       string
	UnsubscribeURL string
	Timestamp     string
	Attributes    map[string]string
}

func (TopicMetadata) transport() {}

// EventBusMetadata is attached when the raw message was an event tunneled
// through the event-bus service.
type EventBusMetadata struct {
	EventID    string
	DetailType string
	Source     string
	Time       string
	Account    string
	Region     string
	Resources  []string
}

func (EventBusMetadata) transport() {}
