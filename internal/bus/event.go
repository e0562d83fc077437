package bus

import "time"

// Topics used across the console. Subscribers match by prefix, so "rt."
// receives every realtime topic.
const (
	TopicMessageCreated      = "rt.message_created"
	TopicConversationCreated = "rt.conversation_created"
	TopicLinkSubscribed      = "rt.link_subscribed"
	TopicLinkClosed          = "rt.link_closed"
	TopicLinkError           = "rt.link_error"

	TopicListUpdated   = "list.updated"
	TopicThreadUpdated = "thread.updated"
	TopicSendFailed    = "thread.send_failed"

	TopicLinkStatusChanged = "link.status_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Topic   string
	At      time.Time
	Payload any
}
