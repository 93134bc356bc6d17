package bus

import "time"

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds published by the core components. Subscribers typically
// subscribe by topic prefix ("chat.", "call.", "channel.").
const (
	KindChannelState = "channel.state"
	KindChannelError = "channel.error"

	KindChatMessage      = "chat.message"
	KindChatActivity     = "chat.activity"
	KindChatToast        = "chat.toast"
	KindChatNotification = "chat.notification"
	KindChatSnapshot     = "chat.snapshot"

	KindCallState = "call.state"
)
