package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix ("sms.", "device.", ...).
const (
	// Conversation-list sync.
	KindSyncStarted          = "sms.sync_started"
	KindConversationReceived = "sms.conversation_received"
	KindSyncComplete         = "sms.sync_complete"

	// Thread loading.
	KindLoadStarted         = "sms.load_started"
	KindMessagesLoaded      = "sms.messages_loaded"
	KindOlderMessagesLoaded = "sms.older_messages_loaded"

	// Sending.
	KindMessageSent     = "sms.message_sent"
	KindSendFailed      = "sms.send_failed"
	KindReloadRequested = "sms.reload_requested"

	// Device list.
	KindDeviceListChanged = "device.list_changed"

	// Lifecycle.
	KindStatusChanged = "status.changed"

	// View intents for the rendering layer.
	KindScrollSnap = "view.scroll_snap"
)
