package sms

// Direction says whether a message arrived from the peer or left this side.
type Direction int

const (
	// DirectionInbox is a message received from the contact.
	DirectionInbox Direction = iota
	// DirectionSent covers everything else the phone reports: sent,
	// draft, outbox, failed, queued. Only Inbox means "received".
	DirectionSent
)

// DirectionFromWire maps the Android SMS type constant to a Direction.
// 1 = MESSAGE_TYPE_INBOX; all other values collapse to Sent.
func DirectionFromWire(v int32) Direction {
	if v == 1 {
		return DirectionInbox
	}
	return DirectionSent
}

// UnknownAddress substitutes for an empty wire address list.
const UnknownAddress = "Unknown"

// Message is a single SMS/MMS message decoded from the daemon.
type Message struct {
	// Body is the text content.
	Body string
	// Addresses holds all participants; never empty (UnknownAddress is
	// substituted when the wire data has none). One element for 1:1 threads.
	Addresses []string
	// Date is milliseconds since epoch.
	Date int64
	// Direction of the message.
	Direction Direction
	// Read reports whether the message has been read on the phone.
	Read bool
	// ThreadID is the conversation this message belongs to.
	ThreadID int64
	// UID is the server-unique message ID; the dedup key. Real uids are
	// positive; 0 is reserved for local optimistic placeholders.
	UID int32
	// SubID is the SIM subscription ID, -1 for default.
	SubID int64
}

// PrimaryAddress returns the first participant for display purposes.
func (m *Message) PrimaryAddress() string {
	if len(m.Addresses) == 0 {
		return UnknownAddress
	}
	return m.Addresses[0]
}

// Summary derives a conversation-list entry from this message.
func (m *Message) Summary() ConversationSummary {
	return ConversationSummary{
		ThreadID:    m.ThreadID,
		Addresses:   m.Addresses,
		LastMessage: m.Body,
		Timestamp:   m.Date,
		Unread:      !m.Read,
	}
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	ThreadID    int64
	Addresses   []string
	LastMessage string
	Timestamp   int64
	Unread      bool
}

// PrimaryAddress returns the first participant for display purposes.
func (c *ConversationSummary) PrimaryAddress() string {
	if len(c.Addresses) == 0 {
		return UnknownAddress
	}
	return c.Addresses[0]
}
