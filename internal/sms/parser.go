package sms

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// ErrNotStruct reports a wire value that is not a message struct at all.
var ErrNotStruct = errors.New("message value is not a struct")

// ParseMessage decodes a daemon message variant into a Message.
//
// KDE Connect sends messages as positional structs (conversationmessage.h):
//
//	0: event flags (i32), ignored
//	1: body (s)
//	2: addresses (a(s)), empty list becomes [UnknownAddress]
//	3: date (x, ms)
//	4: type (i32), 1 = Inbox, anything else = Sent
//	5: read (i32), 0 = unread
//	6: thread_id (x)
//	7: uid (i32), dedup key
//	8: sub_id (x), -1 = default SIM
//	9: attachments (av), ignored
//
// Missing or wrong-typed fields fall back to documented defaults; only a
// value that is not a struct at all is rejected.
func ParseMessage(value any) (*Message, error) {
	fields, ok := structFields(value)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotStruct, value)
	}

	msg := &Message{
		Body:      stringAt(fields, 1, ""),
		Addresses: addressesAt(fields, 2),
		Date:      int64At(fields, 3, 0),
		Direction: DirectionFromWire(int32At(fields, 4, 1)),
		Read:      int32At(fields, 5, 1) != 0,
		ThreadID:  int64At(fields, 6, 0),
		UID:       int32At(fields, 7, 0),
		SubID:     int64At(fields, 8, -1),
	}
	return msg, nil
}

// ParseConversations decodes an activeConversations() snapshot into
// summaries: one per thread, most recent message wins, sorted newest
// first. Unparseable entries are skipped.
func ParseConversations(values []any) []ConversationSummary {
	latest := make(map[int64]*Message)
	for _, v := range values {
		msg, err := ParseMessage(v)
		if err != nil {
			continue
		}
		if cur, ok := latest[msg.ThreadID]; !ok || msg.Date > cur.Date {
			latest[msg.ThreadID] = msg
		}
	}

	summaries := make([]ConversationSummary, 0, len(latest))
	for _, msg := range latest {
		summaries = append(summaries, msg.Summary())
	}
	SortSummaries(summaries)
	return summaries
}

// ParseThreadMessages decodes a snapshot, keeping only messages of one
// thread, sorted by date ascending.
func ParseThreadMessages(values []any, threadID int64) []Message {
	var msgs []Message
	for _, v := range values {
		msg, err := ParseMessage(v)
		if err != nil || msg.ThreadID != threadID {
			continue
		}
		msgs = append(msgs, *msg)
	}
	SortMessages(msgs)
	return msgs
}

// structFields unwraps variants and returns the positional fields of a
// D-Bus struct value.
func structFields(value any) ([]any, bool) {
	for {
		v, ok := value.(dbus.Variant)
		if !ok {
			break
		}
		value = v.Value()
	}
	fields, ok := value.([]any)
	return fields, ok
}

func stringAt(fields []any, i int, def string) string {
	if i >= len(fields) {
		return def
	}
	if s, ok := unwrap(fields[i]).(string); ok {
		return s
	}
	return def
}

func int64At(fields []any, i int, def int64) int64 {
	if i >= len(fields) {
		return def
	}
	if n, ok := asInt64(unwrap(fields[i])); ok {
		return n
	}
	return def
}

func int32At(fields []any, i int, def int32) int32 {
	if n := int64At(fields, i, int64(def)); n >= -1<<31 && n < 1<<31 {
		return int32(n)
	}
	return def
}

// addressesAt extracts field i as a list of single-string structs.
// Bare strings are tolerated; an empty result becomes [UnknownAddress].
func addressesAt(fields []any, i int) []string {
	var out []string
	if i < len(fields) {
		if arr, ok := unwrap(fields[i]).([]any); ok {
			for _, entry := range arr {
				switch e := unwrap(entry).(type) {
				case []any:
					if len(e) > 0 {
						if s, ok := unwrap(e[0]).(string); ok {
							out = append(out, s)
						}
					}
				case string:
					out = append(out, e)
				}
			}
		}
	}
	if len(out) == 0 {
		return []string{UnknownAddress}
	}
	return out
}

func unwrap(v any) any {
	for {
		variant, ok := v.(dbus.Variant)
		if !ok {
			return v
		}
		v = variant.Value()
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
