package sms

import (
	"reflect"
	"testing"

	"github.com/godbus/dbus/v5"
)

// wireMessage builds the positional struct form the daemon sends.
func wireMessage(m *Message) []any {
	addrs := make([]any, 0, len(m.Addresses))
	for _, a := range m.Addresses {
		addrs = append(addrs, []any{a})
	}
	msgType := int32(2)
	if m.Direction == DirectionInbox {
		msgType = 1
	}
	read := int32(0)
	if m.Read {
		read = 1
	}
	return []any{
		int32(1), // event flags
		m.Body,
		addrs,
		m.Date,
		msgType,
		read,
		m.ThreadID,
		m.UID,
		m.SubID,
		[]any{}, // attachments
	}
}

func TestParseRoundTripAddressCardinalities(t *testing.T) {
	base := Message{
		Body:      "hello",
		Date:      1700000000123,
		Direction: DirectionInbox,
		Read:      true,
		ThreadID:  42,
		UID:       7,
		SubID:     -1,
	}

	all := []string{"+1 555 0100", "555-0101", "a@b.c", "5550102", "5550103"}
	for n := 0; n <= 5; n++ {
		m := base
		m.Addresses = all[:n]

		parsed, err := ParseMessage(wireMessage(&m))
		if err != nil {
			t.Fatalf("n=%d: ParseMessage() error = %v", n, err)
		}

		want := m
		if n == 0 {
			// Empty wire addresses are substituted, never empty.
			want.Addresses = []string{UnknownAddress}
		}
		if !reflect.DeepEqual(*parsed, want) {
			t.Errorf("n=%d: parsed = %+v, want %+v", n, *parsed, want)
		}
	}
}

func TestParseDirectionMapping(t *testing.T) {
	// Only wire type 1 is Inbox; Sent/Draft/Outbox/Failed/Queued all
	// collapse to Sent.
	cases := []struct {
		wire int32
		want Direction
	}{
		{1, DirectionInbox},
		{2, DirectionSent},
		{3, DirectionSent},
		{4, DirectionSent},
		{5, DirectionSent},
		{6, DirectionSent},
		{0, DirectionSent},
	}
	for _, tc := range cases {
		fields := wireMessage(&Message{Addresses: []string{"1234"}})
		fields[4] = tc.wire
		parsed, err := ParseMessage(fields)
		if err != nil {
			t.Fatal(err)
		}
		if parsed.Direction != tc.want {
			t.Errorf("wire type %d: direction = %v, want %v", tc.wire, parsed.Direction, tc.want)
		}
	}
}

func TestParseDefaultsForMissingFields(t *testing.T) {
	// A short struct still parses with documented defaults.
	parsed, err := ParseMessage([]any{int32(1), "body"})
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if parsed.Body != "body" {
		t.Errorf("body = %q", parsed.Body)
	}
	if !reflect.DeepEqual(parsed.Addresses, []string{UnknownAddress}) {
		t.Errorf("addresses = %v, want [%s]", parsed.Addresses, UnknownAddress)
	}
	if parsed.Direction != DirectionInbox {
		t.Errorf("direction = %v, want Inbox default", parsed.Direction)
	}
	if !parsed.Read {
		t.Error("read should default to true")
	}
	if parsed.SubID != -1 {
		t.Errorf("sub_id = %d, want -1", parsed.SubID)
	}
}

func TestParseVariantWrappedValue(t *testing.T) {
	fields := wireMessage(&Message{Body: "hi", Addresses: []string{"5550100"}, ThreadID: 3, UID: 1})
	parsed, err := ParseMessage(dbus.MakeVariant(fields))
	if err != nil {
		t.Fatalf("ParseMessage(variant) error = %v", err)
	}
	if parsed.Body != "hi" || parsed.ThreadID != 3 {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestParseRejectsNonStruct(t *testing.T) {
	if _, err := ParseMessage("not a struct"); err == nil {
		t.Error("expected error for non-struct value")
	}
}

func TestParseConversationsKeepsLatestPerThread(t *testing.T) {
	values := []any{
		wireMessage(&Message{Body: "hi", Addresses: []string{"100"}, Date: 1000, ThreadID: 100, UID: 1}),
		wireMessage(&Message{Body: "ok", Addresses: []string{"100"}, Date: 1500, ThreadID: 100, UID: 2}),
		wireMessage(&Message{Body: "hello", Addresses: []string{"200"}, Date: 1200, ThreadID: 200, UID: 3}),
		"garbage",
	}
	got := ParseConversations(values)
	if len(got) != 2 {
		t.Fatalf("got %d summaries, want 2", len(got))
	}
	if got[0].ThreadID != 100 || got[0].LastMessage != "ok" || got[0].Timestamp != 1500 {
		t.Errorf("first summary = %+v", got[0])
	}
	if got[1].ThreadID != 200 || got[1].LastMessage != "hello" {
		t.Errorf("second summary = %+v", got[1])
	}
}

func TestParseThreadMessagesFiltersAndSorts(t *testing.T) {
	values := []any{
		wireMessage(&Message{Body: "b", Addresses: []string{"100"}, Date: 1200, ThreadID: 7, UID: 2}),
		wireMessage(&Message{Body: "a", Addresses: []string{"100"}, Date: 1000, ThreadID: 7, UID: 1}),
		wireMessage(&Message{Body: "other", Addresses: []string{"200"}, Date: 1100, ThreadID: 8, UID: 3}),
	}
	got := ParseThreadMessages(values, 7)
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Body != "a" || got[1].Body != "b" {
		t.Errorf("order = [%s %s], want [a b]", got[0].Body, got[1].Body)
	}
}
