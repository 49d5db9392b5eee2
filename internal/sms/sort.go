package sms

import "sort"

// SortMessages orders messages by date ascending (display order).
// Ties are broken by UID so the order is deterministic.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Date != msgs[j].Date {
			return msgs[i].Date < msgs[j].Date
		}
		return msgs[i].UID < msgs[j].UID
	})
}

// SortSummaries orders the conversation list by timestamp descending,
// ties broken by thread ID descending.
func SortSummaries(summaries []ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].Timestamp != summaries[j].Timestamp {
			return summaries[i].Timestamp > summaries[j].Timestamp
		}
		return summaries[i].ThreadID > summaries[j].ThreadID
	})
}
