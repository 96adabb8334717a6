package ingest

import (
	"github.com/onnwee/chat-scribe/source"
	"github.com/onnwee/chat-scribe/store"
)

// ResumeMarker recovers the resume position for a chat from its persisted
// entries: the highest message identifier with its timestamp. An empty log
// yields the zero marker, meaning backfill starts at the beginning of
// history. The marker is storage-agnostic; whatever backend produced the
// entries, the state machine only ever sees this position.
func ResumeMarker(entries []store.LogEntry) source.Marker {
	var m source.Marker
	for _, e := range entries {
		if e.MessageID > m.MessageID {
			m = source.Marker{MessageID: e.MessageID, Timestamp: e.Timestamp}
		}
	}
	return m
}
