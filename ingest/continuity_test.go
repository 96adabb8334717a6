package ingest

import (
	"testing"
	"time"

	"github.com/onnwee/chat-scribe/source"
	"github.com/onnwee/chat-scribe/store"
)

func TestResumeMarkerEmpty(t *testing.T) {
	m := ResumeMarker(nil)
	if !m.IsZero() {
		t.Errorf("ResumeMarker(nil) = %+v, want zero marker", m)
	}
}

func TestResumeMarkerHighestID(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []store.LogEntry{
		{MessageID: 104, Timestamp: base.Add(4 * time.Second)},
		{MessageID: 101, Timestamp: base.Add(1 * time.Second)},
		{MessageID: 103, Timestamp: base.Add(3 * time.Second)},
	}
	m := ResumeMarker(entries)
	want := source.Marker{MessageID: 104, Timestamp: base.Add(4 * time.Second)}
	if m != want {
		t.Errorf("ResumeMarker = %+v, want %+v", m, want)
	}
}

func TestResumeMarkerIgnoresAppendOrder(t *testing.T) {
	// Provenance does not matter for continuity, only identity does: a late
	// backfilled entry with a lower id must not move the marker backwards.
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []store.LogEntry{
		{Origin: source.OriginLive, MessageID: 200, Timestamp: base.Add(time.Minute)},
		{Origin: source.OriginBackfill, MessageID: 150, Timestamp: base},
	}
	if m := ResumeMarker(entries); m.MessageID != 200 {
		t.Errorf("ResumeMarker id = %d, want 200", m.MessageID)
	}
}
