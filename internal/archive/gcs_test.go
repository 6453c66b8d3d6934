package archive

import (
	"testing"
	"time"
)

func TestObjectName(t *testing.T) {
	fetchedAt := time.Date(2025, 6, 15, 12, 30, 45, 0, time.UTC)
	got := ObjectName("acct-1", fetchedAt)
	want := "feeds/acct-1/20250615T123045Z.json"
	if got != want {
		t.Errorf("ObjectName() = %q, want %q", got, want)
	}
}

func TestObjectNameNormalizesZone(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	fetchedAt := time.Date(2025, 6, 15, 13, 30, 45, 0, loc)
	if got, want := ObjectName("acct-1", fetchedAt), "feeds/acct-1/20250615T123045Z.json"; got != want {
		t.Errorf("ObjectName() = %q, want UTC %q", got, want)
	}
}
