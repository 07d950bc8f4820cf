package history

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cwsf_meta.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordRunAndSiteHistoryOrdersNewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		run := Run{
			SiteName:     "example-site",
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
			RecordsCount: i,
			Status:       StatusSuccess,
		}
		if err := s.RecordRun(run); err != nil {
			t.Fatalf("RecordRun %d: %v", i, err)
		}
	}

	runs, err := s.SiteHistory("example-site", 2)
	if err != nil {
		t.Fatalf("SiteHistory: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs (limit applied), got %d", len(runs))
	}
	if runs[0].RecordsCount != 2 {
		t.Fatalf("expected newest run first (records_count=2), got %d", runs[0].RecordsCount)
	}
}

func TestLastRunsReturnsOneRowPerSite(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.RecordRun(Run{SiteName: "site-a", Timestamp: base, Status: StatusSuccess}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := s.RecordRun(Run{SiteName: "site-a", Timestamp: base.Add(time.Hour), Status: StatusFailed, ErrorCount: 1, LastError: "timeout"}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := s.RecordRun(Run{SiteName: "site-b", Timestamp: base, Status: StatusSuccess}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	runs, err := s.LastRuns()
	if err != nil {
		t.Fatalf("LastRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 1 row per distinct site (2 sites), got %d", len(runs))
	}
	if runs[0].SiteName != "site-a" || runs[0].Status != StatusFailed {
		t.Fatalf("expected site-a's latest run (failed) first, got %+v", runs[0])
	}
	if runs[0].LastError != "timeout" {
		t.Fatalf("expected last_error to round-trip, got %q", runs[0].LastError)
	}
}
