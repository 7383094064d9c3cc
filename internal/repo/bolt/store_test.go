package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hamed0406/apimonitor/internal/domain"
)

func TestBoltStore_AppendQueryWindow(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "data", "records.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	add := func(name string, at time.Time, code int) {
		t.Helper()
		r := &domain.ProbeRecord{EndpointName: name, EndpointURL: "https://" + name + ".example",
			StatusCode: code, LatencyMS: 7, Timestamp: at, Success: domain.IsSuccessStatus(code)}
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if r.ID == "" {
			t.Fatalf("expected id to be assigned")
		}
	}
	add("b", base, 200)
	add("b", base, 200) // same instant, distinct key
	add("b", base.Add(time.Minute), 404)
	add("a", base.Add(30*time.Second), 0)
	add("c", base.Add(time.Hour), 200)

	w := domain.Window{From: base, To: base.Add(time.Minute)}
	got, err := s.Query(ctx, "b", w)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("want 2 records for b in window, got %d", len(got))
	}

	all, err := s.Query(ctx, "", w)
	if err != nil {
		t.Fatalf("Query all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("want 3 records overall, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatalf("records not in time order: %+v", all)
		}
	}

	names, err := s.DistinctEndpointNames(ctx, w)
	if err != nil {
		t.Fatalf("DistinctEndpointNames: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names: %v", names)
	}

	none, err := s.Query(ctx, "missing", w)
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown endpoint: %v %v", none, err)
	}
}

func TestBoltStore_EmptyWindow(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_ = s.Append(context.Background(), &domain.ProbeRecord{EndpointName: "x", Timestamp: at, StatusCode: 200, Success: true})

	got, err := s.Query(context.Background(), "x", domain.Window{From: at, To: at})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("from == to must be empty, got %d", len(got))
	}
}
