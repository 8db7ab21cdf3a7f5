package audit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/jeedom-bridge/internal/audit"
	"github.com/nerrad567/jeedom-bridge/internal/dispatch"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/database"
	_ "github.com/nerrad567/jeedom-bridge/migrations"
)

func openRepo(t *testing.T) *audit.SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return audit.NewSQLiteRepository(db.DB)
}

func TestRecordAndList(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	results := []*dispatch.Result{
		{CorrelationID: "a", Slug: "prise_salon", Action: "on", CmdID: 2, Transport: "jsonrpc", Success: true, Source: "mqtt", Duration: 40 * time.Millisecond, At: at},
		{CorrelationID: "b", Slug: "volet", Action: "set_position", CmdID: 44, Value: "50", Transport: "http", Fallback: true, Success: false, Error: "boom", Source: "api", At: at.Add(time.Second)},
		{CorrelationID: "c", Slug: "prise_salon", Action: "off", CmdID: 3, Transport: "jsonrpc", Success: true, Source: "api", At: at.Add(2 * time.Second)},
	}
	for _, res := range results {
		if err := repo.RecordDispatch(ctx, res); err != nil {
			t.Fatalf("RecordDispatch(%s) error = %v", res.CorrelationID, err)
		}
	}

	all, err := repo.List(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if all.Total != 3 || len(all.Entries) != 3 || all.Limit != 50 {
		t.Fatalf("List() = total %d, %d entries, limit %d", all.Total, len(all.Entries), all.Limit)
	}
	if all.Entries[0].CorrelationID != "c" || all.Entries[2].CorrelationID != "a" {
		t.Errorf("order = %s,%s,%s", all.Entries[0].CorrelationID, all.Entries[1].CorrelationID, all.Entries[2].CorrelationID)
	}

	failed := all.Entries[1]
	if failed.Success || !failed.Fallback || failed.Error != "boom" || failed.Value != "50" || failed.Transport != "http" {
		t.Errorf("failed entry = %+v", failed)
	}
	if !failed.CreatedAt.Equal(at.Add(time.Second)) {
		t.Errorf("CreatedAt = %v", failed.CreatedAt)
	}
	if all.Entries[2].DurationMS != 40 {
		t.Errorf("DurationMS = %d", all.Entries[2].DurationMS)
	}
}

func TestList_Filters(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	for i, slug := range []string{"a", "b", "a", "a"} {
		res := &dispatch.Result{CorrelationID: slug, Slug: slug, Action: "on", Success: i != 2, Source: "mqtt"}
		if err := repo.RecordDispatch(ctx, res); err != nil {
			t.Fatalf("RecordDispatch() error = %v", err)
		}
	}

	no := false
	tests := []struct {
		name   string
		filter audit.Filter
		total  int
		page   int
	}{
		{"by slug", audit.Filter{EntitySlug: "a"}, 3, 3},
		{"failures", audit.Filter{Success: &no}, 1, 1},
		{"by source", audit.Filter{Source: "api"}, 0, 0},
		{"paged", audit.Filter{Limit: 2, Offset: 1}, 4, 2},
		{"limit clamp", audit.Filter{Limit: 1000}, 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if got.Total != tt.total || len(got.Entries) != tt.page {
				t.Errorf("List() = total %d, page %d, want %d/%d", got.Total, len(got.Entries), tt.total, tt.page)
			}
			if got.Limit > 200 {
				t.Errorf("Limit = %d, not clamped", got.Limit)
			}
		})
	}
}

func TestRecordDispatch_Nil(t *testing.T) {
	repo := openRepo(t)
	if err := repo.RecordDispatch(context.Background(), nil); err == nil {
		t.Error("RecordDispatch(nil) should fail")
	}
}
