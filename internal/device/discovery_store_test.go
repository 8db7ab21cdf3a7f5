package device_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/jeedom-bridge/internal/device"
	"github.com/nerrad567/jeedom-bridge/internal/infrastructure/database"
	_ "github.com/nerrad567/jeedom-bridge/migrations"
)

func openStore(t *testing.T) *device.SQLiteDiscoveryStore {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "bridge.db"),
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
	return device.NewSQLiteDiscoveryStore(db.DB)
}

func TestSQLiteDiscoveryStore_SaveLoadReplace(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	records := []device.DiscoveryRecord{
		{DeviceID: 20, Name: "Volet", Payload: []byte(`{"id":20}`), ReceivedAt: at},
		{DeviceID: 10, Name: "Salon", Payload: []byte(`{"id":10}`), ReceivedAt: at},
		{DeviceID: 10, Name: "Salon v2", Payload: []byte(`{"id":10,"name":"Salon v2"}`), ReceivedAt: at.Add(time.Minute)},
	}
	for _, rec := range records {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save(%d) error = %v", rec.DeviceID, err)
		}
	}

	got, err := store.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadAll() = %d records, want 2", len(got))
	}
	if got[0].DeviceID != 10 || got[0].Name != "Salon v2" {
		t.Errorf("first record = %+v, want replaced device 10", got[0])
	}
	if string(got[0].Payload) != `{"id":10,"name":"Salon v2"}` {
		t.Errorf("payload = %s", got[0].Payload)
	}
	if !got[0].ReceivedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("ReceivedAt = %v", got[0].ReceivedAt)
	}

	if err := store.Delete(ctx, 10); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, 999); err != nil {
		t.Errorf("Delete(unknown) error = %v", err)
	}
	got, _ = store.LoadAll(ctx)
	if len(got) != 1 || got[0].DeviceID != 20 {
		t.Errorf("after delete = %+v", got)
	}
}

func TestSQLiteDiscoveryStore_RequiresID(t *testing.T) {
	store := openStore(t)
	if err := store.Save(context.Background(), device.DiscoveryRecord{Payload: []byte("{}")}); err == nil {
		t.Error("Save() without id should fail")
	}
}
