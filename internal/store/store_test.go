package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/vwire-io/vwire-device/internal/gpio"
	"github.com/vwire-io/vwire-device/internal/infrastructure/database"
	"github.com/vwire-io/vwire-device/internal/pin"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "vwire.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	s, err := New(context.Background(), db)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestMigrateSetsVersion(t *testing.T) {
	s := openTestStore(t)

	var version int
	if err := s.db.QueryRowContext(context.Background(), "PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("reading user_version: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("user_version = %d, want %d", version, schemaVersion)
	}

	// Re-running migration against an up-to-date schema is a no-op.
	if err := s.migrate(context.Background()); err != nil {
		t.Errorf("migrate on current schema: %v", err)
	}
}

func TestPinConfigRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := []gpio.PinState{
		{Name: "A0", Mode: gpio.ModeAnalogInput, Interval: 5000, LastValue: 512},
		{Name: "D1", Mode: gpio.ModeInput, Interval: 1000, LastValue: 1},
		{Name: "D2", Mode: gpio.ModeOutput, Interval: 1000, LastValue: 0},
	}
	if err := s.SavePinConfig(ctx, want); err != nil {
		t.Fatalf("SavePinConfig: %v", err)
	}

	got, err := s.LoadPinConfig(ctx)
	if err != nil {
		t.Fatalf("LoadPinConfig: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("LoadPinConfig len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pin %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// Saving again replaces rather than appends.
	if err := s.SavePinConfig(ctx, want[:1]); err != nil {
		t.Fatalf("SavePinConfig replace: %v", err)
	}
	got, err = s.LoadPinConfig(ctx)
	if err != nil {
		t.Fatalf("LoadPinConfig after replace: %v", err)
	}
	if len(got) != 1 || got[0].Name != "A0" {
		t.Errorf("after replace got %+v", got)
	}
}

func TestPinConfigEmpty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.LoadPinConfig(context.Background())
	if err != nil {
		t.Fatalf("LoadPinConfig: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("LoadPinConfig on empty store = %v", got)
	}
}

func TestVirtualPinRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveVirtualPin(ctx, 5, pin.FromFloat(21.5)); err != nil {
		t.Fatalf("SaveVirtualPin: %v", err)
	}

	got, err := s.VirtualPin(ctx, 5)
	if err != nil {
		t.Fatalf("VirtualPin: %v", err)
	}
	if got.Float() != 21.5 {
		t.Errorf("VirtualPin(5) = %q, want 21.50", got)
	}

	// Upsert overwrites.
	if err := s.SaveVirtualPin(ctx, 5, pin.FromInt(7)); err != nil {
		t.Fatalf("SaveVirtualPin overwrite: %v", err)
	}
	got, err = s.VirtualPin(ctx, 5)
	if err != nil {
		t.Fatalf("VirtualPin after overwrite: %v", err)
	}
	if got.Int() != 7 {
		t.Errorf("VirtualPin(5) = %q, want 7", got)
	}
}

func TestVirtualPinNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.VirtualPin(context.Background(), 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("VirtualPin(99) = %v, want ErrNotFound", err)
	}
}

func TestVirtualPinsAll(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveVirtualPin(ctx, 1, pin.New("on")); err != nil {
		t.Fatalf("SaveVirtualPin: %v", err)
	}
	if err := s.SaveVirtualPin(ctx, 2, pin.FromBool(false)); err != nil {
		t.Fatalf("SaveVirtualPin: %v", err)
	}

	all, err := s.VirtualPins(ctx)
	if err != nil {
		t.Fatalf("VirtualPins: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("VirtualPins len = %d, want 2", len(all))
	}
	if !all[1].Bool() || all[2].Bool() {
		t.Errorf("VirtualPins = %v", all)
	}
}
