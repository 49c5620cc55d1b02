package db

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/salonsano/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupMediumTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:medium-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := gdb.AutoMigrate(&StorageEntry{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func TestMediumSetGetOverwrite(t *testing.T) {
	gdb := setupMediumTestDB(t)
	medium, err := NewMedium(gdb, "replica-a")
	if err != nil {
		t.Fatalf("failed to create medium: %v", err)
	}

	if _, ok, err := medium.Get("salon_sano_posts"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := medium.Set("salon_sano_posts", "[]"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := medium.Set("salon_sano_posts", `[{"id":"1"}]`); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	value, ok, err := medium.Get("salon_sano_posts")
	if err != nil || !ok {
		t.Fatalf("expected key to exist, got ok=%v err=%v", ok, err)
	}
	if value != `[{"id":"1"}]` {
		t.Fatalf("unexpected value %q", value)
	}

	var count int64
	gdb.Model(&StorageEntry{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single row after overwrite, got %d", count)
	}
}

func TestMediumReplicasAreIsolated(t *testing.T) {
	gdb := setupMediumTestDB(t)
	first, _ := NewMedium(gdb, "replica-a")
	second, _ := NewMedium(gdb, "replica-b")

	if err := first.Set("salon_sano_auth", "true"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, ok, _ := second.Get("salon_sano_auth"); ok {
		t.Fatalf("replica-b must not see replica-a keys")
	}

	entries, err := second.Entries()
	if err != nil {
		t.Fatalf("entries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries for replica-b, got %d", len(entries))
	}

	if err := first.Remove("salon_sano_auth"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := first.Remove("salon_sano_auth"); err != nil {
		t.Fatalf("removing a missing key should not fail: %v", err)
	}
}

func TestMediumBacksCapacityStore(t *testing.T) {
	gdb := setupMediumTestDB(t)
	medium, _ := NewMedium(gdb, "replica-a")

	store := storage.New(medium, storage.WithBudget(64))
	if err := store.Put("k", "value"); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if used := store.Usage().Used; used != 6 {
		t.Fatalf("expected 6 bytes used, got %d", used)
	}
	if got := store.Keys(""); len(got) != 1 || got[0] != "k" {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestNewMediumValidatesArguments(t *testing.T) {
	if _, err := NewMedium(nil, "replica"); err == nil {
		t.Fatalf("expected error for nil db")
	}
	gdb := setupMediumTestDB(t)
	if _, err := NewMedium(gdb, "  "); err == nil {
		t.Fatalf("expected error for blank replica id")
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "salonsano.db")
	gdb, err := Open(path)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !gdb.Migrator().HasTable(&StorageEntry{}) {
		t.Fatalf("expected storage_entries table")
	}
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.Close()
	}
}

func TestOpenDoesNotLogMissingKeys(t *testing.T) {
	var logs bytes.Buffer
	gdb, err := open(filepath.Join(t.TempDir(), "quiet.db"), newLogger(&logs))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	medium, err := NewMedium(gdb, "replica-a")
	if err != nil {
		t.Fatalf("failed to create medium: %v", err)
	}
	if _, found, err := medium.Get("salon_sano_posts"); err != nil || found {
		t.Fatalf("expected absent key, found=%v err=%v", found, err)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no log output for a missing key, got %q", logs.String())
	}
}
