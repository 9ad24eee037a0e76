package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_CreatesConnection(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
	if err := db.Ping(); err != nil {
		t.Errorf("Ping() error = %v, want nil", err)
	}
}

func TestNew_InvalidPath_ReturnsError(t *testing.T) {
	// A regular file cannot act as the parent directory
	parent := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(parent, []byte("x"), 0644); err != nil {
		t.Fatalf("writing parent file: %v", err)
	}
	_, err := New(filepath.Join(parent, "test.db"))
	if err == nil {
		t.Error("New() with invalid path should return error")
	}
}

func TestRunMigrations_CreatesAllTables(t *testing.T) {
	db := openTestDB(t)

	if err := db.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v, want nil", err)
	}

	for _, table := range []string{"broker_credentials", "trades", "account_snapshots"} {
		var exists int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.QueryRow(query, table).Scan(&exists); err != nil {
			t.Errorf("checking table %s: %v", table, err)
			continue
		}
		if exists != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestRunMigrations_CreatesIndexes(t *testing.T) {
	db := openTestDB(t)
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	expectedIndexes := []string{
		"idx_trades_account",
		"idx_trades_executed",
		"idx_snapshots_account",
		"idx_snapshots_taken",
	}
	for _, index := range expectedIndexes {
		var exists int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?`
		if err := db.QueryRow(query, index).Scan(&exists); err != nil {
			t.Errorf("checking index %s: %v", index, err)
			continue
		}
		if exists != 1 {
			t.Errorf("index %s does not exist", index)
		}
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := openTestDB(t)

	for i := 0; i < 3; i++ {
		if err := db.RunMigrations(); err != nil {
			t.Fatalf("RunMigrations() iteration %d error = %v, want nil", i+1, err)
		}
	}

	var tableCount int
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'`
	if err := db.QueryRow(query).Scan(&tableCount); err != nil {
		t.Fatalf("counting tables: %v", err)
	}
	if tableCount != 3 {
		t.Errorf("table count = %d, want 3", tableCount)
	}
}

func TestDB_Close(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := db.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
	if err := db.Ping(); err == nil {
		t.Error("Ping() after Close() should return error")
	}
}

func TestDB_Health(t *testing.T) {
	db := openTestDB(t)
	if err := db.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v, want nil", err)
	}
}

func TestDB_Exec_InsertAndQuery(t *testing.T) {
	db := openTestDB(t)
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	result, err := db.Exec(
		`INSERT INTO trades (account_id, environment, kind, symbol, side, volume, price, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		"acc-1", "demo", "open", "EURUSD", "BUY", 0.1, 1.1002, 1700000000000,
	)
	if err != nil {
		t.Fatalf("Exec() insert error = %v", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId() error = %v", err)
	}
	if id != 1 {
		t.Errorf("LastInsertId() = %d, want 1", id)
	}

	var symbol string
	var volume float64
	if err := db.QueryRow(`SELECT symbol, volume FROM trades WHERE id = ?`, id).Scan(&symbol, &volume); err != nil {
		t.Fatalf("QueryRow() error = %v", err)
	}
	if symbol != "EURUSD" {
		t.Errorf("symbol = %q, want %q", symbol, "EURUSD")
	}
	if volume != 0.1 {
		t.Errorf("volume = %v, want 0.1", volume)
	}
}

func TestDB_TradeKindConstraint(t *testing.T) {
	db := openTestDB(t)
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	_, err := db.Exec(
		`INSERT INTO trades (account_id, kind, executed_at) VALUES (?, ?, ?)`,
		"acc-1", "partial", 1700000000000,
	)
	if err == nil {
		t.Error("inserting trade with unknown kind should fail")
	}
}

func TestDB_CredentialUniquePerEnvironment(t *testing.T) {
	db := openTestDB(t)
	if err := db.RunMigrations(); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}

	insert := `INSERT INTO broker_credentials (account_id, environment, ctid_account_id, token_ciphertext, token_nonce)
	           VALUES (?, ?, ?, ?, ?)`
	if _, err := db.Exec(insert, "acc-1", "demo", 42, []byte("c"), []byte("n")); err != nil {
		t.Fatalf("first insert error = %v", err)
	}
	if _, err := db.Exec(insert, "acc-1", "live", 42, []byte("c"), []byte("n")); err != nil {
		t.Fatalf("insert for other environment error = %v", err)
	}
	if _, err := db.Exec(insert, "acc-1", "demo", 43, []byte("c"), []byte("n")); err == nil {
		t.Error("duplicate account/environment insert should fail")
	}
}
