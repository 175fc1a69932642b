package sqlite

import (
	"testing"

	"github.com/ternarybob/arbor"
)

// setupTestDB creates a temp-file SQLite database for a test, grounded on
// the teacher's setupTestDB helper in document_storage_search_test.go.
func setupTestDB(t *testing.T) (*DB, func()) {
	tempDir := t.TempDir()
	dbPath := tempDir + "/test.db"

	logger := arbor.NewLogger()
	db, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db, func() { db.Close() }
}

func newTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}
