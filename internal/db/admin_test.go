package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBackup_WritesGzippedSQLite(t *testing.T) {
	db := newTestDB(t)

	var buf bytes.Buffer
	if err := db.Backup(context.Background(), &buf); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}

	zr, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("backup is not gzip: %v", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("failed to decompress backup: %v", err)
	}
	const magic = "SQLite format 3\x00"
	if len(raw) < len(magic) || string(raw[:len(magic)]) != magic {
		t.Errorf("backup does not start with the SQLite header")
	}
}

func TestAttachAdminRoutes_AllEndpoints(t *testing.T) {
	db := newTestDB(t)

	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes failed: %v", err)
	}

	// debug routes may refuse non-local callers, but must be registered
	for _, endpoint := range []string{"/debug/db-stats", "/debug/backup", "/debug/tailsql/"} {
		t.Run(endpoint, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, endpoint, nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			if w.Code == http.StatusNotFound {
				t.Errorf("Endpoint %s should be registered, got 404", endpoint)
			}
		})
	}
}
