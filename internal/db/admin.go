package db

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/sparse-speed/internal/httputil"
	"github.com/banshee-data/sparse-speed/internal/monitoring"
	"github.com/banshee-data/sparse-speed/internal/security"
)

// AttachAdminRoutes mounts tailsql, table stats and a gzip backup download
// under /debug/.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://sparse-speed.db", db.DB, &tailsql.DBOptions{
		Label: "Sparse speed DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Row counts per table", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.Stats(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, stats)
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := fmt.Sprintf("backup-%d.db.gz", time.Now().Unix())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
		w.Header().Set("Content-Type", "application/gzip")
		if err := db.Backup(r.Context(), w); err != nil {
			// headers may already be out; the log is the only reliable signal
			monitoring.Logf("database backup failed: %v", err)
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		}
	}))
	return nil
}

// Backup snapshots the database with VACUUM INTO and writes the snapshot to
// w gzip-compressed.
func (db *DB) Backup(ctx context.Context, w io.Writer) error {
	dir, err := os.MkdirTemp("", "sparse-speed-backup-")
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			monitoring.Logf("Failed to remove backup directory: %v", err)
		}
	}()

	backupPath, err := security.JoinWithin(dir, "backup.db")
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", backupPath); err != nil {
		return fmt.Errorf("vacuum into backup: %w", err)
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		return err
	}
	defer backupFile.Close()

	gzipWriter := gzip.NewWriter(w)
	if _, err := io.Copy(gzipWriter, backupFile); err != nil {
		gzipWriter.Close()
		return fmt.Errorf("write backup: %w", err)
	}
	return gzipWriter.Close()
}
