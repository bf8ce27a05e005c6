package repository

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"fibermap/core-go/internal/db"
	"fibermap/core-go/internal/model"
)

func requireTestDatabaseURL(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}
	return dsn
}

func mustDeriveDatabaseURL(t *testing.T, baseURL, dbName string) string {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		t.Skipf("TEST_DATABASE_URL must be a URL-style DSN (e.g. postgres://...); got %q", baseURL)
	}

	u.Path = "/" + dbName
	return u.String()
}

func newTestDatabaseName() string {
	// Safe identifier (letters/digits/underscores) so we can use it without quoting.
	return fmt.Sprintf("fibermap_test_%d", time.Now().UnixNano())
}

func execAdmin(ctx context.Context, adminURL, sql string) error {
	conn, err := pgx.Connect(ctx, adminURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, sql)
	return err
}

func migrationsDir(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations"))
}

func applyMigrations(ctx context.Context, conn *pgx.Conn, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var ups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			ups = append(ups, e.Name())
		}
	}
	sort.Strings(ups)

	for _, name := range ups {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

func TestPostgres_Integration_SnapshotAndWatch(t *testing.T) {
	adminURL := requireTestDatabaseURL(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbName := newTestDatabaseName()
	if err := execAdmin(ctx, adminURL, "CREATE DATABASE "+dbName); err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		_ = execAdmin(cleanupCtx, adminURL, "DROP DATABASE "+dbName+" WITH (FORCE)")
	})

	testURL := mustDeriveDatabaseURL(t, adminURL, dbName)
	conn, err := pgx.Connect(ctx, testURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx)
	if err := applyMigrations(ctx, conn, migrationsDir(t)); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	var a, b string
	if err := conn.QueryRow(ctx, `INSERT INTO network_elements (element_type, status, lat, lng, name) VALUES ('olt', 'active', 51.5, -0.12, 'OLT-1') RETURNING id::text`).Scan(&a); err != nil {
		t.Fatalf("insert element: %v", err)
	}
	if err := conn.QueryRow(ctx, `INSERT INTO network_elements (element_type, status) VALUES ('splitter', 'planned') RETURNING id::text`).Scan(&b); err != nil {
		t.Fatalf("insert element: %v", err)
	}
	if _, err := conn.Exec(ctx, `INSERT INTO network_connections (source_id, target_id, connection_type, status) VALUES ($1::uuid, $2::uuid, 'fiber', 'active')`, a, b); err != nil {
		t.Fatalf("insert connection: %v", err)
	}

	pool, err := db.Open(ctx, testURL)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}
	defer pool.Close()

	repo := NewPostgres(zerolog.Nop(), pool.Queries(), pool)

	els, err := repo.Elements(ctx)
	if err != nil {
		t.Fatalf("elements: %v", err)
	}
	if len(els) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(els))
	}
	conns, err := repo.Connections(ctx)
	if err != nil {
		t.Fatalf("connections: %v", err)
	}
	if len(conns) != 1 || conns[0].Type != model.ConnectionFiber {
		t.Fatalf("expected one fiber connection, got %+v", conns)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	events := make(chan model.ElementEvent, 4)
	go func() {
		_ = repo.Watch(watchCtx, func(ev model.ElementEvent) { events <- ev })
	}()

	// LISTEN is registered asynchronously; keep touching the row until a notification lands.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-events:
			if ev.Element.ID != a || ev.Kind != model.ElementUpdated {
				t.Fatalf("expected update for %s, got %s %s", a, ev.Kind, ev.Element.ID)
			}
			if ev.Element.Status != model.StatusFault {
				t.Fatalf("expected fault status, got %s", ev.Element.Status)
			}
			return
		case <-tick.C:
			if _, err := conn.Exec(ctx, `UPDATE network_elements SET status = 'fault', updated_at = now() WHERE id = $1::uuid`, a); err != nil {
				t.Fatalf("update element: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for change notification")
		}
	}
}
