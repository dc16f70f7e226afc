package storage

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNew_CreatesPrivateSQLiteFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file mode bits are not stable on Windows")
	}

	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_ = store.Close()

	info, err := os.Stat(dbPath)
	if err != nil {
		t.Fatalf("stat db: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Fatalf("db perms = %o, want 600", got)
	}
}

func TestNew_InMemory(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("New(:memory:) error = %v", err)
	}
	defer store.Close()

	version, err := store.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if version != len(migrations) {
		t.Fatalf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestNew_ReopenKeepsVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	for i := 0; i < 2; i++ {
		store, err := New(path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		version, err := store.GetSchemaVersion()
		if err != nil {
			t.Fatalf("GetSchemaVersion: %v", err)
		}
		if version != len(migrations) {
			t.Fatalf("open #%d: version = %d", i+1, version)
		}
		store.Close()
	}
}

func TestSqliteFilePathFromDSN(t *testing.T) {
	tests := []struct {
		dsn      string
		wantPath string
		onDisk   bool
	}{
		{"", "", false},
		{":memory:", "", false},
		{"/tmp/h.db", "/tmp/h.db", true},
		{"file:/tmp/h.db?_pragma=busy_timeout(5000)", "/tmp/h.db", true},
		{"file::memory:?cache=shared", "", false},
		{"file:/tmp/x.db?mode=memory", "", false},
		{"postgres://db", "", false},
	}
	for _, tt := range tests {
		path, onDisk := sqliteFilePathFromDSN(tt.dsn)
		if path != tt.wantPath || onDisk != tt.onDisk {
			t.Errorf("sqliteFilePathFromDSN(%q) = (%q, %v), want (%q, %v)", tt.dsn, path, onDisk, tt.wantPath, tt.onDisk)
		}
	}
}

func TestInteractiveHistoryLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 123_000_000, time.UTC)
	token := "2026-03-01T10:00:00.123Z"

	if err := store.RecordSession(ctx, SessionRecord{
		Token:     token,
		TenantID:  "acme",
		Room:      "acme__interactive__" + token,
		StartedAt: start,
	}); err != nil {
		t.Fatalf("RecordSession: %v", err)
	}
	// Recording again keeps the first row.
	if err := store.RecordSession(ctx, SessionRecord{Token: token, TenantID: "other", StartedAt: start.Add(time.Hour)}); err != nil {
		t.Fatalf("RecordSession again: %v", err)
	}

	for i, cmd := range []string{"Go To  https://example.com", "Click  text=Login"} {
		if _, err := store.RecordCommand(ctx, CommandRecord{
			SessionToken: token,
			MessageID:    "msg-" + cmd,
			Command:      cmd,
			Explanation:  "step",
			Success:      i == 0,
			Error:        map[bool]string{true: "", false: "element not found"}[i == 0],
			EventCount:   3,
			Elapsed:      1500 * time.Millisecond,
			CreatedAt:    start.Add(time.Duration(i+1) * time.Second),
		}); err != nil {
			t.Fatalf("RecordCommand: %v", err)
		}
	}

	end := start.Add(time.Minute)
	if err := store.EndSession(ctx, token, end); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	sessions, err := store.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	got := sessions[0]
	if got.TenantID != "acme" || got.Origin != "minted" {
		t.Errorf("session = %+v", got)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, start)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(end) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, end)
	}
	if got.CommandCount != 2 {
		t.Errorf("CommandCount = %d, want 2", got.CommandCount)
	}

	cmds, err := store.ListCommands(ctx, token)
	if err != nil {
		t.Fatalf("ListCommands: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("commands = %d, want 2", len(cmds))
	}
	if cmds[0].Command != "Go To  https://example.com" || !cmds[0].Success {
		t.Errorf("first command = %+v", cmds[0])
	}
	if cmds[1].Success || cmds[1].Error != "element not found" {
		t.Errorf("second command = %+v", cmds[1])
	}
	if cmds[1].Elapsed != 1500*time.Millisecond || cmds[1].EventCount != 3 {
		t.Errorf("second command timing = %v events=%d", cmds[1].Elapsed, cmds[1].EventCount)
	}
}

func TestRecordCommand_UnknownSessionIsCreated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.RecordCommand(ctx, CommandRecord{
		SessionToken: "external-token",
		MessageID:    "m1",
		Command:      "Exit",
		Exit:         true,
		Success:      true,
	}); err != nil {
		t.Fatalf("RecordCommand: %v", err)
	}

	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Origin != "explicit" {
		t.Fatalf("sessions = %+v", sessions)
	}
}

func TestListSessions_NewestFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		if err := store.RecordSession(ctx, SessionRecord{Token: at.Format(timeLayout), StartedAt: at}); err != nil {
			t.Fatalf("RecordSession: %v", err)
		}
	}

	sessions, err := store.ListSessions(ctx, 3)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("sessions = %d, want 3", len(sessions))
	}
	if sessions[0].Token != base.Add(4*time.Minute).Format(timeLayout) {
		t.Errorf("newest session = %q", sessions[0].Token)
	}
}

func TestStore_Validation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordSession(ctx, SessionRecord{}); err == nil {
		t.Error("expected error for empty session token")
	}
	if _, err := store.RecordCommand(ctx, CommandRecord{}); err == nil {
		t.Error("expected error for empty command session token")
	}

	var nilStore *Store
	if _, err := nilStore.ListSessions(ctx, 1); err != ErrStoreClosed {
		t.Errorf("nil store ListSessions = %v, want ErrStoreClosed", err)
	}
}
