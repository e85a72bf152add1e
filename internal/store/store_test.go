package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shbozz/locals/internal/retry"
)

func testOptions() Options {
	return Options{
		OpenRetry:  retry.Once(time.Millisecond),
		WriteRetry: retry.Once(time.Millisecond),
		ClosePoll:  5 * time.Millisecond,
	}
}

func openTestStore(t *testing.T, username string) (*Store, string) {
	t.Helper()
	dbPath := Path(t.TempDir(), "test")
	s, existed, err := Open(context.Background(), dbPath, username, testOptions())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if existed {
		t.Fatalf("Expected fresh store at %s", dbPath)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s, dbPath
}

func TestPath(t *testing.T) {
	if got := Path("data", "test"); got != filepath.Join("data", "test.dat") {
		t.Errorf("Expected data/test.dat, got %s", got)
	}
}

func TestOpenSeedsLocalPeer(t *testing.T) {
	s, _ := openTestStore(t, "alice")
	ctx := context.Background()

	peers, err := s.Peers(ctx)
	if err != nil {
		t.Fatalf("Failed to list peers: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("Expected 1 peer, got %d", len(peers))
	}
	want := Peer{ID: LocalPeerID, Address: LoopbackAddr, Username: "alice"}
	if peers[0] != want {
		t.Errorf("Expected %+v, got %+v", want, peers[0])
	}
}

func TestMessagePersistence(t *testing.T) {
	ctx := context.Background()
	dbPath := Path(t.TempDir(), "room")
	s, _, err := Open(ctx, dbPath, "alice", testOptions())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := s.AppendMessageFrom(ctx, 1700000000, []byte("hi"), LocalPeerID); err != nil {
		t.Fatalf("Failed to save message: %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	s2, existed, err := Open(ctx, dbPath, "someone-else", testOptions())
	if err != nil {
		t.Fatalf("Failed to re-open store: %v", err)
	}
	defer s2.Close(ctx)
	if !existed {
		t.Error("Expected existing store on re-open")
	}

	// the local row is not re-seeded
	p, ok, err := s2.PeerByUsername(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("Expected alice to survive restart: ok=%v err=%v", ok, err)
	}
	if p.ID != LocalPeerID {
		t.Errorf("Expected alice at id 0, got %d", p.ID)
	}
	if _, ok, _ := s2.PeerByUsername(ctx, "someone-else"); ok {
		t.Error("Expected no peer row for the second username")
	}

	history, err := s2.ReadRecent(ctx, RecentLimit)
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	want := []HistoryEntry{{Time: 1700000000, Data: []byte("hi"), Username: "alice"}}
	if diff := cmp.Diff(want, history); diff != "" {
		t.Errorf("History mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenSeedsLocalPeerInEmptyFile(t *testing.T) {
	ctx := context.Background()
	dbPath := Path(t.TempDir(), "room")
	if err := os.WriteFile(dbPath, nil, 0644); err != nil {
		t.Fatalf("Failed to create empty file: %v", err)
	}

	s, existed, err := Open(ctx, dbPath, "alice", testOptions())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close(ctx)
	if !existed {
		t.Error("Expected the empty file to count as existing")
	}

	p, ok, err := s.PeerByUsername(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("Expected the local peer to be seeded: ok=%v err=%v", ok, err)
	}
	if p.ID != LocalPeerID {
		t.Errorf("Expected alice at id 0, got %d", p.ID)
	}
	if err := s.AppendMessageFrom(ctx, 1700000000, []byte("hi"), LocalPeerID); err != nil {
		t.Fatalf("Failed to save local message: %v", err)
	}
}

func TestOpenWhileAnotherHandleIsReading(t *testing.T) {
	s, dbPath := openTestStore(t, "alice")
	ctx := context.Background()

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		t.Fatalf("Failed to begin transaction: %v", tx.Error)
	}
	defer tx.Rollback()
	var peers []Peer
	if err := tx.Find(&peers).Error; err != nil {
		t.Fatalf("Failed to read in transaction: %v", err)
	}

	start := time.Now()
	s2, existed, err := Open(ctx, dbPath, "alice", testOptions())
	if err != nil {
		t.Fatalf("Failed to open second handle: %v", err)
	}
	defer s2.Close(ctx)
	if !existed {
		t.Error("Expected existing store")
	}
	if waited := time.Since(start); waited > 2*time.Second {
		t.Errorf("Open waited %s on the reader", waited)
	}
}

func TestUpsertPeerIgnoresDuplicateUsername(t *testing.T) {
	s, _ := openTestStore(t, "alice")
	ctx := context.Background()

	added, err := s.UpsertPeer(ctx, "/ip4/10.0.0.2/tcp/4001", "bob")
	if err != nil || !added {
		t.Fatalf("Expected bob to be added: added=%v err=%v", added, err)
	}
	added, err = s.UpsertPeer(ctx, "/ip4/10.0.0.3/tcp/4001", "bob")
	if err != nil {
		t.Fatalf("Duplicate username should not error: %v", err)
	}
	if added {
		t.Error("Expected duplicate username to be ignored")
	}
	added, err = s.UpsertPeer(ctx, "/ip4/10.0.0.4/tcp/4001", "carol")
	if err != nil || !added {
		t.Fatalf("Expected carol to be added: added=%v err=%v", added, err)
	}

	peers, err := s.Peers(ctx)
	if err != nil {
		t.Fatalf("Failed to list peers: %v", err)
	}
	if len(peers) != 3 {
		t.Fatalf("Expected 3 peers, got %d", len(peers))
	}
	if peers[0].ID != LocalPeerID || peers[0].Username != "alice" {
		t.Errorf("Expected local user at id 0, got %+v", peers[0])
	}
	if peers[1].Username != "bob" || peers[1].Address != "/ip4/10.0.0.2/tcp/4001" {
		t.Errorf("Expected first bob binding to win, got %+v", peers[1])
	}
	if peers[1].ID == peers[2].ID || peers[1].ID == LocalPeerID || peers[2].ID == LocalPeerID {
		t.Errorf("Expected distinct non-zero ids, got %d and %d", peers[1].ID, peers[2].ID)
	}
}

func TestAppendMessageResolvesUsername(t *testing.T) {
	s, _ := openTestStore(t, "alice")
	ctx := context.Background()

	if _, err := s.UpsertPeer(ctx, "A", "bob"); err != nil {
		t.Fatalf("Failed to add bob: %v", err)
	}
	if err := s.AppendMessage(ctx, 10, []byte("hello"), "bob"); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := s.AppendMessage(ctx, 11, []byte("who?"), "nobody"); err != nil {
		t.Fatalf("Unknown sender should not fail: %v", err)
	}

	var msgs []Message
	if err := s.db.Order("id").Find(&msgs).Error; err != nil {
		t.Fatalf("Failed to load messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	bob, _, _ := s.PeerByUsername(ctx, "bob")
	if msgs[0].SenderID == nil || *msgs[0].SenderID != bob.ID {
		t.Errorf("Expected sender %d, got %v", bob.ID, msgs[0].SenderID)
	}
	if msgs[1].SenderID != nil {
		t.Errorf("Expected no sender for unknown username, got %d", *msgs[1].SenderID)
	}

	history, err := s.ReadRecent(ctx, RecentLimit)
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if history[1].Username != "" {
		t.Errorf("Expected empty username for unknown sender, got %q", history[1].Username)
	}
}

func TestReadRecentWindow(t *testing.T) {
	tests := []struct {
		name  string
		count int
		want  int
	}{
		{"empty", 0, 0},
		{"fewer than window", 10, 10},
		{"more than window", 80, RecentLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := openTestStore(t, "alice")
			ctx := context.Background()
			for i := 0; i < tt.count; i++ {
				data := []byte(fmt.Sprintf("msg %d", i))
				if err := s.AppendMessageFrom(ctx, int64(i), data, LocalPeerID); err != nil {
					t.Fatalf("Failed to append %d: %v", i, err)
				}
			}

			history, err := s.ReadRecent(ctx, RecentLimit)
			if err != nil {
				t.Fatalf("Failed to read history: %v", err)
			}
			if len(history) != tt.want {
				t.Fatalf("Expected %d entries, got %d", tt.want, len(history))
			}
			first := tt.count - tt.want
			for i, e := range history {
				want := fmt.Sprintf("msg %d", first+i)
				if string(e.Data) != want {
					t.Errorf("Entry %d: expected %q, got %q", i, want, e.Data)
				}
				if e.Time != int64(first+i) {
					t.Errorf("Entry %d: expected time %d, got %d", i, first+i, e.Time)
				}
			}
		})
	}
}

func TestOpenFailsAfterRetry(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err := Open(context.Background(), filepath.Join(blocker, "room.dat"), "alice", testOptions())
	if err == nil {
		t.Fatal("Expected open to fail when the data dir is a file")
	}
}

func TestCloseWaitsWhileBusy(t *testing.T) {
	s, _ := openTestStore(t, "alice")

	s.inflight.Add(1)
	released := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		s.inflight.Add(-1)
		close(released)
	}()

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case <-released:
	default:
		t.Error("Close returned while the store was still busy")
	}
}

func TestCloseForcedAfterMaxWait(t *testing.T) {
	dbPath := Path(t.TempDir(), "stuck")
	opts := testOptions()
	opts.CloseWait = 20 * time.Millisecond
	s, _, err := Open(context.Background(), dbPath, "alice", opts)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	s.inflight.Add(1)

	done := make(chan error, 1)
	go func() { done <- s.Close(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Forced close failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not give up after CloseWait")
	}
}
