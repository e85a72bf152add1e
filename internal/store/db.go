package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shbozz/locals/internal/retry"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	// LocalPeerID is the peer row of the user running this process.
	LocalPeerID uint = 0
	// LoopbackAddr is stored for the local peer and used when no better
	// address is known.
	LoopbackAddr = "/ip4/127.0.0.1/tcp/0"
	// RecentLimit is the size of the history window replayed at startup.
	RecentLimit = 50
)

type Options struct {
	OpenRetry  retry.Policy
	WriteRetry retry.Policy
	// ClosePoll is how long Close sleeps between busy checks.
	ClosePoll time.Duration
	// CloseWait bounds the busy wait in Close. Zero waits forever.
	CloseWait time.Duration
}

func DefaultOptions() Options {
	return Options{
		OpenRetry:  retry.Once(time.Second),
		WriteRetry: retry.Once(100 * time.Millisecond),
		ClosePoll:  time.Second,
	}
}

// Store persists peers and messages for one chat room.
type Store struct {
	db       *gorm.DB
	path     string
	opts     Options
	inflight atomic.Int32
}

// Path returns the database file for a room.
func Path(dataDir, namespace string) string {
	return filepath.Join(dataDir, namespace+".dat")
}

// Open opens or creates the database at path. The boolean reports whether
// the file existed before the call. The local peer row (id 0, username) is
// created if it is missing.
func Open(ctx context.Context, path, username string, opts Options) (*Store, bool, error) {
	_, statErr := os.Stat(path)
	existed := statErr == nil

	var db *gorm.DB
	err := opts.OpenRetry.Do(ctx, func() error {
		var err error
		db, err = Init(path)
		if err != nil {
			slog.Warn("Failed to open database", "path", path, "error", err)
		}
		return err
	})
	if err != nil {
		return nil, existed, fmt.Errorf("open store %s: %w", path, err)
	}

	s := &Store{db: db, path: path, opts: opts}
	// an empty file or an interrupted first run can leave the table without
	// the local row, which every local message references
	res := s.db.WithContext(ctx).Exec(
		"INSERT INTO peers (id, address, username) VALUES (?, ?, ?) ON CONFLICT DO NOTHING",
		LocalPeerID, LoopbackAddr, username,
	)
	if res.Error != nil {
		s.closeDB()
		return nil, existed, fmt.Errorf("store local user as a peer: %w", res.Error)
	}
	if res.RowsAffected > 0 && existed {
		slog.Warn("Local peer row was missing, seeded it", "path", path)
	}
	slog.Info("Store opened", "path", path, "existed", existed)
	return s, existed, nil
}

func Init(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Peer{}, &Message{}); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// track marks the store busy for the duration of fn.
func (s *Store) track(fn func() error) error {
	s.inflight.Add(1)
	defer s.inflight.Add(-1)
	return fn()
}

// AppendMessage stores a message from the peer named username. An unknown
// username is stored with no sender rather than failing.
func (s *Store) AppendMessage(ctx context.Context, ts int64, data []byte, username string) error {
	return s.track(func() error {
		var sender *uint
		err := s.opts.WriteRetry.Do(ctx, func() error {
			var p Peer
			res := s.db.WithContext(ctx).Where("username = ?", username).Limit(1).Find(&p)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				id := p.ID
				sender = &id
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("look up sender %q: %w", username, err)
		}
		if sender == nil {
			slog.Warn("Sender not found, storing message without sender", "username", username)
		}
		return s.insertMessage(ctx, ts, data, sender)
	})
}

// AppendMessageFrom stores a message from a known peer id.
func (s *Store) AppendMessageFrom(ctx context.Context, ts int64, data []byte, peerID uint) error {
	return s.track(func() error {
		return s.insertMessage(ctx, ts, data, &peerID)
	})
}

func (s *Store) insertMessage(ctx context.Context, ts int64, data []byte, sender *uint) error {
	err := s.opts.WriteRetry.Do(ctx, func() error {
		msg := Message{Time: ts, Data: data, SenderID: sender}
		return s.db.WithContext(ctx).Create(&msg).Error
	})
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	return nil
}

// UpsertPeer adds a peer row. A username that already exists is left as is;
// the result reports whether a row was inserted.
func (s *Store) UpsertPeer(ctx context.Context, addr, username string) (bool, error) {
	var added bool
	err := s.track(func() error {
		return s.opts.WriteRetry.Do(ctx, func() error {
			p := Peer{Address: addr, Username: username}
			res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "username"}},
				DoNothing: true,
			}).Create(&p)
			added = res.RowsAffected > 0
			return res.Error
		})
	})
	if err != nil {
		return false, fmt.Errorf("store peer %q: %w", username, err)
	}
	return added, nil
}

// ReadRecent returns up to limit of the newest messages in ascending id order.
func (s *Store) ReadRecent(ctx context.Context, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	err := s.track(func() error {
		return s.db.WithContext(ctx).
			Table("messages").
			Select("messages.time AS time, messages.data AS data, COALESCE(peers.username, '') AS username").
			Joins("LEFT JOIN peers ON peers.id = messages.sender_id").
			Order("messages.id DESC").
			Limit(limit).
			Scan(&entries).Error
	})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// PeerByUsername looks up a peer row.
func (s *Store) PeerByUsername(ctx context.Context, username string) (Peer, bool, error) {
	var p Peer
	res := s.db.WithContext(ctx).Where("username = ?", username).Limit(1).Find(&p)
	return p, res.RowsAffected > 0, res.Error
}

func (s *Store) Peers(ctx context.Context) ([]Peer, error) {
	var peers []Peer
	err := s.db.WithContext(ctx).Order("id").Find(&peers).Error
	return peers, err
}

// Busy reports whether an operation is in flight.
func (s *Store) Busy() bool {
	if s.inflight.Load() > 0 {
		return true
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.Stats().InUse > 0
}

// Close waits until the store is idle and closes it. The wait polls every
// ClosePoll and gives up after CloseWait (if set) or when ctx is done, in
// which case the handle is closed anyway.
func (s *Store) Close(ctx context.Context) error {
	poll := s.opts.ClosePoll
	if poll <= 0 {
		poll = time.Second
	}
	start := time.Now()
wait:
	for s.Busy() {
		if s.opts.CloseWait > 0 && time.Since(start) >= s.opts.CloseWait {
			slog.Warn("Store still busy, forcing close", "waited", time.Since(start))
			break
		}
		slog.Warn("Store is busy, waiting before close", "poll", poll)
		select {
		case <-ctx.Done():
			slog.Warn("Close interrupted, forcing close", "error", ctx.Err())
			break wait
		case <-time.After(poll):
		}
	}
	if err := s.closeDB(); err != nil {
		return fmt.Errorf("close store %s: %w", s.path, err)
	}
	slog.Info("Store closed", "path", s.path)
	return nil
}

func (s *Store) closeDB() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
