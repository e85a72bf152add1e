package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shbozz/locals/internal/peers"
	"github.com/shbozz/locals/internal/store"
	"github.com/shbozz/locals/internal/transport"
)

// DefaultQuit is the input line that ends a session.
const DefaultQuit = "q"

// Store is the part of *store.Store the chat loop needs.
type Store interface {
	AppendMessage(ctx context.Context, ts int64, data []byte, username string) error
	AppendMessageFrom(ctx context.Context, ts int64, data []byte, peerID uint) error
	UpsertPeer(ctx context.Context, addr, username string) (bool, error)
	ReadRecent(ctx context.Context, limit int) ([]store.HistoryEntry, error)
	Close(ctx context.Context) error
}

// Transport is the part of *transport.Node the chat loop needs.
type Transport interface {
	Publish(ctx context.Context, data []byte) (string, error)
	Events() <-chan transport.Event
	AddDirectPeer(info peer.AddrInfo)
	RemoveDirectPeer(id peer.ID)
	ExternalAddresses() []string
}

// Printer receives everything the chat loop shows the user.
type Printer interface {
	Info(line string)
	Warn(line string)
	// Echo is called with each line the local user sent.
	Echo(line string)
}

// Roster is implemented by printers that list chat participants.
type Roster interface {
	Seen(username string)
}

type Config struct {
	Username string
	Quit     string
	// HistoryLimit is the number of stored messages replayed on start.
	HistoryLimit int
}

// ChatEngine runs one chat session. All state is owned by the goroutine
// calling Run.
type ChatEngine struct {
	cfg       Config
	store     Store
	transport Transport
	input     <-chan string
	out       Printer
	registry  *peers.Registry
	now       func() time.Time

	addr      string
	firstSent bool
}

func NewChatEngine(cfg Config, st Store, tr Transport, input <-chan string, out Printer) *ChatEngine {
	if cfg.Quit == "" {
		cfg.Quit = DefaultQuit
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = store.RecentLimit
	}
	return &ChatEngine{
		cfg:       cfg,
		store:     st,
		transport: tr,
		input:     input,
		out:       out,
		registry:  peers.NewRegistry(),
		now:       time.Now,
	}
}

// Run replays the stored history and then serves input lines and transport
// events until the quit line is entered, input ends, ctx is cancelled or an
// unrecoverable error occurs. The store is closed before Run returns.
func (e *ChatEngine) Run(ctx context.Context) error {
	if err := e.replayHistory(ctx); err != nil {
		return e.fail(err)
	}

	e.addr = e.bestAddress()
	slog.Info("Chat loop started", "username", e.cfg.Username, "addr", e.addr)
	e.out.Info(fmt.Sprintf("Enter messages here and type %q to quit.", e.cfg.Quit))

	events := e.transport.Events()
	for {
		select {
		case <-ctx.Done():
			if err := e.shutdown(context.Background()); err != nil {
				return errors.Join(ctx.Err(), err)
			}
			return ctx.Err()

		case line, ok := <-e.input:
			if !ok || line == e.cfg.Quit {
				return e.shutdown(ctx)
			}
			if err := e.handleLine(ctx, line); err != nil {
				return e.fail(err)
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				slog.Warn("Transport event stream closed")
				continue
			}
			if err := e.handleEvent(ctx, ev); err != nil {
				return e.fail(err)
			}
		}
	}
}

func (e *ChatEngine) replayHistory(ctx context.Context) error {
	entries, err := e.store.ReadRecent(ctx, e.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		e.seen(entry.Username)
		e.out.Info(FormatEntry(entry))
	}
	return nil
}

// bestAddress is the first externally reachable address, or the loopback
// placeholder when there is none yet.
func (e *ChatEngine) bestAddress() string {
	if addrs := e.transport.ExternalAddresses(); len(addrs) > 0 {
		return addrs[0]
	}
	return store.LoopbackAddr
}

func (e *ChatEngine) seen(username string) {
	if r, ok := e.out.(Roster); ok && username != "" && username != e.cfg.Username {
		r.Seen(username)
	}
}

func (e *ChatEngine) shutdown(ctx context.Context) error {
	slog.Info("Chat loop stopping, closing store")
	if err := e.store.Close(ctx); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// fail closes the store on the way out of a fatal error.
func (e *ChatEngine) fail(err error) error {
	slog.Error("Chat loop failed", "error", err)
	if cerr := e.shutdown(context.Background()); cerr != nil {
		return errors.Join(err, cerr)
	}
	return err
}

// FormatEntry renders a stored message as a history line.
func FormatEntry(entry store.HistoryEntry) string {
	name := entry.Username
	if name == "" {
		name = "unknown"
	}
	ts := time.Unix(entry.Time, 0).Format(time.DateTime)
	return fmt.Sprintf("[%s] %s: %s", ts, name, strings.ToValidUTF8(string(entry.Data), "�"))
}

// ReadLines delivers the lines of r on the returned channel and closes it at
// EOF. Trailing carriage returns are dropped.
func ReadLines(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimRight(scanner.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			slog.Error("Failed to read input", "error", err)
		}
	}()
	return lines
}
