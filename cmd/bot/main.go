package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shbozz/locals/internal/config"
	"github.com/shbozz/locals/internal/core"
	"github.com/shbozz/locals/internal/engine"
	"github.com/shbozz/locals/internal/logger"
	"github.com/shbozz/locals/internal/store"
	"github.com/shbozz/locals/internal/transport"
)

var (
	room     string
	nick     string
	dataDir  string
	peers    []string
	messages []string
	interval time.Duration
	stay     time.Duration
)

// The bot joins a room headless, sends a fixed script and leaves. It is
// used to exercise discovery and delivery against a running chat.
var botCmd = &cobra.Command{
	Use:          "bot",
	Short:        "Scripted headless chat peer",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	botCmd.Flags().StringVarP(&room, "room", "r", "lobby", "Room to join")
	botCmd.Flags().StringVarP(&nick, "nick", "n", "", "Username (default bot-<random>)")
	botCmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory (default a temporary dir)")
	botCmd.Flags().StringSliceVarP(&peers, "peer", "p", nil, "Multiaddr of a peer to dial")
	botCmd.Flags().StringSliceVarP(&messages, "message", "m", []string{"Hello! I am a bot."}, "Message to send (repeatable)")
	botCmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "Delay before each message")
	botCmd.Flags().DurationVar(&stay, "stay", 10*time.Second, "Time to stay online after the last message")
}

func main() {
	if err := botCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.Room = room
	cfg.Nick = nick
	if cfg.Nick == "" {
		cfg.Nick = "bot-" + uuid.NewString()[:8]
	}
	cfg.LogFile = "locals-bot.log"
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Init(cfg.LogFile, cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if dataDir == "" {
		dir, err := os.MkdirTemp("", "locals-bot-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		dataDir = dir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, _, err := store.Open(ctx, store.Path(dataDir, cfg.Room), cfg.Nick, store.DefaultOptions())
	if err != nil {
		return err
	}
	key, err := core.LoadOrGenerateIdentity(core.IdentityPath(dataDir, cfg.Room))
	if err != nil {
		st.Close(ctx)
		return err
	}
	node, err := transport.New(ctx, transport.Options{
		Room:         cfg.Room,
		ListenAddrs:  cfg.ListenAddrs,
		Identity:     key,
		DiscoveryTTL: cfg.Discovery.TTL,
	})
	if err != nil {
		st.Close(ctx)
		return err
	}
	defer node.Close()

	fmt.Printf("Bot %s joined room %s as %s\n", node.ID(), cfg.Room, cfg.Nick)
	for _, addr := range peers {
		if err := node.Connect(ctx, addr); err != nil {
			fmt.Printf("Failed to connect to %s: %v\n", addr, err)
		}
	}

	eng := engine.NewChatEngine(engine.Config{Username: cfg.Nick}, st, node, script(ctx), engine.NewWriterPrinter(os.Stdout))
	err = eng.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// script feeds the configured messages and then the quit line.
func script(ctx context.Context) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		send := func(line string, after time.Duration) bool {
			select {
			case <-time.After(after):
			case <-ctx.Done():
				return false
			}
			select {
			case lines <- line:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, msg := range messages {
			fmt.Printf("Sending message: %q\n", msg)
			if !send(msg, interval) {
				return
			}
		}
		fmt.Printf("Staying online for %s...\n", stay)
		send(engine.DefaultQuit, stay)
	}()
	return lines
}
