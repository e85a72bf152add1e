package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/shbozz/locals/internal/core"
	"github.com/shbozz/locals/internal/engine"
	"github.com/shbozz/locals/internal/store"
	"github.com/shbozz/locals/internal/transport"
	"github.com/shbozz/locals/internal/tui"
	"github.com/shbozz/locals/internal/utils"
)

var (
	flagTUI   bool
	flagQR    bool
	flagPeers []string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a room and start chatting",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().BoolVar(&flagTUI, "tui", false, "Use the full-screen interface")
	chatCmd.Flags().BoolVar(&flagQR, "qr", false, "Print a QR code with this node's join address")
	chatCmd.Flags().StringSliceVarP(&flagPeers, "peer", "p", nil, "Multiaddr of a peer to dial at startup (repeatable)")
}

func runChat(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("tui") {
		cfg.TUI = flagTUI
	}
	if cmd.Flags().Changed("qr") {
		cfg.QR = flagQR
	}
	cfg.Peers = append(cfg.Peers, flagPeers...)

	in := bufio.NewReader(os.Stdin)
	if strings.TrimSpace(cfg.Room) == "" {
		cfg.Room = prompt(in, "Enter room name: ")
	}
	if strings.TrimSpace(cfg.Nick) == "" {
		cfg.Nick = prompt(in, "Enter username: ")
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting locals", "room", cfg.Room, "nick", cfg.Nick, "data_dir", cfg.DataDir)
	dbPath := store.Path(cfg.DataDir, cfg.Room)
	st, existed, err := store.Open(ctx, dbPath, cfg.Nick, storeOptions(cfg.Store))
	if err != nil {
		return err
	}
	if existed {
		fmt.Printf("Using existing database %s\n", dbPath)
	} else {
		fmt.Printf("Created database %s\n", dbPath)
	}

	key, err := core.LoadOrGenerateIdentity(core.IdentityPath(cfg.DataDir, cfg.Room))
	if err != nil {
		st.Close(ctx)
		return fmt.Errorf("failed to load identity: %w", err)
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

	for _, addr := range cfg.Peers {
		if err := node.Connect(ctx, addr); err != nil {
			slog.Warn("Failed to dial peer", "addr", addr, "error", err)
			fmt.Fprintf(os.Stderr, "Could not reach %s: %v\n", addr, err)
		}
	}

	if cfg.QR {
		printJoinQR(os.Stdout, node)
	}

	engCfg := engine.Config{Username: cfg.Nick, Quit: engine.DefaultQuit}
	if cfg.TUI {
		err = runWithTUI(ctx, stop, engCfg, st, node)
	} else {
		eng := engine.NewChatEngine(engCfg, st, node, engine.ReadLines(ctx, in), engine.NewWriterPrinter(os.Stdout))
		err = eng.Run(ctx)
	}

	// an interrupt closes the store like the quit line does
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runWithTUI(ctx context.Context, stop context.CancelFunc, engCfg engine.Config, st engine.Store, node *transport.Node) error {
	ui := tui.New(cfg.Room, cfg.Nick, engCfg.Quit)
	eng := engine.NewChatEngine(engCfg, st, node, ui.Lines(), ui)

	errCh := make(chan error, 1)
	go func() {
		err := eng.Run(ctx)
		ui.Quit()
		errCh <- err
	}()

	return waitForSession(ui.Run, stop, errCh)
}

// waitForSession runs the window until it closes and then waits for the
// chat loop. The quit line may not have reached the loop, so the session
// context is cancelled either way.
func waitForSession(runUI func() error, stop context.CancelFunc, errCh <-chan error) error {
	if err := runUI(); err != nil {
		slog.Error("TUI failed", "error", err)
	}
	stop()
	return <-errCh
}

func prompt(in *bufio.Reader, label string) string {
	fmt.Print(label)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

func printJoinQR(w io.Writer, node *transport.Node) {
	ip, err := utils.GetOutboundIP()
	if err != nil {
		slog.Warn("Failed to find outbound IP", "error", err)
	}
	join := utils.JoinAddress(utils.PickAddress(node.ExternalAddresses(), ip), node.ID().String())
	if join == "" {
		fmt.Fprintln(w, "No external address yet, skipping QR code")
		return
	}
	qr, err := qrcode.New(join, qrcode.Medium)
	if err != nil {
		slog.Warn("Failed to build QR code", "error", err)
		return
	}
	fmt.Fprintln(w, "\nSCAN TO JOIN ROOM:")
	fmt.Fprintln(w, qr.ToString(false))
	fmt.Fprintln(w, "Address:", join)
}
