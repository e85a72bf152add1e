package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shbozz/locals/internal/protocol"
	"github.com/shbozz/locals/internal/store"
	"github.com/shbozz/locals/internal/transport"
)

func (e *ChatEngine) handleLine(ctx context.Context, line string) error {
	if line == "" {
		return nil
	}

	var payload []byte
	if !e.firstSent {
		payload = protocol.EncodeFirst(e.addr, e.cfg.Username, line)
		e.firstSent = true
		e.out.Info("Your address is: " + e.addr)
	} else {
		e.addr = e.bestAddress()
		payload = protocol.EncodeNext(e.addr, line)
	}

	id, err := e.transport.Publish(ctx, payload)
	if err != nil {
		slog.Warn("Publish failed", "error", err)
		e.out.Warn(fmt.Sprintf("Publish error: %v", err))
	} else {
		slog.Debug("Published message", "id", id)
	}

	if err := e.store.AppendMessageFrom(ctx, e.now().Unix(), []byte(line), store.LocalPeerID); err != nil {
		return err
	}
	e.out.Echo(line)
	return nil
}

func (e *ChatEngine) handleEvent(ctx context.Context, ev transport.Event) error {
	switch ev := ev.(type) {
	case transport.Message:
		return e.handleMessage(ctx, ev)
	case transport.PeersDiscovered:
		for _, info := range ev.Peers {
			e.out.Info(fmt.Sprintf("mDNS discovered a new peer: %s", info.ID))
			e.transport.AddDirectPeer(info)
		}
	case transport.PeersExpired:
		for _, id := range ev.Peers {
			e.out.Info(fmt.Sprintf("mDNS discovered peer has expired: %s", id))
			e.transport.RemoveDirectPeer(id)
		}
	case transport.ListenAddr:
		e.out.Info("Local node is listening on " + ev.Addr)
	default:
		slog.Warn("Unhandled transport event", "type", fmt.Sprintf("%T", ev))
	}
	return nil
}

func (e *ChatEngine) handleMessage(ctx context.Context, m transport.Message) error {
	if _, lossy := protocol.Text(m.Data); lossy {
		e.out.Warn("Failed conversion from UTF-8, using lossy conversion")
	}

	if v := protocol.Verify(m.Data, m.ID); !v.OK {
		slog.Warn("Message hash mismatch", "source", m.Source, "computed", v.Computed, "received", v.Received)
		e.out.Warn(fmt.Sprintf(
			"The hash of the message that was received is incorrect. The message may have been tampered with. hash: %s received hash: %s",
			v.Computed, v.Received))
	}

	ts, err := protocol.IDTime(m.ID)
	if err != nil {
		slog.Warn("Message id has no usable time, using local clock", "id", m.ID, "error", err)
		ts = e.now().Unix()
	}

	frame, err := protocol.Decode(m.Data, e.registry.Contains)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownShortForm) {
			e.out.Warn(fmt.Sprintf("Dropping message from unseen address %s", frame.Address))
		} else {
			e.out.Warn(fmt.Sprintf("Dropping malformed message from %s", m.Source))
		}
		slog.Warn("Failed to decode message", "source", m.Source, "error", err)
		return nil
	}

	username := frame.Username
	if frame.First {
		e.registry.Register(frame.Address, frame.Username)
		added, err := e.store.UpsertPeer(ctx, frame.Address, frame.Username)
		if err != nil {
			return err
		}
		if added {
			slog.Info("New peer stored", "username", frame.Username, "addr", frame.Address)
		}
	} else {
		username, err = e.registry.Resolve(frame.Address)
		if err != nil {
			return err
		}
	}

	if err := e.store.AppendMessage(ctx, ts, []byte(frame.Text), username); err != nil {
		return err
	}

	e.seen(username)
	e.out.Info(fmt.Sprintf("Got message: '%s' with id: %s from: '%s' | peer: %s at %d",
		frame.Text, m.ID, username, m.Source, ts))
	return nil
}
