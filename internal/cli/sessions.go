package cli

import (
	"context"

	"github.com/dmitrijs2005/cryptostore/internal/olm"
)

// Stats prints the number of rows per table.
func (a *App) Stats(ctx context.Context, _ []string) error {
	st, err := a.store.Stats(ctx)
	if err != nil {
		return err
	}
	a.printf("olm sessions:       %d", st.OlmSessions)
	a.printf("group sessions:     %d (%d backed up)", st.GroupSessions, st.BackedUpGroupSessions)
	a.printf("users:              %d", st.Users)
	a.printf("devices:            %d", st.Devices)
	a.printf("cross-signing keys: %d", st.CrossSigningKeys)
	a.printf("outgoing requests:  %d", st.OutgoingRequests)
	a.printf("incoming requests:  %d", st.IncomingRequests)
	a.printf("rooms:              %d", st.Rooms)
	a.printf("withheld sessions:  %d", st.WithheldSessions)
	a.printf("session shares:     %d", st.SharedSessions)
	a.printf("total:              %d", st.Total())
	return nil
}

// Sessions lists the Olm session ids shared with one device. The session
// used last is marked with '*'.
func (a *App) Sessions(ctx context.Context, args []string) error {
	key, err := a.arg(args, 0, "Enter device curve25519 key")
	if err != nil {
		return err
	}
	ids, err := a.store.SessionIDsForDevice(ctx, key)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		a.printf("no sessions with %s", key)
		return nil
	}
	last, err := a.store.LastUsedSessionID(ctx, key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		mark := " "
		if id == last {
			mark = "*"
		}
		a.printf("%s %s", mark, id)
	}
	return nil
}

// Groups lists inbound group sessions by room and sender. Pickles are not
// opened, so only their size is shown.
func (a *App) Groups(ctx context.Context, _ []string) error {
	list, err := a.store.AllGroupSessions(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, gs := range list {
			gs.Release()
		}
	}()

	if len(list) == 0 {
		a.printf("no group sessions")
		return nil
	}
	for _, gs := range list {
		size := 0
		if o, ok := gs.Handle.(*olm.Opaque); ok {
			size = o.Size()
		}
		a.printf("%s sender=%s forwarded=%d shared_history=%t pickle=%dB",
			gs.RoomID, gs.SenderKey, len(gs.ForwardingChain), gs.SharedHistory, size)
	}
	return nil
}

// Backup prints the key backup version and how many sessions it holds.
func (a *App) Backup(ctx context.Context, _ []string) error {
	version, err := a.store.KeyBackupVersion(ctx)
	if err != nil {
		return err
	}
	total, err := a.store.CountGroupSessions(ctx, false)
	if err != nil {
		return err
	}
	done, err := a.store.CountGroupSessions(ctx, true)
	if err != nil {
		return err
	}
	if version == "" {
		version = "none"
	}
	a.printf("backup version: %s", version)
	a.printf("backed up: %d/%d", done, total)
	return nil
}

// Tidy drops outgoing key requests older than the retention period.
func (a *App) Tidy(ctx context.Context, _ []string) error {
	n, err := a.store.TidyUp(ctx)
	if err != nil {
		return err
	}
	a.printf("removed %d expired key requests", n)
	return nil
}

// Wipe deletes the whole store after confirmation.
func (a *App) Wipe(ctx context.Context, _ []string) error {
	ok, err := Confirm(a.reader, "Delete every key and session in this store?", a.out)
	if err != nil {
		return err
	}
	if !ok {
		a.printf("cancelled")
		return nil
	}
	if err := a.store.Wipe(ctx); err != nil {
		return err
	}
	a.log.Info(ctx, "crypto store wiped by user")
	a.printf("store wiped")
	return nil
}
