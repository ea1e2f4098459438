package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/cryptostore/internal/common"
	"github.com/dmitrijs2005/cryptostore/internal/models"
)

func trustString(t *models.TrustLevel) string {
	if t == nil {
		return "unknown"
	}
	return fmt.Sprintf("cross_signed=%t local=%t", t.CrossSigningVerified, t.LocallyVerified)
}

// Devices lists the devices of one user, or of every known user.
func (a *App) Devices(ctx context.Context, args []string) error {
	users := args
	if len(users) == 0 {
		ids, err := a.store.UserIDs(ctx)
		if err != nil {
			return err
		}
		users = ids
	}
	if len(users) == 0 {
		a.printf("no known users")
		return nil
	}

	for _, userID := range users {
		devs, err := a.store.GetDevicesForUser(ctx, userID)
		if err != nil {
			return err
		}
		if devs == nil {
			a.printf("%s: unknown user", userID)
			continue
		}
		a.printf("%s: %d device(s)", userID, len(devs))

		ids := make([]string, 0, len(devs))
		for id := range devs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			d := devs[id]
			line := fmt.Sprintf("  %s %q curve25519=%s trust=%s", id, d.DisplayName(), d.IdentityKey(), trustString(d.TrustLevel))
			if d.IsBlocked {
				line += " BLOCKED"
			}
			a.printf("%s", line)
		}
	}
	return nil
}

// Tracking prints the device list tracking status of one user, or of all
// tracked users.
func (a *App) Tracking(ctx context.Context, args []string) error {
	if len(args) > 0 {
		status, err := a.store.DeviceTrackingStatus(ctx, args[0], models.TrackingStatusNotTracked)
		if err != nil {
			return err
		}
		a.printf("%s %s", args[0], status)
		return nil
	}

	all, err := a.store.AllDeviceTrackingStatuses(ctx)
	if err != nil {
		return err
	}
	users := make([]string, 0, len(all))
	for u := range all {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		a.printf("%s %s", u, all[u])
	}
	return nil
}

// deviceArgs reads "<user id> <device id> <y/n>" from args or prompts.
func (a *App) deviceArgs(args []string, question string) (userID, deviceID string, value bool, err error) {
	if userID, err = a.arg(args, 0, "Enter user id"); err != nil {
		return
	}
	if deviceID, err = a.arg(args, 1, "Enter device id"); err != nil {
		return
	}
	answer, err := a.arg(args, 2, question+" (y/n)")
	if err != nil {
		return
	}
	value, err = parseBool(answer)
	return
}

// Trust sets the local verification of a device. The cross-signing part of
// its trust is left as stored.
func (a *App) Trust(ctx context.Context, args []string) error {
	userID, deviceID, local, err := a.deviceArgs(args, "Verified locally?")
	if err != nil {
		return err
	}
	d, err := a.store.GetDevice(ctx, userID, deviceID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("device %s/%s: %w", userID, deviceID, common.ErrorNotFound)
	}
	if err := a.store.SetDeviceTrust(ctx, userID, deviceID, d.TrustLevel.IsCrossSigningVerified(), local); err != nil {
		return err
	}
	a.printf("%s/%s locally verified: %t", userID, deviceID, local)
	return nil
}

func (a *App) Block(ctx context.Context, args []string) error {
	userID, deviceID, blocked, err := a.deviceArgs(args, "Block?")
	if err != nil {
		return err
	}
	if err := a.store.SetDeviceBlocked(ctx, userID, deviceID, blocked); err != nil {
		return err
	}
	a.printf("%s/%s blocked: %t", userID, deviceID, blocked)
	return nil
}

// CrossSigning prints the cross-signing keys of a user, the local user by
// default. For the local user it also tells which private keys are held.
func (a *App) CrossSigning(ctx context.Context, args []string) error {
	userID := a.store.UserID()
	if len(args) > 0 {
		userID = args[0]
	}

	info, err := a.store.GetCrossSigningInfo(ctx, userID)
	if err != nil {
		return err
	}
	if info == nil {
		a.printf("%s: no cross-signing keys", userID)
		return nil
	}

	a.printf("%s trusted=%t", userID, info.IsTrusted())
	for _, k := range []*models.CrossSigningKey{info.MasterKey(), info.SelfSigningKey(), info.UserSigningKey()} {
		if k == nil {
			continue
		}
		a.printf("  %-12s %s trust=%s", k.Slot(), k.PublicKey, trustString(k.TrustLevel))
	}

	if userID != a.store.UserID() {
		return nil
	}
	keys, err := a.store.GetPrivateCrossSigningKeys(ctx)
	if err != nil {
		return err
	}
	a.printf("  private keys: master=%t self_signing=%t user_signing=%t",
		keys.Master != "", keys.SelfSigned != "", keys.UserSigning != "")
	return nil
}

func describeBody(body *models.RoomKeyRequestBody, secretName string) string {
	if body == nil {
		return "secret " + secretName
	}
	return fmt.Sprintf("room key %s session=%s", body.RoomID, body.SessionID)
}

// Requests lists outgoing key requests in every state and incoming ones
// waiting for a decision.
func (a *App) Requests(ctx context.Context, _ []string) error {
	out, err := a.store.OutgoingRequestsByState(ctx,
		models.OutgoingUnsent,
		models.OutgoingSent,
		models.OutgoingCancellationPending,
		models.OutgoingCancellationPendingAndWillResend,
	)
	if err != nil {
		return err
	}
	in, err := a.store.AllPendingIncomingRequests(ctx)
	if err != nil {
		return err
	}

	a.printf("outgoing: %d", len(out))
	for _, r := range out {
		a.printf("  %s [%s] %s", r.RequestID, r.State, describeBody(r.RequestBody, r.SecretName))
	}
	a.printf("incoming: %d", len(in))
	for _, r := range in {
		a.printf("  %s from %s/%s %s", r.RequestID, r.UserID, r.DeviceID, describeBody(r.RequestBody, r.SecretName))
	}
	return nil
}

// Rooms prints the settings of one room, or the rooms that have an
// encryption algorithm or block unverified devices.
func (a *App) Rooms(ctx context.Context, args []string) error {
	if len(args) > 0 {
		roomID := args[0]
		algorithm, err := a.store.RoomAlgorithm(ctx, roomID)
		if err != nil {
			return err
		}
		invited, err := a.store.ShouldEncryptForInvitedMembers(ctx, roomID)
		if err != nil {
			return err
		}
		share, err := a.store.ShouldShareHistory(ctx, roomID)
		if err != nil {
			return err
		}
		outbound, err := a.store.CurrentOutboundGroupSession(ctx, roomID)
		if err != nil {
			return err
		}
		if algorithm == "" {
			algorithm = "none"
		}
		a.printf("%s algorithm=%s encrypt_for_invited=%t share_history=%t", roomID, algorithm, invited, share)
		if outbound != nil {
			a.printf("  outbound session created %s shared_history=%t",
				time.UnixMilli(outbound.CreatedAt).UTC().Format(time.RFC3339), outbound.SharedHistory)
			outbound.Release()
		}
		return nil
	}

	encrypted, err := a.store.RoomsWithAlgorithm(ctx, megolmAlgorithm)
	if err != nil {
		return err
	}
	blocking, err := a.store.RoomsWithBlacklistedUnverifiedDevices(ctx)
	if err != nil {
		return err
	}
	global, err := a.store.GlobalBlacklistUnverifiedDevices(ctx)
	if err != nil {
		return err
	}

	a.printf("encrypted (%s): %s", megolmAlgorithm, joinOrNone(encrypted))
	a.printf("blocking unverified devices: %s", joinOrNone(blocking))
	a.printf("global blocking: %t", global)
	return nil
}

const megolmAlgorithm = "m.megolm.v1.aes-sha2"

func joinOrNone(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}
