package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dmitrijs2005/cryptostore/internal/config"
	"github.com/dmitrijs2005/cryptostore/internal/logging"
	"github.com/dmitrijs2005/cryptostore/internal/olm"
	"github.com/dmitrijs2005/cryptostore/internal/shared"
	"github.com/dmitrijs2005/cryptostore/internal/store"
)

type App struct {
	store  *store.Store
	log    logging.Logger
	reader *bufio.Reader
	out    io.Writer
}

// errIdentityMismatch is returned when the user declines to wipe a store
// that belongs to another identity.
var errIdentityMismatch = errors.New("store belongs to another identity")

// NewApp opens the store described by c, reading prompts from in and writing
// to out. The passphrase is asked for on the terminal when c.AskPassphrase is
// set.
//
// Opening a store for another identity wipes it, so a mismatch between the
// stored identity and c is confirmed first.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger, in io.Reader, out io.Writer) (*App, error) {
	if c.UserID == "" {
		return nil, fmt.Errorf("user id is required (-u)")
	}
	reader := bufio.NewReader(in)

	stored, err := store.ReadIdentity(ctx, c.DatabasePath)
	if err != nil {
		log.Error(ctx, "failed to read store identity", "path", c.DatabasePath, "err", err)
		return nil, err
	}
	if stored != nil && !stored.Matches(c.UserID, c.DeviceID) {
		log.Warn(ctx, "store identity does not match", "stored", stored.String(), "user_id", c.UserID, "device_id", c.DeviceID)
		prompt := fmt.Sprintf("Store belongs to %s, not %s %s. Wipe it and start over?", stored, c.UserID, c.DeviceID)
		ok, err := Confirm(reader, prompt, out)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", errIdentityMismatch, stored)
		}
	}

	var passphrase []byte
	if c.AskPassphrase {
		pw, err := GetPassphrase(out)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		passphrase = pw
		defer shared.WipeByteArray(passphrase)
	}

	s, err := store.Open(ctx, store.Options{
		Path:             c.DatabasePath,
		UserID:           c.UserID,
		DeviceID:         c.DeviceID,
		Codec:            olm.OpaqueCodec{},
		Logger:           log,
		Passphrase:       passphrase,
		BusyTimeout:      c.BusyTimeout,
		RequestRetention: c.RequestRetention,
	})
	if err != nil {
		log.Error(ctx, "failed to open crypto store", "path", c.DatabasePath, "err", err)
		return nil, err
	}

	return &App{store: s, log: log, reader: reader, out: out}, nil
}

func newApp(s *store.Store, log logging.Logger, in io.Reader, out io.Writer) *App {
	return &App{store: s, log: log, reader: bufio.NewReader(in), out: out}
}

// Run starts the REPL. It blocks until the user exits or ctx is done.
func (a *App) Run(ctx context.Context) {
	printlnFn("cryptostore shell (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader)
}

// Close closes the store, logging the failure it also returns.
func (a *App) Close(ctx context.Context) error {
	if err := a.store.Close(); err != nil {
		a.log.Error(ctx, "failed to close crypto store", "err", err)
		return err
	}
	return nil
}

func (a *App) getStatus() string {
	return fmt.Sprintf("(%s %s)", a.store.UserID(), a.store.DeviceID())
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format+"\n", args...)
}

// arg returns args[i], prompting for it when the user did not type it.
func (a *App) arg(args []string, i int, prompt string) (string, error) {
	if i < len(args) {
		return args[i], nil
	}
	return GetSimpleText(a.reader, prompt, a.out)
}
