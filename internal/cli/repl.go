package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies it;
// tests provide a lightweight stub.
type execIface interface {
	Stats(ctx context.Context, args []string) error
	Sessions(ctx context.Context, args []string) error
	Groups(ctx context.Context, args []string) error
	Backup(ctx context.Context, args []string) error
	Devices(ctx context.Context, args []string) error
	Tracking(ctx context.Context, args []string) error
	Trust(ctx context.Context, args []string) error
	Block(ctx context.Context, args []string) error
	CrossSigning(ctx context.Context, args []string) error
	Requests(ctx context.Context, args []string) error
	Rooms(ctx context.Context, args []string) error
	Tidy(ctx context.Context, args []string) error
	Wipe(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  stats                              row counts per table
  sessions <device curve25519 key>   olm sessions with a device
  groups                             inbound group sessions
  backup                             key backup progress
  devices [user id]                  known devices
  tracking [user id]                 device list tracking status
  trust <user id> <device id> <y/n>  set local verification
  block <user id> <device id> <y/n>  block or unblock a device
  crosssigning [user id]             cross-signing keys and trust
  requests                           pending key requests
  rooms                              per-room encryption settings
  tidy                               drop expired outgoing key requests
  wipe                               delete everything in the store
  exit | quit                        leave the program`

// runREPL reads commands line by line from reader and dispatches them to a.
// Arguments after the command name are passed through; handlers prompt for
// the ones that are missing, reading from the same reader.
//
// Errors returned by handlers are printed and the loop continues. The loop
// exits on EOF or when the user types "exit" or "quit".
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	handlers := map[string]func(context.Context, []string) error{
		"stats":        a.Stats,
		"sessions":     a.Sessions,
		"groups":       a.Groups,
		"backup":       a.Backup,
		"devices":      a.Devices,
		"tracking":     a.Tracking,
		"trust":        a.Trust,
		"block":        a.Block,
		"crosssigning": a.CrossSigning,
		"xs":           a.CrossSigning,
		"requests":     a.Requests,
		"rooms":        a.Rooms,
		"tidy":         a.Tidy,
		"wipe":         a.Wipe,
	}

	for {
		if ctx.Err() != nil {
			return
		}
		printlnFn(fmt.Sprintf("cs %s> ", statusFn()))

		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			h, ok := handlers[cmd]
			if !ok {
				printlnFn("Unknown command:", cmd)
				continue
			}
			if err := h(ctx, args); err != nil {
				printlnFn("error:", err)
			}
		}
	}
}
