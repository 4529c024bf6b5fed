// Package interactive provides the interactive command-line interface
// for the PairLink host.
package interactive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/pairlink/pairlink-go/pkg/host"
)

// Console handles interactive mode for pairlink-host.
type Console struct {
	session *host.Session
	rl      *readline.Instance
}

// New creates a new interactive console.
func New(session *host.Session) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "host> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Console{
		session: session,
		rl:      rl,
	}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Stderr returns a writer that properly coordinates with the readline input.
func (c *Console) Stderr() io.Writer {
	return c.rl.Stderr()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "status", "s":
			c.cmdStatus()

		case "code", "c":
			c.cmdCode(args)

		case "pairings", "p":
			c.cmdPairings()

		case "send":
			c.cmdSend(args)

		case "unpair":
			c.cmdUnpair(args)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Commands:
  status     (s)  Show connection state and identity
  code       (c)  Show the active pairing code ('code new' issues a fresh one)
  pairings   (p)  List paired companions
  send <device-id> <kind> [json]  Send a message to a companion
  unpair <device-id>              Remove a pairing
  help       (?)  Show this help
  quit       (q)  Exit`)
}

func (c *Console) cmdStatus() {
	w := c.rl.Stdout()

	fmt.Fprintf(w, "State:       %s\n", c.session.State())
	fmt.Fprintf(w, "Registered:  %v\n", c.session.Connected())
	fmt.Fprintf(w, "Device ID:   %s\n", c.session.DeviceID())
	fmt.Fprintf(w, "Device name: %s\n", c.session.DeviceName())
	fmt.Fprintf(w, "Fingerprint: %s\n", c.session.Fingerprint())
	fmt.Fprintf(w, "Pairings:    %d\n", len(c.session.Pairings()))
	if code, ok := c.session.Code(); ok {
		fmt.Fprintf(w, "Active code: %s\n", code)
	}
}

func (c *Console) cmdCode(args []string) {
	w := c.rl.Stdout()

	if len(args) > 0 && args[0] == "new" {
		code, err := c.session.IssueCode()
		if err != nil {
			fmt.Fprintf(w, "Error: %v\n", err)
			return
		}
		fmt.Fprintf(w, "New pairing code: %s\n", code)
		return
	}

	if code, ok := c.session.Code(); ok {
		fmt.Fprintf(w, "Pairing code: %s\n", code)
	} else {
		fmt.Fprintln(w, "No active pairing code ('code new' issues one)")
	}
}

func (c *Console) cmdPairings() {
	w := c.rl.Stdout()

	peers := c.session.Pairings()
	if len(peers) == 0 {
		fmt.Fprintln(w, "No paired companions")
		return
	}

	for _, p := range peers {
		fmt.Fprintf(w, "  %s  %s\n", p.DeviceID, p.DeviceName)
	}
}

func (c *Console) cmdSend(args []string) {
	w := c.rl.Stdout()

	if len(args) < 2 {
		fmt.Fprintln(w, "Usage: send <device-id> <kind> [json]")
		return
	}

	target := args[0]
	kind := args[1]

	var payload any
	if len(args) > 2 {
		raw := strings.Join(args[2:], " ")
		if !json.Valid([]byte(raw)) {
			fmt.Fprintf(w, "Invalid JSON payload: %s\n", raw)
			return
		}
		payload = json.RawMessage(raw)
	}

	if err := c.session.SendTo(target, kind, payload); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Sent %s to %s\n", kind, target)
}

func (c *Console) cmdUnpair(args []string) {
	w := c.rl.Stdout()

	if len(args) != 1 {
		fmt.Fprintln(w, "Usage: unpair <device-id>")
		return
	}

	if err := c.session.Unpair(args[0]); err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "Unpair requested for %s\n", args[0])
}
