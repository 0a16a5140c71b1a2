package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/parley-chat/parley/client"
	"github.com/parley-chat/parley/internal/config"
)

type ChatCmd struct {
	Name string `arg:"" optional:"" help:"Username (generated and registered when omitted)." completion-predictor:"user"`
}

func (cmd *ChatCmd) Run(cfg *config.Config) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("chat requires a TTY")
	}

	c, err := dialServer(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	name := cmd.Name
	if name == "" {
		if name, err = registerGenerated(c); err != nil {
			return err
		}
		fmt.Printf("registered %q\n", name)
	}
	if _, err := c.Login(name); err != nil {
		if errors.Is(err, client.ErrInvalidRequest) {
			return fmt.Errorf("login %s: %w (unknown name, or already logged in elsewhere)", name, err)
		}
		return fmt.Errorf("login %s: %w", name, err)
	}

	if s := cfg.Client.HeartbeatIntervalSeconds; s > 0 {
		c.StartHeartbeat(time.Duration(s) * time.Second)
	}

	fmt.Printf("logged in as %s; /help lists commands\n", name)
	r := &repl{c: c, out: os.Stdout}
	err = r.loop(os.Stdin)
	_ = c.Logout()
	return err
}

const replHelp = `commands:
  /users               list users and status
  /groups              list groups
  /inbox               list your messages
  /send <user> <text>  send a direct message
  /gsend <group> <text>  send to a group
  /rm <id>             delete a message from your inbox
  /status <text>       set your status
  /mkgroup <name> <user> [user...]  create a group
  /quit                log out and exit
`

type repl struct {
	c   *client.Client
	out io.Writer
}

// loop reads one command per line until /quit or end of input. Server
// verdicts are printed and the session continues; a transport failure ends
// it, since the connection is gone.
func (r *repl) loop(in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		quit, err := r.dispatch(line)
		if err != nil {
			if !isProtocolErr(err) {
				return err
			}
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func isProtocolErr(err error) bool {
	return errors.Is(err, client.ErrInvalidRequest) ||
		errors.Is(err, client.ErrUnauthorized) ||
		errors.Is(err, client.ErrNotLoggedIn)
}

func (r *repl) dispatch(line string) (bool, error) {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/q":
		return true, nil

	case "/help":
		fmt.Fprint(r.out, replHelp)
		return false, nil

	case "/users":
		users, err := r.c.Users()
		if err != nil {
			return false, err
		}
		for _, u := range users {
			fmt.Fprintf(r.out, "%s (%s)\n", u.Name, u.Status)
		}
		return false, nil

	case "/groups":
		groups, err := r.c.Groups()
		if err != nil {
			return false, err
		}
		if len(groups) == 0 {
			fmt.Fprintln(r.out, "no groups")
			return false, nil
		}
		for _, g := range groups {
			fmt.Fprintf(r.out, "%s: %s\n", g.Name, strings.Join(g.Members, ", "))
		}
		return false, nil

	case "/inbox":
		msgs, err := r.c.Messages()
		if err != nil {
			return false, err
		}
		if len(msgs) == 0 {
			fmt.Fprintln(r.out, "no messages")
			return false, nil
		}
		for _, m := range msgs {
			fmt.Fprintf(r.out, "[%d] %s: %s\n", m.ID, m.Sender, m.Content)
		}
		return false, nil

	case "/send":
		to, text, ok := strings.Cut(rest, " ")
		if !ok || to == "" || text == "" {
			fmt.Fprintln(r.out, "usage: /send <user> <text>")
			return false, nil
		}
		if err := r.c.Send(to, text); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "sent to %s\n", to)
		return false, nil

	case "/gsend":
		to, text, ok := strings.Cut(rest, " ")
		if !ok || to == "" || text == "" {
			fmt.Fprintln(r.out, "usage: /gsend <group> <text>")
			return false, nil
		}
		if err := r.c.SendGroup(to, text); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "sent to group %s\n", to)
		return false, nil

	case "/rm":
		id, err := strconv.ParseInt(rest, 10, 32)
		if err != nil {
			fmt.Fprintln(r.out, "usage: /rm <id>")
			return false, nil
		}
		if err := r.c.DeleteMessage(int32(id)); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "deleted [%d]\n", id)
		return false, nil

	case "/status":
		if rest == "" {
			fmt.Fprintln(r.out, "usage: /status <text>")
			return false, nil
		}
		if err := r.c.SetStatus(rest); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "status set to %q\n", rest)
		return false, nil

	case "/mkgroup":
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			fmt.Fprintln(r.out, "usage: /mkgroup <name> <user> [user...]")
			return false, nil
		}
		if err := r.c.RegisterGroup(fields[0], fields[1:]); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "created group %q\n", fields[0])
		return false, nil

	default:
		fmt.Fprintf(r.out, "unknown command %q; /help lists commands\n", cmd)
		return false, nil
	}
}
