package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/kong"
	kongcompletion "github.com/jotaen/kong-completion"
	"go.uber.org/automaxprocs/maxprocs"

	parley "github.com/parley-chat/parley"
	"github.com/parley-chat/parley/client"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/journal"
	"github.com/parley-chat/parley/internal/server"
	"github.com/parley-chat/parley/namegen"
	"github.com/parley-chat/parley/protocol"
)

type CLI struct {
	Version kong.VersionFlag `help:"Print version."`
	Config  string           `help:"Config file path override." type:"path"`
	Server  string           `help:"Server address override." env:"PARLEY_SERVER"`

	Serve      ServeCmd                  `cmd:"" default:"1" help:"Run the chat server in the foreground."`
	Register   RegisterCmd               `cmd:"" help:"Register a username."`
	Users      UsersCmd                  `cmd:"" aliases:"who" help:"List users and their status."`
	Groups     GroupsCmd                 `cmd:"" help:"List groups and their members."`
	Inbox      InboxCmd                  `cmd:"" help:"List pending messages."`
	Send       SendCmd                   `cmd:"" help:"Send a message to a user or group."`
	Status     StatusCmd                 `cmd:"" help:"Set your presence status."`
	Mkgroup    MkgroupCmd                `cmd:"" help:"Create a group."`
	Chat       ChatCmd                   `cmd:"" help:"Interactive chat session."`
	Journal    JournalCmd                `cmd:"" help:"Print the records of a journal file."`
	ShowConfig ConfigCmd                 `cmd:"" name:"config" help:"Print effective configuration."`
	Init       InitCmd                   `cmd:"" help:"Create default config file."`
	Completion kongcompletion.Completion `cmd:"" help:"Print shell completion setup instructions."`
}

type ServeCmd struct {
	Listen        string `help:"Listen address override."`
	Journal       string `help:"Journal file path override." type:"path"`
	MetricsListen string `help:"Metrics listen address override."`
}

func (cmd *ServeCmd) Run(cfg *config.Config) error {
	slog.SetLogLoggerLevel(slog.LevelInfo)
	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		slog.Info(fmt.Sprintf(format, args...))
	}))

	if cmd.Listen != "" {
		cfg.Server.Listen = cmd.Listen
	}
	if cmd.Journal != "" {
		cfg.Server.JournalPath = cmd.Journal
	}
	if cmd.MetricsListen != "" {
		cfg.Server.MetricsListen = cmd.MetricsListen
	}

	srv, err := server.New(context.Background(), &cfg.Server)
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}
	return srv.Listen()
}

type RegisterCmd struct {
	Name string `arg:"" optional:"" help:"Username to claim (generated when omitted)."`
}

func (cmd *RegisterCmd) Run(cfg *config.Config) error {
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
	} else if err := c.Register(name); err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}
	fmt.Printf("registered %q\n", name)
	return nil
}

// registerGenerated claims a generated name. The server arbitrates
// uniqueness, so collisions come back as rejections and we try a name not
// tried before.
func registerGenerated(c *client.Client) (string, error) {
	tried := make(map[string]bool)
	for range 5 {
		name := namegen.GenerateUnique(tried)
		tried[name] = true
		err := c.Register(name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, client.ErrInvalidRequest) {
			return "", fmt.Errorf("register %s: %w", name, err)
		}
	}
	return "", fmt.Errorf("no free generated name after 5 tries")
}

type UsersCmd struct {
	As string `help:"User to query as." env:"PARLEY_USER" completion-predictor:"user"`
}

func (cmd *UsersCmd) Run(cfg *config.Config) error {
	return withLogin(cfg, cmd.As, func(c *client.Client) error {
		users, err := c.Users()
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\n", u.Name, u.Status)
		}
		return w.Flush()
	})
}

type GroupsCmd struct {
	As string `help:"User to query as." env:"PARLEY_USER" completion-predictor:"user"`
}

func (cmd *GroupsCmd) Run(cfg *config.Config) error {
	return withLogin(cfg, cmd.As, func(c *client.Client) error {
		groups, err := c.Groups()
		if err != nil {
			return err
		}
		if len(groups) == 0 {
			fmt.Fprintln(os.Stderr, "no groups")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMEMBERS")
		for _, g := range groups {
			fmt.Fprintf(w, "%s\t%s\n", g.Name, strings.Join(g.Members, ", "))
		}
		return w.Flush()
	})
}

type InboxCmd struct {
	As string `help:"User whose inbox to read." env:"PARLEY_USER" completion-predictor:"user"`
}

func (cmd *InboxCmd) Run(cfg *config.Config) error {
	return withLogin(cfg, cmd.As, func(c *client.Client) error {
		msgs, err := c.Messages()
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			fmt.Fprintln(os.Stderr, "no messages")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFROM\tMESSAGE")
		for _, m := range msgs {
			fmt.Fprintf(w, "%d\t%s\t%s\n", m.ID, m.Sender, m.Content)
		}
		return w.Flush()
	})
}

type SendCmd struct {
	As      string   `help:"Sender username." env:"PARLEY_USER" completion-predictor:"user"`
	Group   bool     `short:"g" help:"Treat the recipient as a group."`
	To      string   `arg:"" help:"Recipient user or group." completion-predictor:"user"`
	Message []string `arg:"" help:"Message text."`
}

func (cmd *SendCmd) Run(cfg *config.Config) error {
	content := strings.Join(cmd.Message, " ")
	return withLogin(cfg, cmd.As, func(c *client.Client) error {
		if cmd.Group {
			return c.SendGroup(cmd.To, content)
		}
		return c.Send(cmd.To, content)
	})
}

type StatusCmd struct {
	As     string   `help:"Username." env:"PARLEY_USER" completion-predictor:"user"`
	Status []string `arg:"" help:"Status text."`
}

func (cmd *StatusCmd) Run(cfg *config.Config) error {
	text := strings.Join(cmd.Status, " ")
	return withLogin(cfg, cmd.As, func(c *client.Client) error {
		if err := c.SetStatus(text); err != nil {
			return err
		}
		fmt.Printf("status set to %q\n", text)
		return nil
	})
}

type MkgroupCmd struct {
	Name    string   `arg:"" help:"Group name."`
	Members []string `arg:"" help:"Member usernames." completion-predictor:"user"`
}

func (cmd *MkgroupCmd) Run(cfg *config.Config) error {
	c, err := dialServer(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.RegisterGroup(cmd.Name, cmd.Members); err != nil {
		return fmt.Errorf("create group %s: %w", cmd.Name, err)
	}
	fmt.Printf("created group %q with %d member(s)\n", cmd.Name, len(cmd.Members))
	return nil
}

type JournalCmd struct {
	Path string `arg:"" optional:"" help:"Journal file (default: configured path)." type:"path"`
}

func (cmd *JournalCmd) Run(cfg *config.Config) error {
	path := cmp.Or(cmd.Path, cfg.Server.JournalPath, journal.DefaultPath)
	// Opening would create a missing file; a listing should not.
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no journal at %s", path)
	}

	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	n := 0
	for j.HasMore() {
		rec, err := j.Next()
		if err != nil {
			w.Flush()
			return fmt.Errorf("journal invalid after %d record(s): %w", n, err)
		}
		n++
		fmt.Fprintf(w, "%d\t%s\n", n, formatRecord(rec))
	}
	w.Flush()
	if n == 0 {
		fmt.Fprintln(os.Stderr, "journal is empty")
	}
	return nil
}

func formatRecord(rec journal.Record) string {
	switch r := rec.(type) {
	case journal.NewUser:
		return fmt.Sprintf("user\t%q", r.Name)
	case journal.NewMessage:
		kind := "user"
		if r.RecipientType == protocol.RecipientGroup {
			kind = "group"
		}
		return fmt.Sprintf("message\t%q -> %s %q: %q", r.Sender, kind, r.Recipient, r.Content)
	case journal.DeleteMessage:
		return fmt.Sprintf("delete\tmessage %d", r.ID)
	case journal.UpdateID:
		return fmt.Sprintf("counter\t%d", r.ID)
	case journal.NewGroup:
		return fmt.Sprintf("group\t%q members=%s", r.Name, strings.Join(r.Members, ","))
	}
	return string(rec.Op())
}

type ConfigCmd struct{}

func (cmd *ConfigCmd) Run(cfg *config.Config) error {
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}

type InitCmd struct{}

func (cmd *InitCmd) Run(_ *config.Config) error {
	path, err := config.DefaultPath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config.Default()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("created %s\n", path)
	return nil
}

func dialServer(cfg *config.Config) (*client.Client, error) {
	timeout := time.Duration(cfg.Client.ReadTimeoutMillis) * time.Millisecond
	return client.Dial(cfg.Client.Server, client.WithReadTimeout(timeout))
}

// withLogin dials, logs in as name, runs fn, and releases the session. Every
// one-shot command works this way because sessions are bound to connections
// and cannot outlive the process.
func withLogin(cfg *config.Config, name string, fn func(*client.Client) error) error {
	if name == "" {
		return fmt.Errorf("user name required: set --as or PARLEY_USER")
	}

	c, err := dialServer(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if _, err := c.Login(name); err != nil {
		return fmt.Errorf("login %s: %w", name, err)
	}
	err = fn(c)
	_ = c.Logout()
	return err
}

func main() {
	// Client-side commands and completion callbacks stay quiet; serve
	// raises the level back to Info.
	slog.SetLogLoggerLevel(slog.LevelWarn)

	var cli CLI
	parser, err := kong.New(&cli,
		kong.UsageOnError(),
		kong.Vars{"version": parley.Version()},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	kongcompletion.Register(parser,
		kongcompletion.WithPredictor("user", userPredictor{}),
		kongcompletion.WithPredictor("group", groupPredictor{}),
	)

	ctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		parser.Printf("%s", err)
		parser.Exit(1)
		return
	}

	cfg, err := loadConfig(cli.Config)
	ctx.FatalIfErrorf(err)
	if cli.Server != "" {
		cfg.Client.Server = cli.Server
	}
	ctx.FatalIfErrorf(ctx.Run(cfg))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFrom(path)
	}
	return config.Load()
}
