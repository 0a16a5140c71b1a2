package e2e_test

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"gotest.tools/v3/fs"
	"gotest.tools/v3/icmd"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/termtest"
)

var parleyBin string

type testEnv struct {
	t       *testing.T
	addr    string
	cfgHome string
	journal string
}

func TestMain(m *testing.M) {
	dir := fs.NewDir(&testing.T{}, "parley-test")
	defer dir.Remove()

	parleyBin = dir.Join("parley")
	result := icmd.RunCommand("go", "build", "-o", parleyBin, "github.com/parley-chat/parley/cmd/parley")
	if result.ExitCode != 0 {
		panic("build parley: " + result.Combined())
	}

	os.Exit(m.Run())
}

// freeAddr grabs an ephemeral port and releases it for the server to bind.
// The listener sets SO_REUSEADDR, so the rebind does not race TIME_WAIT.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("setup: reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func setup(t *testing.T, cfg *config.Config) *testEnv {
	if cfg == nil {
		cfg = config.Default()
	}

	dir := fs.NewDir(t, "parley-e2e",
		fs.WithDir("config", fs.WithDir("parley")),
		fs.WithDir("state"),
	)
	cfgHome := dir.Join("config")

	addr := freeAddr(t)
	cfg.Server.Listen = addr
	cfg.Server.JournalPath = dir.Join("state", "journal.txt")
	cfg.Client.Server = addr

	var cfgBuf strings.Builder
	if err := toml.NewEncoder(&cfgBuf).Encode(cfg); err != nil {
		t.Fatalf("setup: encode config: %v", err)
	}
	if err := os.WriteFile(dir.Join("config", "parley", "config.toml"), []byte(cfgBuf.String()), 0o644); err != nil {
		t.Fatalf("setup: write config: %v", err)
	}

	t.Setenv("XDG_CONFIG_HOME", cfgHome)

	return &testEnv{t: t, addr: addr, cfgHome: cfgHome, journal: cfg.Server.JournalPath}
}

func (e *testEnv) env() []string {
	return []string{
		"XDG_CONFIG_HOME=" + e.cfgHome,
	}
}

// serve starts the server under a pty and blocks until it accepts
// connections. Cleanup kills it with the rest of the test's terminals.
func (e *testEnv) serve() *termtest.Term {
	srv := e.term([]string{parleyBin, "serve"})
	srv.WaitFor("server listening")
	return srv
}

func (e *testEnv) term(cmd []string, opts ...termtest.Option) *termtest.Term {
	path := strings.Join([]string{filepath.Dir(parleyBin), "/usr/bin", "/bin", "/usr/sbin", "/sbin"}, ":")
	env := append([]string{"PATH=" + path}, e.env()...)
	opts = append([]termtest.Option{termtest.WithEnv(env...)}, opts...)
	return termtest.New(e.t, cmd, opts...)
}

func (e *testEnv) run(args ...string) *icmd.Result {
	cmd := icmd.Command(parleyBin, args...)
	return icmd.RunCmd(cmd, icmd.WithEnv(append(os.Environ(), e.env()...)...))
}
