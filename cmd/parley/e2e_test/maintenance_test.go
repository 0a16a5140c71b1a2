package e2e_test

import (
	"strings"
	"syscall"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/icmd"

	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/termtest"
)

func TestJournalSurvivesRestart(t *testing.T) {
	e := setup(t, nil)

	srv := e.serve()
	e.run("register", "carol").Assert(t, icmd.Success)
	e.run("register", "dave").Assert(t, icmd.Success)
	e.run("mkgroup", "ops", "carol", "dave").Assert(t, icmd.Success)
	e.run("send", "--as", "carol", "dave", "ping").Assert(t, icmd.Success)

	srv.Signal(syscall.SIGTERM)
	select {
	case <-srv.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop on SIGTERM")
	}

	e.serve()

	users := e.run("users", "--as", "carol")
	users.Assert(t, icmd.Success)
	assert.Assert(t, strings.Contains(users.Stdout(), "dave"))

	groups := e.run("groups", "--as", "carol")
	groups.Assert(t, icmd.Expected{ExitCode: 0, Out: "ops"})

	inbox := e.run("inbox", "--as", "dave")
	inbox.Assert(t, icmd.Expected{ExitCode: 0, Out: "ping"})
}

func TestSilentClientGetsEvicted(t *testing.T) {
	cfg := config.Default()
	cfg.Server.HeartbeatTimeoutSeconds = 1
	cfg.Server.SweepIntervalMillis = 100
	// Beats arrive far too late to keep the session alive.
	cfg.Client.HeartbeatIntervalSeconds = 30
	e := setup(t, cfg)

	srv := e.serve()

	e.run("register", "alice").Assert(t, icmd.Success)
	e.run("register", "bob").Assert(t, icmd.Success)

	chat := e.term([]string{parleyBin, "chat", "alice"})
	chat.WaitFor("logged in as alice")

	srv.WaitFor("presumed dead", termtest.WaitTimeout(10*time.Second))

	// Eviction logged alice out; a quick one-shot as bob sees it. The
	// one-shot's own conversation outpaces the 1s timeout.
	users := e.run("users", "--as", "bob")
	users.Assert(t, icmd.Success)
	assert.Assert(t, strings.Contains(users.Stdout(), "alice"))
	assert.Assert(t, strings.Contains(users.Stdout(), "Offline"))
}
