package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/parley-chat/parley/client"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/server"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	cfg := &config.ServerConfig{
		JournalPath: filepath.Join(t.TempDir(), "test.chatjournal"),
	}

	s, err := server.New(context.Background(), cfg)
	assert.NilError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NilError(t, err)

	go s.Serve(ln)
	t.Cleanup(s.Shutdown)
	return ln.Addr().String()
}

func chatClient(t *testing.T, addr, name string) *client.Client {
	t.Helper()
	c, err := client.Dial(addr, client.WithReadTimeout(2*time.Second))
	assert.NilError(t, err)
	t.Cleanup(func() { c.Close() })
	assert.NilError(t, c.Register(name))
	_, err = c.Login(name)
	assert.NilError(t, err)
	return c
}

func runRepl(t *testing.T, c *client.Client, script string) string {
	t.Helper()
	var out bytes.Buffer
	r := &repl{c: c, out: &out}
	assert.NilError(t, r.loop(strings.NewReader(script)))
	return out.String()
}

func TestReplSession(t *testing.T) {
	addr := startTestServer(t)
	alice := chatClient(t, addr, "alice")
	bob := chatClient(t, addr, "bob")

	out := runRepl(t, alice, strings.Join([]string{
		"/mkgroup team alice bob",
		"/status In a meeting",
		"/send bob hi bob",
		"/gsend team standup at ten",
		"/inbox",
		"/users",
		"/groups",
		"/quit",
	}, "\n"))

	assert.Assert(t, strings.Contains(out, `created group "team"`))
	assert.Assert(t, strings.Contains(out, `status set to "In a meeting"`))
	assert.Assert(t, strings.Contains(out, "sent to bob"))
	assert.Assert(t, strings.Contains(out, "sent to group team"))
	// Alice's inbox holds her own copy of the group message.
	assert.Assert(t, strings.Contains(out, "alice: standup at ten"))
	assert.Assert(t, strings.Contains(out, "alice (In a meeting)"))
	assert.Assert(t, strings.Contains(out, "bob (Online)"))
	assert.Assert(t, strings.Contains(out, "team: alice, bob"))

	inbox, err := bob.Messages()
	assert.NilError(t, err)
	assert.Equal(t, len(inbox), 2)
	assert.Equal(t, inbox[0].Content, "hi bob")
	assert.Equal(t, inbox[1].Content, "standup at ten")
}

func TestReplDeleteMessage(t *testing.T) {
	addr := startTestServer(t)
	alice := chatClient(t, addr, "alice")
	bob := chatClient(t, addr, "bob")

	assert.NilError(t, alice.Send("bob", "delete me"))

	inbox, err := bob.Messages()
	assert.NilError(t, err)
	assert.Equal(t, len(inbox), 1)

	out := runRepl(t, bob, "/rm "+strconv.Itoa(int(inbox[0].ID))+"\n/inbox\n/quit\n")
	assert.Assert(t, strings.Contains(out, "deleted"))
	assert.Assert(t, strings.Contains(out, "no messages"))
}

func TestReplHandlesServerVerdicts(t *testing.T) {
	addr := startTestServer(t)
	alice := chatClient(t, addr, "alice")

	out := runRepl(t, alice, strings.Join([]string{
		"/send ghost hello",
		"/gsend nogroup hello",
		"/rm 999",
		"/quit",
	}, "\n"))

	// Server rejections are printed and the session continues.
	assert.Equal(t, strings.Count(out, "error:"), 3)
	assert.Assert(t, strings.Contains(out, "invalid request"))
}

func TestReplUsageAndUnknown(t *testing.T) {
	addr := startTestServer(t)
	alice := chatClient(t, addr, "alice")

	out := runRepl(t, alice, strings.Join([]string{
		"/send",
		"/gsend team",
		"/rm nope",
		"/status",
		"/mkgroup solo",
		"/dance",
		"/help",
		"",
		"/quit",
	}, "\n"))

	assert.Equal(t, strings.Count(out, "usage:"), 5)
	assert.Assert(t, strings.Contains(out, `unknown command "/dance"`))
	assert.Assert(t, strings.Contains(out, "/gsend <group> <text>"))
}

func TestReplEndsAtEOF(t *testing.T) {
	addr := startTestServer(t)
	alice := chatClient(t, addr, "alice")

	// No /quit; end of input ends the session cleanly.
	out := runRepl(t, alice, "/users\n")
	assert.Assert(t, strings.Contains(out, "alice (Online)"))
}
