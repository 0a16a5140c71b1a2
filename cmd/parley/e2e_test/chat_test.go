package e2e_test

import (
	"testing"
	"time"

	"gotest.tools/v3/icmd"
)

func TestChatSession(t *testing.T) {
	e := setup(t, nil)
	e.serve()

	e.run("register", "alice").Assert(t, icmd.Success)
	e.run("register", "bob").Assert(t, icmd.Success)

	alice := e.term([]string{parleyBin, "chat", "alice"})
	alice.WaitFor("logged in as alice")

	bob := e.term([]string{parleyBin, "chat", "bob"})
	bob.WaitFor("logged in as bob")

	alice.Type("/send bob hi bob\n")
	alice.WaitFor("sent to bob")

	bob.Type("/inbox\n")
	bob.WaitFor("alice: hi bob")

	bob.Type("/status out for lunch\n")
	bob.WaitFor(`status set to "out for lunch"`)

	alice.Type("/users\n")
	alice.WaitFor("bob (out for lunch)")

	alice.Type("/quit\n")
	select {
	case <-alice.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not exit on /quit")
	}
}

func TestChatGroupMessaging(t *testing.T) {
	e := setup(t, nil)
	e.serve()

	e.run("register", "alice").Assert(t, icmd.Success)
	e.run("register", "bob").Assert(t, icmd.Success)

	alice := e.term([]string{parleyBin, "chat", "alice"})
	alice.WaitFor("logged in as alice")

	alice.Type("/mkgroup team alice bob\n")
	alice.WaitFor(`created group "team"`)

	alice.Type("/gsend team standup at ten\n")
	alice.WaitFor("sent to group team")

	// The sender is a member, so the fan-out reaches alice too.
	alice.Type("/inbox\n")
	alice.WaitFor("alice: standup at ten")

	bob := e.term([]string{parleyBin, "chat", "bob"})
	bob.WaitFor("logged in as bob")
	bob.Type("/inbox\n")
	bob.WaitFor("alice: standup at ten")
}

func TestChatGeneratedName(t *testing.T) {
	e := setup(t, nil)
	e.serve()

	chat := e.term([]string{parleyBin, "chat"})
	chat.WaitFor("registered")
	chat.WaitFor("logged in as")
}

func TestChatUnknownUser(t *testing.T) {
	e := setup(t, nil)
	e.serve()

	chat := e.term([]string{parleyBin, "chat", "ghost"})
	chat.WaitFor("unknown name, or already logged in")
	select {
	case <-chat.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("chat did not exit after login failure")
	}
}

func TestChatRejectsSecondLogin(t *testing.T) {
	e := setup(t, nil)
	e.serve()

	e.run("register", "alice").Assert(t, icmd.Success)

	first := e.term([]string{parleyBin, "chat", "alice"})
	first.WaitFor("logged in as alice")

	second := e.term([]string{parleyBin, "chat", "alice"})
	second.WaitFor("unknown name, or already logged in")
}
