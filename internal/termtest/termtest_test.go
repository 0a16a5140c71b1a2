package termtest_test

import (
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/parley-chat/parley/internal/termtest"
)

func TestTypeAndOutput(t *testing.T) {
	tm := termtest.New(t, []string{"/bin/sh"},
		termtest.WithEnv("PS1=$ "),
		termtest.WithTimeout(2*time.Second),
	)
	tm.WaitFor("$", termtest.WaitInterval(20*time.Millisecond))

	tm.Type("echo hello\n")
	tm.WaitFor("hello")

	out := tm.Output()
	assert.Assert(t, out != "", "output should not be empty")
	assert.Assert(t, strings.Contains(out, "hello"))
}

func TestResize(t *testing.T) {
	tm := termtest.New(t, []string{"/bin/sh"},
		termtest.WithEnv("PS1=$ "),
		termtest.WithSize(40, 10),
	)
	tm.WaitFor("$")

	tm.Resize(120, 40)
	// After resize, shell should still be responsive.
	tm.Type("echo resized\n")
	tm.WaitFor("resized")
}

func TestDir(t *testing.T) {
	dir := t.TempDir()

	tm := termtest.New(t, []string{"/bin/sh"},
		termtest.WithEnv("PS1=$ "),
		termtest.WithDir(dir),
	)
	tm.WaitFor("$")

	tm.Type("pwd\n")
	tm.WaitFor(dir)
}

func TestDone(t *testing.T) {
	tm := termtest.New(t, []string{"/bin/sh", "-c", "exit 0"})
	select {
	case <-tm.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit within 5s")
	}
}
