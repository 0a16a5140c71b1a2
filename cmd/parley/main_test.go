package main

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/parley-chat/parley/client"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/journal"
	"github.com/parley-chat/parley/protocol"
)

func TestFormatRecord(t *testing.T) {
	cases := []struct {
		name string
		rec  journal.Record
		want string
	}{
		{"user", journal.NewUser{Name: "alice"}, "user\t\"alice\""},
		{
			"direct message",
			journal.NewMessage{Sender: "alice", RecipientType: protocol.RecipientUser, Recipient: "bob", Content: "hi"},
			"message\t\"alice\" -> user \"bob\": \"hi\"",
		},
		{
			"group message",
			journal.NewMessage{Sender: "alice", RecipientType: protocol.RecipientGroup, Recipient: "team", Content: "standup"},
			"message\t\"alice\" -> group \"team\": \"standup\"",
		},
		{"delete", journal.DeleteMessage{ID: 7}, "delete\tmessage 7"},
		{"counter", journal.UpdateID{ID: 12}, "counter\t12"},
		{
			"group",
			journal.NewGroup{Name: "team", Members: []string{"alice", "bob"}},
			"group\t\"team\" members=alice,bob",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, formatRecord(tc.rec), tc.want)
		})
	}
}

func TestWithLoginRequiresName(t *testing.T) {
	called := false
	err := withLogin(config.Default(), "", func(*client.Client) error {
		called = true
		return nil
	})
	assert.ErrorContains(t, err, "user name required")
	assert.Equal(t, called, false)
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults when no file", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		cfg, err := loadConfig("")
		assert.NilError(t, err)
		assert.Equal(t, cfg.Server.Listen, "127.0.0.1:8080")
		assert.Equal(t, cfg.Client.HeartbeatIntervalSeconds, 10)
	})

	t.Run("explicit path overrides", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "/srv/parley.chatjournal")
		cfg, err := loadConfig(path)
		assert.NilError(t, err)
		assert.Equal(t, cfg.Server.JournalPath, "/srv/parley.chatjournal")
		// Untouched keys keep their defaults.
		assert.Equal(t, cfg.Server.HeartbeatTimeoutSeconds, 20)
	})
}
