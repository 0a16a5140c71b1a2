package main

import (
	"os"
	"strings"

	"github.com/posener/complete"

	"github.com/parley-chat/parley/internal/journal"
	"github.com/parley-chat/parley/internal/store"
)

// Directory listings need a live session, which a completion callback does
// not have. The predictors replay the local journal instead; on a machine
// without one they complete nothing.

type userPredictor struct{}

func (p userPredictor) Predict(a complete.Args) []string {
	st := storeFromJournal(journalPathFromCompletionArgs(a))
	if st == nil {
		return nil
	}
	users := st.Users()
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Name)
	}
	return out
}

type groupPredictor struct{}

func (p groupPredictor) Predict(a complete.Args) []string {
	st := storeFromJournal(journalPathFromCompletionArgs(a))
	if st == nil {
		return nil
	}
	groups := st.Groups()
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Name)
	}
	return out
}

func storeFromJournal(path string) *store.Store {
	if path == "" {
		return nil
	}
	// Open creates missing files; completion must not.
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	j, err := journal.Open(path)
	if err != nil {
		return nil
	}
	defer j.Close()

	st := store.New(j)
	st.Recover()
	return st
}

func journalPathFromCompletionArgs(a complete.Args) string {
	for i := 0; i < len(a.All); i++ {
		arg := a.All[i]
		if arg == "--config" && i+1 < len(a.All) {
			return journalPathFromConfig(a.All[i+1])
		}
		if strings.HasPrefix(arg, "--config=") {
			return journalPathFromConfig(strings.TrimPrefix(arg, "--config="))
		}
	}
	return journalPathFromConfig("")
}

func journalPathFromConfig(path string) string {
	cfg, err := loadConfig(path)
	if err != nil {
		return ""
	}
	return cfg.Server.JournalPath
}
