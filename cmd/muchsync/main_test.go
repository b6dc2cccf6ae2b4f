package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rcowham/muchsync-go/config"
)

func TestLoadConfigFallsBackToDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NoError(t, err)
	assert.Equal(t, config.DefaultStorePath, cfg.StorePath)
	assert.Equal(t, config.DefaultSSH, cfg.SSHCommand)
}

func TestLoadConfigReadsFileWhenPresent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muchsync.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("maildir: /home/u/Maildir\n"), 0o644))

	cfg, err := loadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, "/home/u/Maildir", cfg.Maildir)
	assert.Equal(t, config.DefaultStorePath, cfg.StorePath)
}

func TestStorePathJoinsRelativeToMaildir(t *testing.T) {
	cfg := &config.Config{Maildir: "/home/u/Maildir", StorePath: ".notmuch/muchsync.sqlite"}
	assert.Equal(t, "/home/u/Maildir/.notmuch/muchsync.sqlite", storePath(cfg))
}

func TestStorePathLeavesAbsolutePathAlone(t *testing.T) {
	cfg := &config.Config{Maildir: "/home/u/Maildir", StorePath: "/var/lib/muchsync.sqlite"}
	assert.Equal(t, "/var/lib/muchsync.sqlite", storePath(cfg))
}
