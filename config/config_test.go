package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const defaultConfig = `
maildir:	/home/u/Maildir
store_path:	.notmuch/muchsync.sqlite
full_scan:	false
`

func loadOrFail(t *testing.T, cfgString string) *Config {
	cfg, err := Unmarshal([]byte(cfgString))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err.Error())
	}
	return cfg
}

func TestValidConfig(t *testing.T) {
	cfg := loadOrFail(t, defaultConfig)
	assert.Equal(t, "/home/u/Maildir", cfg.Maildir)
	assert.Equal(t, ".notmuch/muchsync.sqlite", cfg.StorePath)
	assert.False(t, cfg.FullScan)
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := loadOrFail(t, "")
	assert.Equal(t, DefaultStorePath, cfg.StorePath)
	assert.Equal(t, DefaultTrashDir, cfg.TrashDir)
	assert.Equal(t, DefaultSSH, cfg.SSHCommand)
	assert.Equal(t, DefaultRemoteMuchsync, cfg.RemoteMuchsync)
}

func TestNewTags(t *testing.T) {
	const cfgString = `
maildir: /m
new_tags:
  - inbox
  - unread
`
	cfg := loadOrFail(t, cfgString)
	assert.Equal(t, []string{"inbox", "unread"}, cfg.NewTags)
}

func TestNegativeScanIntervalRejected(t *testing.T) {
	_, err := Unmarshal([]byte("maildir: /m\nscan_interval: -5s\n"))
	assert.Error(t, err)
}

func TestEmptyNewTagRejected(t *testing.T) {
	_, err := Unmarshal([]byte("maildir: /m\nnew_tags:\n  - \"\"\n"))
	assert.Error(t, err)
}

func TestScanIntervalParses(t *testing.T) {
	cfg := loadOrFail(t, "maildir: /m\nscan_interval: 30s\n")
	assert.Equal(t, 30*time.Second, cfg.ScanInterval)
}
