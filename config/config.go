// Package config loads the muchsync-go replica configuration.
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

const (
	// DefaultStorePath is the shadow database filename, relative to Maildir.
	DefaultStorePath = ".notmuch/muchsync.sqlite"
	// DefaultTrashDir is the hash-sharded blob retention area, relative to Maildir.
	DefaultTrashDir = ".muchsync/trash"
	// DefaultSSH is the remote shell command used to reach a peer.
	DefaultSSH = "ssh"
	// DefaultRemoteMuchsync is the muchsync binary invoked on the remote end.
	DefaultRemoteMuchsync = "muchsync"
)

// Config holds the replica-local settings needed to run a scan or a sync.
// It plays the role that opt_ssh/opt_remote_muchsync_path/opt_fullscan and
// similar process-wide globals play in the original implementation: here
// they are collected into one immutable value threaded through
// construction instead of left as mutable package state.
type Config struct {
	Maildir    string `yaml:"maildir"`
	StorePath  string `yaml:"store_path"`
	TrashDir   string `yaml:"trash_dir"`

	SSHCommand     string `yaml:"ssh_command"`
	RemoteMuchsync string `yaml:"remote_muchsync_path"`

	FullScan   bool `yaml:"full_scan"`
	TrustInode bool `yaml:"trust_inode"`
	NoUpload   bool `yaml:"no_upload"`
	Verbose    int  `yaml:"verbose"`

	ScanInterval time.Duration `yaml:"scan_interval"`

	NewTags []string `yaml:"new_tags"`
}

// Unmarshal parses a YAML document into a Config, filling in defaults first
// and validating afterwards.
func Unmarshal(data []byte) (*Config, error) {
	cfg := &Config{
		StorePath:      DefaultStorePath,
		TrashDir:       DefaultTrashDir,
		SSHCommand:     DefaultSSH,
		RemoteMuchsync: DefaultRemoteMuchsync,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v. make sure to use 'single quotes' around strings with special characters", err.Error())
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads and parses a config file from disk.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	cfg, err := Unmarshal(content)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ScanInterval < 0 {
		return fmt.Errorf("scan_interval must not be negative")
	}
	for _, t := range c.NewTags {
		if t == "" {
			return fmt.Errorf("new_tags must not contain empty strings")
		}
	}
	return nil
}
