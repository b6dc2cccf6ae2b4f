// muchsync-go drives one replica: it scans a maildir into the shadow
// database, and it syncs that shadow database against a peer replica
// over a duplex byte stream, exactly as the original muchsync binary
// does via its --server flag and its remote-invocation-over-ssh path in
// protocol.cc's cmd_sync/muchsync_server pair.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/rcowham/muchsync-go/config"
	"github.com/rcowham/muchsync-go/duplexpipe"
	"github.com/rcowham/muchsync-go/indexer"
	"github.com/rcowham/muchsync-go/logging"
	"github.com/rcowham/muchsync-go/protocol"
	"github.com/rcowham/muchsync-go/scan"
	"github.com/rcowham/muchsync-go/store"
)

func main() {
	var (
		configFile = kingpin.Flag(
			"config",
			"Config file for muchsync-go.",
		).Default("muchsync.yaml").Short('c').String()
		maildirFlag = kingpin.Flag(
			"maildir",
			"Maildir root (overrides config).",
		).String()
		sshCommand = kingpin.Flag(
			"ssh",
			"Remote shell command used to reach a peer (overrides config).",
		).String()
		remoteBin = kingpin.Flag(
			"remote-muchsync-path",
			"muchsync binary invoked on the remote end (overrides config).",
		).String()
		fullScan = kingpin.Flag(
			"full",
			"Disable the mtime candidate filter and re-examine every file.",
		).Bool()
		trustInode = kingpin.Flag(
			"trust-inode",
			"Trust an (inode, mtime, size) match without re-hashing on disagreement.",
		).Bool()
		verbose = kingpin.Flag(
			"verbose",
			"Enable debug-level logging.",
		).Short('v').Counter()

		serveCmd = kingpin.Command("serve",
			"Run the server side of one sync session on stdin/stdout. Invoked "+
				"remotely over ssh; not normally run by hand.")

		scanCmd = kingpin.Command("scan",
			"Rescan the maildir into the shadow database without syncing.")

		pullCmd  = kingpin.Command("pull", "Sync against a remote replica over ssh.")
		pullHost = pullCmd.Arg("host", "Remote host to sync with (user@host).").Required().String()
	)

	kingpin.UsageTemplate(kingpin.CompactUsageTemplate).Version("muchsync-go").Author("muchsync-go")
	kingpin.CommandLine.Help = "Peer-to-peer maildir synchronizer.\n"
	kingpin.HelpFlag.Short('h')
	command := kingpin.Parse()

	log := logging.New(*verbose > 0)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Errorf("loading config: %v", err)
		os.Exit(1)
	}
	if *maildirFlag != "" {
		cfg.Maildir = *maildirFlag
	}
	if *sshCommand != "" {
		cfg.SSHCommand = *sshCommand
	}
	if *remoteBin != "" {
		cfg.RemoteMuchsync = *remoteBin
	}
	if *fullScan {
		cfg.FullScan = true
	}
	if *trustInode {
		cfg.TrustInode = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	db, err := store.Open(storePath(cfg))
	if err != nil {
		log.Errorf("opening store: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	idx := &indexer.NotmuchCLI{Log: log}

	switch command {
	case serveCmd.FullCommand():
		if err := runServe(ctx, db, cfg.Maildir, os.Stdin, os.Stdout, log); err != nil {
			log.Errorf("serve: %v", err)
			os.Exit(1)
		}

	case scanCmd.FullCommand():
		if err := runScan(ctx, db, idx, cfg, log); err != nil {
			log.Errorf("scan: %v", err)
			os.Exit(1)
		}

	case pullCmd.FullCommand():
		if err := runScan(ctx, db, idx, cfg, log); err != nil {
			log.Errorf("pre-sync scan: %v", err)
			os.Exit(1)
		}
		if err := runPull(ctx, db, idx, cfg, *pullHost, log); err != nil {
			log.Errorf("pull: %v", err)
			os.Exit(1)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return &config.Config{
			StorePath:      config.DefaultStorePath,
			TrashDir:       config.DefaultTrashDir,
			SSHCommand:     config.DefaultSSH,
			RemoteMuchsync: config.DefaultRemoteMuchsync,
		}, nil
	}
	return config.LoadFile(path)
}

func storePath(cfg *config.Config) string {
	if strings.HasPrefix(cfg.StorePath, "/") {
		return cfg.StorePath
	}
	return cfg.Maildir + "/" + cfg.StorePath
}

func runScan(ctx context.Context, db *store.DB, idx indexer.Bridge, cfg *config.Config, log *logrus.Logger) error {
	sc := scan.New(db, idx, cfg.Maildir, log, scan.Options{
		FullScan:   cfg.FullScan,
		TrustInode: cfg.TrustInode,
	})
	mutated, err := sc.Scan(ctx)
	if err != nil {
		return err
	}
	log.Infof("scan complete, mutated=%v", mutated)
	return nil
}

// runServe wraps the server side's raw connection (stdin/stdout when
// invoked over ssh) in a duplexpipe.Pipe before handing it to
// protocol.Serve, so that a slow or backed-up peer on one side of the
// stream never stalls bytes flowing the other way -- the same
// guarantee infinibuf gives muchsync_server's ifdstream/ofdstream pair.
func runServe(ctx context.Context, db *store.DB, maildir string, r io.Reader, w io.Writer, log *logrus.Logger) error {
	pipe := duplexpipe.New(duplexpipe.Combine(r, w))
	go func() {
		if err := pipe.Start(ctx, log); err != nil {
			log.WithError(err).Debug("duplexpipe: serve pump exited")
		}
	}()
	return protocol.Serve(ctx, db, maildir, pipe, pipe, log)
}

// runPull spawns the remote muchsync binary over ssh with its serve
// subcommand and
// runs the client side of the protocol against its stdin/stdout,
// exactly the way the original's cmd_sync forks ssh and wraps its pipes
// in an ifdstream/ofdstream pair. The ssh pipes are fed through a
// duplexpipe.Pipe rather than handed to protocol.Pull directly, for the
// same deadlock-avoidance reason as runServe. The pumps are started
// individually, rather than via Pipe.Start, so the outgoing side can be
// drained and the write pipe closed (signaling the remote to exit)
// without waiting on the incoming side, which only reaches EOF once the
// remote process has already exited.
func runPull(ctx context.Context, db *store.DB, idx indexer.Bridge, cfg *config.Config, host string, log *logrus.Logger) error {
	args := []string{host, cfg.RemoteMuchsync, "serve"}
	cmd := exec.CommandContext(ctx, cfg.SSHCommand, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("pull: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pull: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pull: starting %s: %w", cfg.SSHCommand, err)
	}

	pipe := duplexpipe.New(duplexpipe.Combine(stdout, stdin))
	go func() {
		if err := duplexpipe.Fill(ctx, pipe.In, stdout); err != nil {
			log.WithError(err).Debug("duplexpipe: pull fill exited")
		}
	}()
	drainDone := make(chan error, 1)
	go func() { drainDone <- duplexpipe.Drain(ctx, pipe.Out, stdin) }()

	pullErr := protocol.Pull(ctx, db, idx, cfg.Maildir, pipe, pipe, log)

	pipe.Out.CloseWrite(nil)
	if err := <-drainDone; err != nil && pullErr == nil {
		pullErr = err
	}
	stdin.Close()
	waitErr := cmd.Wait()
	if pullErr != nil {
		return pullErr
	}
	return waitErr
}
