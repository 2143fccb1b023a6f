package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/scitags/ntstat-go/cmd/subcmd"
	"github.com/scitags/ntstat-go/codec"
	"github.com/scitags/ntstat-go/session"
	"github.com/scitags/ntstat-go/transport"
	"github.com/scitags/ntstat-go/types"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&confPath, "conf", "", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "log level: one of trace, debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logTimeFlag, "log-time", false, "include timestamps in the logs")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "log to this file instead of stderr, rotating it")
	rootCmd.PersistentFlags().IntVar(&logMaxSizeFlag, "log-max-size", 50, "size in megabytes after which the log file is rotated")
	rootCmd.PersistentFlags().IntVar(&logMaxBackupsFlag, "log-max-backups", 3, "rotated log files to keep around")

	runCmd.Flags().StringVar(&recordPath, "record", "", "record the kernel traffic to this file")
	runCmd.Flags().BoolVar(&udpFlag, "udp", false, "monitor UDP flows too")

	replayCmd.Flags().StringVar(&revisionFlag, "revision", "", "protocol revision the recording was made with (e.g. 9 or xnu-4570); defaults to the running kernel's")
}

var (
	rootCmd = &cobra.Command{
		Use:   "ntstatd",
		Short: "Monitor the flows reported by the Darwin network statistics kernel control.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, ok := types.ParseLogLevel(logLevelFlag)
			if !ok {
				return fmt.Errorf("wrong log level %q", logLevelFlag)
			}

			slog.SetDefault(slog.New(slog.NewTextHandler(logWriter(), &slog.HandlerOptions{
				AddSource:   true,
				Level:       level,
				ReplaceAttr: logReplacements,
			})))

			return nil
		},
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Connect to the kernel and report flows until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConf()
			if err != nil {
				return err
			}
			if recordPath != "" {
				conf.Session.Recording = recordPath
			}
			if udpFlag {
				conf.Session.WantUDP = true
			}

			return run(conf, func(sess *session.Session) error {
				if err := sess.Connect(); err != nil {
					return err
				}
				return sess.Run()
			})
		},
	}

	replayCmd = &cobra.Command{
		Use:   "replay <recording>",
		Short: "Replay a recording as if it came from the kernel.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConf()
			if err != nil {
				return err
			}
			// Replaying must never overwrite a recording.
			conf.Session.Recording = ""

			rev, err := replayRevision()
			if err != nil {
				return err
			}

			return run(conf, func(sess *session.Session) error {
				return sess.RunRecording(args[0], rev)
			})
		},
	}

	kernelCmd = &cobra.Command{
		Use:   "kernel",
		Short: "Print the running kernel's version and the protocol revision we'd speak.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := transport.KernelVersion()
			if err != nil {
				return fmt.Errorf("error getting the kernel version: %w", err)
			}

			xnu, err := codec.ParseXNUVersion(version)
			if err != nil {
				return err
			}

			rev := codec.RevisionForXNU(xnu)
			fmt.Printf("kernel:   %s\nxnu:      %d\nrevision: %d (%s)\n", version, xnu, int(rev), rev)

			return nil
		},
	}

	confCmd = &cobra.Command{
		Use:   "conf",
		Short: "Print the configuration we'd run with.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConf()
			if err != nil {
				return err
			}
			fmt.Print(conf)
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Get the built version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("version: %s\nbuilt commit: %s\n", types.APPLICATION, builtCommit)
		},
	}

	confPath          string
	logLevelFlag      string
	logTimeFlag       bool
	logFileFlag       string
	logMaxSizeFlag    int
	logMaxBackupsFlag int
	recordPath        string
	udpFlag           bool
	revisionFlag      string
	builtCommit       = "dev"
)

func init() {
	// Disable completion please!
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Add the different sub-commands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(kernelCmd)
	rootCmd.AddCommand(confCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(subcmd.PubIP)
}

func loadConf() (*Config, error) {
	if confPath == "" {
		slog.Debug("no configuration file provided, running with the defaults")
		return DefaultConf(), nil
	}
	return ReadConf(confPath)
}

// replayRevision honours --revision and falls back to the running kernel's.
func replayRevision() (codec.Revision, error) {
	if revisionFlag != "" {
		return codec.ParseRevision(revisionFlag)
	}

	xnu := codec.DefaultXNUVersion
	if version, err := transport.KernelVersion(); err == nil {
		if v, err := codec.ParseXNUVersion(version); err == nil {
			xnu = v
		}
	}

	rev := codec.RevisionForXNU(xnu)
	slog.Info("no revision given for the recording", "assuming", rev)

	return rev, nil
}

// run wires the session to the printer and the backends, hands it to body
// and tears everything down once body returns.
func run(conf *Config, body func(*session.Session) error) (err error) {
	slog.Debug("running with configuration", "conf", conf.String())

	backends, err := createBackends(conf)
	if err != nil {
		return err
	}

	sess := session.New(conf.Session, listeners(newPrinter(conf.Printer, os.Stdout), backends))

	if err := initBackends(backends, sess); err != nil {
		cleanupBackends(backends)
		return err
	}
	defer func() {
		if cErr := cleanupBackends(backends); cErr != nil && err == nil {
			err = fmt.Errorf("error cleaning up the backends: %w", cErr)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("caught signal, stopping", "signal", sig)
			sess.Stop()
		case <-done:
		}
	}()

	if err := body(sess); err != nil {
		return err
	}

	stats := sess.Stats()
	slog.Info("session finished", "sent", stats.Sent, "received", stats.Received,
		"drops", stats.Drops, "errors", stats.Errors, "decodeFailures", stats.DecodeFailures)

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
