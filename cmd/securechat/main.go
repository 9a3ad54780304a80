// Command securechat runs a chat node over TCP.
//
//	securechat host [--mode direct|group]   wait for a peer or host a room
//	securechat join <room-id>               join a group room
//	securechat connect <peer-id>            start an encrypted two-party chat
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/securesignal/config"
	"github.com/opd-ai/securesignal/session"
	"github.com/opd-ai/securesignal/store"
	"github.com/opd-ai/securesignal/summary"
	"github.com/opd-ai/securesignal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globalFlags override values from the config file and environment.
type globalFlags struct {
	configPath string
	storePath  string
	listenHost string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "securechat",
		Short:         "Peer-to-peer chat with end-to-end encrypted direct sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "YAML config file")
	root.PersistentFlags().StringVar(&flags.storePath, "store", "", "identity store directory (default: in memory)")
	root.PersistentFlags().StringVar(&flags.listenHost, "listen", "", "interface to listen on")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: trace|debug|info|warn|error")

	root.AddCommand(newHostCmd(&flags), newJoinCmd(&flags), newConnectCmd(&flags))
	return root
}

func newHostCmd(flags *globalFlags) *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Wait for a peer (direct) or host a room (group)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Mode = mode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return run(cmd.Context(), cfg, "", cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "session mode: direct|group")
	return cmd
}

func newJoinCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "join <room-id>",
		Short: "Join a group room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			cfg.Mode = string(session.ModeGroup)
			return run(cmd.Context(), cfg, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newConnectCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "connect <peer-id>",
		Short: "Start an encrypted two-party chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, flags)
			if err != nil {
				return err
			}
			cfg.Mode = string(session.ModeDirect)
			return run(cmd.Context(), cfg, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func loadConfig(cmd *cobra.Command, flags *globalFlags) (config.Config, error) {
	cfg, err := config.Load(flags.configPath, ".env")
	if err != nil {
		return config.Config{}, err
	}

	if cmd.Flags().Changed("store") {
		cfg.StorePath = flags.storePath
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenHost = flags.listenHost
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, cfg.ApplyLogging()
}

// run wires the node together and drives the interactive shell until the
// user quits or the process is interrupted.
func run(parent context.Context, cfg config.Config, joinRoom string, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slot, err := store.OpenBadger(cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := slot.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "run",
				"error":    err.Error(),
			}).Warn("Closing identity store failed")
		}
	}()

	var gen summary.Generator
	if cfg.GeminiAPIKey != "" {
		gen = summary.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel)
	}

	view := newPrinter(out)
	coordinator, err := session.New(cfg.Session(joinRoom), transport.NewTCPTransport(cfg.TCP()),
		session.WithIdentityStore(slot),
		session.WithStateListener(view.state),
		session.WithMessageListener(view.message),
	)
	if err != nil {
		return err
	}
	defer coordinator.Close()

	if err := coordinator.Start(ctx); err != nil {
		if coordinator.State().LocalIdentity == "" {
			return fmt.Errorf("start: %w", err)
		}
		// The node is up; the room or peer was just not reachable.
		view.warn(err.Error())
	}
	view.banner(coordinator.State())

	sh := newShell(coordinator, summary.NewService(gen), view)
	err = sh.run(ctx, in)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
