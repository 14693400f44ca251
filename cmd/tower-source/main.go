package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/tau-tower/internal/auth"
	"github.com/dgnsrekt/tau-tower/internal/source"
)

type options struct {
	file      string
	transport string
	addr      string
	username  string
	password  string
	port      uint16
	realtime  bool
	loop      bool
	retries   int
	verbose   bool
}

func setupLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.DisableStacktrace = true
	return zapConfig.Build()
}

func defaultPort() uint16 {
	if v := os.Getenv("TAU_MOUNT_PORT"); v != "" {
		if port, err := strconv.ParseUint(v, 10, 16); err == nil {
			return uint16(port)
		}
	}
	return 8001
}

func (o *options) dialer() (source.DialFunc, error) {
	switch o.transport {
	case "ws":
		addr := o.addr
		if addr == "" {
			addr = "ws://127.0.0.1:8000/"
		}
		creds := auth.Credentials{Username: o.username, Password: o.password, Port: o.port}
		return source.WSDialer(addr, creds), nil
	case "udp":
		addr := o.addr
		if addr == "" {
			addr = "127.0.0.1:8002"
		}
		return source.UDPDialer(addr), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (must be 'ws' or 'udp')", o.transport)
	}
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "tau-source",
		Short:         "Replay an Ogg/Opus file into a tau relay",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := setupLogger(opts.verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			dial, err := opts.dialer()
			if err != nil {
				return err
			}

			logger.Info("starting playback",
				zap.String("file", opts.file),
				zap.String("transport", opts.transport),
				zap.Bool("realtime", opts.realtime),
				zap.Bool("loop", opts.loop),
			)

			player := source.NewPlayer(opts.file, dial, source.Options{
				Realtime:   opts.realtime,
				Loop:       opts.loop,
				RetryCount: opts.retries,
				RetryDelay: time.Second,
			}, logger)
			return player.Run(cmd.Context())
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "Ogg/Opus file to replay")
	flags.StringVarP(&opts.transport, "transport", "t", "ws", "transport to the relay: ws or udp")
	flags.StringVarP(&opts.addr, "addr", "a", "", "relay address (ws://host:port/ or host:port)")
	flags.StringVarP(&opts.username, "username", "u", os.Getenv("TAU_SOURCE_USERNAME"), "source username (or set TAU_SOURCE_USERNAME)")
	flags.StringVarP(&opts.password, "password", "p", os.Getenv("TAU_SOURCE_PASSWORD"), "source password (or set TAU_SOURCE_PASSWORD)")
	flags.Uint16Var(&opts.port, "port", defaultPort(), "relay mount port announced in the handshake")
	flags.BoolVar(&opts.realtime, "realtime", true, "pace pages by granule position")
	flags.BoolVar(&opts.loop, "loop", false, "restart the file at end of stream")
	flags.IntVar(&opts.retries, "retries", 5, "reconnect attempts before giving up")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	_ = rootCmd.MarkFlagRequired("file")

	// Setup signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "tau-source: %v\n", err)
		os.Exit(1)
	}
}
