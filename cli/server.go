// Package cli wires the urfave/cli commands exposed by the meridiand
// binary: today a single "node" command that starts the peer-to-peer
// networking core against a YAML config file.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianchain/meridian-go/pkg/config"
	"github.com/meridianchain/meridian-go/pkg/network"
)

// NewCommands returns the "node" command, the binary's single entry
// point: load config, build the logger, start the NetworkManager, and
// block until an interrupt or SIGTERM.
func NewCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:      "node",
			Usage:     "Start a Meridian peer-to-peer node",
			UsageText: "meridiand node --config path/to/config.yml",
			Action:    startNode,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "config",
					Aliases:  []string{"c"},
					Usage:    "Path to the YAML config file",
					Required: true,
				},
				&cli.BoolFlag{
					Name:  "debug",
					Usage: "Force debug-level logging regardless of config",
				},
			},
		},
	}
}

func startNode(ctx *cli.Context) error {
	cfg, err := config.LoadFile(ctx.String("config"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	log, err := buildLogger(cfg.Logger, ctx.Bool("debug"))
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	if err := network.RegisterMetrics(reg); err != nil {
		return cli.Exit(fmt.Errorf("registering metrics: %w", err), 1)
	}

	netCfg := network.Config{
		ListenPort:       cfg.P2P.ListenPort,
		BindAddress:      cfg.P2P.BindAddress,
		Testnet:          cfg.Testnet,
		MinOutboundPeers: cfg.P2P.MinOutboundPeers,
		MaxPeers:         cfg.P2P.MaxPeers,
		InitialPeers:     cfg.P2P.Addresses,
		UserAgent:        cfg.GenerateUserAgent(),
		MaxMessageSize:   cfg.P2P.MaxMessageSize,
	}

	repo := network.NewMemoryRepository()
	ctrl := network.NewLoggingController(log)

	mgr, err := network.NewNetworkManager(netCfg, repo, ctrl, network.SystemClock{}, log)
	if err != nil {
		return cli.Exit(fmt.Errorf("building network manager: %w", err), 1)
	}
	if err := mgr.Start(); err != nil {
		return cli.Exit(fmt.Errorf("starting network manager: %w", err), 1)
	}

	<-graceContext(context.Background()).Done()
	log.Info("shutdown signal received, stopping")
	if err := mgr.Shutdown(); err != nil {
		log.Warn("shutdown reported errors", zap.Error(err))
	}
	return nil
}

// graceContext returns a context cancelled the moment SIGINT or SIGTERM
// arrives.
func graceContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()
	return ctx
}

// buildLogger constructs a production zap.Logger from the node's Logger
// config, forcing debug level when requested on the command line.
func buildLogger(cfg config.Logger, debug bool) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		parsed, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log setting: %w", err)
		}
		level = parsed
	}
	if debug {
		level = zapcore.DebugLevel
	}
	encoding := "console"
	if cfg.LogEncoding != "" {
		encoding = cfg.LogEncoding
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.Encoding = encoding
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if cfg.LogTimestamp == nil || *cfg.LogTimestamp {
		cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cc.EncoderConfig.EncodeTime = func(time.Time, zapcore.PrimitiveArrayEncoder) {}
	}
	if cfg.LogPath != "" {
		cc.OutputPaths = []string{cfg.LogPath}
	}
	return cc.Build()
}
