// Command staking-oracle runs the liquid-staking oracle engine as a
// daemon: it tracks reporting frames, accepts committee report hashes and
// payloads through the two pipelines, and exposes Prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	primitives "github.com/prysmaticlabs/prysm/v5/consensus-types/primitives"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/thep2p/go-staking-oracle/internal/beacon"
	"github.com/thep2p/go-staking-oracle/internal/frame"
	"github.com/thep2p/go-staking-oracle/internal/metrics"
	"github.com/thep2p/go-staking-oracle/internal/oracle"
	"github.com/thep2p/go-staking-oracle/internal/oracle/accounting"
	"github.com/thep2p/go-staking-oracle/internal/oracle/exitbus"
)

func main() {
	app := &cli.App{
		Name:  "staking-oracle",
		Usage: "liquid-staking oracle consensus and report-processing engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "beacon-endpoint",
				Usage: "beacon node HTTP API; when set, chain parameters are discovered from it",
			},
			&cli.Uint64Flag{
				Name:  "genesis-time",
				Usage: "Unix timestamp of slot zero (ignored when --beacon-endpoint is set)",
			},
			&cli.Uint64Flag{
				Name:  "slots-per-epoch",
				Value: 32,
				Usage: "slots per epoch (ignored when --beacon-endpoint is set)",
			},
			&cli.Uint64Flag{
				Name:  "seconds-per-slot",
				Value: 12,
				Usage: "slot duration in seconds (ignored when --beacon-endpoint is set)",
			},
			&cli.Uint64Flag{
				Name:  "epochs-per-frame",
				Value: 225,
				Usage: "epochs covered by one reporting frame",
			},
			&cli.Uint64Flag{
				Name:  "initial-epoch",
				Usage: "first epoch of frame zero",
			},
			&cli.Uint64Flag{
				Name:  "consensus-version",
				Value: 1,
				Usage: "expected off-chain consensus protocol version",
			},
			&cli.Uint64Flag{
				Name:  "fast-lane-slots",
				Usage: "fast-lane interval length in slots (0 disables the fast lane)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Value: ":9600",
				Usage: "listen address for the Prometheus /metrics endpoint",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "zerolog level (trace, debug, info, warn, error)",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chainCfg, err := resolveChainConfig(ctx, logger, c)
	if err != nil {
		return err
	}

	clock, err := frame.NewClock(chainCfg, frame.Config{
		InitialEpoch:   primitives.Epoch(c.Uint64("initial-epoch")),
		EpochsPerFrame: c.Uint64("epochs-per-frame"),
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	collectors := metrics.New(registry)
	consensusCfg := oracle.Config{
		ConsensusVersion:    c.Uint64("consensus-version"),
		FastLaneLengthSlots: c.Uint64("fast-lane-slots"),
	}

	sink := &logSink{logger: logger.With().Str("component", "report-sink").Logger()}

	pl, err := buildPipelines(logger, clock, consensusCfg, collectors, sink)
	if err != nil {
		return err
	}

	go serveMetrics(logger, registry, pl, c.String("metrics-addr"))
	go trackFrames(ctx, logger, clock, chainCfg)

	logger.Info().
		Uint64("epochs_per_frame", c.Uint64("epochs-per-frame")).
		Uint64("consensus_version", consensusCfg.ConsensusVersion).
		Msg("staking oracle started")

	// Handle SIGINT / SIGTERM for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	return nil
}

// pipelines bundles the two oracle specializations behind one handle.
type pipelines struct {
	accounting *accounting.Pipeline
	exitbus    *exitbus.Pipeline
}

// buildPipelines constructs both report pipelines over their own consensus
// state machines sharing one frame clock.
func buildPipelines(logger zerolog.Logger, clock *frame.Clock, cfg oracle.Config, collectors *metrics.Metrics, sink *logSink) (*pipelines, error) {
	accountingConsensus, err := oracle.NewConsensus(
		logger.With().Str("pipeline", "accounting").Logger(),
		clock, cfg, oracle.AllowAll, oracle.WithMetrics(collectors, "accounting"))
	if err != nil {
		return nil, err
	}

	exitConsensus, err := oracle.NewConsensus(
		logger.With().Str("pipeline", "exitbus").Logger(),
		clock, cfg, oracle.AllowAll, oracle.WithMetrics(collectors, "exitbus"))
	if err != nil {
		return nil, err
	}

	return &pipelines{
		accounting: accounting.NewPipeline(logger, accountingConsensus, sink, sink),
		exitbus:    exitbus.NewPipeline(logger, exitConsensus, sink),
	}, nil
}

// resolveChainConfig takes chain timing from the beacon node when an
// endpoint is configured, and from flags otherwise.
func resolveChainConfig(ctx context.Context, logger zerolog.Logger, c *cli.Context) (frame.ChainConfig, error) {
	if endpoint := c.String("beacon-endpoint"); endpoint != "" {
		client, err := beacon.NewClient(ctx, logger, endpoint)
		if err != nil {
			return frame.ChainConfig{}, err
		}
		return client.ChainConfig(ctx)
	}

	cfg := frame.ChainConfig{
		SlotsPerEpoch:  c.Uint64("slots-per-epoch"),
		SecondsPerSlot: c.Uint64("seconds-per-slot"),
		GenesisTime:    c.Uint64("genesis-time"),
	}
	return cfg, cfg.Validate()
}

// trackFrames logs frame transitions once per slot.
func trackFrames(ctx context.Context, logger zerolog.Logger, clock *frame.Clock, chain frame.ChainConfig) {
	ticker := time.NewTicker(time.Duration(chain.SecondsPerSlot) * time.Second)
	defer ticker.Stop()

	var lastRefSlot primitives.Slot
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fr, err := clock.FrameAt(now)
			if err != nil {
				logger.Debug().Err(err).Msg("no active frame")
				continue
			}
			if fr.RefSlot != lastRefSlot {
				lastRefSlot = fr.RefSlot
				logger.Info().
					Uint64("frame", fr.Index).
					Uint64("ref_slot", uint64(fr.RefSlot)).
					Uint64("deadline_slot", uint64(fr.ProcessingDeadlineSlot)).
					Msg("new reporting frame")
			}
		}
	}
}

func serveMetrics(logger zerolog.Logger, registry *prometheus.Registry, pl *pipelines, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]oracle.State{
			"accounting": pl.accounting.Consensus().State(),
			"exitbus":    pl.exitbus.Consensus().State(),
		}); err != nil {
			logger.Error().Err(err).Msg("write status response")
		}
	})

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}

// logSink is a development stand-in for the token/registry collaborators:
// it logs every finalized report, extra-data item, and exit request.
type logSink struct {
	logger zerolog.Logger
}

func (s *logSink) OnAccountingReport(report accounting.ReportData) {
	s.logger.Info().
		Uint64("ref_slot", uint64(report.RefSlot)).
		Uint64("num_validators", report.NumValidators).
		Uint64("cl_balance_gwei", report.ClBalanceGwei).
		Msg("accounting report finalized")
}

func (s *logSink) OnExtraDataItem(item accounting.ExtraDataItem) {
	s.logger.Info().
		Uint64("item_index", item.ItemIndex).
		Uint64("data_type", item.DataType).
		Uint64("module_id", item.ModuleID).
		Uint64("node_operator_id", item.NodeOperatorID).
		Msg("extra data item applied")
}

func (s *logSink) OnExitRequest(moduleID, nodeOperatorID, validatorIndex uint64) {
	s.logger.Info().
		Uint64("module_id", moduleID).
		Uint64("node_operator_id", nodeOperatorID).
		Uint64("validator_index", validatorIndex).
		Msg("validator exit requested")
}
