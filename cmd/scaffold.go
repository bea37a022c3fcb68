// Package cmd provides the builder used to assemble and run an LLMQ node
// process. The integrator supplies the excluded collaborators (chain state,
// threshold signer/verifier, reorganizer, fast-finality oracle) and receives
// a fully wired engine with lifecycle management, logging, and metrics.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/quorumnet/llmq/engine/masternode"
	"github.com/quorumnet/llmq/model/llmq"
	"github.com/quorumnet/llmq/module"
	"github.com/quorumnet/llmq/module/chainlock"
	"github.com/quorumnet/llmq/module/dkg"
	"github.com/quorumnet/llmq/module/irrecoverable"
	"github.com/quorumnet/llmq/module/metrics"
)

// BaseConfig holds the configuration bound to command-line flags.
type BaseConfig struct {
	level             string
	quorumTypes       []string
	metricsPort       uint
	metricsEnabled    bool
	chainLocksEnabled bool
}

// ChainLockCollaborators bundles the external collaborators of the chain-lock
// subsystem.
type ChainLockCollaborators struct {
	Chain        module.BlockInfoProvider
	Signer       module.ChainLockSigner
	Verifier     module.ChainLockVerifier
	Reorganizer  module.Reorganizer
	FastFinality module.FastFinalityOracle
	Conflicts    module.ConflictReporter
}

// LLMQNodeBuilder assembles the LLMQ subsystem of a masternode process.
type LLMQNodeBuilder struct {
	BaseConfig

	name    string
	flags   *pflag.FlagSet
	Logger  zerolog.Logger
	nodeID  llmq.Identifier
	factory module.DKGSessionFactory
	collab  ChainLockCollaborators

	registry *prometheus.Registry
}

// NewLLMQNodeBuilder returns a builder with base flags bound to the process
// flag set.
func NewLLMQNodeBuilder(name string) *LLMQNodeBuilder {
	b := &LLMQNodeBuilder{
		name:     name,
		flags:    pflag.CommandLine,
		registry: prometheus.NewRegistry(),
	}
	b.baseFlags()
	return b
}

func (b *LLMQNodeBuilder) baseFlags() {
	b.flags.StringVarP(&b.BaseConfig.level, "loglevel", "l", "info", "level for logging output")
	b.flags.StringSliceVar(&b.BaseConfig.quorumTypes, "quorum-types", []string{llmq.Type50_60.String()}, "quorum types this node participates in")
	b.flags.UintVar(&b.BaseConfig.metricsPort, "metrics-port", 8080, "port for the metrics server")
	b.flags.BoolVar(&b.BaseConfig.metricsEnabled, "metrics-enabled", true, "whether to serve prometheus metrics")
	b.flags.BoolVar(&b.BaseConfig.chainLocksEnabled, "chainlocks-enabled", true, "whether chain-lock signing and enforcement is active")
}

// WithSessionFactory supplies the collaborator creating DKG sessions.
func (b *LLMQNodeBuilder) WithSessionFactory(factory module.DKGSessionFactory) *LLMQNodeBuilder {
	b.factory = factory
	return b
}

// WithChainLockCollaborators supplies the chain-lock collaborators.
func (b *LLMQNodeBuilder) WithChainLockCollaborators(collab ChainLockCollaborators) *LLMQNodeBuilder {
	b.collab = collab
	return b
}

// WithNodeID sets the masternode identity used for log scoping.
func (b *LLMQNodeBuilder) WithNodeID(nodeID llmq.Identifier) *LLMQNodeBuilder {
	b.nodeID = nodeID
	return b
}

func (b *LLMQNodeBuilder) initLogger() error {
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(os.Stderr).With().
		Timestamp().
		Hex("node_id", b.nodeID[:]).
		Logger()

	lvl, err := zerolog.ParseLevel(strings.ToLower(b.BaseConfig.level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", b.BaseConfig.level, err)
	}
	b.Logger = log.Level(lvl)
	b.Logger.Info().Msgf("%s node starting up", b.name)
	return nil
}

// Build parses flags and wires the engine: one DKG session handler per
// configured quorum type, the chain-lock store and coordinator, and metrics
// collectors on the builder's registry.
func (b *LLMQNodeBuilder) Build() (*masternode.Engine, *chainlock.Coordinator, error) {
	pflag.Parse()

	err := b.initLogger()
	if err != nil {
		return nil, nil, err
	}
	if b.factory == nil {
		return nil, nil, fmt.Errorf("no DKG session factory provided")
	}
	if b.collab.Chain == nil || b.collab.Signer == nil || b.collab.Verifier == nil {
		return nil, nil, fmt.Errorf("chain lock collaborators are incomplete")
	}

	var dkgMetrics module.DKGMetrics
	var clMetrics module.ChainLockMetrics
	if b.BaseConfig.metricsEnabled {
		dkgMetrics = metrics.NewDKGCollector(b.registry)
		clMetrics = metrics.NewChainLockCollector(b.registry)
	} else {
		noop := metrics.NewNoopCollector()
		dkgMetrics, clMetrics = noop, noop
	}

	handlers := make(map[llmq.Type]*dkg.SessionHandler, len(b.BaseConfig.quorumTypes))
	for _, name := range b.BaseConfig.quorumTypes {
		typ, err := llmq.ParseType(name)
		if err != nil {
			return nil, nil, fmt.Errorf("could not parse quorum type: %w", err)
		}
		params, err := llmq.DefaultParams(typ)
		if err != nil {
			return nil, nil, err
		}
		handler, err := dkg.NewSessionHandler(b.Logger, dkgMetrics, dkg.DefaultConfig(), params, b.factory)
		if err != nil {
			return nil, nil, fmt.Errorf("could not create session handler for %s: %w", typ, err)
		}
		handlers[typ] = handler
	}

	store := chainlock.NewStore(b.collab.Chain)
	coordinator, err := chainlock.NewCoordinator(
		b.Logger,
		clMetrics,
		chainlock.DefaultConfig(),
		store,
		b.collab.Chain,
		b.collab.Signer,
		b.collab.Verifier,
		b.collab.Reorganizer,
		b.collab.FastFinality,
		b.collab.Conflicts,
		b.BaseConfig.chainLocksEnabled,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create chain lock coordinator: %w", err)
	}

	engine, err := masternode.NewEngine(b.Logger, handlers, coordinator)
	if err != nil {
		return nil, nil, fmt.Errorf("could not create masternode engine: %w", err)
	}
	return engine, coordinator, nil
}

// Run starts the engine and blocks until an interrupt arrives or a worker
// throws an irrecoverable error. It returns the irrecoverable error, if any.
func (b *LLMQNodeBuilder) Run(engine *masternode.Engine) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	signalerCtx, errChan := irrecoverable.WithSignaler(ctx)
	engine.Start(signalerCtx)

	var server *metrics.Server
	if b.BaseConfig.metricsEnabled {
		server = metrics.NewServer(b.Logger, b.BaseConfig.metricsPort, b.registry)
		<-server.Ready()
	}

	select {
	case <-engine.Ready():
		b.Logger.Info().Msgf("%s node startup complete", b.name)
	case <-ctx.Done():
	}

	var fatal error
	select {
	case fatal = <-errChan:
		b.Logger.Error().Err(fatal).Msg("irrecoverable error, shutting down")
		stop()
	case <-ctx.Done():
		b.Logger.Info().Msg("shutdown signal received")
	}

	<-engine.Done()
	if server != nil {
		<-server.Done()
	}
	b.Logger.Info().Msgf("%s node shutdown complete", b.name)
	return fatal
}
