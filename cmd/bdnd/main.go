package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"bdnprotocol/config"
	"bdnprotocol/core"
	"bdnprotocol/crypto"
	"bdnprotocol/indexer"
	"bdnprotocol/observability/logging"
	telemetry "bdnprotocol/observability/otel"
	"bdnprotocol/rpc"
	"bdnprotocol/storage"
)

const (
	initCommand   = "init"
	replayCommand = "replay"
	serveCommand  = "serve"
	defaultConfig = "./config.toml"
	serviceName   = "bdnd"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case initCommand:
		err = runInit(os.Args[2:])
	case replayCommand:
		err = runReplay(os.Args[2:])
	case serveCommand:
		err = runServe(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: bdnd <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  %-8s create the data directory and apply genesis\n", initCommand)
	fmt.Fprintf(os.Stderr, "  %-8s apply an ordered YAML list of requests\n", replayCommand)
	fmt.Fprintf(os.Stderr, "  %-8s serve the query API\n", serveCommand)
}

// node is an opened protocol together with the resources it holds.
type node struct {
	cfg      *config.Config
	protocol *core.Protocol
	index    *indexer.Index
	db       *storage.LevelDB
	logger   *slog.Logger
}

func openNode(configPath string, logger *slog.Logger) (*node, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logger == nil {
		logger = logging.Setup(serviceName, cfg.Environment, cfg.LogFile)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	protocol, err := core.NewProtocol(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	n := &node{cfg: cfg, protocol: protocol, db: db, logger: logger}
	if cfg.Indexer.DSN != "" {
		index, err := indexer.Open(cfg.Indexer.DSN)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open event index %s: %w", logging.MaskDSN(cfg.Indexer.DSN), err)
		}
		protocol.Subscribe(index)
		n.index = index
		logger.Info("event index attached", slog.String("dsn", logging.MaskDSN(cfg.Indexer.DSN)))
	}
	return n, nil
}

func (n *node) close() {
	if n.index != nil {
		if err := n.index.Close(); err != nil {
			n.logger.Warn("close event index", slog.Any("error", err))
		}
	}
	n.db.Close()
}

func runInit(args []string) error {
	fs := flag.NewFlagSet(initCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the node config file (created with defaults when missing)")
	fs.Parse(args)

	n, err := openNode(*configPath, nil)
	if err != nil {
		return err
	}
	defer n.close()

	overview, err := n.protocol.Bond()
	if err != nil {
		return err
	}
	fmt.Printf("Initialised %s at height %d\n", n.cfg.DataDir, n.protocol.Height())
	fmt.Printf("  owner:      %s\n", crypto.Format(n.protocol.Owner()))
	fmt.Printf("  treasury:   %s\n", crypto.Format(core.TreasuryAddress))
	fmt.Printf("  bond:       %s\n", crypto.Format(core.BondAddress))
	fmt.Printf("  bond price: %s\n", overview.Price)
	return nil
}

func runReplay(args []string) error {
	fs := flag.NewFlagSet(replayCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the node config file")
	script := fs.String("script", "", "YAML file holding the ordered requests")
	keepGoing := fs.Bool("continue", false, "Report failed requests and carry on instead of stopping")
	fs.Parse(args)

	if *script == "" {
		return errors.New("-script is required")
	}
	f, err := os.Open(*script)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := openNode(*configPath, nil)
	if err != nil {
		return err
	}
	defer n.close()
	return replay(context.Background(), n.protocol, f, os.Stdout, *keepGoing)
}

// stepResult is one line of replay output.
type stepResult struct {
	Step    int           `json:"step"`
	Receipt *core.Receipt `json:"receipt,omitempty"`
	Error   string        `json:"error,omitempty"`
	Kind    string        `json:"kind,omitempty"`
}

// replay applies the requests in script in order and writes one JSON line per
// request to out. State is committed only by ledger.advance requests.
func replay(ctx context.Context, protocol *core.Protocol, script io.Reader, out io.Writer, keepGoing bool) error {
	var steps []core.Request
	if err := yaml.NewDecoder(script).Decode(&steps); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode script: %w", err)
	}
	enc := json.NewEncoder(out)
	failed := 0
	for i, req := range steps {
		receipt, err := protocol.Execute(ctx, req)
		line := stepResult{Step: i + 1, Receipt: receipt}
		if err != nil {
			failed++
			line.Error = err.Error()
			line.Kind = core.ErrorKind(err)
		}
		if encErr := enc.Encode(line); encErr != nil {
			return encErr
		}
		if err != nil && !keepGoing {
			return fmt.Errorf("step %d (%s): %w", i+1, req.Op, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(steps))
	}
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet(serveCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the node config file")
	address := fs.String("address", "", "Listen address overriding RPCAddress")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := openNode(*configPath, nil)
	if err != nil {
		return err
	}
	defer n.close()

	tel := n.cfg.Telemetry
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Version:     version,
		Environment: n.cfg.Environment,
		Endpoint:    tel.Endpoint,
		Insecure:    tel.Insecure,
		Headers:     telemetry.ParseHeaders(tel.Headers),
		Metrics:     tel.Metrics,
		Traces:      tel.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			n.logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()
	if tel.Metrics || tel.Traces {
		n.logger.Info("telemetry enabled",
			slog.String("endpoint", tel.Endpoint),
			slog.Bool("traces", tel.Traces),
			slog.Bool("metrics", tel.Metrics),
			logging.MaskField("headers", tel.Headers))
	}

	listen := n.cfg.RPCAddress
	if *address != "" {
		listen = *address
	}
	var events rpc.EventSource
	if n.index != nil {
		events = n.index
	}
	server := rpc.NewServer(rpc.Config{
		Address:     listen,
		RateLimit:   n.cfg.RPC.RateLimit,
		Burst:       n.cfg.RPC.Burst,
		ReadTimeout: time.Duration(n.cfg.RPC.ReadTimeout) * time.Second,
	}, n.protocol, events, n.logger)
	return server.ListenAndServe(ctx)
}
