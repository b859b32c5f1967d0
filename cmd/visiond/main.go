// Command visiond runs a Vision / LAND full node.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	"github.com/oneepicnight/vision-node/backbone"
	"github.com/oneepicnight/vision-node/config"
	"github.com/oneepicnight/vision-node/core"
	"github.com/oneepicnight/vision-node/events"
	"github.com/oneepicnight/vision-node/httpapi"
	"github.com/oneepicnight/vision-node/log"
	"github.com/oneepicnight/vision-node/metrics"
	"github.com/oneepicnight/vision-node/miner"
	"github.com/oneepicnight/vision-node/p2p"
	"github.com/oneepicnight/vision-node/storage"
	"github.com/oneepicnight/vision-node/wallet"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config, c",
		Value: "config.json",
		Usage: "path to the node configuration file",
	}
	keyFlag = cli.StringFlag{
		Name:  "key",
		Value: "node.key",
		Usage: "path to the node identity keystore",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "visiond"
	app.Usage = "Vision / LAND full node"
	app.Commands = []cli.Command{
		{
			Name:   "start",
			Usage:  "start the node",
			Flags:  []cli.Flag{configFlag, keyFlag},
			Action: runStart,
		},
		{
			Name:   "export-bootstrap-hashes",
			Usage:  "print the bootstrap prefix fingerprints as a Go literal",
			Flags:  []cli.Flag{configFlag},
			Action: runExportBootstrapHashes,
		},
		{
			Name:   "diagnose",
			Usage:  "check store integrity and summarize the peer book without starting the node",
			Flags:  []cli.Flag{configFlag},
			Action: runDiagnose,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	path := ctx.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.DefaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

func runStart(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log.Init(cfg.LogLevel)
	defer log.Sync()
	logger := log.New("node")

	// Identity key. The password comes from the environment, never flags.
	password := os.Getenv("VISION_PASSWORD")
	priv, err := wallet.LoadOrCreate(ctx.String("key"), password)
	if err != nil {
		return fmt.Errorf("load identity key: %w", err)
	}
	minerAddr := priv.Public().Address()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	emitter := events.NewEmitter()
	metrics.Register(emitter)

	params := cfg.ChainParams()
	chain := core.NewChain(params, storage.NewChainKV(db), storage.NewStateDB(db), emitter)
	if err := chain.Init(); err != nil {
		if errors.Is(err, core.ErrDatabaseCorrupted) || errors.Is(err, core.ErrBootstrapUnset) {
			return err // fatal; exits non-zero
		}
		return fmt.Errorf("chain init: %w", err)
	}
	logger.Infow("chain ready", "height", chain.Height(), "tip", chain.Tip().Hash[:16])

	peers := p2p.NewStore(cfg.Reputation, cfg.QuarantineDuration(), db, emitter)
	if err := peers.Load(); err != nil {
		return fmt.Errorf("load peer book: %w", err)
	}

	mempool := core.NewMempool()
	node := p2p.NewNode(cfg, params, chain, mempool, peers, emitter)
	if err := node.Start(); err != nil {
		return fmt.Errorf("p2p start: %w", err)
	}
	defer node.Stop()

	tracker := backbone.NewTracker(cfg, peers, emitter)
	api := httpapi.NewServer(cfg, params, chain, peers, tracker)
	if err := api.Start(); err != nil {
		return fmt.Errorf("http start: %w", err)
	}
	defer api.Stop()
	logger.Infow("http listening", "addr", cfg.HTTPListen)

	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(3)
	go func() { defer wg.Done(); tracker.RunProbeLoop(runCtx) }()
	go func() { defer wg.Done(); tracker.RunHealLoop(runCtx) }()
	syncer := p2p.NewSyncer(cfg, node, chain, tracker)
	go func() { defer wg.Done(); syncer.Run(runCtx) }()

	if cfg.Mine {
		worker := miner.NewWorker(cfg, params, chain, mempool, node, peers, tracker, minerAddr)
		wg.Add(1)
		go func() { defer wg.Done(); worker.Run(runCtx) }()
		logger.Infow("miner running", "address", minerAddr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	cancel()
	wg.Wait()
	// Deferred calls run in LIFO: api.Stop → node.Stop → db.Close.
	return nil
}

func runExportBootstrapHashes(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log.Init("warn")

	hashes := make([]string, cfg.BootstrapCheckpointHeight+1)
	for h := range hashes {
		if h < len(core.BootstrapBlockHashes) {
			hashes[h] = core.BootstrapBlockHashes[h]
		}
	}
	// Prefer the persisted chain when one exists; that is how the table is
	// refreshed before a release.
	if db, err := storage.NewLevelDB(cfg.DataDir + "/chain"); err == nil {
		store := storage.NewChainKV(db)
		for h := uint64(0); h <= cfg.BootstrapCheckpointHeight; h++ {
			if hash, err := store.GetCanonicalHash(h); err == nil {
				hashes[h] = hash
			}
		}
		db.Close()
	}

	fmt.Printf("var BootstrapBlockHashes = [%d]string{\n", len(hashes))
	for h, hash := range hashes {
		fmt.Printf("\t%q, // height %d\n", hash, h)
	}
	fmt.Println("}")
	return nil
}

func runDiagnose(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log.Init("warn")

	db, err := storage.NewLevelDB(cfg.DataDir + "/chain")
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	emitter := events.NewEmitter()
	params := cfg.ChainParams()
	chain := core.NewChain(params, storage.NewChainKV(db), storage.NewStateDB(db), emitter)
	if err := chain.Init(); err != nil {
		return fmt.Errorf("store check failed: %w", err)
	}
	tip := chain.Tip()
	fmt.Printf("checkpoint ok: height %d fingerprint %s\n", params.CheckpointHeight, params.CheckpointHash)
	fmt.Printf("tip: height %d fingerprint %s\n", tip.Header.Height, tip.Hash)

	// Walk the last stretch of the canonical chain and verify parent links.
	const walk = 128
	start := params.CheckpointHeight
	if tip.Header.Height > walk && tip.Header.Height-walk > start {
		start = tip.Header.Height - walk
	}
	prev, err := chain.GetBlockByHeight(start)
	if err != nil {
		return fmt.Errorf("read block %d: %w", start, err)
	}
	for h := start + 1; h <= tip.Header.Height; h++ {
		b, err := chain.GetBlockByHeight(h)
		if err != nil {
			return fmt.Errorf("read block %d: %w", h, err)
		}
		if b.Header.ParentHash != prev.Hash {
			return fmt.Errorf("broken parent link at height %d", h)
		}
		prev = b
	}
	fmt.Printf("parent links ok: heights %d..%d\n", start, tip.Header.Height)

	peers := p2p.NewStore(cfg.Reputation, cfg.QuarantineDuration(), db, emitter)
	if err := peers.Load(); err != nil {
		return fmt.Errorf("load peer book: %w", err)
	}
	all := peers.AllSnapshot()
	quarantined := 0
	for _, p := range all {
		if p.State == p2p.StateQuarantined {
			quarantined++
		}
	}
	fmt.Printf("peer book: %d known, %d quarantined\n", len(all), quarantined)
	return nil
}
