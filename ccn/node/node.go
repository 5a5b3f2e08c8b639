// Package node assembles a core channel node: it opens the databases,
// constructs every service and manages their lifecycle through a service
// registry, shutting them down gracefully when the process ends.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/aleph-im/go-aleph/ccn/balance"
	"github.com/aleph-im/go-aleph/ccn/chains"
	"github.com/aleph-im/go-aleph/ccn/db"
	"github.com/aleph-im/go-aleph/ccn/db/kv"
	"github.com/aleph-im/go-aleph/ccn/handlers"
	"github.com/aleph-im/go-aleph/ccn/p2p"
	"github.com/aleph-im/go-aleph/ccn/pipeline"
	"github.com/aleph-im/go-aleph/ccn/storage"
	ccnsync "github.com/aleph-im/go-aleph/ccn/sync"
	"github.com/aleph-im/go-aleph/cmd/ccn/flags"
	"github.com/aleph-im/go-aleph/config/params"
	"github.com/aleph-im/go-aleph/monitoring/prometheus"
	"github.com/aleph-im/go-aleph/runtime"
)

var log = logrus.WithField("prefix", "node")

// CCNNode manages the lifecycle of a core channel node.
type CCNNode struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	services *runtime.ServiceRegistry
	lock     sync.RWMutex
	stop     chan struct{}
	db       db.Database
	storage  *storage.Service
	sync     *ccnsync.Service
}

// New creates a node instance from the cli context and registers every
// service.
func New(cliCtx *cli.Context) (*CCNNode, error) {
	if err := configure(cliCtx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(cliCtx.Context)
	node := &CCNNode{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
	}

	if err := node.startDB(); err != nil {
		cancel()
		return nil, err
	}
	if err := node.startStorage(); err != nil {
		cancel()
		return nil, err
	}
	if err := node.registerServices(); err != nil {
		cancel()
		return nil, err
	}
	return node, nil
}

// configure folds the cli flags into the process-global node config.
func configure(cliCtx *cli.Context) error {
	cfg := params.CCNConfig()
	if cliCtx.IsSet(flags.IPFSAPIFlag.Name) {
		cfg.IPFSAPIAddr = cliCtx.String(flags.IPFSAPIFlag.Name)
	}
	if cliCtx.IsSet(flags.MessageTopicFlag.Name) {
		cfg.MessageTopic = cliCtx.String(flags.MessageTopicFlag.Name)
	}
	if cliCtx.IsSet(flags.TrustedBalanceSenders.Name) {
		cfg.TrustedBalancePostSenders = cliCtx.StringSlice(flags.TrustedBalanceSenders.Name)
	}
	params.OverrideCCNConfig(cfg)
	if cliCtx.IsSet(flags.ChainConfigFileFlag.Name) {
		return params.LoadChainConfigFile(cliCtx.String(flags.ChainConfigFileFlag.Name))
	}
	return nil
}

func (n *CCNNode) startDB() error {
	dbPath := filepath.Join(n.cliCtx.String(flags.DataDirFlag.Name), "db")
	d, err := db.NewDB(n.ctx, dbPath, &kv.Config{})
	if err != nil {
		return err
	}
	if n.cliCtx.Bool(flags.ClearDB.Name) {
		log.Warn("Clearing the node database")
		if err := d.ClearDB(); err != nil {
			return err
		}
		d, err = db.NewDB(n.ctx, dbPath, &kv.Config{})
		if err != nil {
			return err
		}
	}
	log.WithField("path", dbPath).Info("Opened node database")
	n.db = d
	return nil
}

func (n *CCNNode) startStorage() error {
	cfg := params.CCNConfig()
	local, err := storage.NewLocalStore(filepath.Join(n.cliCtx.String(flags.DataDirFlag.Name), "storage"))
	if err != nil {
		return err
	}
	n.storage = storage.NewService(&storage.Config{
		Local:        local,
		IPFS:         storage.NewIPFSClient(cfg.IPFSAPIAddr),
		FetchTimeout: cfg.FetchTimeout,
	})
	return nil
}

func (n *CCNNode) registerServices() error {
	cfg := params.CCNConfig()

	p2pSvc, err := p2p.NewService(n.ctx, &p2p.Config{
		Host:           n.cliCtx.String(flags.P2PHost.Name),
		TCPPort:        n.cliCtx.Uint(flags.P2PTCPPort.Name),
		PrivateKeyPath: n.cliCtx.String(flags.P2PKeyFile.Name),
		BootstrapPeers: n.cliCtx.StringSlice(flags.BootstrapPeers.Name),
		MaxMessageSize: cfg.MaxMessageSize,
	})
	if err != nil {
		return err
	}
	if err := n.services.RegisterService(p2pSvc); err != nil {
		return err
	}

	n.sync = ccnsync.NewService(n.ctx, &ccnsync.Config{
		DB:     n.db,
		P2P:    p2pSvc,
		Params: cfg,
	})
	if err := n.services.RegisterService(n.sync); err != nil {
		return err
	}

	registry := handlers.NewRegistry(&handlers.Config{
		Storage:                   n.storage,
		FileGracePeriod:           cfg.FileGracePeriod,
		TrustedBalancePostSenders: cfg.TrustedBalancePostSenders,
	})
	if err := n.services.RegisterService(pipeline.NewService(n.ctx, &pipeline.Config{
		DB:        n.db,
		Storage:   n.storage,
		Handlers:  registry,
		Publisher: n.sync.Publisher(),
		Params:    cfg,
	})); err != nil {
		return err
	}

	if err := n.services.RegisterService(chains.NewService(n.ctx, cfg.Chains, n.db)); err != nil {
		return err
	}

	if err := n.services.RegisterService(storage.NewCollector(n.ctx, &storage.GCConfig{
		DB:       n.db,
		Storage:  n.storage,
		Interval: cfg.GCInterval,
	})); err != nil {
		return err
	}

	if err := n.services.RegisterService(balance.NewReconciler(n.ctx, &balance.Config{
		DB:     n.db,
		Params: cfg,
	})); err != nil {
		return err
	}

	if !n.cliCtx.Bool(flags.DisableMonitoringFlag.Name) {
		addr := fmt.Sprintf("%s:%d",
			n.cliCtx.String(flags.MonitoringHostFlag.Name),
			n.cliCtx.Int(flags.MonitoringPortFlag.Name))
		if err := n.services.RegisterService(prometheus.NewService(addr, n.services)); err != nil {
			return err
		}
	}
	return nil
}

// Start launches every registered service and blocks until shutdown.
func (n *CCNNode) Start() {
	n.lock.Lock()
	n.services.StartAll()
	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the core channel node")
	}()

	<-stop
}

// Close stops every service and releases the databases.
func (n *CCNNode) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping core channel node")
	n.services.StopAll()
	if err := n.db.Close(); err != nil {
		log.WithError(err).Error("Could not close database")
	}
	n.cancel()
	close(n.stop)
}
