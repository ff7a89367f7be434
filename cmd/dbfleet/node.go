package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/memberlist"
	"github.com/rs/zerolog"

	"github.com/cuemby/dbfleet/pkg/action"
	"github.com/cuemby/dbfleet/pkg/client"
	"github.com/cuemby/dbfleet/pkg/config"
	"github.com/cuemby/dbfleet/pkg/converge"
	"github.com/cuemby/dbfleet/pkg/events"
	"github.com/cuemby/dbfleet/pkg/fetch"
	"github.com/cuemby/dbfleet/pkg/lock"
	"github.com/cuemby/dbfleet/pkg/log"
	"github.com/cuemby/dbfleet/pkg/metrics"
	"github.com/cuemby/dbfleet/pkg/platform"
	"github.com/cuemby/dbfleet/pkg/storage"
)

// node holds every component of a dbfleet process
type node struct {
	id          string
	store       *storage.BoltStore
	coordinator lock.Coordinator
	raft        *lock.RaftCoordinator
	etcd        *lock.EtcdCoordinator
	gossip      *memberlist.Memberlist
	fetcher     converge.Fetcher
	platforms   *platform.Registry
	broker      *events.Broker
	engine      *converge.Engine
	logger      zerolog.Logger
}

// nodeOptions tunes openNode for one-shot commands
type nodeOptions struct {
	// OneShot runs without long-lived cluster membership: the raft
	// coordinator is replaced by an in-process lock and gossip joins as an
	// ephemeral member
	OneShot bool
}

// openNode builds the store, coordinator, fetcher, platforms, actions,
// broker and engine described by cfg
func openNode(cfg *config.Config, opts nodeOptions) (n *node, err error) {
	n = &node{id: cfg.NodeID}
	if n.id == "" {
		if n.id, err = os.Hostname(); err != nil {
			return nil, fmt.Errorf("failed to determine node id: %w", err)
		}
	}
	n.logger = log.WithNodeID(n.id).With().Str("component", "node").Logger()

	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	n.store, err = storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		metrics.UpdateComponent("store", false, err.Error())
		return nil, err
	}
	metrics.UpdateComponent("store", true, "ok")

	if err := n.openCoordinator(cfg, opts); err != nil {
		metrics.UpdateComponent("coordinator", false, err.Error())
		return nil, err
	}
	metrics.UpdateComponent("coordinator", true, cfg.Coordinator.Kind)

	if err := n.openFetcher(cfg, opts); err != nil {
		return nil, err
	}

	n.platforms, err = platform.Build(cfg.PlatformSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to build platforms: %w", err)
	}

	actions := action.NewRegistry()
	if err := action.RegisterBuiltins(actions); err != nil {
		return nil, fmt.Errorf("failed to register actions: %w", err)
	}

	n.broker = events.NewBroker()
	n.broker.Start()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	n.engine, err = converge.NewEngine(engineCfg, converge.Deps{
		Coordinator: n.coordinator,
		Fetcher:     n.fetcher,
		Store:       n.store,
		Platforms:   n.platforms,
		Actions:     actions,
		Emitter:     n.broker,
	})
	if err != nil {
		metrics.UpdateComponent("engine", false, err.Error())
		return nil, err
	}
	metrics.UpdateComponent("engine", true, fmt.Sprintf("%d actions", actions.Len()))

	n.logger.Info().
		Str("coordinator", cfg.Coordinator.Kind).
		Str("fetcher", cfg.Fetcher.Kind).
		Int("platforms", len(n.platforms.List())).
		Msg("Node ready")
	return n, nil
}

func (n *node) openCoordinator(cfg *config.Config, opts nodeOptions) error {
	switch cfg.Coordinator.Kind {
	case config.CoordinatorEtcd:
		etcd, err := lock.NewEtcdCoordinator(cfg.EtcdOptions(n.id))
		if err != nil {
			return fmt.Errorf("failed to create etcd coordinator: %w", err)
		}
		n.etcd = etcd
		n.coordinator = etcd
	case config.CoordinatorRaft:
		if opts.OneShot {
			n.logger.Warn().Msg("Raft coordinator needs a running server; using an in-process lock")
			n.coordinator = lock.NewLocalCoordinator()
			return nil
		}
		raft, err := lock.NewRaftCoordinator(cfg.RaftOptions())
		if err != nil {
			return fmt.Errorf("failed to create raft coordinator: %w", err)
		}
		n.raft = raft
		n.coordinator = raft
		if join := cfg.Coordinator.Raft.Join; join != "" {
			if err := n.joinRaft(join); err != nil {
				return err
			}
		}
	default:
		n.coordinator = lock.NewLocalCoordinator()
	}
	return nil
}

// joinRaft asks the server at addr to add this node as a raft voter,
// retrying while that server starts or elects a leader
func (n *node) joinRaft(addr string) error {
	c, err := client.NewClient(addr)
	if err != nil {
		return err
	}

	const attempts = 5
	for i := 1; ; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err = c.JoinRaft(ctx, n.id, n.raft.Addr())
		cancel()
		if err == nil {
			n.logger.Info().Str("server", addr).Str("raft_addr", n.raft.Addr()).Msg("Joined raft cluster")
			return nil
		}
		if i == attempts {
			return fmt.Errorf("failed to join raft cluster via %s: %w", addr, err)
		}
		n.logger.Warn().Err(err).Int("attempt", i).Msg("Raft join failed, retrying")
		time.Sleep(time.Duration(i) * time.Second)
	}
}

func (n *node) openFetcher(cfg *config.Config, opts nodeOptions) error {
	if cfg.Fetcher.Kind != config.FetcherGossip {
		n.fetcher = fetch.NewHTTPFetcher(n.store, cfg.HTTPOptions())
		return nil
	}

	mlc := memberlist.DefaultLANConfig()
	mlc.Name = n.id
	mlc.BindAddr = cfg.Fetcher.Gossip.BindAddr
	mlc.BindPort = cfg.Fetcher.Gossip.BindPort
	mlc.AdvertisePort = cfg.Fetcher.Gossip.BindPort
	mlc.LogOutput = log.WithComponent("memberlist")
	if opts.OneShot {
		// Ephemeral member for one cycle; the server keeps the real port
		mlc.Name = fmt.Sprintf("%s-cli-%d", n.id, os.Getpid())
		mlc.BindPort = 0
		mlc.AdvertisePort = 0
	}

	list, err := memberlist.Create(mlc)
	if err != nil {
		return fmt.Errorf("failed to start gossip member: %w", err)
	}
	n.gossip = list

	if len(cfg.Fetcher.Gossip.Join) > 0 {
		joined, err := list.Join(cfg.Fetcher.Gossip.Join)
		if err != nil && joined == 0 {
			return fmt.Errorf("failed to join gossip cluster: %w", err)
		}
		n.logger.Info().Int("joined", joined).Msg("Joined gossip cluster")
	}

	n.fetcher = fetch.NewGossipFetcher(list)
	return nil
}

// Close releases every component that was opened
func (n *node) Close() error {
	var errs []error
	if n.broker != nil {
		n.broker.Stop()
	}
	if n.gossip != nil {
		if err := n.gossip.Leave(5 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("gossip leave: %w", err))
		}
		if err := n.gossip.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("gossip shutdown: %w", err))
		}
	}
	if n.raft != nil {
		if err := n.raft.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("raft shutdown: %w", err))
		}
	}
	if n.etcd != nil {
		if err := n.etcd.Close(); err != nil {
			errs = append(errs, fmt.Errorf("etcd close: %w", err))
		}
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	return errors.Join(errs...)
}
