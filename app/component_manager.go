package app

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/voltgrid/relayd/app/actions"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/forwarding"
	"github.com/voltgrid/relayd/app/node"
	"github.com/voltgrid/relayd/app/protocol"
	"github.com/voltgrid/relayd/app/signing"
	"github.com/voltgrid/relayd/infrastructure/config"
	"github.com/voltgrid/relayd/infrastructure/db/journal"
	"github.com/voltgrid/relayd/infrastructure/logger"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter"
	"github.com/voltgrid/relayd/util/panics"
)

const (
	journalDirname       = "journal"
	journalPruneInterval = 10 * time.Minute
)

// ComponentManager is a wrapper for all the relayd services
type ComponentManager struct {
	cfg             *config.Config
	node            *node.Node
	pipelines       *actions.Pipelines
	journal         *journal.Journal
	protocolManager *protocol.Manager
	netAdapter      *netadapter.NetAdapter

	started, shutdown int32
}

// Start launches all the relayd services.
func (a *ComponentManager) Start() {
	// Already started?
	if atomic.AddInt32(&a.started, 1) != 1 {
		return
	}

	log.Trace("Starting relayd")

	if a.journal != nil {
		a.journal.StartPruning(journalPruneInterval)
	}

	err := a.netAdapter.Start()
	if err != nil {
		panics.Exit(log, fmt.Sprintf("Error starting the net adapter: %+v", err))
	}
}

// Stop gracefully shuts down all the relayd services.
func (a *ComponentManager) Stop() {
	// Make sure this only happens once.
	if atomic.AddInt32(&a.shutdown, 1) != 1 {
		log.Infof("Relayd is already in the process of shutting down")
		return
	}

	log.Warnf("Relayd shutting down")
	onEnd := logger.LogAndMeasureExecutionTime(log, "ComponentManager.Stop")
	defer onEnd()

	err := a.netAdapter.Stop()
	if err != nil {
		log.Errorf("Error stopping the net adapter: %+v", err)
	}

	a.protocolManager.Close()

	if a.journal != nil {
		err := a.journal.Close()
		if err != nil {
			log.Errorf("Error closing the journal: %+v", err)
		}
	}
}

// NewComponentManager returns a new ComponentManager instance.
// Use Start() to begin all services within this ComponentManager
func NewComponentManager(cfg *config.Config) (*ComponentManager, error) {
	nodeID, err := appmessage.ParseNodeID(cfg.NodeID)
	if err != nil {
		return nil, err
	}
	engine, pipelines, err := setupEngine(cfg, nodeID)
	if err != nil {
		return nil, err
	}

	relayNode := node.New(engine)
	relayNode.SetRequestTimeout(cfg.RequestTimeout)
	if cfg.UplinkTransport() != config.TransportNone {
		uplinkNodeID, err := appmessage.ParseNodeID(cfg.UplinkNodeID)
		if err != nil {
			return nil, err
		}
		relayNode.Routes().SetDefaultUplink(uplinkNodeID)
	}

	var relayJournal *journal.Journal
	if !cfg.NoJournal {
		relayJournal, err = openJournal(filepath.Join(cfg.AppDir, journalDirname), cfg.JournalRetention)
		if err != nil {
			return nil, err
		}
		relayJournal.Attach(engine)
	}

	netAdapter, err := netadapter.NewNetAdapter(cfg)
	if err != nil {
		if relayJournal != nil {
			relayJournal.Close()
		}
		return nil, err
	}
	protocolManager := protocol.NewManager(relayNode, netAdapter)

	return &ComponentManager{
		cfg:             cfg,
		node:            relayNode,
		pipelines:       pipelines,
		journal:         relayJournal,
		protocolManager: protocolManager,
		netAdapter:      netAdapter,
	}, nil
}

// setupEngine creates the forwarding engine with every supported action
// registered and the configured filters installed.
func setupEngine(cfg *config.Config, nodeID appmessage.NodeID) (*forwarding.Engine, *actions.Pipelines, error) {
	defaultPolicy, err := forwarding.ParseResult(cfg.DefaultPolicy)
	if err != nil {
		return nil, nil, err
	}
	engine, err := forwarding.NewEngine(nodeID, defaultPolicy)
	if err != nil {
		return nil, nil, err
	}
	engine.SetErrorHandler(func(err error) {
		log.Errorf("Forwarding: %s", err)
	})

	pipelines, err := actions.RegisterAll(engine)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.DisableLoopCheck {
		engine.AddFilter(forwarding.LoopDetectionFilter(nodeID))
	}
	if cfg.PolicyFile != "" {
		policy, err := signing.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, nil, err
		}
		engine.AddFilter(forwarding.SignatureFilter(policy))
		engine.SetSigningPolicy(policy)
		log.Infof("Loaded the signing policy from %s", cfg.PolicyFile)
	}

	log.Infof("Forwarding %d actions with the default policy %s", len(engine.Actions()), defaultPolicy)
	return engine, pipelines, nil
}

func openJournal(path string, retention time.Duration) (*journal.Journal, error) {
	versionFileExists, err := checkJournalVersion(path)
	if err != nil {
		return nil, err
	}
	relayJournal, err := journal.Open(path, retention)
	if err != nil {
		return nil, err
	}
	if !versionFileExists {
		err := createJournalVersionFile(path)
		if err != nil {
			relayJournal.Close()
			return nil, err
		}
	}
	return relayJournal, nil
}

// Node returns the relay node of this ComponentManager
func (a *ComponentManager) Node() *node.Node {
	return a.node
}

// Pipelines returns the typed action pipelines of this ComponentManager
func (a *ComponentManager) Pipelines() *actions.Pipelines {
	return a.pipelines
}

// Journal returns the decision journal, or nil when journaling is disabled
func (a *ComponentManager) Journal() *journal.Journal {
	return a.journal
}
