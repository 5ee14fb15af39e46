package main

import (
	"errors"
	"fmt"

	"nodebroker/pkg/cipher"
	"nodebroker/pkg/config"
	"nodebroker/pkg/health"
	"nodebroker/pkg/index"
	"nodebroker/pkg/log"
	"nodebroker/pkg/monitor"
	"nodebroker/pkg/nodeclient"
	"nodebroker/pkg/nodestore"
	"nodebroker/pkg/notify"
	"nodebroker/pkg/placement"
	"nodebroker/pkg/registry"
	"nodebroker/pkg/server"
)

// app holds the wired broker components.
type app struct {
	cfg          *config.Config
	nodes        *nodestore.Store
	index        *index.Store
	notifier     *notify.Notifier
	health       *health.Service
	orchestrator *placement.Orchestrator
	registry     *registry.Registry
	monitor      *monitor.Monitor
}

func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, err
	}
	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := nodeclient.New(nodeclient.Config{
		RetryMax:       cfg.Client.RetryMax,
		RetryWaitMin:   cfg.Client.RetryWaitMin,
		RetryWaitMax:   cfg.Client.RetryWaitMax,
		RequestTimeout: cfg.Client.RequestTimeout,
		CAFile:         cfg.Client.CAFile,
	})
	if err != nil {
		return nil, err
	}

	payloadCipher, err := cipher.New(cfg.Crypto.Key)
	if err != nil {
		return nil, err
	}

	nodes, err := nodestore.Open(cfg.Storage.NodeDB)
	if err != nil {
		return nil, err
	}

	idx, err := index.Open(cfg.Storage.IndexDB)
	if err != nil {
		_ = nodes.Close()
		return nil, err
	}

	notifier := notify.New(idx, 0)
	healthService := health.NewService(nodes, client, notifier, health.Config{
		ProbeTimeout:  cfg.Health.ProbeTimeout,
		ProbeAttempts: cfg.Health.ProbeAttempts,
		Classifier: health.Classifier{
			LatencyThreshold: cfg.Health.LatencyThreshold,
			OfflineAfter:     cfg.Health.OfflineAfter,
			ResourceLimit:    cfg.Health.ResourceLimit,
			FailedAuthLimit:  cfg.Health.FailedAuthLimit,
		},
	})

	orchestrator := placement.NewOrchestrator(placement.Dependencies{
		Nodes:    nodes,
		Files:    idx,
		Users:    idx,
		Transfer: client,
		Health:   healthService,
		Cipher:   payloadCipher,
	}, cfg.HTTP.TransferTimeout)

	return &app{
		cfg:          cfg,
		nodes:        nodes,
		index:        idx,
		notifier:     notifier,
		health:       healthService,
		orchestrator: orchestrator,
		registry:     registry.New(nodes, idx),
		monitor: monitor.New(nodes, healthService, monitor.Config{
			PingInterval:     cfg.Monitor.PingInterval,
			ResourceInterval: cfg.Monitor.ResourceInterval,
			Concurrency:      cfg.Monitor.Concurrency,
		}),
	}, nil
}

func (a *app) server() *server.Server {
	return server.New(server.Services{
		Files:    a.orchestrator,
		Registry: a.registry,
		Nodes:    a.nodes,
		Accounts: a.index,
		Health:   a.health,
	}, server.Options{
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
		MaxUploadSize:   a.cfg.HTTP.MaxUploadSize,
	})
}

// Close flushes pending notifications before the index is closed.
func (a *app) Close() error {
	a.notifier.Close()
	return errors.Join(a.index.Close(), a.nodes.Close())
}
