package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/config"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/engine"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/gossiper"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/httpserver"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
	"github.com/Donaldhan/incubator-retired-gossip/pkg/tracing"
)

func main() {
	var (
		clusterName = flag.String("cluster", "default", "cluster name")
		nodeId      = flag.String("node-id", "", "unique node id, required")
		host        = flag.String("host", "127.0.0.1", "gossip bind host")
		port        = flag.Int("port", 9000, "gossip bind port")
		httpAddr    = flag.String("http-addr", "127.0.0.1:18080", "debug/metrics HTTP bind address")
		seeds       = flag.String("seeds", "", "comma-separated host:port seed list")
		discover    = flag.Bool("discover", false, "enable mDNS peer discovery")
		datacenter  = flag.String("datacenter", "", "datacenter tag")
		rack        = flag.String("rack", "", "rack tag")
		strategy    = flag.String("gossip-strategy", "topology_aware", "active gossiper strategy: topology_aware or flat")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *nodeId == "" {
		logger.Error("-node-id is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, logger)
	if err != nil {
		logger.Warn("tracing init failed", "error", err)
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	cfg := config.DefaultEngineConfig()
	cfg.ClusterName = *clusterName
	cfg.NodeId = *nodeId
	cfg.Endpoint = model.Endpoint{Scheme: "udp", Host: *host, Port: *port}
	cfg.SeedMembers = parseSeeds(*clusterName, *seeds)
	cfg.DiscoveryEnabled = *discover
	if *strategy == string(gossiper.StrategyFlat) {
		cfg.Gossiper.Strategy = gossiper.StrategyFlat
	}
	if *datacenter != "" || *rack != "" {
		cfg.Properties = map[string]string{
			model.PropertyDatacenter: *datacenter,
			model.PropertyRack:       *rack,
		}
	}

	e, err := engine.New(logger, cfg)
	if err != nil {
		logger.Error("engine construction failed", "error", err)
		os.Exit(1)
	}

	if err := e.Start(ctx); err != nil {
		logger.Error("engine start failed", "error", err)
		os.Exit(1)
	}
	defer e.Stop()

	stopHTTP := httpserver.Start(ctx, logger, e, *httpAddr)
	defer func() { _ = stopHTTP(context.Background()) }()

	logger.Info("agent running", "node", *nodeId, "cluster", *clusterName, "endpoint", cfg.Endpoint.String())

	<-ctx.Done()
	logger.Info("agent exiting", "reason", ctx.Err())
}

func parseSeeds(clusterName, raw string) []model.Member {
	if raw == "" {
		return nil
	}
	var out []model.Member
	for _, hp := range strings.Split(raw, ",") {
		hp = strings.TrimSpace(hp)
		if hp == "" {
			continue
		}
		host, portStr, ok := strings.Cut(hp, ":")
		if !ok {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}
		out = append(out, model.Member{
			ClusterName: clusterName,
			NodeId:      hp,
			Endpoint:    model.Endpoint{Scheme: "udp", Host: host, Port: port},
		})
	}
	return out
}
