// Package discovery supplements the configured seed list with peers found
// on the local network via mDNS, so a freshly booted node in the same LAN
// segment can find live peers without a static seed list.
//
// Uses grandcat/zeroconf to register and browse a service.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/Donaldhan/incubator-retired-gossip/pkg/model"
)

const serviceName = "_gossip._tcp"

// Discovery advertises the local node over mDNS and browses for others.
type Discovery struct {
	logger *slog.Logger
	self   model.Member

	server *zeroconf.Server
}

// New creates a Discovery for self, not yet advertising.
func New(logger *slog.Logger, self model.Member) *Discovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{logger: logger.With("component", "discovery"), self: self}
}

// Advertise registers an mDNS record for the local node, tagging it with
// its NodeId so peers can recognize (and skip) themselves.
func (d *Discovery) Advertise() error {
	server, err := zeroconf.Register(
		d.self.NodeId,
		serviceName,
		"local.",
		d.self.Endpoint.Port,
		[]string{fmt.Sprintf("id=%s", d.self.NodeId)},
		nil,
	)
	if err != nil {
		return fmt.Errorf("discovery: register: %w", err)
	}
	d.server = server
	return nil
}

// Browse looks for other _gossip._tcp responders for up to timeout,
// returning any endpoints found. It never blocks longer than timeout and
// never returns an error for "nothing found" — only for resolver setup
// failures, since discovery is purely additive to the configured seed list.
func (d *Discovery) Browse(ctx context.Context, timeout time.Duration) ([]model.Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolver: %w", err)
	}

	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var found []model.Endpoint
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			ep, ok := d.parseEntry(entry)
			if ok {
				found = append(found, ep)
			}
		}
	}()

	if err := resolver.Browse(browseCtx, serviceName, "local.", entries); err != nil {
		return nil, fmt.Errorf("discovery: browse: %w", err)
	}
	<-browseCtx.Done()
	<-done
	return found, nil
}

func (d *Discovery) parseEntry(entry *zeroconf.ServiceEntry) (model.Endpoint, bool) {
	var nodeId string
	for _, txt := range entry.Text {
		if parts := strings.SplitN(txt, "=", 2); len(parts) == 2 && parts[0] == "id" {
			nodeId = parts[1]
		}
	}
	if nodeId == "" || nodeId == d.self.NodeId {
		return model.Endpoint{}, false
	}
	if len(entry.AddrIPv4) == 0 {
		d.logger.Debug("discovered entry with no IPv4 address", "host", entry.HostName)
		return model.Endpoint{}, false
	}
	return model.Endpoint{Scheme: "udp", Host: entry.AddrIPv4[0].String(), Port: entry.Port}, true
}

// Shutdown unregisters the mDNS advertisement, if any.
func (d *Discovery) Shutdown() {
	if d.server != nil {
		d.server.Shutdown()
	}
}
