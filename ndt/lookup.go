// SPDX-License-Identifier: GPL-3.0-or-later

package ndt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/measurement-kit/netcore"
	"github.com/measurement-kit/netcore/connector"
	"github.com/measurement-kit/netcore/dns"
)

// mlabNSHost is the mlab-ns server selection service used when
// options.address is empty.
const mlabNSHost = "mlab-ns.appspot.com"

// ServerInfo is mlab-ns's JSON response body for a tool lookup.
type ServerInfo struct {
	City string   `json:"city"`
	URL  string   `json:"url"`
	IP   []string `json:"ip"`
	FQDN string   `json:"fqdn"`
}

// LookupServer queries mlab-ns for a nearby server running toolName (e.g.
// "ndt"), reusing the engine's own Endpoint+Connect+Observe+CancelWatch+
// TLS+HTTPConn pipeline end to end rather than net/http's default client.
//
// resolver resolves mlabNSHost; a nil resolver uses a fresh [*dns.Resolver].
//
// rootCAs, if non-nil, is used instead of the system root pool to verify
// mlab-ns's certificate. Tests use this to inject a pool built from an
// in-memory fixture certificate.
func LookupServer(ctx context.Context, cfg *netcore.Config, resolver connector.Resolver,
	rootCAs *x509.CertPool, logger netcore.SLogger, toolName string) (*ServerInfo, error) {
	if cfg == nil {
		cfg = netcore.NewConfig()
	}
	if logger == nil {
		logger = netcore.DefaultSLogger()
	}
	spanID := netcore.NewSpanID()
	if sl, ok := logger.(*slog.Logger); ok {
		logger = sl.With("spanID", spanID)
	}

	var owned *dns.Resolver
	if resolver == nil {
		owned = dns.New()
		resolver = owned
	}
	if owned != nil {
		defer owned.Close()
	}

	addrs, err := resolveMlabNS(ctx, resolver)
	if err != nil {
		return nil, err
	}

	connectFn := netcore.NewConnectFunc(cfg, "tcp", logger)
	observeFn := netcore.NewObserveConnFunc(cfg, logger)
	cancelFn := netcore.NewCancelWatchFunc()
	tlsFn := netcore.NewTLSHandshakeFunc(cfg,
		&tls.Config{ServerName: mlabNSHost, NextProtos: []string{"http/1.1"}, RootCAs: rootCAs}, logger)
	httpFn := netcore.NewHTTPConnFuncTLS(cfg, logger)

	var lastErr error
	for _, addr := range addrs {
		epntFn := netcore.NewEndpointFunc(netip.AddrPortFrom(addr, 443))
		pipeline := netcore.Compose6(epntFn, connectFn, observeFn, cancelFn, tlsFn, httpFn)

		hc, err := pipeline.Call(ctx, netcore.Unit{})
		if err != nil {
			lastErr = err
			continue
		}
		info, err := fetchServerInfo(ctx, hc, toolName)
		hc.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return info, nil
	}
	return nil, fmt.Errorf("ndt: mlab-ns lookup exhausted all addresses: %w", lastErr)
}

// resolveMlabNS resolves mlabNSHost, so the mlab-ns lookup runs end to end
// on the engine's own stack rather than falling back to net.DefaultResolver.
func resolveMlabNS(ctx context.Context, resolver connector.Resolver) ([]netip.Addr, error) {
	resp, err := resolver.Query(ctx, dns.ClassIN, dns.A, mlabNSHost, dns.Settings{})
	if err != nil {
		return nil, err
	}
	if resp.Status != dns.NoError {
		return nil, fmt.Errorf("mlab-ns lookup status: %s", resp.Status)
	}

	var addrs []netip.Addr
	for _, rec := range resp.Answers {
		addr, err := netip.ParseAddr(rec.Data)
		if err != nil {
			continue
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("mlab-ns lookup: no addresses")
	}
	return addrs, nil
}

func fetchServerInfo(ctx context.Context, hc *netcore.HTTPConn, toolName string) (*ServerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+mlabNSHost+"/"+toolName, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ndt: mlab-ns returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var info ServerInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("ndt: decoding mlab-ns response: %w", err)
	}
	return &info, nil
}
