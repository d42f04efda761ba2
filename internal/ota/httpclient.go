package ota

import (
	"net"
	"net/http"
	"time"
)

// ClientConfig bounds the shared HTTP transport used for update-server
// discovery and downloads.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	TLSHandshakeTimeout time.Duration
	DialTimeout         time.Duration
	KeepAlive           time.Duration
}

// DefaultClientConfig returns conservative defaults for a station's
// single outbound update-server connection.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
	}
}

// NewHTTPClient builds a dedicated *http.Client for OTA network calls,
// with timeout applied per-request via context rather than baked into
// the client so a single slow discovery call can't stall a download.
func NewHTTPClient(cfg ClientConfig) *http.Client {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
	}
	return &http.Client{Transport: transport}
}
