package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/kuryecini/kuryecini-edge/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	transport, ok := client.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("unexpected transport %T", client.Transport)
	}
	if transport.ResponseHeaderTimeout != 45*time.Second {
		t.Fatalf("response header timeout should follow config, got %s", transport.ResponseHeaderTimeout)
	}
}

func TestNewUpstreamClientDefaultsWithoutConfig(t *testing.T) {
	client := NewUpstreamClient(nil)
	if client.Timeout != defaultUpstreamTimeout {
		t.Fatalf("expected default timeout, got %s", client.Timeout)
	}
	if NewUpstreamClient(nil).Transport == client.Transport {
		t.Fatalf("each client should own its transport")
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive, X-Debug-Trace")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Debug-Trace", "abc")
	src.Add("X-Client-ID", "1")
	src.Add("x-client-id", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	for _, key := range []string{"Connection", "Keep-Alive", "X-Debug-Trace"} {
		if _, exists := dst[key]; exists {
			t.Fatalf("%s header should not be copied", key)
		}
	}
	if got := dst.Values("X-Client-ID"); len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}
