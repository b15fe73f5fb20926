package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/broker"
	"github.com/BaSui01/agentswarm/types"
)

// Request headers carried with every invocation.
const (
	HeaderCommandID  = "X-Swarm-Command-ID"
	HeaderSessionID  = "X-Swarm-Session-ID"
	HeaderCapability = "X-Swarm-Capability"
	HeaderAttempt    = "X-Swarm-Attempt"

	invokePath     = "/invoke"
	maxOutputBytes = 4 << 20
)

// HTTPBackend executes commands by POSTing the payload to the agent's
// address. 5xx responses and transport failures are retryable; 4xx are not.
type HTTPBackend struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPBackend creates a backend. A zero timeout leaves attempts bounded
// only by the caller's context.
func NewHTTPBackend(timeout time.Duration, logger *zap.Logger) *HTTPBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPBackend{
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "http_backend")),
	}
}

var _ broker.Backend = (*HTTPBackend)(nil)

// Invoke implements broker.Backend.
func (b *HTTPBackend) Invoke(ctx context.Context, inv broker.Invocation) (broker.Result, error) {
	url := agentURL(inv.Agent.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(inv.Payload))
	if err != nil {
		return broker.Result{}, types.NewError(types.ErrExecution, "build request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderCommandID, inv.CommandID)
	req.Header.Set(HeaderSessionID, inv.SessionID)
	req.Header.Set(HeaderCapability, inv.Capability)
	req.Header.Set(HeaderAttempt, strconv.Itoa(inv.Attempt))

	resp, err := b.client.Do(req)
	if err != nil {
		return broker.Result{}, types.Executionf("invoke agent %s", inv.Agent.ID).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
	if err != nil {
		return broker.Result{}, types.Executionf("read response from agent %s", inv.Agent.ID).WithCause(err)
	}

	switch {
	case resp.StatusCode >= 500:
		return broker.Result{}, types.Executionf("agent %s returned %d", inv.Agent.ID, resp.StatusCode)
	case resp.StatusCode >= 300:
		b.logger.Debug("agent rejected command",
			zap.String("agent_id", inv.Agent.ID),
			zap.Int("status", resp.StatusCode),
		)
		return broker.Result{}, types.NewError(types.ErrExecution,
			fmt.Sprintf("agent %s rejected command with %d", inv.Agent.ID, resp.StatusCode))
	}

	meta := map[string]string{"status": strconv.Itoa(resp.StatusCode)}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		meta["content_type"] = ct
	}
	return broker.Result{Output: body, Metadata: meta}, nil
}

func agentURL(address string) string {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return strings.TrimSuffix(address, "/") + invokePath
}
