// Package nodeio is the engine's outbound JSON-RPC client to the managed
// Lightning node, implementing schema.NodeRPC (spec.md §4.1 stage 6).
package nodeio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"hivecore/engine"
	"hivecore/schema"
)

// Config controls how the Client reaches the node's RPC endpoint.
type Config struct {
	BaseURL         string
	BearerToken     string
	TLSClientCAFile string
	AllowInsecure   bool
	Timeout         time.Duration
}

// Client is the minimal JSON-RPC 2.0 caller the translator's RPCStep values
// are executed against.
type Client struct {
	baseURL string
	http    *http.Client
	bearer  string
}

var _ schema.NodeRPC = (*Client)(nil)

// NewClient builds a Client from cfg.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("nodeio: base url is required")
	}

	tlsConfig := &tls.Config{}
	if cfg.AllowInsecure {
		tlsConfig.InsecureSkipVerify = true
	} else {
		pool, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("nodeio: load system cert pool: %w", err)
		}
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if ca := strings.TrimSpace(cfg.TLSClientCAFile); ca != "" {
			pem, err := os.ReadFile(ca)
			if err != nil {
				return nil, fmt.Errorf("nodeio: read client ca file: %w", err)
			}
			if ok := pool.AppendCertsFromPEM(pem); !ok {
				return nil, fmt.Errorf("nodeio: append client ca: invalid pem data")
			}
		}
		tlsConfig.RootCAs = pool
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		bearer:  strings.TrimSpace(cfg.BearerToken),
		http:    &http.Client{Timeout: timeout, Transport: &http.Transport{TLSClientConfig: tlsConfig}},
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("node rpc error %d: %s", e.Code, e.Message)
}

// Call implements schema.NodeRPC. Network errors, 5xx responses and
// JSON-RPC codes in the -32000..-32099 "server error" band are transient
// and wrapped in *engine.RetryableError so the engine retries them;
// anything else (bad params, method not found) is fatal.
func (c *Client) Call(ctx context.Context, step schema.RPCStep) (map[string]interface{}, error) {
	body := rpcRequest{JSONRPC: "2.0", ID: 1, Method: step.Method, Params: step.Params}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("nodeio: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("nodeio: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &engine.RetryableError{Err: fmt.Errorf("nodeio: call rpc: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &engine.RetryableError{Err: fmt.Errorf("nodeio: rpc call failed with status %s", resp.Status)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("nodeio: rpc call failed with status %s", resp.Status)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("nodeio: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code <= -32000 && rpcResp.Error.Code >= -32099 {
			return nil, &engine.RetryableError{Err: rpcResp.Error}
		}
		return nil, rpcResp.Error
	}

	var out map[string]interface{}
	if len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, &out); err != nil {
			return nil, fmt.Errorf("nodeio: decode result: %w", err)
		}
	}
	return out, nil
}

// StateHash implements schema.NodeRPC by hashing a deterministic,
// sorted-by-name call to node.GetState for the touched resource keys. This
// gives the engine a cheap before/after fingerprint without requiring the
// node to expose a dedicated state-hash method.
func (c *Client) StateHash(ctx context.Context, touches []string) ([32]byte, error) {
	sorted := append([]string(nil), touches...)
	sort.Strings(sorted)

	out, err := c.Call(ctx, schema.RPCStep{Method: "node.GetState", Params: map[string]interface{}{"keys": sorted}})
	if err != nil {
		return [32]byte{}, err
	}
	enc, err := json.Marshal(out)
	if err != nil {
		return [32]byte{}, fmt.Errorf("nodeio: encode state for hashing: %w", err)
	}
	return sha256.Sum256(enc), nil
}
