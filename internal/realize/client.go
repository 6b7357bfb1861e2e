// Package realize asks an external reactive-synthesis solver whether a
// constraint specification is realizable. The solver speaks JSON-RPC 2.0
// with Content-Length framing over its stdin and stdout.
package realize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/wfishell/MultiAgentGamePlay/internal/constraints"
)

var (
	ErrClosed         = errors.New("realizability client closed")
	ErrSolverNotFound = errors.New("synthesis solver not installed")
)

// Method names understood by the solver.
const (
	MethodSynthesize = "synthesize"
	MethodShutdown   = "shutdown"
	MethodLog        = "log"
)

type Status string

const (
	StatusRealizable   Status = "realizable"
	StatusUnrealizable Status = "unrealizable"
)

// Result is the solver's verdict. Controller is opaque to this program.
type Result struct {
	Status     Status          `json:"status"`
	Controller json.RawMessage `json:"controller,omitempty"`
}

func (r Result) Realizable() bool { return r.Status == StatusRealizable }

// SynthesisParams is the request body: the specification as written in its
// JSON file, plus the constraint split used by the manager.
type SynthesisParams struct {
	Name        string                   `json:"name"`
	Formulation string                   `json:"ltl_formulation"`
	System      constraints.Player       `json:"System_Player"`
	Environment *constraints.Player      `json:"Environment_Player,omitempty"`
	Inputs      []string                 `json:"Inputs,omitempty"`
	Outputs     []string                 `json:"Outputs,omitempty"`
	Constraints []constraints.Constraint `json:"constraints"`
}

// ParamsFor builds the request for spec.
func ParamsFor(spec *constraints.Spec) SynthesisParams {
	return SynthesisParams{
		Name:        spec.Path,
		Formulation: spec.Formulation,
		System:      spec.System,
		Environment: spec.Environment,
		Inputs:      spec.Inputs,
		Outputs:     spec.Outputs,
		Constraints: spec.Constraints(),
	}
}

type ClientConfig struct {
	RequestTimeout time.Duration
	OnLog          func(string) // solver "log" notifications; nil drops them
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{RequestTimeout: 2 * time.Minute}
}

// Client is a JSON-RPC connection to one solver.
type Client struct {
	conn   *jsonrpc2.Conn
	config ClientConfig

	mu     sync.Mutex
	closed bool
}

// NewClient speaks to a solver over rwc.
func NewClient(ctx context.Context, rwc io.ReadWriteCloser, config ClientConfig) *Client {
	c := &Client{config: config}
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	c.conn = jsonrpc2.NewConn(ctx, stream, &clientHandler{client: c})
	return c
}

type clientHandler struct {
	client *Client
}

func (h *clientHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if !req.Notif || req.Method != MethodLog || req.Params == nil || h.client.config.OnLog == nil {
		return
	}
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(*req.Params, &msg); err == nil {
		h.client.config.OnLog(msg.Message)
	}
}

// Check submits spec and waits for the verdict.
func (c *Client) Check(ctx context.Context, spec *constraints.Spec) (Result, error) {
	if c.isClosed() {
		return Result{}, ErrClosed
	}
	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	var res Result
	if err := c.conn.Call(ctx, MethodSynthesize, ParamsFor(spec), &res); err != nil {
		return Result{}, fmt.Errorf("synthesize %s: %w", spec.Path, err)
	}
	switch res.Status {
	case StatusRealizable, StatusUnrealizable:
		return res, nil
	}
	return Result{}, fmt.Errorf("synthesize %s: unknown status %q", spec.Path, res.Status)
}

// Shutdown asks the solver to exit. The connection stays open until Close.
func (c *Client) Shutdown(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	var ignored any
	if err := c.conn.Call(ctx, MethodShutdown, nil, &ignored); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}
