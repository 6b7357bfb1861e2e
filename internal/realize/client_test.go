package realize

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wfishell/MultiAgentGamePlay/internal/constraints"
)

// fakeSolver answers synthesize requests: any formulation mentioning
// "impossible" is unrealizable.
func fakeSolver(t *testing.T, conn net.Conn) (received *[]SynthesisParams) {
	t.Helper()
	var mu sync.Mutex
	var got []SynthesisParams
	handler := jsonrpc2.HandlerWithError(func(ctx context.Context, c *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		switch req.Method {
		case MethodSynthesize:
			var p SynthesisParams
			if err := json.Unmarshal(*req.Params, &p); err != nil {
				return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
			}
			mu.Lock()
			got = append(got, p)
			mu.Unlock()
			if err := c.Notify(ctx, MethodLog, map[string]string{"message": "solving " + p.Name}); err != nil {
				return nil, err
			}
			if strings.Contains(p.Formulation, "impossible") {
				return Result{Status: StatusUnrealizable}, nil
			}
			return Result{Status: StatusRealizable, Controller: json.RawMessage(`{"states":3}`)}, nil
		case MethodShutdown:
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: req.Method}
	})
	server := jsonrpc2.NewConn(context.Background(), jsonrpc2.NewBufferedStream(conn, jsonrpc2.VSCodeObjectCodec{}), handler)
	t.Cleanup(func() { server.Close() })
	return &got
}

func newPipeClient(t *testing.T, cfg ClientConfig) (*Client, *[]SynthesisParams) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	got := fakeSolver(t, serverSide)
	c := NewClient(context.Background(), clientSide, cfg)
	t.Cleanup(func() { c.Close() })
	return c, got
}

func TestCheckRealizable(t *testing.T) {
	var logs []string
	cfg := DefaultClientConfig()
	cfg.OnLog = func(s string) { logs = append(logs, s) }
	c, got := newPipeClient(t, cfg)

	spec, err := constraints.BuiltinSpec(constraints.ScenarioPursuit)
	require.NoError(t, err)

	res, err := c.Check(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, res.Realizable())
	assert.JSONEq(t, `{"states":3}`, string(res.Controller))
	assert.Equal(t, []string{"solving builtin:pursuit"}, logs)

	require.Len(t, *got, 1)
	sent := (*got)[0]
	assert.Equal(t, spec.Formulation, sent.Formulation)
	assert.Len(t, sent.Constraints, len(spec.Constraints()))
	assert.Equal(t, constraints.KindSafety, sent.Constraints[0].Kind)
}

func TestCheckUnrealizable(t *testing.T) {
	c, _ := newPipeClient(t, DefaultClientConfig())
	spec, err := constraints.ParseSpec([]byte(`{
		"ltl_formulation": "G(impossible) & GF(goal)",
		"System_Player": {"name": "Robots"}
	}`))
	require.NoError(t, err)

	res, err := c.Check(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, res.Realizable())
	assert.Equal(t, StatusUnrealizable, res.Status)
}

func TestShutdownAndClose(t *testing.T) {
	c, _ := newPipeClient(t, DefaultClientConfig())
	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Close())

	spec, err := constraints.BuiltinSpec(constraints.ScenarioWarehouse)
	require.NoError(t, err)
	_, err = c.Check(context.Background(), spec)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(c.Close(), ErrClosed))
}

func TestStartSolverMissingBinary(t *testing.T) {
	_, err := StartSolver(context.Background(), "no-such-solver-binary-xyz", nil, DefaultClientConfig())
	assert.True(t, errors.Is(err, ErrSolverNotFound))
}
