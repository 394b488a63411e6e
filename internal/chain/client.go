// Package chain provides Neo N3 contract interaction for the coin ledger.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/state"
	"github.com/nspcc-dev/neo-go/pkg/neorpc/result"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/actor"
	"github.com/nspcc-dev/neo-go/pkg/rpcclient/invoker"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/stackitem"
	"github.com/nspcc-dev/neo-go/pkg/vm/vmstate"
	"github.com/nspcc-dev/neo-go/pkg/wallet"

	"github.com/R3E-Network/coin_service/internal/metrics"
)

// DefaultPollInterval is the default interval for polling transaction status.
const DefaultPollInterval = time.Second

// Invoker is the contract-call surface the ledger depends on.
type Invoker interface {
	// Call performs a read-only test invocation.
	Call(ctx context.Context, contract util.Uint160, method string, args ...any) (*Response, error)
	// Send signs and broadcasts an invocation as signer and waits for its execution.
	Send(ctx context.Context, signer Signer, contract util.Uint160, method string, args ...any) (*Response, error)
}

// Response is the outcome of a contract invocation that reached the node.
// Error is set when the VM faulted; transport failures are returned as errors.
type Response struct {
	TxID         string
	ReturnValues []stackitem.Item
	Error        *ResponseError
}

// ResponseError carries the VM fault reported by the node.
type ResponseError struct {
	State   string
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("vm %s: %s", e.State, e.Message)
}

// Err returns the embedded fault, if any.
func (r *Response) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}

// Config holds client configuration.
type Config struct {
	RPCURL         string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	PollInterval   time.Duration
}

// Client talks to a Neo N3 node through neo-go's RPC client. Actors are
// created lazily per signing address and reused.
type Client struct {
	rpc          *rpcclient.Client
	pollInterval time.Duration

	newActor func(acc *wallet.Account) (*actor.Actor, error)

	mu     sync.Mutex
	actors map[string]cachedActor
}

// cachedActor remembers the key an actor was built from so that rotated key
// material replaces it.
type cachedActor struct {
	privateKey string
	actor      *actor.Actor
}

var _ Invoker = (*Client)(nil)

// NewClient dials the node at cfg.RPCURL.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	rpc, err := rpcclient.New(ctx, cfg.RPCURL, rpcclient.Options{
		DialTimeout:    cfg.DialTimeout,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	if err := rpc.Init(); err != nil {
		rpc.Close()
		return nil, fmt.Errorf("init rpc client: %w", err)
	}

	return &Client{
		rpc:          rpc,
		pollInterval: cfg.PollInterval,
		newActor: func(acc *wallet.Account) (*actor.Actor, error) {
			return actor.NewSimple(rpc, acc)
		},
		actors: make(map[string]cachedActor),
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// Call test-invokes method without signers.
func (c *Client) Call(ctx context.Context, contract util.Uint160, method string, args ...any) (*Response, error) {
	start := time.Now()
	var res *result.Invoke
	err := withContext(ctx, func() error {
		var err error
		res, err = invoker.New(c.rpc, nil).Call(contract, method, args...)
		return err
	})
	metrics.RecordChainCall(method, "call", time.Since(start), err == nil && res != nil && res.State == vmstate.Halt.String())
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", method, err)
	}

	resp := &Response{ReturnValues: res.Stack}
	if res.State != vmstate.Halt.String() {
		resp.Error = &ResponseError{State: res.State, Message: res.FaultException}
	}
	return resp, nil
}

// Send submits method as a signed transaction and waits for the application log.
func (c *Client) Send(ctx context.Context, signer Signer, contract util.Uint160, method string, args ...any) (*Response, error) {
	start := time.Now()
	resp, err := c.send(ctx, signer, contract, method, args...)
	metrics.RecordChainCall(method, "send", time.Since(start), err == nil && resp.Err() == nil)
	return resp, err
}

func (c *Client) send(ctx context.Context, signer Signer, contract util.Uint160, method string, args ...any) (*Response, error) {
	act, err := c.actorFor(ctx, signer)
	if err != nil {
		return nil, err
	}

	var (
		hash util.Uint256
		vub  uint32
	)
	err = withContext(ctx, func() error {
		var err error
		hash, vub, err = act.SendCall(contract, method, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	exec, err := c.WaitForExecution(ctx, hash, vub)
	if err != nil {
		return &Response{TxID: hash.StringLE()}, fmt.Errorf("wait for %s execution: %w", method, err)
	}

	resp := &Response{TxID: hash.StringLE(), ReturnValues: exec.Stack}
	if exec.VMState != vmstate.Halt {
		resp.Error = &ResponseError{State: exec.VMState.String(), Message: exec.FaultException}
	}
	return resp, nil
}

// WaitForExecution polls for the transaction's application log until it is
// available, the transaction expires or ctx is done. A missing log is treated
// as transient.
func (c *Client) WaitForExecution(ctx context.Context, hash util.Uint256, vub uint32) (*state.Execution, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			log, err := c.rpc.GetApplicationLog(hash, nil)
			if err == nil {
				if len(log.Executions) == 0 {
					return nil, fmt.Errorf("transaction %s has no executions", hash.StringLE())
				}
				return &log.Executions[0], nil
			}
			if !isNotFoundError(err) {
				return nil, err
			}
			if vub > 0 {
				height, herr := c.rpc.GetBlockCount()
				if herr == nil && height > vub+1 {
					return nil, fmt.Errorf("transaction %s expired at block %d", hash.StringLE(), vub)
				}
			}
		}
	}
}

func (c *Client) actorFor(ctx context.Context, signer Signer) (*actor.Actor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.actors[signer.Address]; ok && cached.privateKey == signer.PrivateKey {
		return cached.actor, nil
	}
	delete(c.actors, signer.Address)

	acc, err := signer.Account()
	if err != nil {
		return nil, err
	}

	var act *actor.Actor
	err = withContext(ctx, func() error {
		var err error
		act, err = c.newActor(acc)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create actor for %s: %w", signer.Address, err)
	}
	c.actors[signer.Address] = cachedActor{privateKey: signer.PrivateKey, actor: act}
	return act, nil
}

// withContext runs fn and returns early with ctx's error when ctx finishes
// first. The RPC request timeout bounds the abandoned call.
func withContext(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
