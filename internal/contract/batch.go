package contract

import (
	"context"
	"fmt"
	"math/big"

	"farmstats/pkg/chain/evm"
)

type batchCall struct {
	handle *Handle
	method string
	args   []interface{}
}

// Batch collects view calls against several handles and executes them in a
// single Multicall3 request, so every value is read from the same block.
type Batch struct {
	caller BatchCaller
	calls  []batchCall
}

// NewBatch creates an empty batch.
func NewBatch(caller BatchCaller) *Batch {
	return &Batch{caller: caller}
}

// Add queues a call and returns its index in the results.
func (b *Batch) Add(h *Handle, method string, args ...interface{}) int {
	b.calls = append(b.calls, batchCall{handle: h, method: method, args: args})
	return len(b.calls) - 1
}

// Len returns the number of queued calls.
func (b *Batch) Len() int {
	return len(b.calls)
}

// Execute runs every queued call. A failed or undecodable sub-call fails the
// whole batch.
func (b *Batch) Execute(ctx context.Context) ([][]interface{}, error) {
	if len(b.calls) == 0 {
		return nil, nil
	}

	calls := make([]evm.ContractCall, len(b.calls))
	for i, c := range b.calls {
		data, err := c.handle.ABI.Pack(c.method, c.args...)
		if err != nil {
			return nil, fmt.Errorf("packing %s: %w", c.method, err)
		}
		calls[i] = evm.ContractCall{Target: c.handle.Address, CallData: data}
	}

	results, err := b.caller.BatchCallContract(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("executing batch of %d calls: %w", len(calls), err)
	}
	if len(results) != len(calls) {
		return nil, fmt.Errorf("%w: batch returned %d results for %d calls", ErrCallFailed, len(results), len(calls))
	}

	outputs := make([][]interface{}, len(results))
	for i, r := range results {
		c := b.calls[i]
		if !r.Success {
			return nil, fmt.Errorf("%w: %s on %s reverted", ErrCallFailed, c.method, c.handle.Address.Hex())
		}
		out, err := c.handle.ABI.Unpack(c.method, r.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: unpacking %s on %s: %v", ErrCallFailed, c.method, c.handle.Address.Hex(), err)
		}
		outputs[i] = out
	}

	return outputs, nil
}

// BigAt extracts the uint256 output of call i from Execute's results.
func (b *Batch) BigAt(outputs [][]interface{}, i int) (*big.Int, error) {
	c := b.calls[i]
	return firstBig(c.method, c.handle.Address, outputs[i])
}
