// Package contracttest provides an in-memory chain for tests that read
// contracts through contract.Handle and contract.Batch.
package contracttest

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"farmstats/pkg/chain/evm"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// FakeChain answers eth_calls from canned, ABI-encoded responses.
type FakeChain struct {
	mu        sync.Mutex
	responses map[string][]byte
	reverts   map[string]bool
	err       error

	Calls      int
	BatchCalls int
}

// NewFakeChain creates an empty fake.
func NewFakeChain() *FakeChain {
	return &FakeChain{
		responses: make(map[string][]byte),
		reverts:   make(map[string]bool),
	}
}

func key(to common.Address, data []byte) string {
	return to.Hex() + ":" + hex.EncodeToString(data)
}

// SetUint registers a uint256 response for method(args...) on address.
func (f *FakeChain) SetUint(address common.Address, contractABI abi.ABI, method string, value *big.Int, args ...interface{}) {
	f.Set(address, contractABI, method, []interface{}{value}, args...)
}

// Set registers the outputs returned by method(args...) on address.
func (f *FakeChain) Set(address common.Address, contractABI abi.ABI, method string, outputs []interface{}, args ...interface{}) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("packing %s: %v", method, err))
	}
	ret, err := contractABI.Methods[method].Outputs.Pack(outputs...)
	if err != nil {
		panic(fmt.Sprintf("packing outputs of %s: %v", method, err))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[key(address, data)] = ret
}

// Revert makes method(args...) on address revert.
func (f *FakeChain) Revert(address common.Address, contractABI abi.ABI, method string, args ...interface{}) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		panic(fmt.Sprintf("packing %s: %v", method, err))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverts[key(address, data)] = true
}

// FailWith makes every subsequent RPC fail with err.
func (f *FakeChain) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// CallContract implements contract.Caller.
func (f *FakeChain) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls++
	if f.err != nil {
		return nil, f.err
	}
	k := key(to, data)
	if f.reverts[k] {
		return nil, fmt.Errorf("execution reverted")
	}
	ret, ok := f.responses[k]
	if !ok {
		return nil, fmt.Errorf("execution reverted: no response for %s", k)
	}
	return ret, nil
}

// BatchCallContract implements contract.BatchCaller.
func (f *FakeChain) BatchCallContract(ctx context.Context, calls []evm.ContractCall) ([]evm.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.BatchCalls++
	if f.err != nil {
		return nil, f.err
	}

	results := make([]evm.CallResult, len(calls))
	for i, c := range calls {
		k := key(c.Target, c.CallData)
		ret, ok := f.responses[k]
		if !ok || f.reverts[k] {
			results[i] = evm.CallResult{Success: false}
			continue
		}
		results[i] = evm.CallResult{Success: true, Data: ret}
	}
	return results, nil
}
