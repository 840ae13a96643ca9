package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"farmstats/pkg/chain/evm"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrCallFailed is returned when a read call reverts or its output cannot be decoded.
var ErrCallFailed = errors.New("contract call failed")

// Caller performs a single read-only eth_call.
type Caller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// BatchCaller performs several read-only calls in one round trip.
type BatchCaller interface {
	BatchCallContract(ctx context.Context, calls []evm.ContractCall) ([]evm.CallResult, error)
}

// Handle is a read-only binding of an ABI to a deployed contract.
type Handle struct {
	Address common.Address
	ABI     abi.ABI
	caller  Caller
}

// Bind creates a handle for the contract at address.
func Bind(caller Caller, address common.Address, contractABI abi.ABI) *Handle {
	return &Handle{
		Address: address,
		ABI:     contractABI,
		caller:  caller,
	}
}

// Call invokes a view method and returns its unpacked outputs.
func (h *Handle) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := h.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}

	result, err := h.caller.CallContract(ctx, h.Address, data)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, h.Address.Hex(), err)
	}

	out, err := h.ABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("%w: unpacking %s on %s: %v", ErrCallFailed, method, h.Address.Hex(), err)
	}

	return out, nil
}

// CallBig invokes a view method whose single output is a uint256.
func (h *Handle) CallBig(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	out, err := h.Call(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return firstBig(method, h.Address, out)
}

func firstBig(method string, address common.Address, out []interface{}) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s on %s returned no values", ErrCallFailed, method, address.Hex())
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s returned %T, want *big.Int", ErrCallFailed, method, address.Hex(), out[0])
	}
	return v, nil
}
