package evm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Multicall3Address is the canonical Multicall3 deployment, identical on
// every EVM chain.
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

const multicall3ABIJSON = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "target", "type": "address"},
					{"internalType": "bool", "name": "allowFailure", "type": "bool"},
					{"internalType": "bytes", "name": "callData", "type": "bytes"}
				],
				"internalType": "struct Multicall3.Call3[]",
				"name": "calls",
				"type": "tuple[]"
			}
		],
		"name": "aggregate3",
		"outputs": [
			{
				"components": [
					{"internalType": "bool", "name": "success", "type": "bool"},
					{"internalType": "bytes", "name": "returnData", "type": "bytes"}
				],
				"internalType": "struct Multicall3.Result[]",
				"name": "returnData",
				"type": "tuple[]"
			}
		],
		"stateMutability": "payable",
		"type": "function"
	}
]`

// Multicall3ABI holds the aggregate3 method only.
var Multicall3ABI abi.ABI

func init() {
	var err error
	Multicall3ABI, err = abi.JSON(strings.NewReader(multicall3ABIJSON))
	if err != nil {
		panic("parsing Multicall3 ABI: " + err.Error())
	}
}

// ContractCall is a single read batched into one aggregate3 request.
type ContractCall struct {
	Target   common.Address
	CallData []byte
}

// CallResult is the outcome of one batched read.
type CallResult struct {
	Success bool
	Data    []byte
}

// call3 and call3Result mirror the Multicall3 tuple layouts field by field.
type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type call3Result struct {
	Success    bool
	ReturnData []byte
}

// BatchCallContract executes calls in a single eth_call through Multicall3,
// so every result reflects the same block. Sub-calls may fail without failing
// the batch; check CallResult.Success.
func (c *Client) BatchCallContract(ctx context.Context, calls []ContractCall) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	data, err := EncodeAggregate3(calls)
	if err != nil {
		return nil, err
	}

	out, err := c.call(ctx, ethereum.CallMsg{To: &Multicall3Address, Data: data})
	if err != nil {
		return nil, fmt.Errorf("multicall of %d calls: %w", len(calls), err)
	}

	return DecodeAggregate3(out)
}

// EncodeAggregate3 packs calls as aggregate3 calldata with failures allowed.
func EncodeAggregate3(calls []ContractCall) ([]byte, error) {
	packed := make([]call3, len(calls))
	for i, call := range calls {
		packed[i] = call3{
			Target:       call.Target,
			AllowFailure: true,
			CallData:     call.CallData,
		}
	}

	data, err := Multicall3ABI.Pack("aggregate3", packed)
	if err != nil {
		return nil, fmt.Errorf("packing aggregate3: %w", err)
	}
	return data, nil
}

// DecodeAggregate3 unpacks the return data of an aggregate3 call.
func DecodeAggregate3(data []byte) ([]CallResult, error) {
	var raw []call3Result
	if err := Multicall3ABI.UnpackIntoInterface(&raw, "aggregate3", data); err != nil {
		return nil, fmt.Errorf("unpacking aggregate3: %w", err)
	}

	results := make([]CallResult, len(raw))
	for i, r := range raw {
		results[i] = CallResult{Success: r.Success, Data: r.ReturnData}
	}
	return results, nil
}
