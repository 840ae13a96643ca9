package contract_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"farmstats/internal/contract"
	"farmstats/internal/contract/contracttest"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr   = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	holderAddr  = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	missingAddr = common.HexToAddress("0x0000000000000000000000000000000000000c03")
)

func TestHandleCallBig(t *testing.T) {
	chain := contracttest.NewFakeChain()
	chain.SetUint(tokenAddr, contract.ERC20ABI, "balanceOf", big.NewInt(42), holderAddr)

	token := contract.Bind(chain, tokenAddr, contract.ERC20ABI)
	balance, err := token.CallBig(context.Background(), "balanceOf", holderAddr)

	require.NoError(t, err)
	require.Equal(t, int64(42), balance.Int64())
}

func TestHandleCallString(t *testing.T) {
	chain := contracttest.NewFakeChain()
	chain.Set(tokenAddr, contract.ERC20ABI, "symbol", []interface{}{"UNI-V2"})

	token := contract.Bind(chain, tokenAddr, contract.ERC20ABI)
	out, err := token.Call(context.Background(), "symbol")

	require.NoError(t, err)
	require.Equal(t, "UNI-V2", out[0])
}

func TestHandleCallPropagatesRPCError(t *testing.T) {
	chain := contracttest.NewFakeChain()
	rpcErr := errors.New("dial tcp: connection refused")
	chain.FailWith(rpcErr)

	token := contract.Bind(chain, tokenAddr, contract.ERC20ABI)
	_, err := token.CallBig(context.Background(), "totalSupply")

	require.ErrorIs(t, err, rpcErr)
}

func TestHandleCallUnknownMethod(t *testing.T) {
	token := contract.Bind(contracttest.NewFakeChain(), tokenAddr, contract.ERC20ABI)
	_, err := token.Call(context.Background(), "earned", holderAddr)
	require.Error(t, err)
}

func TestBatchExecute(t *testing.T) {
	chain := contracttest.NewFakeChain()
	chain.SetUint(tokenAddr, contract.ERC20ABI, "totalSupply", big.NewInt(1000))
	chain.SetUint(tokenAddr, contract.ERC20ABI, "balanceOf", big.NewInt(7), holderAddr)

	token := contract.Bind(chain, tokenAddr, contract.ERC20ABI)
	batch := contract.NewBatch(chain)
	supplyIdx := batch.Add(token, "totalSupply")
	balanceIdx := batch.Add(token, "balanceOf", holderAddr)
	require.Equal(t, 2, batch.Len())

	outputs, err := batch.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, chain.BatchCalls)

	supply, err := batch.BigAt(outputs, supplyIdx)
	require.NoError(t, err)
	require.Equal(t, int64(1000), supply.Int64())

	balance, err := batch.BigAt(outputs, balanceIdx)
	require.NoError(t, err)
	require.Equal(t, int64(7), balance.Int64())
}

func TestBatchExecuteFailsOnRevert(t *testing.T) {
	chain := contracttest.NewFakeChain()
	chain.SetUint(tokenAddr, contract.ERC20ABI, "totalSupply", big.NewInt(1000))

	batch := contract.NewBatch(chain)
	batch.Add(contract.Bind(chain, tokenAddr, contract.ERC20ABI), "totalSupply")
	batch.Add(contract.Bind(chain, missingAddr, contract.ERC20ABI), "totalSupply")

	_, err := batch.Execute(context.Background())
	require.ErrorIs(t, err, contract.ErrCallFailed)
}

func TestBatchExecuteEmpty(t *testing.T) {
	outputs, err := contract.NewBatch(contracttest.NewFakeChain()).Execute(context.Background())
	require.NoError(t, err)
	require.Nil(t, outputs)
}
