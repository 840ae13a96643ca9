package evm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestEncodeAggregate3(t *testing.T) {
	calls := []ContractCall{
		{Target: common.HexToAddress("0x01"), CallData: []byte{0xaa}},
		{Target: common.HexToAddress("0x02"), CallData: []byte{0xbb, 0xcc}},
	}

	data, err := EncodeAggregate3(calls)
	require.NoError(t, err)
	require.Equal(t, Multicall3ABI.Methods["aggregate3"].ID, data[:4])

	args, err := Multicall3ABI.Methods["aggregate3"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 1)
}

func TestDecodeAggregate3(t *testing.T) {
	packed, err := Multicall3ABI.Methods["aggregate3"].Outputs.Pack([]call3Result{
		{Success: true, ReturnData: []byte{0x01, 0x02}},
		{Success: false, ReturnData: []byte{}},
	})
	require.NoError(t, err)

	results, err := DecodeAggregate3(packed)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Success)
	require.Equal(t, []byte{0x01, 0x02}, results[0].Data)
	require.False(t, results[1].Success)
}

func TestDecodeAggregate3Malformed(t *testing.T) {
	_, err := DecodeAggregate3([]byte{0xde, 0xad})
	require.Error(t, err)
}
