package main

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMarketAddr = common.HexToAddress("0x345ca3e014aaf5dca488057592ee47305d9b3e10")
	testCoinbase   = common.HexToAddress("0x627306090abab3a6e1400e9345bc60c78a8bef57")
	testOwner      = common.HexToAddress("0x00000000000000000000000000000000000000ab")
)

type fakeRPC struct {
	method string
	args   []interface{}
	hash   common.Hash
	err    error
}

func (f *fakeRPC) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	f.method = method
	f.args = args
	if f.err != nil {
		return f.err
	}
	*result.(*common.Hash) = f.hash
	return nil
}

type fakeReceipts struct {
	receipt *types.Receipt
	err     error
	calls   int
}

func (f *fakeReceipts) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.calls++
	return f.receipt, f.err
}

func newTestMarket(t *testing.T, rpc *fakeRPC, receipts *fakeReceipts) *Market {
	t.Helper()
	parsed, err := loadABI("")
	require.NoError(t, err)
	m, err := NewMarket(rpc, receipts, parsed, testMarketAddr)
	require.NoError(t, err)
	return m
}

func TestRegisterProductFromSendsTransaction(t *testing.T) {
	hash := common.HexToHash("0x01")
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: hash}
	rpc := &fakeRPC{hash: hash}
	receipts := &fakeReceipts{receipt: receipt}
	m := newTestMarket(t, rpc, receipts)

	res := m.RegisterProductFrom(context.Background(), testOwner, "Widget", big.NewInt(100), TxOpts{From: testCoinbase, Gas: 1_000_000})

	require.True(t, res.OK())
	assert.Equal(t, hash, res.TxHash)
	assert.Same(t, receipt, res.Receipt)
	assert.Equal(t, 1, receipts.calls)

	assert.Equal(t, "eth_sendTransaction", rpc.method)
	require.Len(t, rpc.args, 1)
	args := rpc.args[0].(sendTxArgs)
	assert.Equal(t, testCoinbase, args.From)
	assert.Equal(t, testMarketAddr, *args.To)
	assert.EqualValues(t, 1_000_000, args.Gas)

	method := m.abi.Methods[registerMethod]
	assert.Equal(t, method.ID, []byte(args.Data[:4]))
	values, err := method.Inputs.Unpack(args.Data[4:])
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, testOwner, values[0])
	assert.Equal(t, "Widget", values[1])
	assert.Equal(t, 0, big.NewInt(100).Cmp(values[2].(*big.Int)))
}

func TestRegisterProductFromPending(t *testing.T) {
	hash := common.HexToHash("0x02")
	m := newTestMarket(t, &fakeRPC{hash: hash}, &fakeReceipts{err: ethereum.NotFound})

	res := m.RegisterProductFrom(context.Background(), testOwner, "Widget", big.NewInt(1), TxOpts{From: testCoinbase, Gas: 1})

	require.True(t, res.OK())
	assert.Equal(t, hash, res.TxHash)
	assert.Nil(t, res.Receipt)
}

func TestRegisterProductFromReceiptLookupErrorKeepsHash(t *testing.T) {
	hash := common.HexToHash("0x03")
	m := newTestMarket(t, &fakeRPC{hash: hash}, &fakeReceipts{err: errors.New("connection reset")})

	res := m.RegisterProductFrom(context.Background(), testOwner, "Widget", big.NewInt(1), TxOpts{From: testCoinbase, Gas: 1})

	require.True(t, res.OK())
	assert.Equal(t, hash, res.TxHash)
	assert.Nil(t, res.Receipt)
}

func TestRegisterProductFromSendFailure(t *testing.T) {
	sendErr := errors.New("sender account not recognized")
	receipts := &fakeReceipts{}
	m := newTestMarket(t, &fakeRPC{err: sendErr}, receipts)

	res := m.RegisterProductFrom(context.Background(), testOwner, "Widget", big.NewInt(1), TxOpts{From: testCoinbase, Gas: 1})

	require.False(t, res.OK())
	assert.ErrorIs(t, res.Err, sendErr)
	assert.Zero(t, receipts.calls)
}

func TestNewMarketRequiresRegisterMethod(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(`[{"type":"function","name":"other","inputs":[],"outputs":[]}]`))
	require.NoError(t, err)

	_, err = NewMarket(&fakeRPC{}, &fakeReceipts{}, parsed, testMarketAddr)
	assert.ErrorContains(t, err, registerMethod)
}

func TestLoadABIFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abi.json")
	require.NoError(t, os.WriteFile(path, marketABI, 0o600))

	parsed, err := loadABI(path)
	require.NoError(t, err)
	assert.Contains(t, parsed.Methods, registerMethod)

	_, err = loadABI(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	_, err = loadABI(bad)
	assert.ErrorContains(t, err, "parse ABI")
}
