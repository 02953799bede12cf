package main

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

//go:embed abi.json
var marketABI []byte

const registerMethod = "registerProductFrom"

// ProductRegistry is the contract surface the handlers depend on.
type ProductRegistry interface {
	RegisterProductFrom(ctx context.Context, owner common.Address, name string, unitPrice *big.Int, opts TxOpts) Result
}

type rpcCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

type receiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Market is a handle on the deployed market contract. Transactions are
// signed by the node, so the sender must be an account the node has
// unlocked.
type Market struct {
	rpc      rpcCaller
	receipts receiptFetcher
	abi      abi.ABI
	address  common.Address
}

// sendTxArgs mirrors the eth_sendTransaction request object.
type sendTxArgs struct {
	From common.Address  `json:"from"`
	To   *common.Address `json:"to"`
	Gas  hexutil.Uint64  `json:"gas"`
	Data hexutil.Bytes   `json:"data"`
}

func NewMarket(caller rpcCaller, receipts receiptFetcher, parsed abi.ABI, address common.Address) (*Market, error) {
	if _, ok := parsed.Methods[registerMethod]; !ok {
		return nil, fmt.Errorf("contract ABI has no %s method", registerMethod)
	}
	return &Market{rpc: caller, receipts: receipts, abi: parsed, address: address}, nil
}

// RegisterProductFrom sends registerProductFrom(owner, name, unitPrice) as a
// transaction and looks the receipt up once. No polling: an unmined
// transaction comes back with only its hash.
func (m *Market) RegisterProductFrom(ctx context.Context, owner common.Address, name string, unitPrice *big.Int, opts TxOpts) Result {
	data, err := m.abi.Pack(registerMethod, owner, name, unitPrice)
	if err != nil {
		return Result{Err: fmt.Errorf("pack %s: %w", registerMethod, err)}
	}

	to := m.address
	var hash common.Hash
	err = m.rpc.CallContext(ctx, &hash, "eth_sendTransaction", sendTxArgs{
		From: opts.From,
		To:   &to,
		Gas:  hexutil.Uint64(opts.Gas),
		Data: data,
	})
	if err != nil {
		return Result{Err: err}
	}

	receipt, err := m.receipts.TransactionReceipt(ctx, hash)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			log.Printf("receipt lookup for %s failed: %v", hash.Hex(), err)
		}
		return Result{TxHash: hash}
	}
	return Result{TxHash: hash, Receipt: receipt}
}

func loadABI(path string) (abi.ABI, error) {
	raw := marketABI
	if path != "" {
		var err error
		if raw, err = os.ReadFile(path); err != nil {
			return abi.ABI{}, fmt.Errorf("read ABI: %w", err)
		}
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse ABI: %w", err)
	}
	return parsed, nil
}

// initBlockchain dials the node and binds the market contract. Dialing an
// HTTP endpoint does not contact the node, so an unreachable node is only
// logged here and surfaces later as a ContractCallFailure.
func initBlockchain(ctx context.Context, cfg Config) (*ethclient.Client, *Market, error) {
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	client := ethclient.NewClient(rpcClient)

	parsed, err := loadABI(cfg.ABIPath)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	market, err := NewMarket(rpcClient, client, parsed, cfg.ContractAddress)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if chainID, err := client.ChainID(pingCtx); err != nil {
		log.Printf("Warning: node at %s not reachable yet: %v", cfg.RPCURL, err)
	} else {
		log.Printf("Blockchain connected. Chain %s, contract %s", chainID, cfg.ContractAddress.Hex())
	}
	return client, market, nil
}
