package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
)

// productBody is the raw POST /product payload. Fields stay undecoded until
// validateProduct looks at them, so a wrong type is a validation failure and
// not a malformed body.
type productBody struct {
	Owner     json.RawMessage `json:"owner"`
	UnitPrice json.RawMessage `json:"unitPrice"`
	Name      json.RawMessage `json:"name"`
}

// Product is a registration request that passed validation.
type Product struct {
	Owner     common.Address
	Name      string
	UnitPrice *big.Int
}

// ValidationError reports the first field of a registration request that
// cannot be encoded as a registerProductFrom argument.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validateProduct(body productBody) (Product, error) {
	var p Product

	var owner string
	if err := decodeString(body.Owner, &owner); err != nil {
		return p, &ValidationError{Field: "owner", Reason: err.Error()}
	}
	if !common.IsHexAddress(owner) {
		return p, &ValidationError{Field: "owner", Reason: fmt.Sprintf("%q is not a hex address", owner)}
	}
	p.Owner = common.HexToAddress(owner)

	if err := decodeString(body.Name, &p.Name); err != nil {
		return p, &ValidationError{Field: "name", Reason: err.Error()}
	}

	price, err := parseUnitPrice(body.UnitPrice)
	if err != nil {
		return p, &ValidationError{Field: "unitPrice", Reason: err.Error()}
	}
	p.UnitPrice = price
	return p, nil
}

func decodeString(raw json.RawMessage, dst *string) error {
	if isAbsent(raw) {
		return fmt.Errorf("missing")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("must be a string")
	}
	return nil
}

// parseUnitPrice accepts a JSON number or a decimal / 0x-prefixed string and
// returns it as a uint256.
func parseUnitPrice(raw json.RawMessage) (*big.Int, error) {
	if isAbsent(raw) {
		return nil, fmt.Errorf("missing")
	}
	text := string(bytes.TrimSpace(raw))
	if text[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("must be a number or numeric string")
		}
	} else if strings.ContainsAny(text, ".eE") {
		// Numbers like 1e2 or 100.0 are fine as long as they are whole.
		r, ok := new(big.Rat).SetString(text)
		if !ok || !r.IsInt() {
			return nil, fmt.Errorf("%q is not an unsigned 256-bit integer", text)
		}
		text = r.Num().String()
	}
	if text == "" {
		return nil, fmt.Errorf("must not be empty")
	}
	v, ok := math.ParseBig256(text)
	if !ok {
		return nil, fmt.Errorf("%q is not an unsigned 256-bit integer", text)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("must not be negative")
	}
	return v, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// TxOpts are built fresh for every request.
type TxOpts struct {
	From common.Address
	Gas  uint64
}

// Result is the outcome of one registerProductFrom transaction. Exactly one
// of Err or TxHash is meaningful; Receipt is nil while the transaction is
// still pending.
type Result struct {
	TxHash  common.Hash
	Receipt *types.Receipt
	Err     error
}

func (r Result) OK() bool { return r.Err == nil }

// pendingTx is returned in place of a receipt when the node has not mined
// the transaction yet.
type pendingTx struct {
	TransactionHash common.Hash `json:"transactionHash"`
}

// Error kinds reported in ErrorPayload.Kind.
const (
	KindMalformedBody       = "MalformedBody"
	KindInvalidProduct      = "InvalidProduct"
	KindContractCallFailure = "ContractCallFailure"
)

type ErrorPayload struct {
	Kind  string      `json:"kind"`
	Error string      `json:"error"`
	Code  int         `json:"code,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// Submission statuses
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusReverted  = "REVERTED"
	StatusFailed    = "FAILED"
)

// Submission is one logged registration attempt.
type Submission struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	UnitPrice string    `json:"unitPrice"`
	TxHash    string    `json:"txHash,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newSubmission(id string, p Product, res Result, now time.Time) Submission {
	s := Submission{
		ID:        id,
		Owner:     p.Owner.Hex(),
		Name:      p.Name,
		UnitPrice: p.UnitPrice.String(),
		CreatedAt: now.UTC(),
	}
	switch {
	case res.Err != nil:
		s.Status = StatusFailed
		s.Error = res.Err.Error()
	case res.Receipt == nil:
		s.Status = StatusPending
	case res.Receipt.Status == types.ReceiptStatusSuccessful:
		s.Status = StatusConfirmed
	default:
		s.Status = StatusReverted
	}
	if res.Err == nil {
		s.TxHash = res.TxHash.Hex()
	}
	return s
}
