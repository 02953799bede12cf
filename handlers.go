package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

// Env is the shared, read-only context attached to every request.
type Env struct {
	Market       ProductRegistry
	Coinbase     common.Address
	GasLimit     uint64
	Store        *Store // nil when the submission log is disabled
	StrictStatus bool
	CallTimeout  time.Duration
	Now          func() time.Time
}

type envKey struct{}

// withEnv attaches env to the request context before routing continues.
func withEnv(env *Env) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), envKey{}, env)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func envFrom(r *http.Request) *Env {
	env, _ := r.Context().Value(envKey{}).(*Env)
	return env
}

func productRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", HandleRegisterProduct)
	r.Get("/", HandleListProducts)
	r.Get("/{ref}", HandleGetProduct)
	r.Get("/{ref}/qr", HandleProductQR)
	return r
}

// 1. Register a product on the market contract
func HandleRegisterProduct(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r)

	raw, err := readJSONBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorPayload{Kind: KindMalformedBody, Error: err.Error()})
		return
	}

	var body productBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeJSON(w, env.failureStatus(http.StatusUnprocessableEntity),
			ErrorPayload{Kind: KindInvalidProduct, Error: "request body must be a JSON object"})
		return
	}
	product, err := validateProduct(body)
	if err != nil {
		writeJSON(w, env.failureStatus(http.StatusUnprocessableEntity),
			ErrorPayload{Kind: KindInvalidProduct, Error: err.Error()})
		return
	}

	opts := TxOpts{From: env.Coinbase, Gas: env.GasLimit}

	// The call runs to completion even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	if env.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, env.CallTimeout)
		defer cancel()
	}
	res := env.Market.RegisterProductFrom(ctx, product.Owner, product.Name, product.UnitPrice, opts)

	if id := env.record(ctx, product, res); id != "" {
		w.Header().Set("X-Submission-Id", id)
	}

	if !res.OK() {
		log.Printf("registerProductFrom(%s, %q, %s) failed: %v", product.Owner.Hex(), product.Name, product.UnitPrice, res.Err)
		writeJSON(w, env.failureStatus(http.StatusBadGateway), contractFailure(res.Err))
		return
	}
	if res.Receipt == nil {
		writeJSON(w, http.StatusOK, pendingTx{TransactionHash: res.TxHash})
		return
	}
	writeJSON(w, http.StatusOK, res.Receipt)
}

// readJSONBody returns the request body as JSON. An empty body reads as {};
// only objects and arrays are accepted at the top level.
func readJSONBody(r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("request body is not valid JSON")
	}
	if raw[0] != '{' && raw[0] != '[' {
		return nil, errors.New("request body must be a JSON object or array")
	}
	return raw, nil
}

// 2. Recent submissions
func HandleListProducts(w http.ResponseWriter, r *http.Request) {
	env := envFrom(r)
	if env.Store == nil {
		writeJSON(w, http.StatusNotFound, ErrorPayload{Kind: "NotFound", Error: "submission log disabled"})
		return
	}
	subs, err := env.Store.Recent(r.Context(), 10)
	if err != nil {
		log.Println("DB Error:", err)
		writeJSON(w, http.StatusInternalServerError, ErrorPayload{Kind: "StoreFailure", Error: "database error"})
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// 3. One submission by id or tx hash
func HandleGetProduct(w http.ResponseWriter, r *http.Request) {
	sub, ok := lookupSubmission(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// 4. QR code of the submission's transaction hash
func HandleProductQR(w http.ResponseWriter, r *http.Request) {
	sub, ok := lookupSubmission(w, r)
	if !ok {
		return
	}
	if sub.TxHash == "" {
		writeJSON(w, http.StatusNotFound, ErrorPayload{Kind: "NotFound", Error: "submission has no transaction"})
		return
	}
	png, err := qrcode.Encode(sub.TxHash, qrcode.Medium, 256)
	if err != nil {
		log.Println("QR Error:", err)
		writeJSON(w, http.StatusInternalServerError, ErrorPayload{Kind: "QRFailure", Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func lookupSubmission(w http.ResponseWriter, r *http.Request) (Submission, bool) {
	env := envFrom(r)
	if env.Store == nil {
		writeJSON(w, http.StatusNotFound, ErrorPayload{Kind: "NotFound", Error: "submission log disabled"})
		return Submission{}, false
	}
	sub, err := env.Store.Get(r.Context(), chi.URLParam(r, "ref"))
	if errors.Is(err, ErrSubmissionNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorPayload{Kind: "NotFound", Error: err.Error()})
		return Submission{}, false
	}
	if err != nil {
		log.Println("DB Error:", err)
		writeJSON(w, http.StatusInternalServerError, ErrorPayload{Kind: "StoreFailure", Error: "database error"})
		return Submission{}, false
	}
	return sub, true
}

// failureStatus keeps failed registrations on 200 unless strict statuses
// are enabled.
func (env *Env) failureStatus(strict int) int {
	if env.StrictStatus {
		return strict
	}
	return http.StatusOK
}

// record logs the attempt and returns its id, or "" when nothing was stored.
// A failed write never changes the response.
func (env *Env) record(ctx context.Context, p Product, res Result) string {
	if env.Store == nil {
		return ""
	}
	now := time.Now
	if env.Now != nil {
		now = env.Now
	}
	sub := newSubmission(uuid.NewString(), p, res, now())
	if err := env.Store.Insert(context.WithoutCancel(ctx), sub); err != nil {
		log.Println("DB Insert Error:", err)
		return ""
	}
	return sub.ID
}

func contractFailure(err error) ErrorPayload {
	payload := ErrorPayload{Kind: KindContractCallFailure, Error: err.Error()}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		payload.Code = rpcErr.ErrorCode()
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		payload.Data = dataErr.ErrorData()
	}
	return payload
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Println("Response Encode Error:", err)
	}
}
