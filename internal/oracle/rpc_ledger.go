package oracle

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/fastjson"
	"golang.org/x/crypto/sha3"
)

var (
	balanceOfSelector    = selector("balanceOf(address)")
	getSellPriceSelector = selector("getSellPrice(uint256)")

	weiPerNative = new(big.Float).SetFloat64(1e18)
)

// selector returns the 4-byte ABI function selector for a signature
func selector(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return hex.EncodeToString(h.Sum(nil)[:4])
}

// RPCLedger derives the qualifying value on-chain: the user's token balance is
// priced with the bonding curve's sell price and converted from the native
// coin to USD with a configured rate.
type RPCLedger struct {
	endpoint       string
	nativeUSDPrice float64
	httpClient     *http.Client
	parsers        fastjson.ParserPool
	nextID         atomic.Uint64
	attempts       int
	backoff        time.Duration
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type callParams struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// NewRPCLedger creates a JSON-RPC ledger client
func NewRPCLedger(endpoint string, nativeUSDPrice float64) *RPCLedger {
	return &RPCLedger{
		endpoint:       endpoint,
		nativeUSDPrice: nativeUSDPrice,
		httpClient:     newHTTPClient(),
		attempts:       2,
		backoff:        200 * time.Millisecond,
	}
}

// Name identifies the backend in metrics
func (l *RPCLedger) Name() string {
	return "rpc"
}

// QualifyingValue returns sellPrice(balanceOf(user)) in USD
func (l *RPCLedger) QualifyingValue(ctx context.Context, tokenID, userID string) (float64, error) {
	if !IsHexAddress(tokenID) {
		return 0, fmt.Errorf("%w: token %q", ErrInvalidAddress, tokenID)
	}
	if !IsHexAddress(userID) {
		return 0, fmt.Errorf("%w: user %q", ErrInvalidAddress, userID)
	}

	balance, err := l.call(ctx, tokenID, balanceOfSelector+padAddress(userID))
	if err != nil {
		return 0, fmt.Errorf("balanceOf: %w", err)
	}
	if balance.Sign() == 0 {
		return 0, nil
	}

	priceWei, err := l.call(ctx, tokenID, getSellPriceSelector+padUint(balance))
	if err != nil {
		return 0, fmt.Errorf("getSellPrice: %w", err)
	}

	native := new(big.Float).Quo(new(big.Float).SetInt(priceWei), weiPerNative)
	usd, _ := native.Mul(native, big.NewFloat(l.nativeUSDPrice)).Float64()

	if err := validValue(usd); err != nil {
		return 0, err
	}
	return usd, nil
}

// call performs eth_call against the latest block and decodes a uint256 result
func (l *RPCLedger) call(ctx context.Context, to, data string) (*big.Int, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      l.nextID.Add(1),
		Method:  "eth_call",
		Params:  []any{callParams{To: to, Data: "0x" + data}, "latest"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var result *big.Int
	err = withRetry(ctx, l.attempts, l.backoff, func() error {
		r, err := l.post(ctx, payload)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func (l *RPCLedger) post(ctx context.Context, payload []byte) (*big.Int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call ledger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLedgerResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return l.parseResult(body)
}

func (l *RPCLedger) parseResult(body []byte) (*big.Int, error) {
	p := l.parsers.Get()
	defer l.parsers.Put(p)

	doc, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if rpcErr := doc.Get("error"); rpcErr != nil && rpcErr.Type() != fastjson.TypeNull {
		return nil, fmt.Errorf("%w: rpc error %d: %s", ErrMalformedResponse,
			rpcErr.GetInt("code"), rpcErr.GetStringBytes("message"))
	}

	raw := strings.TrimPrefix(string(doc.GetStringBytes("result")), "0x")
	if raw == "" {
		return nil, fmt.Errorf("%w: empty result", ErrMalformedResponse)
	}

	n, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, fmt.Errorf("%w: result %q is not hex", ErrMalformedResponse, raw)
	}
	return n, nil
}

// IsHexAddress reports whether s looks like a 20-byte hex account address
func IsHexAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(strings.ToLower(s), "0x") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

func padAddress(addr string) string {
	return strings.Repeat("0", 24) + strings.ToLower(addr[2:])
}

func padUint(n *big.Int) string {
	return fmt.Sprintf("%064x", n)
}
