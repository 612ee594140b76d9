package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken = "0x00000000000000000000000000000000000000aa"
	testUser  = "0x00000000000000000000000000000000000000BB"
)

type rpcCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newRPCServer answers balanceOf and getSellPrice with the given hex results
func newRPCServer(t *testing.T, balance, sellPrice string) (*httptest.Server, *[]string) {
	t.Helper()
	var seen []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&call))
		assert.Equal(t, "eth_call", call.Method)

		var params callParams
		if !assert.NotEmpty(t, call.Params) || !assert.NoError(t, json.Unmarshal(call.Params[0], &params)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(t, testToken, params.To)
		seen = append(seen, params.Data)

		result := sellPrice
		if strings.HasPrefix(params.Data, "0x"+balanceOfSelector) {
			result = balance
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"` + result + `"}`))
	}))
	return server, &seen
}

func TestSelector(t *testing.T) {
	assert.Equal(t, "70a08231", selector("balanceOf(address)"))
	assert.Equal(t, "a9059cbb", selector("transfer(address,uint256)"))
}

func TestIsHexAddress(t *testing.T) {
	assert.True(t, IsHexAddress(testToken))
	assert.True(t, IsHexAddress(testUser))
	assert.False(t, IsHexAddress("0xAAA"))
	assert.False(t, IsHexAddress("00000000000000000000000000000000000000aaaa"))
	assert.False(t, IsHexAddress("0x00000000000000000000000000000000000000zz"))
}

func TestRPCLedger_QualifyingValue(t *testing.T) {
	// 2 tokens sell for 30 native coins at 0.5 USD each
	server, seen := newRPCServer(t, "0x1bc16d674ec80000", "0x1a055690d9db80000")
	defer server.Close()

	ledger := NewRPCLedger(server.URL, 0.5)

	value, err := ledger.QualifyingValue(context.Background(), testToken, testUser)
	require.NoError(t, err)
	assert.InDelta(t, 15.0, value, 1e-9)

	require.Len(t, *seen, 2)
	assert.Equal(t, "0x70a08231"+strings.Repeat("0", 24)+strings.ToLower(testUser[2:]), (*seen)[0])
	assert.Equal(t, "0x"+getSellPriceSelector+"0000000000000000000000000000000000000000000000001bc16d674ec80000", (*seen)[1])
}

func TestRPCLedger_ZeroBalanceSkipsPriceCall(t *testing.T) {
	server, seen := newRPCServer(t, "0x0", "0xffff")
	defer server.Close()

	value, err := NewRPCLedger(server.URL, 0.5).QualifyingValue(context.Background(), testToken, testUser)
	require.NoError(t, err)
	assert.Zero(t, value)
	assert.Len(t, *seen, 1)
}

func TestRPCLedger_InvalidAddress(t *testing.T) {
	ledger := NewRPCLedger("http://unused.invalid", 0.5)

	_, err := ledger.QualifyingValue(context.Background(), "0xAAA", testUser)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ledger.QualifyingValue(context.Background(), testToken, "alice")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestRPCLedger_RPCError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"execution reverted"}}`))
	}))
	defer server.Close()

	_, err := NewRPCLedger(server.URL, 0.5).QualifyingValue(context.Background(), testToken, testUser)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
	assert.Contains(t, err.Error(), "execution reverted")
}

func TestRPCLedger_EmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x"}`))
	}))
	defer server.Close()

	_, err := NewRPCLedger(server.URL, 0.5).QualifyingValue(context.Background(), testToken, testUser)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}
