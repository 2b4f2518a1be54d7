package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/juju/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mexcdev/mexc-futures-go/auth"
	"github.com/mexcdev/mexc-futures-go/common"
)

const (
	testAPIKey    = "apikey1"
	testSecretKey = "topsecret"
)

func envelope(data string) string {
	return `{"success":true,"code":0,"data":` + data + `}`
}

func TestGetTicker(t *testing.T) {
	assert := assert.New(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/contract/ticker", r.URL.Path)
		assert.Equal("BTC_USDT", r.URL.Query().Get("symbol"))

		// Public endpoint: no signature headers
		assert.Empty(r.Header.Get("ApiKey"))
		assert.Empty(r.Header.Get("Signature"))

		io.WriteString(w, envelope(`{"symbol":"BTC_USDT","lastPrice":"42000.5","bid1":"42000","ask1":"42001","timestamp":1700000000000}`))
	}))
	defer ts.Close()

	c := NewRESTClient(&RESTClientParams{APIURL: ts.URL})

	ticker, err := c.GetTicker("BTC_USDT")
	require.NoError(t, err)

	assert.Equal("BTC_USDT", ticker.Symbol)
	assert.Equal("42000.5", ticker.LastPrice.String())
	assert.Equal(int64(1700000000000), ticker.Timestamp)
}

func TestGetDepth(t *testing.T) {
	assert := assert.New(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/contract/depth/BTC_USDT", r.URL.Path)
		assert.Equal("5", r.URL.Query().Get("limit"))

		io.WriteString(w, envelope(`{"asks":[[42001.5,20,1],[42002,7,2]],"bids":[[42000,3,1]],"version":100}`))
	}))
	defer ts.Close()

	c := NewRESTClient(&RESTClientParams{APIURL: ts.URL})

	depth, err := c.GetDepth("BTC_USDT", 5)
	require.NoError(t, err)

	assert.Equal(int64(100), depth.Version)
	require.Equal(t, 2, len(depth.Asks))
	assert.Equal("42001.5", depth.Asks[0].Price.String())
	assert.Equal("20", depth.Asks[0].Volume.String())
	require.Equal(t, 1, len(depth.Bids))
	assert.Equal("42000", depth.Bids[0].Price.String())
}

func TestSignedGet(t *testing.T) {
	assert := assert.New(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/private/account/assets", r.URL.Path)

		apiKey := r.Header.Get("ApiKey")
		reqTime := r.Header.Get("Request-Time")
		signature := r.Header.Get("Signature")

		assert.Equal(testAPIKey, apiKey)
		assert.NotEmpty(reqTime)

		// GET requests are signed over the encoded query string (empty here)
		wantSig, err := auth.SignRequest(testSecretKey, apiKey, reqTime, r.URL.RawQuery)
		require.NoError(t, err)
		assert.Equal(wantSig, signature)

		io.WriteString(w, envelope(`[{"currency":"USDT","availableBalance":"1000.5","equity":"1200"}]`))
	}))
	defer ts.Close()

	c := NewRESTClient(&RESTClientParams{
		APIURL:    ts.URL,
		APIKey:    testAPIKey,
		SecretKey: testSecretKey,
	})

	assets, err := c.GetAccountAssets()
	require.NoError(t, err)

	require.Equal(t, 1, len(assets))
	assert.Equal("USDT", assets[0].Currency)
	assert.Equal("1000.5", assets[0].AvailableBalance.String())
}

func TestSubmitOrder(t *testing.T) {
	assert := assert.New(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(http.MethodPost, r.Method)
		assert.Equal("/private/order/submit", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		// POST requests are signed over the JSON body
		wantSig, err := auth.SignRequest(testSecretKey, r.Header.Get("ApiKey"), r.Header.Get("Request-Time"), string(body))
		require.NoError(t, err)
		assert.Equal(wantSig, r.Header.Get("Signature"))

		var req common.SubmitOrderRequest
		require.NoError(t, json.Unmarshal(body, &req))

		assert.Equal("BTC_USDT", req.Symbol)
		assert.Equal("42000", req.Price.String())
		assert.Equal(common.OrderSideOpenLong, req.Side)
		assert.NotEmpty(req.ExternalOid, "an external oid should be filled in when missing")

		io.WriteString(w, envelope(`123456`))
	}))
	defer ts.Close()

	c := NewRESTClient(&RESTClientParams{
		APIURL:    ts.URL,
		APIKey:    testAPIKey,
		SecretKey: testSecretKey,
	})

	orderID, externalOid, err := c.SubmitOrder(&common.SubmitOrderRequest{
		Symbol:   "BTC_USDT",
		Price:    decimal.RequireFromString("42000"),
		Vol:      decimal.RequireFromString("1"),
		Side:     common.OrderSideOpenLong,
		Type:     common.OrderTypeLimit,
		OpenType: common.OpenTypeIsolated,
		Leverage: 10,
	})
	require.NoError(t, err)

	assert.Equal(int64(123456), orderID)
	assert.NotEmpty(externalOid)
}

func TestAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":false,"code":1002,"message":"contract not exists"}`)
	}))
	defer ts.Close()

	c := NewRESTClient(&RESTClientParams{APIURL: ts.URL})

	_, err := c.GetTicker("NOPE_USDT")
	require.Error(t, err)

	apiErr, ok := errors.Cause(err).(*APIError)
	require.True(t, ok, "want *APIError, got %T", errors.Cause(err))
	assert.Equal(t, 1002, apiErr.Code)
	assert.Equal(t, "contract not exists", apiErr.Message)
}

func TestMissingCredentials(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("the request should never reach the server")
	}))
	defer ts.Close()

	c := NewRESTClient(&RESTClientParams{APIURL: ts.URL})

	_, err := c.GetAccountAssets()
	assert.Equal(t, ErrMissingCredentials, errors.Cause(err))
}
