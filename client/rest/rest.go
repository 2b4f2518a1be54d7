/*
Package rest provides a client for the MEXC futures REST API. Public market
data endpoints work without credentials; the private (account and order)
endpoints require an API key pair and are signed per request.
*/
package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/mexcdev/mexc-futures-go/auth"
	"github.com/mexcdev/mexc-futures-go/common"
)

const (
	DefaultRESTURL = "https://futures.mexc.com/api/v1"

	defaultTimeout = 30 * time.Second
)

// ErrMissingCredentials is returned by private endpoints when the client
// was created without an API key pair.
var ErrMissingCredentials = errors.New("api key and secret key are required")

// APIError is a rejection from the server: success=false in the response
// envelope.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

type RESTClient struct {
	params RESTClientParams

	httpClient *http.Client
}

type RESTClientParams struct {
	// APIURL is the API URL to use. If empty, production will be used
	// (DefaultRESTURL).
	APIURL string

	// APIKey and SecretKey are only needed for the private endpoints.
	APIKey    string
	SecretKey string

	// Timeout for each request; default is 30 seconds.
	Timeout time.Duration
}

func NewRESTClient(params *RESTClientParams) *RESTClient {
	if params == nil {
		params = &RESTClientParams{}
	}

	c := &RESTClient{
		params: *params,
	}

	if c.params.APIURL == "" {
		c.params.APIURL = DefaultRESTURL
	}

	if c.params.Timeout <= 0 {
		c.params.Timeout = defaultTimeout
	}

	c.httpClient = &http.Client{Timeout: c.params.Timeout}

	return c
}

// serverEnvelope is the common response wrapper; Data is decoded by each
// endpoint into its own shape.
type serverEnvelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do performs the request and decodes the response envelope into out. For
// signed requests, the signature target is apiKey+reqTime+params where
// params is the sorted query string for GET and the JSON body for POST.
func (c *RESTClient) do(method, path string, query url.Values, body []byte, signed bool, out interface{}) error {
	reqURL := c.params.APIURL + path
	encodedQuery := query.Encode()
	if encodedQuery != "" {
		reqURL += "?" + encodedQuery
	}

	var bodyReader *bytes.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, reqURL, bodyReader)
	if err != nil {
		return errors.Trace(err)
	}

	req.Header.Set("Content-Type", "application/json")

	if signed {
		if c.params.APIKey == "" || c.params.SecretKey == "" {
			return errors.Trace(ErrMissingCredentials)
		}

		signTarget := encodedQuery
		if method != http.MethodGet {
			signTarget = string(body)
		}

		reqTime := auth.ReqTime(time.Now())
		signature, err := auth.SignRequest(c.params.SecretKey, c.params.APIKey, reqTime, signTarget)
		if err != nil {
			return errors.Trace(err)
		}

		req.Header.Set("ApiKey", c.params.APIKey)
		req.Header.Set("Request-Time", reqTime)
		req.Header.Set("Signature", signature)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Trace(err)
	}

	defer resp.Body.Close()

	envelope := serverEnvelope{}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&envelope); err != nil {
		return errors.Annotatef(err, "decoding %s response", path)
	}

	if !envelope.Success {
		return errors.Trace(&APIError{Code: envelope.Code, Message: envelope.Message})
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Annotatef(err, "decoding %s data", path)
		}
	}

	return nil
}

// Public endpoints

// GetTicker returns the market summary for one contract.
func (c *RESTClient) GetTicker(symbol string) (*common.Ticker, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	ticker := common.Ticker{}
	if err := c.do(http.MethodGet, "/contract/ticker", query, nil, false, &ticker); err != nil {
		return nil, errors.Trace(err)
	}

	return &ticker, nil
}

// GetContractDetail returns the contract specification for one symbol.
func (c *RESTClient) GetContractDetail(symbol string) (*common.ContractDetail, error) {
	query := url.Values{}
	query.Set("symbol", symbol)

	detail := common.ContractDetail{}
	if err := c.do(http.MethodGet, "/contract/detail", query, nil, false, &detail); err != nil {
		return nil, errors.Trace(err)
	}

	return &detail, nil
}

// GetContractDetails returns the specifications of every listed contract.
func (c *RESTClient) GetContractDetails() ([]common.ContractDetail, error) {
	var details []common.ContractDetail
	if err := c.do(http.MethodGet, "/contract/detail", url.Values{}, nil, false, &details); err != nil {
		return nil, errors.Trace(err)
	}

	return details, nil
}

// GetDepth returns an order book snapshot with up to limit levels per side
// (0 for the server default).
func (c *RESTClient) GetDepth(symbol string, limit int) (*common.DepthUpdate, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	depth := common.DepthUpdate{}
	if err := c.do(http.MethodGet, "/contract/depth/"+symbol, query, nil, false, &depth); err != nil {
		return nil, errors.Trace(err)
	}

	return &depth, nil
}

// Private endpoints

// SubmitOrder places an order and returns the server-assigned order ID.
// When req.ExternalOid is empty, a fresh uuid is filled in so the caller
// can always correlate the order later.
func (c *RESTClient) SubmitOrder(req *common.SubmitOrderRequest) (orderID int64, externalOid string, err error) {
	reqCopy := *req
	if reqCopy.ExternalOid == "" {
		reqCopy.ExternalOid = uuid.New().String()
	}

	body, err := json.Marshal(&reqCopy)
	if err != nil {
		return 0, "", errors.Trace(err)
	}

	if err := c.do(http.MethodPost, "/private/order/submit", url.Values{}, body, true, &orderID); err != nil {
		return 0, "", errors.Trace(err)
	}

	return orderID, reqCopy.ExternalOid, nil
}

// CancelOrders cancels the given orders by ID. The server reports a result
// for every order; ErrorCode 0 means that order was cancelled.
func (c *RESTClient) CancelOrders(orderIDs []int64) ([]common.CancelOrderResult, error) {
	body, err := json.Marshal(orderIDs)
	if err != nil {
		return nil, errors.Trace(err)
	}

	var results []common.CancelOrderResult
	if err := c.do(http.MethodPost, "/private/order/cancel", url.Values{}, body, true, &results); err != nil {
		return nil, errors.Trace(err)
	}

	return results, nil
}

// CancelAllOrders cancels every open order, or every open order on one
// contract if symbol is non-empty.
func (c *RESTClient) CancelAllOrders(symbol string) error {
	param := map[string]string{}
	if symbol != "" {
		param["symbol"] = symbol
	}

	body, err := json.Marshal(param)
	if err != nil {
		return errors.Trace(err)
	}

	if err := c.do(http.MethodPost, "/private/order/cancel_all", url.Values{}, body, true, nil); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// GetAccountAssets returns the balances of every currency in the futures
// account.
func (c *RESTClient) GetAccountAssets() ([]common.AssetUpdate, error) {
	var assets []common.AssetUpdate
	if err := c.do(http.MethodGet, "/private/account/assets", url.Values{}, nil, true, &assets); err != nil {
		return nil, errors.Trace(err)
	}

	return assets, nil
}

// GetOpenPositions returns the currently held positions, optionally
// restricted to one contract.
func (c *RESTClient) GetOpenPositions(symbol string) ([]common.PositionUpdate, error) {
	query := url.Values{}
	if symbol != "" {
		query.Set("symbol", symbol)
	}

	var positions []common.PositionUpdate
	if err := c.do(http.MethodGet, "/private/position/open_positions", query, nil, true, &positions); err != nil {
		return nil, errors.Trace(err)
	}

	return positions, nil
}
