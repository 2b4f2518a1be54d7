package websocket

import (
	"encoding/json"

	"github.com/juju/errors"

	"github.com/mexcdev/mexc-futures-go/common"
)

const (
	DefaultStreamURL = "wss://contract.mexc.com/edge"
)

// TickerUpdateCB defines a callback function for OnTickerUpdate.
type TickerUpdateCB func(ticker common.Ticker)

// TickersUpdateCB defines a callback function for OnTickersUpdate (the
// all-contracts ticker feed).
type TickersUpdateCB func(tickers []common.Ticker)

// DealUpdateCB defines a callback function for OnDealUpdate. The symbol
// comes from the frame envelope since the deal payload doesn't carry it.
type DealUpdateCB func(symbol string, deal common.Deal)

// DepthUpdateCB defines a callback function for OnDepthUpdate. It receives
// both incremental updates and full books, depending on which channel was
// subscribed.
type DepthUpdateCB func(symbol string, update common.DepthUpdate)

// KlineUpdateCB defines a callback function for OnKlineUpdate.
type KlineUpdateCB func(kline common.Kline)

// FundingRateUpdateCB defines a callback function for OnFundingRateUpdate.
type FundingRateUpdateCB func(rate common.FundingRate)

// IndexPriceUpdateCB defines a callback function for OnIndexPriceUpdate and
// OnFairPriceUpdate.
type IndexPriceUpdateCB func(price common.IndexPrice)

// OrderUpdateCB defines a callback function for OnOrderUpdate.
type OrderUpdateCB func(order common.OrderUpdate)

// OrderDealUpdateCB defines a callback function for OnOrderDealUpdate.
type OrderDealUpdateCB func(deal common.OrderDeal)

// PositionUpdateCB defines a callback function for OnPositionUpdate.
type PositionUpdateCB func(position common.PositionUpdate)

// AssetUpdateCB defines a callback function for OnAssetUpdate.
type AssetUpdateCB func(asset common.AssetUpdate)

// SubscriptionResultCB defines a callback function for OnSubscriptionResult
// and OnUnsubscriptionResult.
type SubscriptionResultCB func(ack SubscriptionAck)

// LoginResultCB defines a callback function for OnLoginResult. err is nil
// when the login handshake succeeded.
type LoginResultCB func(err error)

// StreamClient is used to connect to the MEXC futures streaming endpoint.
// Typically you will get an instance using NewStreamClient(), set any state
// listeners for the connection you might need, then set data listeners for
// whatever subscriptions you have. Finally, you can call Connect() to
// initiate the data stream.
type StreamClient struct {
	// We want to ensure that wsConn's methods aren't available on the
	// StreamClient to avoid confusion, so we give it explicit name.
	wsConn *wsConn
}

type StreamClientParams struct {
	WSParams      *WSParams
	Subscriptions []*StreamSubscription
}

// NewStreamClient creates a new StreamClient instance with the given params.
// Although it starts listening for data immediately, you will still have to
// register listeners to handle that data, and then call Connect() explicitly.
func NewStreamClient(params *StreamClientParams) (*StreamClient, error) {
	// Make a copy of params struct because we might alter it below
	paramsCopy := *params
	params = &paramsCopy

	if params.WSParams == nil {
		params.WSParams = &WSParams{}
	}
	wsParamsCopy := *params.WSParams
	params.WSParams = &wsParamsCopy

	if params.WSParams.URL == "" {
		params.WSParams.URL = DefaultStreamURL
	}

	wsConn, err := newWsConn(params.WSParams, params.Subscriptions)
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &StreamClient{
		wsConn: wsConn,
	}, nil
}

// decodePayload unmarshals a push frame's data into v, and returns the
// frame's envelope symbol. Undecodable payloads are logged and dropped; the
// connection stays up.
func (sc *StreamClient) decodePayload(payload interface{}, v interface{}) (string, bool) {
	msg, ok := payload.(*StreamMessage)
	if !ok {
		return "", false
	}

	if err := json.Unmarshal(msg.Data, v); err != nil {
		sc.wsConn.log.WithFields(map[string]interface{}{
			"channel": msg.Channel,
		}).WithError(err).Warn("dropping undecodable payload")
		return "", false
	}

	return msg.Symbol, true
}

// Market data listeners

// OnTickerUpdate sets a callback for single-contract ticker updates.
func (sc *StreamClient) OnTickerUpdate(cb TickerUpdateCB) {
	sc.wsConn.on("ticker", func(payload interface{}) {
		var ticker common.Ticker
		if _, ok := sc.decodePayload(payload, &ticker); ok {
			cb(ticker)
		}
	})
}

// OnTickersUpdate sets a callback for the all-contracts ticker feed.
func (sc *StreamClient) OnTickersUpdate(cb TickersUpdateCB) {
	sc.wsConn.on("tickers", func(payload interface{}) {
		var tickers []common.Ticker
		if _, ok := sc.decodePayload(payload, &tickers); ok {
			cb(tickers)
		}
	})
}

// OnDealUpdate sets a callback for public trades.
func (sc *StreamClient) OnDealUpdate(cb DealUpdateCB) {
	sc.wsConn.on("deal", func(payload interface{}) {
		var deal common.Deal
		if symbol, ok := sc.decodePayload(payload, &deal); ok {
			cb(symbol, deal)
		}
	})
}

// OnDepthUpdate sets a callback for order book updates, both incremental
// and full, depending on the subscribed channel.
func (sc *StreamClient) OnDepthUpdate(cb DepthUpdateCB) {
	sc.wsConn.on("depth", func(payload interface{}) {
		var update common.DepthUpdate
		if symbol, ok := sc.decodePayload(payload, &update); ok {
			cb(symbol, update)
		}
	})
}

// OnKlineUpdate sets a callback for OHLC candle updates.
func (sc *StreamClient) OnKlineUpdate(cb KlineUpdateCB) {
	sc.wsConn.on("kline", func(payload interface{}) {
		var kline common.Kline
		if _, ok := sc.decodePayload(payload, &kline); ok {
			cb(kline)
		}
	})
}

// OnFundingRateUpdate sets a callback for funding rate updates.
func (sc *StreamClient) OnFundingRateUpdate(cb FundingRateUpdateCB) {
	sc.wsConn.on("funding_rate", func(payload interface{}) {
		var rate common.FundingRate
		if _, ok := sc.decodePayload(payload, &rate); ok {
			cb(rate)
		}
	})
}

// OnIndexPriceUpdate sets a callback for index price updates.
func (sc *StreamClient) OnIndexPriceUpdate(cb IndexPriceUpdateCB) {
	sc.wsConn.on("index_price", func(payload interface{}) {
		var price common.IndexPrice
		if _, ok := sc.decodePayload(payload, &price); ok {
			cb(price)
		}
	})
}

// OnFairPriceUpdate sets a callback for fair price updates.
func (sc *StreamClient) OnFairPriceUpdate(cb IndexPriceUpdateCB) {
	sc.wsConn.on("fair_price", func(payload interface{}) {
		var price common.IndexPrice
		if _, ok := sc.decodePayload(payload, &price); ok {
			cb(price)
		}
	})
}

// Account data listeners. These only ever fire after a successful Login and
// a private subscription.

// OnOrderUpdate sets a callback for private order updates.
func (sc *StreamClient) OnOrderUpdate(cb OrderUpdateCB) {
	sc.wsConn.on("order_update", func(payload interface{}) {
		var order common.OrderUpdate
		if _, ok := sc.decodePayload(payload, &order); ok {
			cb(order)
		}
	})
}

// OnOrderDealUpdate sets a callback for private order executions.
func (sc *StreamClient) OnOrderDealUpdate(cb OrderDealUpdateCB) {
	sc.wsConn.on("order_deal", func(payload interface{}) {
		var deal common.OrderDeal
		if _, ok := sc.decodePayload(payload, &deal); ok {
			cb(deal)
		}
	})
}

// OnPositionUpdate sets a callback for private position updates.
func (sc *StreamClient) OnPositionUpdate(cb PositionUpdateCB) {
	sc.wsConn.on("position_update", func(payload interface{}) {
		var position common.PositionUpdate
		if _, ok := sc.decodePayload(payload, &position); ok {
			cb(position)
		}
	})
}

// OnAssetUpdate sets a callback for private balance updates.
func (sc *StreamClient) OnAssetUpdate(cb AssetUpdateCB) {
	sc.wsConn.on("asset_update", func(payload interface{}) {
		var asset common.AssetUpdate
		if _, ok := sc.decodePayload(payload, &asset); ok {
			cb(asset)
		}
	})
}

// Session listeners

// OnSubscriptionResult is called whenever the server confirms a
// subscription; it happens after the connection is established (for
// replayed entries), as well as after the call to Subscribe().
func (sc *StreamClient) OnSubscriptionResult(cb SubscriptionResultCB) {
	sc.wsConn.on(EventSubscribed, func(payload interface{}) {
		if ack, ok := payload.(*SubscriptionAck); ok {
			cb(*ack)
		}
	})
}

// OnUnsubscriptionResult is called whenever the server confirms an
// unsubscription; it happens after the call to Unsubscribe().
func (sc *StreamClient) OnUnsubscriptionResult(cb SubscriptionResultCB) {
	sc.wsConn.on(EventUnsubscribed, func(payload interface{}) {
		if ack, ok := payload.(*SubscriptionAck); ok {
			cb(*ack)
		}
	})
}

// OnLoginResult is called when the server acknowledges a login handshake,
// with a nil error on success. Note that with reconnection enabled a login
// is re-attempted on every fresh connection, so the callback can fire more
// than once.
func (sc *StreamClient) OnLoginResult(cb LoginResultCB) {
	sc.wsConn.on(EventLogin, func(payload interface{}) {
		cb(nil)
	})
	sc.wsConn.on(EventLoginFailed, func(payload interface{}) {
		data, _ := payload.(json.RawMessage)
		cb(errors.Errorf("login rejected: %s", string(data)))
	})
}

// On registers a handler for a raw event name; see the push channel mapping
// in eventNameForChannel. It's the escape hatch for channels without a
// typed listener (plan orders, risk limits, ADL levels and so on), which
// receive the raw *StreamMessage.
func (sc *StreamClient) On(event string, handler EventHandler) {
	sc.wsConn.on(event, handler)
}

// OnMessage sets a callback for frames on channels the client doesn't know;
// the callback receives the raw *StreamMessage.
func (sc *StreamClient) OnMessage(cb func(msg *StreamMessage)) {
	sc.wsConn.on(EventMessage, func(payload interface{}) {
		if msg, ok := payload.(*StreamMessage); ok {
			cb(msg)
		}
	})
}

// OnError registers a callback which will be called on all errors. When it's
// an error about disconnection, the OnError callbacks are called before the
// state listeners.
func (sc *StreamClient) OnError(cb OnErrorCB) {
	sc.wsConn.onError(cb)
}

// OnStateChange registers a new listener for the given state. The listener
// is registered with the default options (call the listener every time the
// state becomes active, and don't call the listener immediately for the
// current state). All registered state listeners are called by the same
// internal goroutine, i.e. they are never called concurrently with each
// other.
//
// The order of listeners invocation for the same state is unspecified, and
// clients shouldn't rely on it.
//
// The listeners shouldn't block; a blocked listener will also block the
// whole stream connection.
//
// To subscribe to all state changes, use ConnStateAny as a state.
func (sc *StreamClient) OnStateChange(state ConnState, cb StateCallback) {
	sc.wsConn.onStateChange(state, cb)
}

// OnStateChangeOpt is like OnStateChange, but also takes additional
// options; see StateListenerOpt for details.
func (sc *StreamClient) OnStateChangeOpt(state ConnState, cb StateCallback, opt StateListenerOpt) {
	sc.wsConn.onStateChangeOpt(state, cb, opt)
}

// OnConnClosed allows the client to set a callback for when the connection
// is lost. The new state of the client could be ConnStateDisconnected or
// ConnStateWaitBeforeReconnect.
func (sc *StreamClient) OnConnClosed(cb ConnClosedCallback) {
	sc.wsConn.onConnClosed(cb)
}

// GetSubscriptions returns a slice of the current subscriptions, in the
// order they were added.
func (sc *StreamClient) GetSubscriptions() []*StreamSubscription {
	return sc.wsConn.getSubscriptions()
}

// Subscribe makes a request to subscribe to the given channels. Example:
//
//	client.Subscribe([]*StreamSubscription{
//	        TickerSubscription("BTC_USDT"),
//	        DealSubscription("ETH_USDT"),
//	})
//
// Entries are recorded first and sent while the connection is established;
// entries added while disconnected are sent automatically once the
// connection comes up. Private entries (personal.*) additionally require a
// successful Login, and are flushed right after it.
//
// The subscription result will be delivered to the callback registered with
// OnSubscriptionResult.
func (sc *StreamClient) Subscribe(subs []*StreamSubscription) error {
	return sc.wsConn.subscribe(subs)
}

// Unsubscribe unsubscribes from the given set of channels. Unsubscribing
// from a channel that was never subscribed is a no-op.
//
// The unsubscription result will be delivered to the callback registered
// with OnUnsubscriptionResult.
func (sc *StreamClient) Unsubscribe(subs []*StreamSubscription) error {
	return sc.wsConn.unsubscribe(subs)
}

// Login performs the signed login handshake using the APIKey and SecretKey
// from WSParams. The client must be connected; a login on a disconnected
// client returns ErrNotConnected. The handshake result is delivered to the
// callback registered with OnLoginResult.
//
// After a successful Login, the client re-authenticates automatically on
// every reconnection, before replaying private subscriptions.
func (sc *StreamClient) Login() error {
	return sc.wsConn.login()
}

// State returns the current connection state.
func (sc *StreamClient) State() ConnState {
	return sc.wsConn.connState()
}

// AuthState returns the current authentication state. It resets to
// AuthStateUnauthenticated whenever the connection drops.
func (sc *StreamClient) AuthState() AuthState {
	return sc.wsConn.getAuthState()
}

// URL returns the url the client is connected to, e.g.
// wss://contract.mexc.com/edge.
func (sc *StreamClient) URL() string {
	return sc.wsConn.url()
}

// Connect either starts a connection goroutine (if state is
// ConnStateDisconnected), or makes it connect immediately, ignoring timeout
// (if the state is ConnStateWaitBeforeReconnect). For other states, this
// returns an error.
//
// Connect doesn't wait for the connection to establish; it returns
// immediately.
func (sc *StreamClient) Connect() (err error) {
	return sc.wsConn.connect()
}

// Close stops the connection (or reconnection loop, if active), and if
// websocket connection is active at the moment, closes it as well. After
// Close returns, no reconnection attempt is made until the next Connect.
func (sc *StreamClient) Close() (err error) {
	return sc.wsConn.close()
}

// Run connects, invokes fn, and guarantees that the connection is closed
// when fn returns, including when it panics. It's the scoped alternative to
// the explicit Connect/Close pair.
func (sc *StreamClient) Run(fn func(sc *StreamClient) error) error {
	if err := sc.Connect(); err != nil {
		return errors.Trace(err)
	}

	defer func() {
		// Ignore the result: by the time Run exits the connection might
		// already be down on its own.
		_ = sc.Close()
	}()

	if err := fn(sc); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// Subscription constructors for every public channel, and the private
// channels with typed listeners. For anything else, build the
// StreamSubscription by hand.

// TickersSubscription subscribes to the ticker feed for every contract.
func TickersSubscription() *StreamSubscription {
	return &StreamSubscription{Channel: "tickers"}
}

// TickerSubscription subscribes to the ticker for one contract.
func TickerSubscription(symbol string) *StreamSubscription {
	return &StreamSubscription{Channel: "ticker", Symbol: symbol}
}

// DealSubscription subscribes to public trades for one contract.
func DealSubscription(symbol string) *StreamSubscription {
	return &StreamSubscription{Channel: "deal", Symbol: symbol}
}

// DepthSubscription subscribes to incremental order book updates.
func DepthSubscription(symbol string) *StreamSubscription {
	return &StreamSubscription{Channel: "depth", Symbol: symbol}
}

// FullDepthSubscription subscribes to full order book snapshots with the
// given number of levels (5, 10 or 20).
func FullDepthSubscription(symbol string, limit int) *StreamSubscription {
	return &StreamSubscription{
		Channel: "depth.full",
		Symbol:  symbol,
		Params:  map[string]interface{}{"limit": limit},
	}
}

// KlineSubscription subscribes to OHLC candles at the given interval; see
// common.KlineIntervals for the accepted values.
func KlineSubscription(symbol, interval string) *StreamSubscription {
	return &StreamSubscription{
		Channel: "kline",
		Symbol:  symbol,
		Params:  map[string]interface{}{"interval": interval},
	}
}

// FundingRateSubscription subscribes to funding rate updates.
func FundingRateSubscription(symbol string) *StreamSubscription {
	return &StreamSubscription{Channel: "funding.rate", Symbol: symbol}
}

// IndexPriceSubscription subscribes to index price updates.
func IndexPriceSubscription(symbol string) *StreamSubscription {
	return &StreamSubscription{Channel: "index.price", Symbol: symbol}
}

// FairPriceSubscription subscribes to fair price updates.
func FairPriceSubscription(symbol string) *StreamSubscription {
	return &StreamSubscription{Channel: "fair.price", Symbol: symbol}
}

// OrderSubscription subscribes to private order updates; with an empty
// symbol the filter covers every contract. Requires Login.
func OrderSubscription(symbol string) *StreamSubscription {
	return &StreamSubscription{Channel: "personal.order", Symbol: symbol}
}

// OrderDealSubscription subscribes to private order executions. Requires
// Login.
func OrderDealSubscription(symbol string) *StreamSubscription {
	return &StreamSubscription{Channel: "personal.order.deal", Symbol: symbol}
}

// PositionSubscription subscribes to private position updates. Requires
// Login.
func PositionSubscription(symbol string) *StreamSubscription {
	return &StreamSubscription{Channel: "personal.position", Symbol: symbol}
}

// AssetSubscription subscribes to private balance updates. Requires Login.
func AssetSubscription() *StreamSubscription {
	return &StreamSubscription{Channel: "personal.asset"}
}
