/*
Package websocket provides a client for the MEXC futures websocket API at
wss://contract.mexc.com/edge. The client manages the connection lifecycle,
the signed login handshake for private (account data) channels, and a
registry of subscriptions that is replayed automatically whenever the
connection is re-established.

WSParams

StreamClient uses WSParams to specify connection options.

	type WSParams struct {
		// Needed for private channels only
		APIKey        string
		SecretKey     string

		// Not required
		URL           string
		ReconnectOpts *ReconnectOpts
		PingInterval  time.Duration
	}

Typically you will only need to supply APIKey and SecretKey (and only if you
use private channels), as the other parameters have default values.

URL is the url of the back end to connect to. You will not need to supply it
unless you are testing against a non-production environment.

ReconnectOpts determine how (and if) the client should reconnect. By
default, the client reconnects with a fixed 5-second interval, indefinitely,
until Close is called.

PingInterval is how often the client pings the server; a connection with no
inbound traffic for twice this interval is considered dead and is dropped
(and then reconnected). By default pings are sent every 15 seconds.

Subscriptions

The Subscriptions supplied in StreamClientParams determine what channels
will be streamed; more can be added (and removed) at any time with Subscribe
and Unsubscribe, before or after connecting. Public channels (ticker, deal,
depth, kline and so on) work immediately; private channels (personal.*)
start flowing only after a successful Login.

StreamClient can define OnSubscriptionResult which gives information about
what was successfully subscribed to, and OnError for subscription
rejections.

Basic Usage

The typical workflow is to create an instance of the client, set event
handlers on it, then initiate the connection. As events occur, the
registered callbacks are executed:

	client, err := websocket.NewStreamClient(&websocket.StreamClientParams{
		WSParams: &websocket.WSParams{
			APIKey:    "myapikey",
			SecretKey: "mysecretkey",
		},

		Subscriptions: []*websocket.StreamSubscription{
			websocket.TickerSubscription("BTC_USDT"),
			websocket.DealSubscription("BTC_USDT"),
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	client.OnTickerUpdate(func(ticker common.Ticker) {
		// Handle live ticker data
	})

	client.OnError(func(err error, disconnecting bool) {
		// Handle errors
	})

	client.Connect()

For private data, log in once the connection is up, then subscribe:

	client.OnStateChange(websocket.ConnStateConnected, func(_, _ websocket.ConnState) {
		client.Login()
	})

	client.OnOrderUpdate(func(order common.OrderUpdate) {
		// Handle own-order updates
	})

	client.Subscribe([]*websocket.StreamSubscription{
		websocket.OrderSubscription(""),
	})

After a successful Login the client re-authenticates by itself on every
reconnection, so private subscriptions survive connection drops the same
way public ones do.

Error Handling and Connection States

StreamClient defines an OnError callback which you can use to respond to
any error that may occur. The "disconnecting" argument is set to true if
the error is going to cause the disconnection: in this case, the app could
store the error somewhere and show it later, when the actual disconnection
happens. Error handlers are always called before the state change
listeners.

StreamClient can set listeners for connection state changes such as
ConnStateDisconnected, ConnStateWaitBeforeReconnect, ConnStateConnecting,
ConnStateConnected, and ConnStateAuthenticated. It can also listen for any
state change by using ConnStateAny. The following is an example of how you
would print verbose logs about a client's state transitions:

	var lastError error

	client.OnError(func(err error, disconnecting bool) {
		// If the client is going to disconnect because of that error, just
		// save the error to print later with the disconnection message.
		if disconnecting {
			lastError = err
			return
		}

		// Otherwise, print the error message right away.
		log.Printf("Error: %s", err.Error())
	})

	client.OnStateChange(
		websocket.ConnStateAny,
		func(oldState, state websocket.ConnState) {
			causeStr := ""
			if lastError != nil {
				causeStr = fmt.Sprintf(" (%s)", lastError)
				lastError = nil
			}
			log.Printf(
				"State updated: %s -> %s%s",
				websocket.ConnStateNames[oldState],
				websocket.ConnStateNames[state],
				causeStr,
			)
		},
	)

Decimals Vs Floats

All prices and quantities are decimal values (shopspring/decimal). This is
to prevent loss of significant digits from using floats on financial data.

Concurrency

All methods of the StreamClient can be called concurrently from any number
of goroutines. State listeners and error callbacks are called by the same
internal goroutine, unique to each connection; data callbacks are invoked
on their own goroutines, with delivery order preserved per registered
handler.

Stream Client CLI

Use the command line tool stream-client to subscribe to live data feeds
from the command line. To install the tool, run "make" from the root of the
repo. This will create the executable bin/stream-client, which can be used
as follows:

	./stream-client \
		-symbol=BTC_USDT \
		-channel=ticker \
		-channel=deal
*/
package websocket
