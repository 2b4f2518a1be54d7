package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/mexcdev/mexc-futures-go/client/websocket"
	"github.com/mexcdev/mexc-futures-go/common"
)

var (
	url     = flag.String("url", "", "Websocket URL to connect to; production is used when empty.")
	verbose = flag.Bool("verbose", false, "Prints all state transitions and errors to stdout.")

	credsFilename = flag.String("creds", "", "YAML file with credentials: the file must contain two properties: \"api_key\" and \"secret_key\".")

	apiKey    = flag.String("apikey", "", "API key to use. Consider using --creds instead.")
	secretKey = flag.String("secretkey", "", "Secret key to use. Consider using --creds instead.")

	symbols  = flag.StringArray("symbol", nil, "Contract symbol, e.g. BTC_USDT. Can be given multiple times.")
	channels = flag.StringArray("channel", []string{"ticker"}, "Channel to subscribe to on each symbol: ticker, deal, depth, kline, funding.rate, or a private personal.* channel. Can be given multiple times.")

	interval = flag.String("interval", "Min1", "Kline interval, for --channel=kline.")
)

func main() {
	flag.Parse()

	// Setup OS signal handler
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// If --creds was given, use it; otherwise use --apikey and --secretkey.
	var cr *creds
	if *credsFilename != "" {
		var err error
		cr, err = parseCreds(*credsFilename)
		if err != nil {
			log.Fatalf("%s", err)
		}
	} else {
		cr = &creds{
			APIKey:    *apiKey,
			SecretKey: *secretKey,
		}
	}

	subs, needLogin := buildSubscriptions(*channels, *symbols, *interval)

	if needLogin && (cr.APIKey == "" || cr.SecretKey == "") {
		log.Fatalf("private channels require credentials; use --creds or --apikey/--secretkey")
	}

	// Setup the connection (but don't connect just yet)
	c, err := websocket.NewStreamClient(&websocket.StreamClientParams{
		WSParams: &websocket.WSParams{
			URL:       *url,
			APIKey:    cr.APIKey,
			SecretKey: cr.SecretKey,
		},

		Subscriptions: subs,
	})
	if err != nil {
		log.Fatalf("%s", err)
	}

	// Will print state changes to the user
	if *verbose {
		var lastError error

		c.OnError(func(err error, disconnecting bool) {
			// If the client is going to disconnect because of that error, just
			// save the error to show later on the disconnection message.
			if disconnecting {
				lastError = err
				return
			}

			// Otherwise, print the error message right away.
			log.Printf("Error: %s", err.Error())
		})

		c.OnStateChange(
			websocket.ConnStateAny,
			func(oldState, state websocket.ConnState) {
				name := websocket.ConnStateNames[state]
				switch state {
				case websocket.ConnStateConnected, websocket.ConnStateAuthenticated:
					name = color.GreenString("%s", name)
				case websocket.ConnStateDisconnected:
					name = color.RedString("%s", name)
				default:
					name = color.YellowString("%s", name)
				}

				fmt.Printf("State updated: %s -> %s", websocket.ConnStateNames[oldState], name)
				if lastError != nil {
					fmt.Printf(" (%s)", lastError)
					lastError = nil
				}
				fmt.Printf("\n")
			},
		)
	}

	// Log in on every (re)connection when private channels were requested.
	if needLogin {
		c.OnStateChange(
			websocket.ConnStateConnected,
			func(oldState, state websocket.ConnState) {
				if err := c.Login(); err != nil {
					log.Printf("Login failed: %s", err)
				}
			},
		)

		c.OnLoginResult(func(err error) {
			if err != nil {
				log.Printf("%s", err)
				return
			}
			if *verbose {
				fmt.Printf("Logged in\n")
			}
		})
	}

	// Will print received data
	c.OnTickerUpdate(func(ticker common.Ticker) {
		fmt.Printf("Ticker %s: last %s bid %s ask %s\n",
			ticker.Symbol, ticker.LastPrice, ticker.Bid1, ticker.Ask1)
	})

	c.OnDealUpdate(func(symbol string, deal common.Deal) {
		side := "buy"
		if deal.Side == common.DealSideSell {
			side = "sell"
		}
		fmt.Printf("Deal %s: %s %s @ %s\n", symbol, side, deal.Volume, deal.Price)
	})

	c.OnDepthUpdate(func(symbol string, update common.DepthUpdate) {
		fmt.Printf("Depth %s: v%d %d bids %d asks\n",
			symbol, update.Version, len(update.Bids), len(update.Asks))
	})

	c.OnKlineUpdate(func(kline common.Kline) {
		fmt.Printf("Kline %s %s: o %s h %s l %s c %s\n",
			kline.Symbol, kline.Interval, kline.Open, kline.High, kline.Low, kline.Close)
	})

	c.OnFundingRateUpdate(func(rate common.FundingRate) {
		fmt.Printf("Funding rate %s: %s\n", rate.Symbol, rate.Rate)
	})

	c.OnOrderUpdate(func(order common.OrderUpdate) {
		fmt.Printf("Order update: %s\n", order)
	})

	c.OnPositionUpdate(func(position common.PositionUpdate) {
		fmt.Printf("Position update: %s\n", position)
	})

	c.OnAssetUpdate(func(asset common.AssetUpdate) {
		fmt.Printf("Asset update: %s\n", asset)
	})

	c.OnMessage(func(msg *websocket.StreamMessage) {
		fmt.Printf("Message: %s\n", msg)
	})

	c.OnSubscriptionResult(func(ack websocket.SubscriptionAck) {
		fmt.Printf("Subscribed: %s\n", ack.Channel)
	})

	c.OnUnsubscriptionResult(func(ack websocket.SubscriptionAck) {
		fmt.Printf("Unsubscribed: %s\n", ack.Channel)
	})

	// Start connection loop
	if *verbose {
		fmt.Printf("Connecting to %s ...\n", c.URL())
	}
	if err := c.Connect(); err != nil {
		log.Fatalf("%s", err)
	}

	// Wait until the OS signal is received, at which point we'll close the
	// connection and quit
	<-interrupt
	fmt.Printf("Closing connection...\n")

	if err := c.Close(); err != nil {
		fmt.Printf("Failed to close connection: %s\n", err)
	}
}

// buildSubscriptions expands channels x symbols into subscription entries.
// Channels which don't take a symbol (tickers, personal.asset) produce one
// entry regardless of the symbol list.
func buildSubscriptions(channels, symbols []string, interval string) ([]*websocket.StreamSubscription, bool) {
	needLogin := false

	subs := make([]*websocket.StreamSubscription, 0, len(channels)*len(symbols))
	for _, channel := range channels {
		if strings.HasPrefix(channel, "personal.") {
			needLogin = true
		}

		switch channel {
		case "tickers", "personal.asset":
			subs = append(subs, &websocket.StreamSubscription{Channel: channel})
			continue
		}

		for _, symbol := range symbols {
			sub := &websocket.StreamSubscription{Channel: channel, Symbol: symbol}
			if channel == "kline" {
				sub.Params = map[string]interface{}{"interval": interval}
			}
			subs = append(subs, sub)
		}
	}

	return subs, needLogin
}
