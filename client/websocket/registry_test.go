package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionKey(t *testing.T) {
	assert := assert.New(t)

	a := &StreamSubscription{Channel: "depth", Symbol: "BTC_USDT"}
	b := &StreamSubscription{Channel: "depth", Symbol: "BTC_USDT"}
	c := &StreamSubscription{Channel: "depth", Symbol: "ETH_USDT"}

	assert.Equal(a.Key(), b.Key())
	assert.NotEqual(a.Key(), c.Key())

	// Params participate in the identity, in a stable order
	d := &StreamSubscription{
		Channel: "kline",
		Symbol:  "BTC_USDT",
		Params:  map[string]interface{}{"interval": "Min1", "limit": 20},
	}
	e := &StreamSubscription{
		Channel: "kline",
		Symbol:  "BTC_USDT",
		Params:  map[string]interface{}{"limit": 20, "interval": "Min1"},
	}
	f := &StreamSubscription{
		Channel: "kline",
		Symbol:  "BTC_USDT",
		Params:  map[string]interface{}{"interval": "Min5", "limit": 20},
	}

	assert.Equal(d.Key(), e.Key())
	assert.NotEqual(d.Key(), f.Key())
}

func TestSubscriptionPrivate(t *testing.T) {
	assert := assert.New(t)

	pub := &StreamSubscription{Channel: "ticker", Symbol: "BTC_USDT"}
	assert.False(pub.Private())
	assert.Equal("", pub.FilterName())

	priv := &StreamSubscription{Channel: "personal.order", Symbol: "BTC_USDT"}
	assert.True(priv.Private())
	assert.Equal("order", priv.FilterName())
}

func TestRegistryOrderAndIdempotence(t *testing.T) {
	assert := assert.New(t)

	r := newSubRegistry(nil)

	assert.True(r.add(&StreamSubscription{Channel: "ticker", Symbol: "BTC_USDT"}))
	assert.True(r.add(&StreamSubscription{Channel: "deal", Symbol: "ETH_USDT"}))
	assert.True(r.add(&StreamSubscription{Channel: "depth", Symbol: "BTC_USDT"}))

	// A duplicate doesn't create a second entry and doesn't change the order
	assert.False(r.add(&StreamSubscription{Channel: "deal", Symbol: "ETH_USDT"}))

	var channels []string
	for _, sub := range r.all() {
		channels = append(channels, sub.Channel)
	}
	assert.Equal([]string{"ticker", "deal", "depth"}, channels)

	// Removal of an absent entry is a no-op
	assert.False(r.remove(&StreamSubscription{Channel: "kline", Symbol: "BTC_USDT"}))
	assert.Equal(3, len(r.all()))

	assert.True(r.remove(&StreamSubscription{Channel: "deal", Symbol: "ETH_USDT"}))

	channels = nil
	for _, sub := range r.all() {
		channels = append(channels, sub.Channel)
	}
	assert.Equal([]string{"ticker", "depth"}, channels)
}

func TestRegistryPrivate(t *testing.T) {
	assert := assert.New(t)

	r := newSubRegistry([]*StreamSubscription{
		{Channel: "ticker", Symbol: "BTC_USDT"},
		{Channel: "personal.order", Symbol: "BTC_USDT"},
		{Channel: "personal.asset"},
	})

	var filters []string
	for _, sub := range r.private() {
		filters = append(filters, sub.FilterName())
	}
	assert.Equal([]string{"order", "asset"}, filters)

	r.clear()
	assert.Equal(0, len(r.all()))
	assert.Equal(0, len(r.private()))
}
