package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStreamMessage(t *testing.T) {
	assert := assert.New(t)

	msg, err := parseStreamMessage([]byte(`{"channel":"push.ticker","symbol":"BTC_USDT","data":{"lastPrice":"42000"},"ts":1700000000000}`))
	assert.NoError(err)
	assert.Equal("push.ticker", msg.Channel)
	assert.Equal("BTC_USDT", msg.Symbol)
	assert.Equal(int64(1700000000000), msg.Ts)
	assert.JSONEq(`{"lastPrice":"42000"}`, string(msg.Data))

	_, err = parseStreamMessage([]byte(`{not json`))
	assert.Error(err)

	_, err = parseStreamMessage([]byte(`{"data":{}}`))
	assert.Error(err, "frame without a channel should be rejected")
}

func TestAckSuccess(t *testing.T) {
	assert := assert.New(t)

	assert.True(ackSuccess(json.RawMessage(`"success"`)))
	assert.True(ackSuccess(json.RawMessage(`{"code":0}`)))

	assert.False(ackSuccess(json.RawMessage(`{"code":1003,"msg":"api key info invalid"}`)))
	assert.False(ackSuccess(json.RawMessage(`"failure"`)))
	assert.False(ackSuccess(nil))
}

func TestFrameBuilders(t *testing.T) {
	assert := assert.New(t)

	assert.JSONEq(`{"method":"ping"}`, string(pingFrame()))

	frame, err := loginFrame("apikey1", "deadbeef", "1700000000000")
	assert.NoError(err)
	assert.JSONEq(
		`{"subscribe":false,"method":"login","param":{"apiKey":"apikey1","signature":"deadbeef","reqTime":"1700000000000"}}`,
		string(frame))

	frame, err = subscribeFrame(&StreamSubscription{Channel: "ticker", Symbol: "BTC_USDT"})
	assert.NoError(err)
	assert.JSONEq(`{"method":"sub.ticker","param":{"symbol":"BTC_USDT"}}`, string(frame))

	frame, err = subscribeFrame(&StreamSubscription{
		Channel: "kline",
		Symbol:  "BTC_USDT",
		Params:  map[string]interface{}{"interval": "Min15"},
	})
	assert.NoError(err)
	assert.JSONEq(`{"method":"sub.kline","param":{"symbol":"BTC_USDT","interval":"Min15"}}`, string(frame))

	frame, err = unsubscribeFrame(&StreamSubscription{Channel: "deal", Symbol: "ETH_USDT"})
	assert.NoError(err)
	assert.JSONEq(`{"method":"unsub.deal","param":{"symbol":"ETH_USDT"}}`, string(frame))
}

func TestPersonalFilterFrame(t *testing.T) {
	assert := assert.New(t)

	frame, err := personalFilterFrame([]*StreamSubscription{
		{Channel: "personal.order", Symbol: "BTC_USDT"},
		{Channel: "personal.asset"},
	})
	assert.NoError(err)
	assert.JSONEq(
		`{"method":"personal.filter","param":{"filters":[{"filter":"order","rules":["BTC_USDT"]},{"filter":"asset"}]}}`,
		string(frame))

	// The builder happily produces the empty-list frame, which the server
	// reads as "all private data". The session never sends it for an empty
	// private set; see TestPersonalFilterEmptySet.
	frame, err = personalFilterFrame(nil)
	assert.NoError(err)
	assert.JSONEq(`{"method":"personal.filter","param":{"filters":[]}}`, string(frame))
}

func TestAckChannel(t *testing.T) {
	assert := assert.New(t)

	name, sub, ok := ackChannel("rs.sub.ticker")
	assert.True(ok)
	assert.True(sub)
	assert.Equal("ticker", name)

	name, sub, ok = ackChannel("rs.unsub.depth")
	assert.True(ok)
	assert.False(sub)
	assert.Equal("depth", name)

	_, _, ok = ackChannel("push.ticker")
	assert.False(ok)

	_, _, ok = ackChannel("rs.login")
	assert.False(ok)
}

func TestEventNameForChannel(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("ticker", eventNameForChannel("push.ticker"))
	assert.Equal("depth", eventNameForChannel("push.depth"))
	assert.Equal("depth", eventNameForChannel("push.depth.full"))
	assert.Equal("order_update", eventNameForChannel("push.personal.order"))

	// Unknown channels fall through to the catch-all event
	assert.Equal(EventMessage, eventNameForChannel("push.something.new"))
}
