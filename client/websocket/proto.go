package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// StreamMessage is the decoded shape of every inbound frame: a channel
// identifier plus an opaque payload. Payload interpretation is left to the
// typed accessors in stream_client.go; the session core only routes on the
// channel name.
type StreamMessage struct {
	Channel string          `json:"channel"`
	Symbol  string          `json:"symbol,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Ts      int64           `json:"ts,omitempty"`
}

func (m *StreamMessage) String() string {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("[failed to stringify StreamMessage: %s]", err)
	}

	return string(data)
}

// SubscriptionAck is the payload delivered with "subscribed" and
// "unsubscribed" events: the channel the server confirmed, and whatever data
// came with the confirmation.
type SubscriptionAck struct {
	Channel string
	Data    json.RawMessage
}

// DisconnectInfo is the payload delivered with "disconnected" events.
type DisconnectInfo struct {
	// Cause is the error which caused the disconnection; nil on a normal
	// closure requested by the client.
	Cause error
}

// ServerError is the payload delivered with "error" events that originate
// from the server (rs.error frames and rejected subscribe requests).
type ServerError struct {
	Channel string
	Data    json.RawMessage
}

func (e *ServerError) Error() string {
	if e.Channel != "" {
		return fmt.Sprintf("server error on %q: %s", e.Channel, e.Data)
	}
	return fmt.Sprintf("server error: %s", e.Data)
}

// clientMessage is the shape of every outbound frame.
type clientMessage struct {
	Subscribe *bool       `json:"subscribe,omitempty"`
	Method    string      `json:"method"`
	Param     interface{} `json:"param,omitempty"`
	Gzip      bool        `json:"gzip,omitempty"`
}

// loginParam carries the signed login handshake. The signature is computed
// over apiKey+reqTime with the secret key; see package auth.
type loginParam struct {
	APIKey    string `json:"apiKey"`
	Signature string `json:"signature"`
	ReqTime   string `json:"reqTime"`
}

type personalFilter struct {
	Filter string   `json:"filter"`
	Rules  []string `json:"rules,omitempty"`
}

type personalFilterParam struct {
	Filters []personalFilter `json:"filters"`
}

// channelEventNames maps server push channels to the event names handlers
// are registered under.
var channelEventNames = map[string]string{
	"push.tickers":             "tickers",
	"push.ticker":              "ticker",
	"push.deal":                "deal",
	"push.depth":               "depth",
	"push.depth.full":          "depth",
	"push.kline":               "kline",
	"push.funding.rate":        "funding_rate",
	"push.index.price":         "index_price",
	"push.fair.price":          "fair_price",
	"push.personal.order":      "order_update",
	"push.personal.order.deal": "order_deal",
	"push.personal.position":   "position_update",
	"push.personal.asset":      "asset_update",
	"push.personal.plan.order": "plan_order",
	"push.personal.stop.order": "stop_order",
	"push.personal.stop.planorder": "stop_plan_order",
	"push.personal.risk.limit":     "risk_limit",
	"push.personal.adl.level":      "adl_level",
	"push.personal.liquidate.risk": "liquidate_risk",
}

// eventNameForChannel maps a push channel to its event name; unknown
// channels fall back to the catch-all "message" event.
func eventNameForChannel(channel string) string {
	if name, ok := channelEventNames[channel]; ok {
		return name
	}
	return EventMessage
}

func parseStreamMessage(data []byte) (*StreamMessage, error) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Annotatef(err, "parsing stream message")
	}

	if msg.Channel == "" {
		return nil, errors.Errorf("stream message has no channel: %s", data)
	}

	return &msg, nil
}

// ackSuccess reports whether an rs.* acknowledgement payload means success:
// either the literal string "success" or an object with code 0.
func ackSuccess(data json.RawMessage) bool {
	if bytes.Equal(bytes.TrimSpace(data), []byte(`"success"`)) {
		return true
	}

	var body struct {
		Code *int `json:"code"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return false
	}

	return body.Code != nil && *body.Code == 0
}

func pingFrame() []byte {
	// Static, so no need to go through json.Marshal every tick.
	return []byte(`{"method":"ping"}`)
}

func loginFrame(apiKey, signature, reqTime string) ([]byte, error) {
	// subscribe:false cancels the default push of all private data after
	// login; private channels are requested explicitly via personal.filter.
	subscribe := false

	data, err := json.Marshal(&clientMessage{
		Subscribe: &subscribe,
		Method:    "login",
		Param: &loginParam{
			APIKey:    apiKey,
			Signature: signature,
			ReqTime:   reqTime,
		},
	})
	if err != nil {
		return nil, errors.Annotatef(err, "marshalling login frame")
	}

	return data, nil
}

// subscribeFrame builds the sub.<channel> frame for a public subscription.
func subscribeFrame(sub *StreamSubscription) ([]byte, error) {
	return subFrame("sub.", sub)
}

// unsubscribeFrame builds the unsub.<channel> frame for a public
// subscription.
func unsubscribeFrame(sub *StreamSubscription) ([]byte, error) {
	return subFrame("unsub.", sub)
}

func subFrame(prefix string, sub *StreamSubscription) ([]byte, error) {
	param := make(map[string]interface{}, len(sub.Params)+1)
	for k, v := range sub.Params {
		param[k] = v
	}
	if sub.Symbol != "" {
		param["symbol"] = sub.Symbol
	}

	data, err := json.Marshal(&clientMessage{
		Method: prefix + sub.Channel,
		Param:  param,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "marshalling %s%s frame", prefix, sub.Channel)
	}

	return data, nil
}

// personalFilterFrame builds one personal.filter frame covering the given
// private entries. The filter list is the full desired set: the server
// replaces, not merges, so the frame is always built from every private
// entry in the registry. Careful: an empty subs list marshals to an empty
// filter list, which the server reads as "all private data".
func personalFilterFrame(subs []*StreamSubscription) ([]byte, error) {
	filters := make([]personalFilter, 0, len(subs))
	for _, sub := range subs {
		f := personalFilter{Filter: sub.FilterName()}
		if sub.Symbol != "" {
			f.Rules = []string{sub.Symbol}
		}
		filters = append(filters, f)
	}

	data, err := json.Marshal(&clientMessage{
		Method: "personal.filter",
		Param:  &personalFilterParam{Filters: filters},
	})
	if err != nil {
		return nil, errors.Annotatef(err, "marshalling personal.filter frame")
	}

	return data, nil
}

// ackChannel splits an acknowledgement channel like "rs.sub.ticker" into its
// confirmed channel name ("ticker"); ok is false for non-ack channels.
func ackChannel(channel string) (name string, sub bool, ok bool) {
	switch {
	case strings.HasPrefix(channel, "rs.sub."):
		return strings.TrimPrefix(channel, "rs.sub."), true, true
	case strings.HasPrefix(channel, "rs.unsub."):
		return strings.TrimPrefix(channel, "rs.unsub."), false, true
	default:
		return "", false, false
	}
}
