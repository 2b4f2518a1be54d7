package websocket

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StreamSubscription identifies a single channel subscription: the channel
// name plus its parameters. Examples:
//
//	&StreamSubscription{Channel: "ticker", Symbol: "BTC_USDT"}
//	&StreamSubscription{Channel: "depth.full", Symbol: "BTC_USDT", Params: map[string]interface{}{"limit": 20}}
//	&StreamSubscription{Channel: "kline", Symbol: "BTC_USDT", Params: map[string]interface{}{"interval": "Min15"}}
//	&StreamSubscription{Channel: "personal.order"}
//
// Channels prefixed with "personal." are private and require a successful
// login before the server starts pushing them.
type StreamSubscription struct {
	Channel string
	Symbol  string
	Params  map[string]interface{}
}

// Key returns the identity of the subscription: two subscriptions with the
// same channel and parameters are the same entry. Params are serialized in
// sorted key order so the key is stable.
func (s *StreamSubscription) Key() string {
	if len(s.Params) == 0 {
		return s.Channel + ":" + s.Symbol
	}

	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(s.Channel)
	sb.WriteString(":")
	sb.WriteString(s.Symbol)
	for _, k := range keys {
		fmt.Fprintf(&sb, ":%s=%v", k, s.Params[k])
	}

	return sb.String()
}

// Private reports whether the subscription is a private (account data)
// channel, i.e. one that requires login.
func (s *StreamSubscription) Private() bool {
	return strings.HasPrefix(s.Channel, "personal.")
}

// FilterName returns the personal-data filter name for a private channel,
// e.g. "order" for "personal.order". Empty for public channels.
func (s *StreamSubscription) FilterName() string {
	if !s.Private() {
		return ""
	}
	return strings.TrimPrefix(s.Channel, "personal.")
}

func (s *StreamSubscription) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("[failed to stringify StreamSubscription: %s]", err)
	}

	return string(data)
}

// subRegistry is the set of active subscriptions, ordered by when each entry
// was first added. The set survives disconnects; it's the record used to
// replay subscriptions on a fresh connection.
//
// subRegistry is not goroutine-safe: all access happens from the wsConn
// eventLoop.
type subRegistry struct {
	keys    map[string]int
	entries []*StreamSubscription
}

func newSubRegistry(initial []*StreamSubscription) *subRegistry {
	r := &subRegistry{
		keys: make(map[string]int),
	}

	for _, sub := range initial {
		r.add(sub)
	}

	return r
}

// add inserts the entry if it's not present yet, and reports whether it was
// actually inserted. Adding an already-present key is a no-op (idempotent).
func (r *subRegistry) add(sub *StreamSubscription) bool {
	key := sub.Key()
	if _, ok := r.keys[key]; ok {
		return false
	}

	r.keys[key] = len(r.entries)
	r.entries = append(r.entries, sub)
	return true
}

// remove deletes the entry with the same key, if present. Removing an
// unknown entry is a no-op, not an error.
func (r *subRegistry) remove(sub *StreamSubscription) bool {
	key := sub.Key()
	idx, ok := r.keys[key]
	if !ok {
		return false
	}

	delete(r.keys, key)
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	for i := idx; i < len(r.entries); i++ {
		r.keys[r.entries[i].Key()] = i
	}

	return true
}

// all returns a copy of the current entries, in the order they were added.
func (r *subRegistry) all() []*StreamSubscription {
	entries := make([]*StreamSubscription, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// private returns the private entries only, in registry order.
func (r *subRegistry) private() []*StreamSubscription {
	var entries []*StreamSubscription
	for _, sub := range r.entries {
		if sub.Private() {
			entries = append(entries, sub)
		}
	}
	return entries
}

// clear drops all entries. Used on explicit session teardown only, never on
// a transient reconnect.
func (r *subRegistry) clear() {
	r.keys = make(map[string]int)
	r.entries = nil
}
