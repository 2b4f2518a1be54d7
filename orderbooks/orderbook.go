/*
Package orderbooks maintains a local order book from the depth updates
pushed on the websocket depth channels.
*/
package orderbooks

import (
	"sort"

	"github.com/juju/errors"

	"github.com/mexcdev/mexc-futures-go/common"
)

var (
	// ErrVersionGap is returned when an incremental update doesn't follow
	// the book's current version: levels were missed and the book must be
	// re-seeded from a fresh snapshot.
	ErrVersionGap = errors.New("depth version gap")
)

// BookSnapshot is the book's full state at one version. Bids are sorted by
// price descending, asks ascending.
type BookSnapshot struct {
	Symbol  string
	Version int64

	Bids []common.DepthLevel
	Asks []common.DepthLevel
}

// OrderBook represents a "live" order book, which is able to receive
// snapshots and incremental updates.
//
// It is not thread-safe; so if you need to use it from more than one
// goroutine, apply your own synchronization.
type OrderBook struct {
	snapshot BookSnapshot
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		snapshot: BookSnapshot{Symbol: symbol},
	}
}

// GetSnapshot returns the snapshot of the current orderbook.
func (ob *OrderBook) GetSnapshot() BookSnapshot {
	return ob.snapshot
}

// GetVersion is a shortcut for GetSnapshot().Version.
func (ob *OrderBook) GetVersion() int64 {
	return ob.snapshot.Version
}

// BestBid returns the highest bid, if the book has one.
func (ob *OrderBook) BestBid() (common.DepthLevel, bool) {
	if len(ob.snapshot.Bids) == 0 {
		return common.DepthLevel{}, false
	}
	return ob.snapshot.Bids[0], true
}

// BestAsk returns the lowest ask, if the book has one.
func (ob *OrderBook) BestAsk() (common.DepthLevel, bool) {
	if len(ob.snapshot.Asks) == 0 {
		return common.DepthLevel{}, false
	}
	return ob.snapshot.Asks[0], true
}

// ApplyUpdate applies the given incremental update (received from the wire)
// to the current orderbook. Updates at or below the book's current version
// are ignored; a version more than one ahead returns ErrVersionGap without
// touching the book.
func (ob *OrderBook) ApplyUpdate(update common.DepthUpdate) error {
	return ob.ApplyUpdateOpt(update, false)
}

// ApplyUpdateOpt is like ApplyUpdate; with ignoreVersion it applies the
// update regardless of its version.
func (ob *OrderBook) ApplyUpdateOpt(update common.DepthUpdate, ignoreVersion bool) error {
	if !ignoreVersion {
		if update.Version <= ob.snapshot.Version {
			// Stale update, already reflected in the book.
			return nil
		}

		if update.Version != ob.snapshot.Version+1 {
			return errors.Trace(ErrVersionGap)
		}
	}

	ob.snapshot.Bids = levelsWithUpdate(ob.snapshot.Bids, update.Bids, true)
	ob.snapshot.Asks = levelsWithUpdate(ob.snapshot.Asks, update.Asks, false)

	ob.snapshot.Version = update.Version

	return nil
}

// ApplySnapshot replaces the book with the given full snapshot, as pushed
// on the depth.full channel or fetched over REST. The levels are sorted
// here, so the wire order doesn't matter.
func (ob *OrderBook) ApplySnapshot(full common.DepthUpdate) {
	bids := make([]common.DepthLevel, len(full.Bids))
	copy(bids, full.Bids)
	sortLevels(bids, true)

	asks := make([]common.DepthLevel, len(full.Asks))
	copy(asks, full.Asks)
	sortLevels(asks, false)

	ob.snapshot.Bids = bids
	ob.snapshot.Asks = asks
	ob.snapshot.Version = full.Version
}

// levelsWithUpdate applies the changed levels to one side of the book and
// returns a newly allocated, sorted slice. A changed level with zero volume
// removes the price; any other volume sets it.
func levelsWithUpdate(levels, changes []common.DepthLevel, reverse bool) []common.DepthLevel {
	setMap := make(map[string]common.DepthLevel, len(changes))
	removeMap := make(map[string]struct{})

	for _, change := range changes {
		key := change.Price.String()
		if change.Volume.IsZero() {
			removeMap[key] = struct{}{}
			delete(setMap, key)
			continue
		}
		setMap[key] = change
		delete(removeMap, key)
	}

	newLevels := make([]common.DepthLevel, 0, len(levels)+len(setMap))

	// Replace / remove existing levels
	for _, level := range levels {
		key := level.Price.String()

		if _, ok := removeMap[key]; ok {
			continue
		}

		if change, ok := setMap[key]; ok {
			level.Volume = change.Volume
			level.OrderCount = change.OrderCount

			// Mark the price as taken care of, so only genuinely new levels
			// remain in setMap below.
			delete(setMap, key)
		}

		newLevels = append(newLevels, level)
	}

	// Add new levels (which are still in setMap)
	for _, level := range setMap {
		newLevels = append(newLevels, level)
	}

	sortLevels(newLevels, reverse)

	return newLevels
}

func sortLevels(levels []common.DepthLevel, reverse bool) {
	if reverse {
		sort.Slice(levels, func(i, j int) bool {
			return levels[i].Price.GreaterThan(levels[j].Price)
		})
		return
	}

	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price.LessThan(levels[j].Price)
	})
}
