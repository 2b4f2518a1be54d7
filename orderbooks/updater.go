package orderbooks

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/juju/errors"

	"github.com/mexcdev/mexc-futures-go/common"
)

const maxUpdatesCacheSize = 50

type getSnapshotResult struct {
	snapshot common.DepthUpdate
	err      error
}

// OrderBookUpdater maintains the up-to-date orderbook by applying live
// updates (which are typically fed to it from the StreamClient depth
// callback).
type OrderBookUpdater struct {
	params OrderBookUpdaterParams

	updatesChan           chan common.DepthUpdate
	snapshotsChan         chan common.DepthUpdate
	getSnapshotResultChan chan getSnapshotResult
	stopChan              chan struct{}
	addUpdateCB           chan OnUpdateCB

	curOrderBook *OrderBook

	updateCBs []OnUpdateCB

	cachedUpdates map[int64]common.DepthUpdate

	minUpdateNum *int64
	maxUpdateNum *int64

	// fetchSnapshotTimer is a timer which fires when we need to request a new
	// snapshot from the REST API.
	fetchSnapshotTimer *clock.Timer
	// fetchSnapshotAttempt represents how many times in a row we tried to
	// fetch a new snapshot from the REST API.
	fetchSnapshotAttempt int

	// isInSync reflects whether the order book is synchronized with the
	// server. Needed only for sending StateUpdate.
	isInSync bool

	// If firstSyncing is true, it means we'll be syncing the first time after
	// the app start; this is needed to use a smaller randomized delay before
	// fetching a snapshot.
	firstSyncing bool
}

// OrderBookUpdaterParams contains params for creating a new orderbook
// updater.
type OrderBookUpdaterParams struct {
	// Symbol is the contract the book is for, e.g. "BTC_USDT".
	Symbol string

	// SnapshotGetter is optional; it returns an up-to-date snapshot,
	// typically from the REST API. See NewDepthSnapshotGetterREST.
	//
	// If SnapshotGetter is not set, then OrderBookUpdater only gets in sync
	// once a full book arrives from the websocket (i.e. the client also has
	// to subscribe to the depth.full channel).
	SnapshotGetter DepthSnapshotGetter

	// Below are mockables; should only be set for tests. By default, prod
	// values will be used.

	clock clock.Clock

	// getSnapshotDelay returns the delay before fetching a snapshot from the
	// REST API.
	getSnapshotDelay func(firstSyncing bool, fetchSnapshotAttempt int) time.Duration

	// gettingSnapshot is called right before running a goroutine with
	// GetDepthSnapshot. It's a no-op for prod.
	gettingSnapshot func()

	// internalEvent is called right after processing an event in eventLoop.
	// It's a no-op for prod.
	internalEvent func(ie internalEvent)
}

// NewOrderBookUpdater creates a new orderbook updater with the provided
// params.
func NewOrderBookUpdater(params *OrderBookUpdaterParams) *OrderBookUpdater {
	obu := &OrderBookUpdater{
		params: *params,

		updatesChan:           make(chan common.DepthUpdate, 1),
		snapshotsChan:         make(chan common.DepthUpdate, 1),
		getSnapshotResultChan: make(chan getSnapshotResult, 1),
		stopChan:              make(chan struct{}),
		addUpdateCB:           make(chan OnUpdateCB, 1),

		cachedUpdates: map[int64]common.DepthUpdate{},
		firstSyncing:  true,
	}

	// Set prod values for mockables by default.

	if obu.params.clock == nil {
		obu.params.clock = clock.New()
	}

	if obu.params.getSnapshotDelay == nil {
		obu.params.getSnapshotDelay = getSnapshotDelayDefault
	}

	if obu.params.gettingSnapshot == nil {
		obu.params.gettingSnapshot = func() {}
	}

	if obu.params.internalEvent == nil {
		obu.params.internalEvent = func(ie internalEvent) {}
	}

	obu.getSnapshotFromAPIAfterTimeout()

	go obu.eventLoop()

	return obu
}

// ReceiveUpdate should be called when a new incremental depth update is
// received from the websocket. If the update applies cleanly to the
// internal orderbook, the OnUpdate callbacks will be called shortly.
func (obu *OrderBookUpdater) ReceiveUpdate(update common.DepthUpdate) {
	obu.updatesChan <- update
}

// ReceiveSnapshot should be called when a full book is received from the
// websocket (the depth.full channel). The OnUpdate callbacks will be called
// shortly.
func (obu *OrderBookUpdater) ReceiveSnapshot(snapshot common.DepthUpdate) {
	obu.snapshotsChan <- snapshot
}

type OnUpdateCB func(update Update)

type Update struct {
	OrderBookUpdate  *BookSnapshot
	StateUpdate      *StateUpdate
	GetSnapshotError error
}

// OnUpdate registers a new callback which will be called when an update is
// available: either state update or orderbook update. The callbacks are
// called from the same internal eventloop, so they are never called
// concurrently with each other, and the callback shouldn't block.
func (obu *OrderBookUpdater) OnUpdate(cb OnUpdateCB) {
	obu.addUpdateCB <- cb
}

// StateUpdate is delivered to handlers (registered with OnUpdate) when the
// book becomes in sync or goes out of sync; see IsInSync field.
type StateUpdate struct {
	// IsInSync is true when the cached updates cover the current book
	// version.
	IsInSync bool

	// Version is the version of the current book.
	Version *int64
	// MinUpdateNum is the min version of the cached updates.
	MinUpdateNum *int64
	// MaxUpdateNum is the max version of the cached updates.
	MaxUpdateNum *int64
}

func (su *StateUpdate) String() string {
	if su.IsInSync {
		return "Synchronized"
	}

	version := "-"
	updates := "-"

	if su.Version != nil {
		version = fmt.Sprintf("%d", *su.Version)
	}

	if su.MinUpdateNum != nil && su.MaxUpdateNum != nil {
		updates = fmt.Sprintf("%d - %d", *su.MinUpdateNum, *su.MaxUpdateNum)
	}

	return fmt.Sprintf("Out of sync: version: %s, updates: %s", version, updates)
}

// Close stops the event loop; after that the OrderBookUpdater can't be used
// anymore.
func (obu *OrderBookUpdater) Close() error {
	close(obu.stopChan)
	return nil
}

// receiveUpdateInternal should only be called from the eventLoop.
func (obu *OrderBookUpdater) receiveUpdateInternal(update common.DepthUpdate) {
	if obu.minUpdateNum != nil && obu.maxUpdateNum != nil && update.Version == *obu.maxUpdateNum+1 {
		// Received the next update in order, so store it into cachedUpdates
		// and maybe drop the oldest one.

		obu.cachedUpdates[update.Version] = update
		*obu.maxUpdateNum += 1

		for (*obu.maxUpdateNum)-(*obu.minUpdateNum)+1 > maxUpdatesCacheSize {
			delete(obu.cachedUpdates, *obu.minUpdateNum)
			*obu.minUpdateNum += 1
		}
	} else {
		// Received an out-of-order update, screw all existing updates

		obu.minUpdateNum = new(int64)
		obu.maxUpdateNum = new(int64)

		*obu.minUpdateNum = update.Version
		*obu.maxUpdateNum = update.Version

		obu.cachedUpdates = map[int64]common.DepthUpdate{
			update.Version: update,
		}
	}

	// Try to apply existing updates, and if the current book is outdated,
	// request a new snapshot.
	obu.applyCachedUpdates()
	if !obu.isInSync {
		obu.getSnapshotFromAPIAfterTimeout()
		return
	}

	// The update was applied cleanly, so, call the on-update callbacks
	snapshot := obu.curOrderBook.GetSnapshot()
	obu.callUpdateCBs(
		Update{
			OrderBookUpdate: &snapshot,
		},
	)
}

// receiveSnapshotInternal should only be called from the eventLoop.
func (obu *OrderBookUpdater) receiveSnapshotInternal(snapshot common.DepthUpdate) {
	if obu.curOrderBook == nil {
		obu.curOrderBook = NewOrderBook(obu.params.Symbol)
	}
	obu.curOrderBook.ApplySnapshot(snapshot)

	obu.applyCachedUpdates()
	// Note that we shouldn't request a new snapshot if isInSync is false; it
	// could easily happen on some non-popular contract where we don't receive
	// any updates for a long time, so minUpdateNum is nil.

	// Now that we have an updated orderbook, call the on-update callbacks
	bookSnapshot := obu.curOrderBook.GetSnapshot()
	obu.callUpdateCBs(
		Update{
			OrderBookUpdate: &bookSnapshot,
		},
	)
}

// applyCachedUpdates should only be called from the eventLoop.
//
// It tries to apply currently cached updates to the orderbook; sets
// obu.isInSync if in the end the orderbook is synchronized with the server
// (doesn't matter if we actually applied anything to make that happen, or
// it was already the case).
func (obu *OrderBookUpdater) applyCachedUpdates() {
	// To be able to apply updates we need both an orderbook and cached
	// updates. Unless we have all of that, cut short.
	if obu.curOrderBook == nil || obu.minUpdateNum == nil || obu.maxUpdateNum == nil {
		obu.isInSync = false
		return
	}

	var ucr updatesCheckResult

	for {
		ucr = checkUpdates(obu.curOrderBook.GetVersion(), *obu.minUpdateNum, *obu.maxUpdateNum)

		if ucr.nextUpdateApply == nil {
			// We don't have any relevant updates to apply
			break
		}

		if err := obu.curOrderBook.ApplyUpdate(obu.cachedUpdates[*ucr.nextUpdateApply]); err != nil {
			// Should never be here, because we check versions here before
			// calling ApplyUpdate; treat the book as out of sync and re-seed.
			obu.isInSync = false
			obu.getSnapshotFromAPIAfterTimeout()
			return
		}
	}

	wasInSync := obu.isInSync
	obu.isInSync = ucr.isInSync

	if obu.isInSync != wasInSync {
		obu.callUpdateCBs(
			Update{
				StateUpdate: obu.getStateUpdate(),
			},
		)
	}

	if obu.isInSync {
		obu.firstSyncing = false

		if obu.fetchSnapshotTimer != nil {
			// Fetching a snapshot from the API was scheduled after a timeout,
			// but we've got in sync before that (e.g. a full book arrived from
			// the stream), so cancel reaching the API.

			obu.fetchSnapshotTimer.Stop()
			obu.resetSnapshotTimer()
		}
	}
}

// getSnapshotFromAPIAfterTimeout should only be called from the eventLoop.
func (obu *OrderBookUpdater) getSnapshotFromAPIAfterTimeout() {
	if obu.params.SnapshotGetter == nil {
		// SnapshotGetter wasn't provided, so just don't do anything here (and
		// we'll get in sync when we receive a full book from the websocket)
		return
	}

	if obu.fetchSnapshotTimer != nil {
		// Snapshot fetching is already scheduled, so nothing to do here
		return
	}

	delay := obu.params.getSnapshotDelay(obu.firstSyncing, obu.fetchSnapshotAttempt)

	obu.fetchSnapshotTimer = obu.params.clock.AfterFunc(delay, func() {
		// For testability, we shouldn't block in that callback, because it's
		// called synchronously by the time-mocking package (clock). So, here
		// we just announce that we're going to get a snapshot, and then start
		// another goroutine which actually calls GetDepthSnapshot() etc.

		obu.params.gettingSnapshot()

		go func() {
			snapshot, err := obu.params.SnapshotGetter.GetDepthSnapshot()
			obu.getSnapshotResultChan <- getSnapshotResult{
				snapshot: snapshot,
				err:      err,
			}
		}()
	})
}

// resetSnapshotTimer should only be called from the eventLoop.
func (obu *OrderBookUpdater) resetSnapshotTimer() {
	obu.fetchSnapshotTimer = nil
	obu.fetchSnapshotAttempt = 0
}

// callUpdateCBs should only be called from the eventLoop.
func (obu *OrderBookUpdater) callUpdateCBs(update Update) {
	for _, cb := range obu.updateCBs {
		cb(update)
	}
}

// getStateUpdate should only be called from the eventLoop.
func (obu *OrderBookUpdater) getStateUpdate() *StateUpdate {
	ret := &StateUpdate{
		IsInSync:     obu.isInSync,
		MinUpdateNum: obu.minUpdateNum,
		MaxUpdateNum: obu.maxUpdateNum,
	}

	if obu.curOrderBook != nil {
		v := obu.curOrderBook.GetVersion()
		ret.Version = &v
	}

	return ret
}

type internalEvent int

const (
	internalEventUpdateHandled internalEvent = iota
	internalEventSnapshotHandled
	internalEventGetSnapshotResultHandled
)

func (obu *OrderBookUpdater) eventLoop() {
	for {
		select {
		case update := <-obu.updatesChan:
			obu.receiveUpdateInternal(update)
			obu.params.internalEvent(internalEventUpdateHandled)

		case snapshot := <-obu.snapshotsChan:
			obu.receiveSnapshotInternal(snapshot)
			obu.params.internalEvent(internalEventSnapshotHandled)

		case res := <-obu.getSnapshotResultChan:
			if res.err != nil {
				// Got an error while receiving a snapshot, so just reset the
				// timer so that it'll be scheduled again on the next update.
				obu.fetchSnapshotTimer = nil
				obu.fetchSnapshotAttempt += 1

				// Let the client code know about that error
				obu.callUpdateCBs(
					Update{
						GetSnapshotError: errors.Trace(res.err),
					},
				)

				obu.getSnapshotFromAPIAfterTimeout()

				obu.params.internalEvent(internalEventGetSnapshotResultHandled)
				break
			}

			// Reset attempts counter and timer
			obu.resetSnapshotTimer()

			// Update the orderbook state
			obu.receiveSnapshotInternal(res.snapshot)

			obu.params.internalEvent(internalEventGetSnapshotResultHandled)

		case cb := <-obu.addUpdateCB:
			obu.updateCBs = append(obu.updateCBs, cb)

		case <-obu.stopChan:
			return
		}
	}
}

type updatesCheckResult struct {
	// nextUpdateApply indicates the next update version which should be
	// applied to the current book (which has the version curVersion).
	//
	// If nextUpdateApply is nil, it means there are no suitable updates to
	// apply.
	nextUpdateApply *int64

	// isInSync indicates whether the book version (curVersion) is in sync
	// with the updates we have.
	isInSync bool
}

func checkUpdates(curVersion, minUpdateNum, maxUpdateNum int64) updatesCheckResult {
	// The cached updates cover the book when the next update the book needs
	// (curVersion+1) is either cached or older than the whole cache.
	ret := updatesCheckResult{
		isInSync: curVersion >= minUpdateNum-1,
	}

	if ret.isInSync && curVersion < maxUpdateNum {
		// We have some new updates to apply, so specify which one should be
		// the first.
		ret.nextUpdateApply = new(int64)
		*ret.nextUpdateApply = curVersion + 1
	}

	return ret
}

// getSnapshotDelayDefault calculates a delay before fetching a snapshot:
// randomized in 10 seconds, plus 5 seconds more after each subsequent
// attempt, but not more than 40 seconds overall
func getSnapshotDelayDefault(firstSyncing bool, fetchSnapshotAttempt int) time.Duration {
	delay := time.Duration(fetchSnapshotAttempt) * 5 * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}

	// Add a random delay: around a second when syncing the first time after
	// the app starts, and up to 10 seconds afterwards.
	//
	// The initial small delay is needed because on popular contracts fetching
	// the snapshot immediately is usually not helpful since it arrives too
	// late (after a few missed updates). So we wait for at least one second
	// before fetching a snapshot, and thus we have some time to cache a few
	// updates.
	if firstSyncing {
		delay += 800*time.Millisecond + time.Duration(rand.Int31n(500))*time.Millisecond
	} else {
		delay += time.Duration(rand.Int31n(10)) * time.Second
	}

	return delay
}
