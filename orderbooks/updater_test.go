package orderbooks

import (
	"testing"
	"time"

	"github.com/cryptowatch/clock"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"

	"github.com/mexcdev/mexc-futures-go/common"
)

func TestUpdater(t *testing.T) {
	if err := testUpdaterRegular(t); err != nil {
		t.Fatal(errors.ErrorStack(err))
	}

	if err := testUpdaterNoSnapshotGetter(t); err != nil {
		t.Fatal(errors.ErrorStack(err))
	}
}

// testUpdaterRegular tests the regular workflow:
//   - outdated initial snapshot from REST
//   - a few updates after that snapshot
//   - new snapshot from REST, slightly behind the updates, so the relevant
//     updates get applied and we get in sync
//   - an in-band update
//   - out-of-band update, so we get out of sync
//   - requesting snapshot from REST, getting error
//   - requesting snapshot from REST again, getting one, replaying updates
//     again and getting in sync
func testUpdaterRegular(t *testing.T) (err error) {
	mocks := newUpdaterMocks()

	defer func() {
		if err != nil {
			err = errors.Annotatef(err, mocks.clock.Now().String())
		}
	}()

	updater := NewOrderBookUpdater(&OrderBookUpdaterParams{
		Symbol:           "BTC_USDT",
		SnapshotGetter:   mocks.sgetter,
		clock:            mocks.clock,
		getSnapshotDelay: getSnapshotDelayMock,
		gettingSnapshot:  mocks.gettingSnapshot,
		internalEvent:    mocks.internalEvent,
	})

	updater.OnUpdate(func(update Update) {
		if ob := update.OrderBookUpdate; ob != nil {
			mocks.eventsChan <- updaterMockEvent{
				typ:             updaterMockEventTypeOBUpdate,
				orderBookUpdate: ob,
			}
		} else if state := update.StateUpdate; state != nil {
			mocks.eventsChan <- updaterMockEvent{
				typ:         updaterMockEventTypeStateUpdate,
				stateUpdate: state,
			}
		} else if err := update.GetSnapshotError; err != nil {
			mocks.eventsChan <- updaterMockEvent{
				typ:              updaterMockEventTypeGetSnapshotError,
				getSnapshotError: err,
			}
		}
	})

	if err := mocks.expectNoEvents(); err != nil {
		return errors.Trace(err)
	}

	mocks.clock.Add(1000 * time.Millisecond)

	if err := mocks.expectEvent(updaterMockEventTypeGettingSnapshot, nil); err != nil {
		return errors.Trace(err)
	}

	// Receive an update: we don't have a snapshot yet, so expect no book
	// updates
	if err := mocks.receiveUpdate(updater, common.DepthUpdate{
		Version: 100,
		Bids:    []common.DepthLevel{level("50", "1")},
	}); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectNoEvents(); err != nil {
		return errors.Trace(err)
	}

	// Receive an OLD snapshot from REST; should get a book update with it,
	// but no sync.
	mocks.sgetter.snapshotChan <- snapshotWithErr{
		snapshot: common.DepthUpdate{
			Version: 90,
			Bids:    []common.DepthLevel{level("1000", "1")},
		},
	}

	if err := mocks.expectOrderBookUpdate(BookSnapshot{
		Version: 90,
		Bids:    []common.DepthLevel{level("1000", "1")},
	}); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectInternalEvent(internalEventGetSnapshotResultHandled); err != nil {
		return errors.Trace(err)
	}

	// Receive a few more updates: still no up-to-date snapshot, so no book
	// updates yet
	if err := mocks.receiveUpdate(updater, common.DepthUpdate{
		Version: 101,
		Asks:    []common.DepthLevel{level("30", "1")},
	}); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.receiveUpdate(updater, common.DepthUpdate{
		Version: 102,
		Bids:    []common.DepthLevel{level("40", "2")},
	}); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectNoEvents(); err != nil {
		return errors.Trace(err)
	}

	// The snapshot fetch was rescheduled after the failed sync above
	mocks.clock.Add(1000 * time.Millisecond)

	if err := mocks.expectEvent(updaterMockEventTypeGettingSnapshot, nil); err != nil {
		return errors.Trace(err)
	}

	// Snapshot fetch fails; the client code hears about it and another fetch
	// gets scheduled, with a bigger delay
	mocks.sgetter.snapshotChan <- snapshotWithErr{
		err: errors.New("simulated getter error"),
	}

	if err := mocks.expectGetSnapshotError(); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectInternalEvent(internalEventGetSnapshotResultHandled); err != nil {
		return errors.Trace(err)
	}

	mocks.clock.Add(2000 * time.Millisecond)

	if err := mocks.expectEvent(updaterMockEventTypeGettingSnapshot, nil); err != nil {
		return errors.Trace(err)
	}

	// Receive snapshot from REST: version 101, so the cached update 102
	// applies on top and we get in sync
	mocks.sgetter.snapshotChan <- snapshotWithErr{
		snapshot: common.DepthUpdate{
			Version: 101,
			Asks:    []common.DepthLevel{level("2000", "1")},
		},
	}

	if err := mocks.expectStateUpdate(true); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectOrderBookUpdate(BookSnapshot{
		// Latest cached update version
		Version: 102,
		// The snapshot's asks, with the bid from update 102 applied. More
		// thorough testing of the apply logic is in orderbook_test.go.
		Asks: []common.DepthLevel{level("2000", "1")},
		Bids: []common.DepthLevel{level("40", "2")},
	}); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectInternalEvent(internalEventGetSnapshotResultHandled); err != nil {
		return errors.Trace(err)
	}

	// An in-band update applies right away
	updater.ReceiveUpdate(common.DepthUpdate{
		Version: 103,
		Asks:    []common.DepthLevel{level("25", "1")},
	})

	if err := mocks.expectOrderBookUpdate(BookSnapshot{
		Version: 103,
		Asks:    []common.DepthLevel{level("25", "1"), level("2000", "1")},
		Bids:    []common.DepthLevel{level("40", "2")},
	}); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectInternalEvent(internalEventUpdateHandled); err != nil {
		return errors.Trace(err)
	}

	// An out-of-band update throws us out of sync
	updater.ReceiveUpdate(common.DepthUpdate{
		Version: 110,
		Asks:    []common.DepthLevel{level("35", "1")},
	})

	if err := mocks.expectStateUpdate(false); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectInternalEvent(internalEventUpdateHandled); err != nil {
		return errors.Trace(err)
	}

	mocks.clock.Add(1000 * time.Millisecond)

	if err := mocks.expectEvent(updaterMockEventTypeGettingSnapshot, nil); err != nil {
		return errors.Trace(err)
	}

	// Receive snapshot from REST: version 109, cached update 110 applies
	mocks.sgetter.snapshotChan <- snapshotWithErr{
		snapshot: common.DepthUpdate{
			Version: 109,
			Asks:    []common.DepthLevel{level("2000", "1")},
		},
	}

	if err := mocks.expectStateUpdate(true); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectOrderBookUpdate(BookSnapshot{
		Version: 110,
		Asks:    []common.DepthLevel{level("35", "1"), level("2000", "1")},
	}); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectInternalEvent(internalEventGetSnapshotResultHandled); err != nil {
		return errors.Trace(err)
	}

	// In sync: no more snapshot fetches get scheduled
	mocks.clock.Add(60 * time.Second)

	if err := mocks.expectNoEvents(); err != nil {
		return errors.Trace(err)
	}

	return nil
}

func testUpdaterNoSnapshotGetter(t *testing.T) (err error) {
	mocks := newUpdaterMocks()

	defer func() {
		if err != nil {
			err = errors.Annotatef(err, mocks.clock.Now().String())
		}
	}()

	updater := NewOrderBookUpdater(&OrderBookUpdaterParams{
		Symbol: "BTC_USDT",
		// WE DO NOT SET SnapshotGetter

		clock:            mocks.clock,
		getSnapshotDelay: getSnapshotDelayMock,
		gettingSnapshot:  mocks.gettingSnapshot,
		internalEvent:    mocks.internalEvent,
	})

	updater.OnUpdate(func(update Update) {
		if ob := update.OrderBookUpdate; ob != nil {
			mocks.eventsChan <- updaterMockEvent{
				typ:             updaterMockEventTypeOBUpdate,
				orderBookUpdate: ob,
			}
		} else if state := update.StateUpdate; state != nil {
			mocks.eventsChan <- updaterMockEvent{
				typ:         updaterMockEventTypeStateUpdate,
				stateUpdate: state,
			}
		} else if err := update.GetSnapshotError; err != nil {
			mocks.eventsChan <- updaterMockEvent{
				typ:              updaterMockEventTypeGetSnapshotError,
				getSnapshotError: err,
			}
		}
	})

	if err := mocks.expectNoEvents(); err != nil {
		return errors.Trace(err)
	}

	// Don't expect updaterMockEventTypeGettingSnapshot because
	// SnapshotGetter is nil, even after a minute
	mocks.clock.Add(60 * time.Second)
	if err := mocks.expectNoEvents(); err != nil {
		return errors.Trace(err)
	}

	// Receive an update: we don't have a book yet, so expect no updates
	if err := mocks.receiveUpdate(updater, common.DepthUpdate{
		Version: 100,
		Bids:    []common.DepthLevel{level("50", "1")},
	}); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectNoEvents(); err != nil {
		return errors.Trace(err)
	}

	// A full book from the websocket gets us in sync without any REST
	updater.ReceiveSnapshot(common.DepthUpdate{
		Version: 100,
		Asks:    []common.DepthLevel{level("200", "1"), level("1000", "1")},
	})

	if err := mocks.expectStateUpdate(true); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectOrderBookUpdate(BookSnapshot{
		Version: 100,
		Asks:    []common.DepthLevel{level("200", "1"), level("1000", "1")},
	}); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectInternalEvent(internalEventSnapshotHandled); err != nil {
		return errors.Trace(err)
	}

	if err := mocks.expectNoEvents(); err != nil {
		return errors.Trace(err)
	}

	return nil
}

func TestCheckUpdates(t *testing.T) {
	type checkUpdatesTestCase struct {
		curVersion, minUpdateNum, maxUpdateNum int64
		want                                   updatesCheckResult
	}

	testCases := []checkUpdatesTestCase{
		checkUpdatesTestCase{
			curVersion: 27, minUpdateNum: 30, maxUpdateNum: 35,
			want: updatesCheckResult{nil, false},
		},
		checkUpdatesTestCase{
			curVersion: 28, minUpdateNum: 30, maxUpdateNum: 35,
			want: updatesCheckResult{nil, false},
		},
		checkUpdatesTestCase{
			curVersion: 29, minUpdateNum: 30, maxUpdateNum: 35,
			want: updatesCheckResult{vPtr(30), true},
		},
		checkUpdatesTestCase{
			curVersion: 30, minUpdateNum: 30, maxUpdateNum: 35,
			want: updatesCheckResult{vPtr(31), true},
		},
		checkUpdatesTestCase{
			curVersion: 34, minUpdateNum: 30, maxUpdateNum: 35,
			want: updatesCheckResult{vPtr(35), true},
		},
		checkUpdatesTestCase{
			curVersion: 35, minUpdateNum: 30, maxUpdateNum: 35,
			want: updatesCheckResult{nil, true},
		},
		checkUpdatesTestCase{
			curVersion: 36, minUpdateNum: 30, maxUpdateNum: 35,
			want: updatesCheckResult{nil, true},
		},
	}

	for i, tc := range testCases {
		got := checkUpdates(tc.curVersion, tc.minUpdateNum, tc.maxUpdateNum)
		assert.Equal(t, tc.want, got, "test case #%d", i)
	}
}

func vPtr(v int64) *int64 {
	return &v
}

// getSnapshotDelayMock just returns 1 second plus 1 more second for each
// additional attempt.
func getSnapshotDelayMock(firstSyncing bool, fetchSnapshotAttempt int) time.Duration {
	return time.Duration(fetchSnapshotAttempt+1) * 1 * time.Second
}

type updaterMockEventType int

const (
	updaterMockEventTypeGettingSnapshot updaterMockEventType = iota
	updaterMockEventTypeOBUpdate
	updaterMockEventTypeStateUpdate
	updaterMockEventTypeGetSnapshotError
	updaterMockEventTypeInternalEvent
)

type updaterMockEvent struct {
	typ updaterMockEventType

	// orderBookUpdate is relevant for typ == updaterMockEventTypeOBUpdate
	orderBookUpdate *BookSnapshot
	// stateUpdate is relevant for typ == updaterMockEventTypeStateUpdate
	stateUpdate *StateUpdate
	// getSnapshotError is relevant for typ == updaterMockEventTypeGetSnapshotError
	getSnapshotError error
	// internalEvent is relevant for typ == updaterMockEventTypeInternalEvent
	internalEvent internalEvent
}

// snapshotGetterMock {{{

var _ DepthSnapshotGetter = &snapshotGetterMock{}

type snapshotWithErr struct {
	snapshot common.DepthUpdate
	err      error
}

// snapshotGetterMock implements DepthSnapshotGetter; every call blocks until
// the test pushes a result to snapshotChan.
type snapshotGetterMock struct {
	snapshotChan chan snapshotWithErr
}

func newSnapshotGetterMock() *snapshotGetterMock {
	return &snapshotGetterMock{
		snapshotChan: make(chan snapshotWithErr, 1),
	}
}

func (sg *snapshotGetterMock) GetDepthSnapshot() (common.DepthUpdate, error) {
	snapshotRes := <-sg.snapshotChan
	return snapshotRes.snapshot, snapshotRes.err
}

// }}}

type updaterMocks struct {
	clock      *clock.Mock
	eventsChan chan updaterMockEvent
	sgetter    *snapshotGetterMock
}

func newUpdaterMocks() *updaterMocks {
	c := clock.NewMockOpt(clock.MockOpt{
		Gosched: func() {},
	})

	c.Set(mustTimeParse("May 1, 2018 at 00:00:00 +0000"))

	return &updaterMocks{
		clock:      c,
		eventsChan: make(chan updaterMockEvent, 1),
		sgetter:    newSnapshotGetterMock(),
	}
}

func (m *updaterMocks) expectNoEvents() error {
	select {
	case e := <-m.eventsChan:
		return errors.Errorf("expected no events, but got %+v", e)
	default:
		return nil
	}
}

func (m *updaterMocks) expectEvent(wantTyp updaterMockEventType, cb func(e updaterMockEvent) error) error {
	select {
	case e := <-m.eventsChan:
		if e.typ != wantTyp {
			return errors.Errorf("expected event of type %v, got %+v", wantTyp, e)
		}

		if cb != nil {
			if err := cb(e); err != nil {
				return errors.Trace(err)
			}
		}

		return nil
	case <-time.After(1 * time.Second):
		return errors.Errorf("expected event of type %v, got nothing", wantTyp)
	}
}

func (m *updaterMocks) expectOrderBookUpdate(want BookSnapshot) error {
	err := m.expectEvent(updaterMockEventTypeOBUpdate, func(e updaterMockEvent) error {
		if e.orderBookUpdate.Version != want.Version {
			return errors.Errorf(
				"wanted orderbook update with version %v, got one with %v",
				want.Version, e.orderBookUpdate.Version,
			)
		}

		if err := compareLevels(want.Asks, e.orderBookUpdate.Asks); err != nil {
			return errors.Annotatef(err, "orderbook update with version %v, asks", want.Version)
		}

		if err := compareLevels(want.Bids, e.orderBookUpdate.Bids); err != nil {
			return errors.Annotatef(err, "orderbook update with version %v, bids", want.Version)
		}

		return nil
	})

	if err != nil {
		return errors.Trace(err)
	}

	return nil
}

func (m *updaterMocks) expectStateUpdate(wantSync bool) error {
	err := m.expectEvent(updaterMockEventTypeStateUpdate, func(e updaterMockEvent) error {
		if e.stateUpdate.IsInSync != wantSync {
			return errors.Errorf(
				"wanted state update with IsInSync %v, got %+v", wantSync, e.stateUpdate,
			)
		}

		return nil
	})

	if err != nil {
		return errors.Trace(err)
	}

	return nil
}

func (m *updaterMocks) expectGetSnapshotError() error {
	err := m.expectEvent(updaterMockEventTypeGetSnapshotError, nil)
	if err != nil {
		return errors.Trace(err)
	}

	return nil
}

func (m *updaterMocks) expectInternalEvent(want internalEvent) error {
	err := m.expectEvent(updaterMockEventTypeInternalEvent, func(e updaterMockEvent) error {
		if e.internalEvent != want {
			return errors.Errorf("wanted internal event %v, got %v", want, e.internalEvent)
		}

		return nil
	})

	if err != nil {
		return errors.Trace(err)
	}

	return nil
}

func (m *updaterMocks) gettingSnapshot() {
	m.eventsChan <- updaterMockEvent{
		typ: updaterMockEventTypeGettingSnapshot,
	}
}

func (m *updaterMocks) internalEvent(e internalEvent) {
	m.eventsChan <- updaterMockEvent{
		typ:           updaterMockEventTypeInternalEvent,
		internalEvent: e,
	}
}

func (m *updaterMocks) receiveUpdate(updater *OrderBookUpdater, update common.DepthUpdate) error {
	updater.ReceiveUpdate(update)

	if err := m.expectInternalEvent(internalEventUpdateHandled); err != nil {
		return errors.Trace(err)
	}

	return nil
}

const testTimeFmt = "Jan 2, 2006 at 15:04:05 -0700"

func mustTimeParse(s string) time.Time {
	timeval, err := time.Parse(testTimeFmt, s)
	if err != nil {
		panic(err.Error())
	}

	return timeval.UTC()
}
