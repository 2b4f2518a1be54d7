package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"github.com/mexcdev/mexc-futures-go/auth"
	"github.com/mexcdev/mexc-futures-go/client/websocket/internal"
)

// The following errors are returned from the StreamClient.
var (
	// ErrNotConnected means the connection is not established when the client
	// tried to e.g. log in, send a message, or close the connection.
	ErrNotConnected = errors.New("not connected")

	// ErrConnLoopActive means the client tried to connect when the client is
	// already connecting.
	ErrConnLoopActive = errors.New("connection loop is already active")

	// ErrBadCredentials means the APIKey and/or SecretKey needed for login
	// were missing or empty.
	ErrBadCredentials = errors.New("bad credentials")

	// ErrNotAuthenticated means the operation requires a successful login
	// first.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// WSParams contains options for opening a websocket session.
type WSParams struct {
	// APIKey and SecretKey are needed for the login handshake which unlocks
	// private (account data) channels. Public market data works without them.
	APIKey    string
	SecretKey string

	// URL is the URL to connect to over websockets. You will not have to set
	// this unless testing against a non-production environment since a
	// default is always used.
	URL string

	// ReconnectOpts contains settings for how to reconnect if the client
	// becomes disconnected. Sensible defaults are used.
	ReconnectOpts *ReconnectOpts

	// PingInterval is how often a ping frame is sent on an established
	// connection; if no traffic at all is seen for twice this interval, the
	// connection is considered dead and is dropped (and then reconnected,
	// per ReconnectOpts). Default: 15 seconds.
	PingInterval time.Duration

	// LogLevel controls the client's logging verbosity; default is
	// logrus.WarnLevel. Logger, if set, is used as-is and LogLevel is
	// ignored.
	LogLevel logrus.Level
	Logger   *logrus.Logger
}

// ReconnectOpts are settings used to reconnect after being disconnected.
// The reconnect interval is fixed: every attempt waits the same Interval,
// and there is no limit on the number of attempts; only an explicit Close
// stops the loop.
type ReconnectOpts struct {
	// Reconnect switch: if true, the client will attempt to reconnect to the
	// websocket back end if it is disconnected. If false, the client will
	// stay disconnected.
	Reconnect bool

	// Interval between reconnection attempts. Values under a second are
	// raised to a second. Default: 5 seconds.
	Interval time.Duration
}

var defaultReconnectOpts = &ReconnectOpts{
	Reconnect: true,
	Interval:  5 * time.Second,
}

const defaultPingInterval = 15 * time.Second

// ConnState represents the websocket connection state
type ConnState int

// The following constants represent every possible ConnState.
const (
	// ConnStateDisconnected means we're disconnected and not trying to
	// connect. connLoop is not running.
	ConnStateDisconnected ConnState = iota

	// ConnStateWaitBeforeReconnect means we already tried to connect, but
	// then either the connection failed, or succeeded but later disconnected
	// for some reason (see stateCause), and now we're waiting for a timeout
	// before connecting again.
	ConnStateWaitBeforeReconnect

	// ConnStateConnecting means we're calling websocket.DefaultDialer.Dial()
	// right now.
	ConnStateConnecting

	// ConnStateConnected means the transport connection is established but
	// no login has completed: only public channels are live.
	ConnStateConnected

	// ConnStateAuthenticated means the login handshake has completed and
	// private channels are available.
	ConnStateAuthenticated

	// ConnStateAny can be used with OnStateChange() and OnStateChangeOpt()
	// in order to listen for all states.
	ConnStateAny = -1
)

// ConnStateNames contains human-readable names for connection states.
var ConnStateNames = map[ConnState]string{
	ConnStateDisconnected:        "disconnected",
	ConnStateWaitBeforeReconnect: "wait-before-reconnect",
	ConnStateConnecting:          "connecting",
	ConnStateConnected:           "connected",
	ConnStateAuthenticated:       "authenticated",
}

// AuthState represents the login handshake state. It's tracked separately
// from ConnState because the handshake is driven by explicit Login calls,
// and it resets to AuthStateUnauthenticated on every disconnect.
type AuthState int

const (
	AuthStateUnauthenticated AuthState = iota
	AuthStateLoginPending
	AuthStateAuthenticated
	AuthStateLoginFailed
)

// AuthStateNames contains human-readable names for authentication states.
var AuthStateNames = map[AuthState]string{
	AuthStateUnauthenticated: "unauthenticated",
	AuthStateLoginPending:    "login-pending",
	AuthStateAuthenticated:   "authenticated",
	AuthStateLoginFailed:     "login-failed",
}

// wsConn is the session core: it owns the transport, the subscription
// registry, the auth state and the event dispatcher, and it drives all
// transitions from a single eventLoop goroutine.
type wsConn struct {
	params WSParams

	log *logrus.Entry

	registry   *subRegistry
	dispatcher *dispatcher

	transport *internal.StreamTransportConn

	// Current state. Only touched from the eventLoop.
	state     ConnState
	authState AuthState

	// loginRequested is set once Login has been called with valid
	// credentials; it makes the session re-login automatically on every
	// reconnect before replaying private subscriptions.
	loginRequested bool

	// expectDisconnection is set to true when the client calls OnError
	// callbacks and initiates the disconnection. In this case, when the
	// actual disconnection happens, OnError callbacks won't be called with a
	// generic disconnection error.
	expectDisconnection bool

	stateListeners map[ConnState][]stateListener

	// onErrorCBs contains on-error handlers
	onErrorCBs []OnErrorCB

	// internalEvents is a channel of events handled by eventLoop. See
	// internalEvent struct.
	internalEvents chan internalEvent
}

// internalEvent represents an event handled in eventLoop. Each field
// represents one kind of the event, and only a single field should be
// non-nil.
type internalEvent struct {
	// rxData contains data received from the server via websocket.
	rxData []byte
	// transportStateUpdate represents an update of transport layer state.
	transportStateUpdate *transportStateUpdate

	reqOnStateChange *reqOnStateChange
	reqAddOnErrorCB  *reqAddOnErrorCB
	reqConnState     *reqConnState
	reqAuthState     *reqAuthState
	reqSubscriptions *reqSubscriptions
	reqSubscribe     *reqSubscribe
	reqUnsubscribe   *reqUnsubscribe
	reqLogin         *reqLogin
}

// reqOnStateChange is a request to add state listener
type reqOnStateChange struct {
	state ConnState
	cb    StateCallback
	opt   StateListenerOpt

	result chan<- struct{}
}

type reqAddOnErrorCB struct {
	cb     OnErrorCB
	result chan<- struct{}
}

// reqConnState is a client request of conn state via connState().
type reqConnState struct {
	result chan<- ConnState
}

// reqAuthState is a client request of auth state via authState().
type reqAuthState struct {
	result chan<- AuthState
}

// reqSubscriptions is a client request of the registry contents.
type reqSubscriptions struct {
	result chan<- []*StreamSubscription
}

// reqSubscribe is a client request via Subscribe().
type reqSubscribe struct {
	subs   []*StreamSubscription
	result chan<- error
}

// reqUnsubscribe is a client request via Unsubscribe().
type reqUnsubscribe struct {
	subs   []*StreamSubscription
	result chan<- error
}

// reqLogin is a client request via Login().
type reqLogin struct {
	result chan<- error
}

// transportStateUpdate is an update of transport layer state.
type transportStateUpdate struct {
	oldState internal.TransportState
	state    internal.TransportState

	cause error
}

// newWsConn creates a new websocket session with the given params.
//
// Note that clients should manually call Connect on a newly created
// session; the rationale is that clients might register some state and/or
// message handlers before the connection, to avoid any possible races.
func newWsConn(params *WSParams, initialSubs []*StreamSubscription) (*wsConn, error) {
	p := *params

	if p.URL == "" {
		// Should never happen since client code for that is in the same package.
		return nil, errors.New("internal error: URL is empty")
	}

	if p.ReconnectOpts == nil {
		p.ReconnectOpts = defaultReconnectOpts
	}

	if p.PingInterval <= 0 {
		p.PingInterval = defaultPingInterval
	}

	logger := p.Logger
	if logger == nil {
		logger = logrus.New()
		if p.LogLevel != 0 {
			logger.SetLevel(p.LogLevel)
		} else {
			logger.SetLevel(logrus.WarnLevel)
		}
	}
	log := logger.WithField("component", "websocket")

	transport, err := internal.NewStreamTransportConn(&internal.StreamTransportParams{
		URL: p.URL,

		Reconnect:        p.ReconnectOpts.Reconnect,
		ReconnectTimeout: p.ReconnectOpts.Interval,

		PingInterval: p.PingInterval,
		PingMessage:  pingFrame(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	c := &wsConn{
		params:         p,
		log:            log,
		registry:       newSubRegistry(initialSubs),
		dispatcher:     newDispatcher(log),
		transport:      transport,
		stateListeners: make(map[ConnState][]stateListener),
		internalEvents: make(chan internalEvent, 8),
	}

	transport.OnStateChange(
		func(_ *internal.StreamTransportConn, oldTransportState, transportState internal.TransportState, cause error) {
			c.internalEvents <- internalEvent{
				transportStateUpdate: &transportStateUpdate{
					oldState: oldTransportState,
					state:    transportState,
					cause:    cause,
				},
			}
		},
	)

	transport.OnRead(
		func(tc *internal.StreamTransportConn, data []byte) {
			c.internalEvents <- internalEvent{
				rxData: data,
			}
		},
	)

	// Start goroutine which handles all state together with client requests
	go c.eventLoop()

	return c, nil
}

// on registers an event handler; see dispatcher.register.
func (c *wsConn) on(event string, handler EventHandler) {
	c.dispatcher.register(event, handler)
}

// connect either starts a connection goroutine (if state is
// ConnStateDisconnected), or makes it connect immediately, ignoring timeout
// (if the state is ConnStateWaitBeforeReconnect). For other states, this
// returns an error.
//
// connect doesn't wait for the connection to establish; it returns
// immediately.
func (c *wsConn) connect() (err error) {
	defer func() {
		// Translate internal transport errors to public ones
		if errors.Cause(err) == internal.ErrConnLoopActive {
			err = errors.Trace(ErrConnLoopActive)
		}
	}()

	if err := c.transport.Connect(); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// disconnect sends a "normal closure" websocket message to the server,
// causing it to disconnect, and when we receive the actual disconnection
// soon, the cause error given to the clients will be the cause given to
// disconnect.
//
// If cause is nil, then the upcoming disconnection error will be passed to
// clients as is.
//
// NOTE: disconnect should only be called from the eventLoop.
func (c *wsConn) disconnect(cause error) {
	c.disconnectOpt(cause, websocket.CloseNormalClosure, "")
}

// disconnectOpt sends a websocket closure message (with given closeCode and
// text) to the server. NOTE: disconnectOpt should only be called from the
// eventLoop.
func (c *wsConn) disconnectOpt(cause error, closeCode int, text string) {
	closeErr := c.transport.CloseOpt(
		websocket.FormatCloseMessage(closeCode, text),
		false,
	)
	if closeErr != nil {
		return
	}

	if cause != nil {
		c.expectDisconnection = true
		c.callOnErrorCBs(cause, true)
	}
}

// close stops the connection (or reconnection loop, if active), and if
// websocket connection is active at the moment, closes it as well. After
// close returns, no reconnection attempt will happen: a reconnect timer
// firing concurrently can't resurrect the connection, since the conn loop
// context is canceled first.
func (c *wsConn) close() (err error) {
	defer func() {
		// Translate internal transport errors to public ones
		if errors.Cause(err) == internal.ErrNotConnected {
			err = errors.Trace(ErrNotConnected)
		}
	}()

	if err = c.transport.Close(); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// StateCallback is a signature of a state listener. Arguments prevState and
// curState are self-descriptive.
//
// See onStateChange.
type StateCallback func(prevState, curState ConnState)

// OnErrorCB is a signature of an error listener. If the error is going to
// cause the disconnection, disconnecting is set to true. In this case, the
// error listeners are always called before the state listeners, so
// applications can just save the error, and display it later, when the
// disconnection actually happens.
type OnErrorCB func(err error, disconnecting bool)

type StateListenerOpt struct {
	// If OneOff is true, the listener will only be called once; otherwise
	// it'll be called every time the requested state becomes active.
	OneOff bool

	// If CallImmediately is true, and the state being subscribed to is
	// active at the moment, the callback will be called immediately (with
	// the "old" state being equal to the new one)
	CallImmediately bool
}

// onStateChange registers a new listener for the given state. The listener
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
func (c *wsConn) onStateChange(state ConnState, cb StateCallback) {
	c.onStateChangeOpt(state, cb, StateListenerOpt{})
}

// onStateChangeOpt is like onStateChange, but also takes additional
// options; see StateListenerOpt for details.
func (c *wsConn) onStateChangeOpt(state ConnState, cb StateCallback, opt StateListenerOpt) {
	result := make(chan struct{})

	c.internalEvents <- internalEvent{
		reqOnStateChange: &reqOnStateChange{
			state: state,
			cb:    cb,
			opt:   opt,

			result: result,
		},
	}

	<-result
}

func (c *wsConn) onError(cb OnErrorCB) {
	result := make(chan struct{})

	c.internalEvents <- internalEvent{
		reqAddOnErrorCB: &reqAddOnErrorCB{
			cb:     cb,
			result: result,
		},
	}

	<-result
}

// ConnClosedCallback defines the callback function for onConnClosed.
type ConnClosedCallback func(state ConnState)

// onConnClosed allows the client to set a callback for when the connection
// is lost. The new state of the client could be ConnStateDisconnected or
// ConnStateWaitBeforeReconnect.
func (c *wsConn) onConnClosed(cb ConnClosedCallback) {
	c.onStateChange(ConnStateDisconnected, func(_, curState ConnState) {
		cb(curState)
	})
	c.onStateChange(ConnStateWaitBeforeReconnect, func(_, curState ConnState) {
		cb(curState)
	})
}

// getSubscriptions returns the current subscriptions, in the order they
// were added.
func (c *wsConn) getSubscriptions() []*StreamSubscription {
	result := make(chan []*StreamSubscription, 1)

	c.internalEvents <- internalEvent{
		reqSubscriptions: &reqSubscriptions{
			result: result,
		},
	}

	return <-result
}

// subscribe records the given entries in the registry and, if the
// connection is currently established, sends the corresponding subscribe
// frames. Entries added while disconnected (or, for private channels, while
// not yet authenticated) are queued and sent once the session reaches the
// appropriate state.
func (c *wsConn) subscribe(subs []*StreamSubscription) error {
	result := make(chan error, 1)

	c.internalEvents <- internalEvent{
		reqSubscribe: &reqSubscribe{
			subs:   subs,
			result: result,
		},
	}

	return <-result
}

// unsubscribe removes the given entries from the registry, and sends the
// corresponding unsubscribe frames if connected. Unsubscribing from an
// unknown entry is a no-op.
func (c *wsConn) unsubscribe(subs []*StreamSubscription) error {
	result := make(chan error, 1)

	c.internalEvents <- internalEvent{
		reqUnsubscribe: &reqUnsubscribe{
			subs:   subs,
			result: result,
		},
	}

	return <-result
}

// login performs the signed login handshake. Valid only while connected;
// the result of the handshake is delivered via the "login" or
// "login_failed" events.
func (c *wsConn) login() error {
	result := make(chan error, 1)

	c.internalEvents <- internalEvent{
		reqLogin: &reqLogin{
			result: result,
		},
	}

	return <-result
}

// connState returns current client connection state.
func (c *wsConn) connState() ConnState {
	result := make(chan ConnState, 1)

	c.internalEvents <- internalEvent{
		reqConnState: &reqConnState{
			result: result,
		},
	}

	return <-result
}

// getAuthState returns current authentication state.
func (c *wsConn) getAuthState() AuthState {
	result := make(chan AuthState, 1)

	c.internalEvents <- internalEvent{
		reqAuthState: &reqAuthState{
			result: result,
		},
	}

	return <-result
}

// url returns the url the client is connected to.
func (c *wsConn) url() string {
	return c.params.URL
}

// stateListener wraps a state change callback and a flag of whether the
// callback is one-off (one-off listeners are only called once, on the next
// event)
type stateListener struct {
	cb  StateCallback
	opt StateListenerOpt
}

type callStateListenersReq struct {
	listeners       []stateListener
	oldState, state ConnState
}

// NOTE: updateState should only be called from the eventLoop.
func (c *wsConn) updateState(state ConnState) {
	if c.state == state {
		// No need to do anything
		return
	}

	oldState := c.state
	c.state = state

	c.log.WithFields(logrus.Fields{
		"old": ConnStateNames[oldState],
		"new": ConnStateNames[state],
	}).Debug("connection state changed")

	// Collect all listeners to call now
	listeners := append(c.stateListeners[state], c.stateListeners[ConnStateAny]...)

	// Remove one-off listeners
	c.stateListeners[state] = removeOneOff(c.stateListeners[state])
	c.stateListeners[ConnStateAny] = removeOneOff(c.stateListeners[ConnStateAny])

	c.callStateListeners(&callStateListenersReq{
		listeners: listeners,
		oldState:  oldState,
		state:     state,
	})
}

// NOTE: callOnErrorCBs should only be called from the eventLoop.
func (c *wsConn) callOnErrorCBs(err error, disconnecting bool) {
	for _, cb := range c.onErrorCBs {
		cb(err, disconnecting)
	}
}

// removeOneOff takes a slice of listeners and returns a new one, with
// one-off listeners removed.
func removeOneOff(listeners []stateListener) []stateListener {

	newListeners := []stateListener{}

	for _, sl := range listeners {
		if !sl.opt.OneOff {
			newListeners = append(newListeners, sl)
		}
	}

	return newListeners
}

// sendJSON sends an already-encoded frame to the websocket if it's
// connected; a "not connected" error is returned otherwise.
func (c *wsConn) sendJSON(ctx context.Context, data []byte) (err error) {
	defer func() {
		if errors.Cause(err) == internal.ErrNotConnected {
			err = errors.Trace(ErrNotConnected)
		}
	}()

	c.log.WithField("frame", string(data)).Debug("sending")

	if err := c.transport.Send(ctx, data); err != nil {
		return errors.Trace(err)
	}

	return nil
}

// NOTE: sendSubscribe should only be called from the eventLoop.
func (c *wsConn) sendSubscribe(sub *StreamSubscription) error {
	frame, err := subscribeFrame(sub)
	if err != nil {
		return errors.Trace(err)
	}

	if err := c.sendJSON(context.Background(), frame); err != nil {
		return errors.Annotatef(err, "subscribe")
	}

	return nil
}

// NOTE: sendUnsubscribe should only be called from the eventLoop.
func (c *wsConn) sendUnsubscribe(sub *StreamSubscription) error {
	frame, err := unsubscribeFrame(sub)
	if err != nil {
		return errors.Trace(err)
	}

	if err := c.sendJSON(context.Background(), frame); err != nil {
		return errors.Annotatef(err, "unsubscribe")
	}

	return nil
}

// syncPersonalFilter sends one personal.filter frame covering the full
// current private subscription set. The server treats the filter list as a
// replacement, so partial updates are never sent.
//
// An empty private set sends nothing: the server interprets an empty filter
// list as "all private data", so sending it after the last private
// unsubscription would turn every private push on instead of off.
//
// NOTE: syncPersonalFilter should only be called from the eventLoop, and
// only when authenticated.
func (c *wsConn) syncPersonalFilter() error {
	private := c.registry.private()
	if len(private) == 0 {
		c.log.Debug("private set is empty, not sending personal.filter")
		return nil
	}

	frame, err := personalFilterFrame(private)
	if err != nil {
		return errors.Trace(err)
	}

	if err := c.sendJSON(context.Background(), frame); err != nil {
		return errors.Annotatef(err, "personal filter")
	}

	return nil
}

// sendLogin builds and sends the signed login frame, and moves auth state
// to login-pending.
//
// NOTE: sendLogin should only be called from the eventLoop.
func (c *wsConn) sendLogin() error {
	reqTime := auth.ReqTime(time.Now())

	signature, err := auth.Sign(c.params.SecretKey, c.params.APIKey, reqTime)
	if err != nil {
		return errors.Trace(ErrBadCredentials)
	}

	frame, err := loginFrame(c.params.APIKey, signature, reqTime)
	if err != nil {
		return errors.Trace(err)
	}

	if err := c.sendJSON(context.Background(), frame); err != nil {
		return errors.Annotatef(err, "login")
	}

	c.authState = AuthStateLoginPending

	return nil
}

// replaySubscriptions re-sends the registry contents on a fresh connection:
// public entries right away (in the order they were added), and, if a login
// had been requested before, the login frame; private entries follow only
// after the login acknowledgement (see handleLoginResult).
//
// NOTE: replaySubscriptions should only be called from the eventLoop.
func (c *wsConn) replaySubscriptions() {
	for _, sub := range c.registry.all() {
		if sub.Private() {
			continue
		}

		if err := c.sendSubscribe(sub); err != nil {
			c.log.WithField("subscription", sub).WithError(err).Warn("replay failed")
		}
	}

	if c.loginRequested {
		if err := c.sendLogin(); err != nil {
			c.log.WithError(err).Warn("re-login failed")
		}
	}
}

// handleLoginResult processes an rs.login acknowledgement.
//
// NOTE: handleLoginResult should only be called from the eventLoop.
func (c *wsConn) handleLoginResult(msg *StreamMessage) {
	if ackSuccess(msg.Data) {
		c.authState = AuthStateAuthenticated
		c.updateState(ConnStateAuthenticated)
		c.log.Info("login successful")
		c.dispatcher.dispatch(EventLogin, msg)

		// Private subscriptions were held back until now.
		if len(c.registry.private()) > 0 {
			if err := c.syncPersonalFilter(); err != nil {
				c.log.WithError(err).Warn("private replay failed")
			}
		}

		return
	}

	c.authState = AuthStateLoginFailed
	c.log.WithField("data", string(msg.Data)).Error("login failed")
	c.dispatcher.dispatch(EventLoginFailed, msg.Data)
}

// handleMessage routes a decoded inbound frame: acknowledgements drive
// session state, push channels are handed to the dispatcher.
//
// NOTE: handleMessage should only be called from the eventLoop.
func (c *wsConn) handleMessage(msg *StreamMessage) {
	switch msg.Channel {
	case "pong":
		c.dispatcher.dispatch(EventPong, msg.Data)

	case "rs.login":
		c.handleLoginResult(msg)

	case "rs.personal.filter":
		if ackSuccess(msg.Data) {
			c.dispatcher.dispatch(EventSubscribed, &SubscriptionAck{
				Channel: "personal",
				Data:    msg.Data,
			})
		} else {
			c.dispatcher.dispatch(EventError, &ServerError{
				Channel: "personal.filter",
				Data:    msg.Data,
			})
		}

	case "rs.error":
		c.log.WithField("data", string(msg.Data)).Error("server error")
		c.dispatcher.dispatch(EventError, &ServerError{Data: msg.Data})

	default:
		if name, isSub, ok := ackChannel(msg.Channel); ok {
			event := EventSubscribed
			if !isSub {
				event = EventUnsubscribed
			}

			// A subscribe rejection is surfaced as an error; the registry
			// entry is left as the caller requested it, so a retry (or the
			// next replay) can be attempted.
			if len(msg.Data) != 0 && !ackSuccess(msg.Data) {
				c.dispatcher.dispatch(EventError, &ServerError{
					Channel: msg.Channel,
					Data:    msg.Data,
				})
				return
			}

			c.dispatcher.dispatch(event, &SubscriptionAck{
				Channel: name,
				Data:    msg.Data,
			})
			return
		}

		c.dispatchData(msg)
	}
}

// dispatchData hands a push frame to the dispatcher under its mapped event
// name; frames on unknown channels go out under the catch-all "message"
// event. Either way the payload is the whole frame, so handlers see the
// envelope symbol and timestamp too.
func (c *wsConn) dispatchData(msg *StreamMessage) {
	c.dispatcher.dispatch(eventNameForChannel(msg.Channel), msg)
}

// eventLoop handles all internal events like transport state change,
// received data, or client calls. It is the single place where session
// state (conn state, auth state, the registry) is mutated, which is what
// makes concurrent Subscribe/Login/Close calls safe.
func (c *wsConn) eventLoop() {
	for {
		event := <-c.internalEvents

		if tsu := event.transportStateUpdate; tsu != nil {
			// Transport layer state changed.

			switch tsu.state {
			case
				internal.TransportStateDisconnected,
				internal.TransportStateWaitBeforeReconnect,
				internal.TransportStateConnecting:

				var state ConnState
				switch tsu.state {
				case internal.TransportStateDisconnected:
					state = ConnStateDisconnected
				case internal.TransportStateWaitBeforeReconnect:
					state = ConnStateWaitBeforeReconnect
				case internal.TransportStateConnecting:
					state = ConnStateConnecting
				}

				// Only call on-error callbacks if we didn't expect
				// disconnection; otherwise we have already called on-error
				// callbacks earlier, with the concrete error.
				if !c.expectDisconnection && tsu.cause != nil {
					c.callOnErrorCBs(tsu.cause, true)
				}
				c.expectDisconnection = false

				// Auth does not survive the connection; private channels
				// become live again only after the automatic re-login.
				wasOpen := c.state >= ConnStateConnected
				c.authState = AuthStateUnauthenticated

				c.updateState(state)

				if wasOpen {
					c.dispatcher.dispatch(EventDisconnected, &DisconnectInfo{Cause: tsu.cause})
				} else if tsu.cause != nil {
					c.dispatcher.dispatch(EventError, tsu.cause)
				}

			case internal.TransportStateConnected:
				c.updateState(ConnStateConnected)
				c.dispatcher.dispatch(EventConnected, nil)

				c.replaySubscriptions()
			}
		} else if data := event.rxData; data != nil {
			msg, err := parseStreamMessage(data)
			if err != nil {
				// A malformed frame is dropped; the connection stays up.
				c.log.WithError(err).Warn("dropping malformed frame")
				continue
			}

			c.handleMessage(msg)
		} else if al := event.reqOnStateChange; al != nil {
			// Request to add a new state listener.

			sl := stateListener{
				cb:  al.cb,
				opt: al.opt,
			}

			// Determine whether the callback should be called right now
			callNow := al.opt.CallImmediately && (al.state == c.state || al.state == ConnStateAny)

			// Update stored listeners if needed
			if !al.opt.OneOff || !callNow {
				c.stateListeners[al.state] = append(c.stateListeners[al.state], sl)
			}

			if callNow {
				c.callStateListeners(&callStateListenersReq{
					listeners: []stateListener{sl},
					oldState:  c.state,
					state:     c.state,
				})
			}

			al.result <- struct{}{}
		} else if req := event.reqAddOnErrorCB; req != nil {
			c.onErrorCBs = append(c.onErrorCBs, req.cb)

			req.result <- struct{}{}
		} else if req := event.reqConnState; req != nil {
			req.result <- c.state
		} else if req := event.reqAuthState; req != nil {
			req.result <- c.authState
		} else if req := event.reqSubscriptions; req != nil {
			req.result <- c.registry.all()
		} else if req := event.reqSubscribe; req != nil {
			req.result <- c.subscribeInternal(req.subs)
		} else if req := event.reqUnsubscribe; req != nil {
			req.result <- c.unsubscribeInternal(req.subs)
		} else if req := event.reqLogin; req != nil {
			req.result <- c.loginInternal()
		}
	}
}

// NOTE: subscribeInternal should only be called from the eventLoop.
func (c *wsConn) subscribeInternal(subs []*StreamSubscription) error {
	var privateChanged bool

	for _, sub := range subs {
		c.registry.add(sub)

		if c.state < ConnStateConnected {
			// Not connected yet: the entry is queued in the registry and
			// will be sent when the connection is established.
			continue
		}

		if sub.Private() {
			privateChanged = true
			continue
		}

		// A duplicate subscribe is idempotent on the registry, but the frame
		// is still sent, so the caller gets a fresh confirmation.
		if err := c.sendSubscribe(sub); err != nil {
			return errors.Trace(err)
		}
	}

	if privateChanged && c.authState == AuthStateAuthenticated {
		if err := c.syncPersonalFilter(); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

// NOTE: unsubscribeInternal should only be called from the eventLoop.
func (c *wsConn) unsubscribeInternal(subs []*StreamSubscription) error {
	var privateChanged bool

	for _, sub := range subs {
		present := c.registry.remove(sub)

		if c.state < ConnStateConnected {
			continue
		}

		if sub.Private() {
			privateChanged = privateChanged || present
			continue
		}

		if err := c.sendUnsubscribe(sub); err != nil {
			return errors.Trace(err)
		}
	}

	if privateChanged && c.authState == AuthStateAuthenticated {
		if err := c.syncPersonalFilter(); err != nil {
			return errors.Trace(err)
		}
	}

	return nil
}

// NOTE: loginInternal should only be called from the eventLoop.
func (c *wsConn) loginInternal() error {
	if c.params.APIKey == "" || c.params.SecretKey == "" {
		return errors.Trace(ErrBadCredentials)
	}

	if c.state < ConnStateConnected {
		return errors.Trace(ErrNotConnected)
	}

	if err := c.sendLogin(); err != nil {
		return errors.Trace(err)
	}

	// From now on every reconnect re-authenticates before replaying private
	// subscriptions.
	c.loginRequested = true

	return nil
}

// NOTE: callStateListeners should only be called from the eventLoop, to
// ensure that all callbacks are only invoked from a single goroutine.
func (c *wsConn) callStateListeners(req *callStateListenersReq) {
	for _, sl := range req.listeners {
		sl.cb(req.oldState, req.state)
	}
}
