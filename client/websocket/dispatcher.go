package websocket

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Built-in lifecycle events, synthesized by the client itself. Data events
// ("ticker", "deal", "depth", "order_update", ...) use the channel-derived
// names from channelEventNames.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventLogin        = "login"
	EventLoginFailed  = "login_failed"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
	EventPong         = "pong"

	// EventMessage receives frames on channels nobody interprets.
	EventMessage = "message"
)

// EventHandler is a callback registered with On. Each handler runs on its
// own goroutine: a slow or panicking handler never blocks the receive loop
// or its sibling handlers.
type EventHandler func(payload interface{})

const handlerQueueSize = 128

// handlerWorker owns one registered handler. Events are delivered to the
// worker's queue and invoked one at a time, so a single handler always
// observes events in dispatch order.
type handlerWorker struct {
	event   string
	handler EventHandler
	queue   chan interface{}
}

// dispatcher routes decoded events to registered handlers by event name.
// Registration order is preserved per event. Handlers never run
// concurrently with themselves, but different handlers run independently.
type dispatcher struct {
	log *logrus.Entry

	mtx     sync.Mutex
	workers map[string][]*handlerWorker
}

func newDispatcher(log *logrus.Entry) *dispatcher {
	return &dispatcher{
		log:     log,
		workers: make(map[string][]*handlerWorker),
	}
}

// register appends the handler to the event's list and starts its worker.
// Multiple handlers for the same event are all invoked for every matching
// message.
func (d *dispatcher) register(event string, handler EventHandler) {
	w := &handlerWorker{
		event:   event,
		handler: handler,
		queue:   make(chan interface{}, handlerQueueSize),
	}

	go d.runWorker(w)

	d.mtx.Lock()
	defer d.mtx.Unlock()

	d.workers[event] = append(d.workers[event], w)
}

// dispatch hands the payload off to every handler registered for the event.
// Events with no registered handler are dropped silently. The hand-off never
// blocks the caller: if a handler can't keep up and its queue overflows, the
// event is dropped for that handler (and logged).
func (d *dispatcher) dispatch(event string, payload interface{}) {
	d.mtx.Lock()
	workers := d.workers[event]
	d.mtx.Unlock()

	for _, w := range workers {
		select {
		case w.queue <- payload:
		default:
			d.log.WithField("event", event).Warn("handler queue full, dropping event")
		}
	}
}

func (d *dispatcher) runWorker(w *handlerWorker) {
	for payload := range w.queue {
		d.invoke(w, payload)
	}
}

// invoke calls the worker's handler, containing any panic: a handler failure
// is logged and never propagates to the receive loop or to other handlers.
func (d *dispatcher) invoke(w *handlerWorker, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithFields(logrus.Fields{
				"event": w.event,
				"panic": r,
			}).Error("event handler panicked")
		}
	}()

	w.handler(payload)
}
