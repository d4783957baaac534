package presentment

import (
	"errors"
	"sync"

	"mdocholder/internal/domain"
)

// ErrObserverRegistered is returned when a channel is registered twice.
var ErrObserverRegistered = errors.New("presentment: channel already registered")

// observer is one registration. done is closed on unregister so a delivery
// blocked on an abandoned channel gives up.
type observer struct {
	ch   chan<- domain.StateEvent
	done chan struct{}
}

// dispatcher delivers state events to registered channels in publication
// order from a single goroutine. publish never blocks, so it can be called
// with the service lock held; observers can call back into the service.
type dispatcher struct {
	mu        sync.Mutex
	queue     []domain.StateEvent
	observers []observer
	wake      chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) register(ch chan<- domain.StateEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, o := range d.observers {
		if o.ch == ch {
			return ErrObserverRegistered
		}
	}
	d.observers = append(d.observers, observer{ch: ch, done: make(chan struct{})})
	return nil
}

func (d *dispatcher) unregister(ch chan<- domain.StateEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, o := range d.observers {
		if o.ch == ch {
			close(o.done)
			d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
			return
		}
	}
}

func (d *dispatcher) publish(ev domain.StateEvent) {
	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	for {
		select {
		case <-d.stop:
			return
		case <-d.wake:
		}
		for {
			d.mu.Lock()
			if len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			ev := d.queue[0]
			d.queue = d.queue[1:]
			observers := append([]observer(nil), d.observers...)
			d.mu.Unlock()

			for _, o := range observers {
				select {
				case o.ch <- ev:
				case <-o.done:
				case <-d.stop:
					return
				}
			}
		}
	}
}

func (d *dispatcher) close() {
	d.stopOnce.Do(func() { close(d.stop) })
}
