package piper

import (
	"context"
	"errors"
	"sync"
)

// FanIn merges the messages of several Receivers into a single channel.
// Each delivered Message carries the payload in Value and the originating
// *Receiver in Source. Order is preserved per Receiver only.
//
// When a Receiver stops for any reason other than a clean close, one final
// Message with Error set is delivered for it.
type FanIn struct {
	outChan  chan Message[[]byte]
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	inputs   map[*Receiver]struct{}
	onDone   func(fi *FanIn, r *Receiver)
	stopped  bool
	stopOnce sync.Once
}

// NewFanIn creates a FanIn over the given receivers. The output channel is
// unbuffered and closed by Stop.
func NewFanIn(receivers ...*Receiver) *FanIn {
	ctx, cancel := context.WithCancel(context.Background())
	fi := &FanIn{
		outChan: make(chan Message[[]byte]),
		ctx:     ctx,
		cancel:  cancel,
		inputs:  make(map[*Receiver]struct{}),
	}
	fi.Add(receivers...)
	return fi
}

// OnReceiverDone sets a callback invoked when a receiver's stream ends so the
// caller can perform other cleanups etc based on this. It may be set at any
// time; receivers that ended earlier are not reported.
func (fi *FanIn) OnReceiverDone(fn func(fi *FanIn, r *Receiver)) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.onDone = fn
}

// RecvChan returns the channel on which merged output can be received.
func (fi *FanIn) RecvChan() <-chan Message[[]byte] {
	return fi.outChan
}

// Add starts forwarding from one or more receivers. Receivers added after
// Stop are ignored. Panics if any receiver is nil.
func (fi *FanIn) Add(receivers ...*Receiver) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	if fi.stopped {
		return
	}
	for _, r := range receivers {
		if r == nil {
			panic("Cannot add nil receivers")
		}
		if _, ok := fi.inputs[r]; ok {
			continue
		}
		fi.inputs[r] = struct{}{}
		fi.wg.Add(1)
		go fi.forward(r)
	}
}

// Count returns the number of receivers currently being forwarded.
func (fi *FanIn) Count() int {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return len(fi.inputs)
}

// IsRunning returns true until Stop is called.
func (fi *FanIn) IsRunning() bool {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return !fi.stopped
}

// Stop ends forwarding and closes the output channel. Messages not yet taken
// from their Receivers stay queued there; a message that was in hand while
// waiting for a consumer is dropped.
func (fi *FanIn) Stop() error {
	fi.stopOnce.Do(func() {
		fi.mu.Lock()
		fi.stopped = true
		fi.mu.Unlock()
		fi.cancel()
		fi.wg.Wait()
		close(fi.outChan)
	})
	return nil
}

func (fi *FanIn) forward(r *Receiver) {
	defer fi.wg.Done()
	for {
		msg, err := r.ReceiveContext(fi.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if !errors.Is(err, ErrPeerClosed) {
				fi.deliver(Message[[]byte]{Error: err, Source: r})
			}
			fi.receiverDone(r)
			return
		}
		if !fi.deliver(Message[[]byte]{Value: msg, Source: r}) {
			return
		}
	}
}

func (fi *FanIn) deliver(msg Message[[]byte]) bool {
	select {
	case fi.outChan <- msg:
		return true
	case <-fi.ctx.Done():
		return false
	}
}

func (fi *FanIn) receiverDone(r *Receiver) {
	fi.mu.Lock()
	delete(fi.inputs, r)
	onDone := fi.onDone
	fi.mu.Unlock()
	if onDone != nil {
		onDone(fi, r)
	}
}
