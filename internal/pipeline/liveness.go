package pipeline

import (
	"sync/atomic"
	"time"
)

// liveness watches the time since the last flushed chunk and terminates the
// run when it exceeds the inactivity timeout. It is the only concurrent
// reader of the last-activity timestamp, which the run loop updates through
// an atomic store. Halfway to the timeout it signals a stall (the session's
// Idle state) and signals resumption when activity returns.
type liveness struct {
	last      *atomic.Int64
	timeout   time.Duration
	terminate func()
	onStall   func()
	onResume  func()

	timedOut atomic.Bool
	silence  atomic.Int64
	stop     chan struct{}
	done     chan struct{}
}

func newLiveness(last *atomic.Int64, timeout time.Duration, terminate func(), onStall, onResume func()) *liveness {
	last.Store(time.Now().UnixNano())
	return &liveness{
		last:      last,
		timeout:   timeout,
		terminate: terminate,
		onStall:   onStall,
		onResume:  onResume,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// start launches the monitor goroutine.
func (m *liveness) start() {
	tick := m.timeout / 10
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		stalled := false
		stallAfter := m.timeout / 2

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				silence := time.Since(time.Unix(0, m.last.Load()))
				if silence >= m.timeout {
					m.silence.Store(int64(silence))
					m.timedOut.Store(true)
					m.terminate()
					return
				}
				if silence >= stallAfter && !stalled {
					stalled = true
					if m.onStall != nil {
						m.onStall()
					}
				} else if silence < stallAfter && stalled {
					stalled = false
					if m.onResume != nil {
						m.onResume()
					}
				}
			}
		}
	}()
}

// halt stops the monitor and waits for it to exit.
func (m *liveness) halt() {
	select {
	case <-m.done:
	default:
		close(m.stop)
		<-m.done
	}
}

// err returns the timeout error if the monitor fired, nil otherwise.
func (m *liveness) err() error {
	if !m.timedOut.Load() {
		return nil
	}
	return &InactivityTimeoutError{Silence: time.Duration(m.silence.Load()).Truncate(time.Millisecond)}
}
