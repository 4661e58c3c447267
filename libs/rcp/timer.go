package rcp

import "time"

// resettableTimer runs one action at a movable deadline. Rearming replaces
// the deadline; the zero time disarms. reset never blocks the caller, so a
// flood of rearms while the action holds the connection lock cannot deadlock
// the pair; a dropped rearm only means the action fires early, and a spurious
// retransmission is harmless.
type resettableTimer struct {
	deadlines chan time.Time
	dead      chan struct{}
}

func newTimer(action func()) *resettableTimer {
	rt := &resettableTimer{
		deadlines: make(chan time.Time, 32),
		dead:      make(chan struct{}),
	}
	go func() {
		dline := time.Now().Add(time.Hour * 200000)
		for {
			select {
			case <-time.After(dline.Sub(time.Now())):
				action()
				dline = time.Now().Add(time.Hour * 200000)
			case d := <-rt.deadlines:
				if d.IsZero() {
					dline = time.Now().Add(time.Hour * 200000)
				} else {
					dline = d
				}
			case <-rt.dead:
				return
			}
		}
	}()
	return rt
}

func (rt *resettableTimer) reset(d time.Duration) {
	select {
	case <-rt.dead:
		return
	default:
	}
	select {
	case rt.deadlines <- time.Now().Add(d):
	default:
	}
}

func (rt *resettableTimer) stop() {
	select {
	case <-rt.dead:
		return
	default:
	}
	select {
	case rt.deadlines <- time.Time{}:
	default:
	}
}

// kill tears the timer goroutine down. Must be called exactly once; reset and
// stop degrade to no-ops afterwards.
func (rt *resettableTimer) kill() {
	close(rt.dead)
}
