// Package timer owns the per-room poll countdowns: a periodic tick signal
// plus a one-shot failsafe guarding against a stalled tick path.
package timer

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// failsafeSlack is how long after the nominal duration the one-shot
// failsafe fires if the tick path never reached zero.
const failsafeSlack = 100 * time.Millisecond

// TickFunc receives the remaining whole seconds once per second.
type TickFunc func(remainingSeconds int)

// ExpireFunc runs once when the countdown ends, from either the tick path
// or the failsafe, whichever signals first.
type ExpireFunc func()

type countdown struct {
	endTime time.Time
	cancel  chan struct{}
}

// Timers manages at most one armed countdown per room.
type Timers struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	logger *zap.Logger
	rooms  map[string]*countdown
}

// New creates a timer registry on the given clock.
func New(clock clockwork.Clock, logger *zap.Logger) *Timers {
	return &Timers{
		clock:  clock,
		logger: logger,
		rooms:  make(map[string]*countdown),
	}
}

// Arm starts a countdown for a room, replacing any armed one. onTick is
// invoked once per second with the remaining whole seconds (clamped at
// zero); onExpire is invoked exactly once when time runs out.
func (t *Timers) Arm(roomCode string, duration time.Duration, onTick TickFunc, onExpire ExpireFunc) {
	t.Disarm(roomCode)

	cd := &countdown{
		endTime: t.clock.Now().Add(duration),
		cancel:  make(chan struct{}),
	}
	t.mu.Lock()
	t.rooms[roomCode] = cd
	t.mu.Unlock()

	go t.run(roomCode, cd, duration, onTick, onExpire)

	t.logger.Debug("timer armed",
		zap.String("room", roomCode),
		zap.Duration("duration", duration),
	)
}

// Disarm cancels a room's countdown. Idempotent; safe to call while a tick
// or failsafe signal is already pending.
func (t *Timers) Disarm(roomCode string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cd, ok := t.rooms[roomCode]
	if !ok {
		return
	}
	delete(t.rooms, roomCode)
	close(cd.cancel)
}

// Remaining returns the whole seconds left on a room's countdown, and
// whether one is armed.
func (t *Timers) Remaining(roomCode string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cd, ok := t.rooms[roomCode]
	if !ok {
		return 0, false
	}
	return remainingSeconds(cd.endTime, t.clock.Now()), true
}

func (t *Timers) run(roomCode string, cd *countdown, duration time.Duration, onTick TickFunc, onExpire ExpireFunc) {
	ticker := t.clock.NewTicker(time.Second)
	failsafe := t.clock.NewTimer(duration + failsafeSlack)
	defer func() {
		ticker.Stop()
		stopAndDrainTimer(failsafe)
	}()

	for {
		select {
		case <-cd.cancel:
			return
		case <-ticker.Chan():
			remaining := remainingSeconds(cd.endTime, t.clock.Now())
			onTick(remaining)
			if remaining <= 0 {
				t.clear(roomCode, cd)
				onExpire()
				return
			}
		case <-failsafe.Chan():
			t.logger.Debug("failsafe expiry fired", zap.String("room", roomCode))
			t.clear(roomCode, cd)
			onExpire()
			return
		}
	}
}

// clear removes the countdown entry from the expiry path without closing
// the cancel channel (the running goroutine is the caller). It only
// removes its own entry so a re-armed timer for the room survives.
func (t *Timers) clear(roomCode string, cd *countdown) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[roomCode] == cd {
		delete(t.rooms, roomCode)
	}
}

// stopAndDrainTimer stops a timer and drains its channel so the goroutine
// does not leak a pending signal.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

func remainingSeconds(endTime, now time.Time) int {
	remaining := int(math.Ceil(endTime.Sub(now).Seconds()))
	if remaining < 0 {
		return 0
	}
	return remaining
}
