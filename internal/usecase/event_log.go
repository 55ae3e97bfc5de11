package usecase

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultEventBuffer = 1024

// Event is one human-readable line for the host's log view.
type Event struct {
	Time    time.Time `json:"time"`
	Symbol  string    `json:"symbol,omitempty"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// EventLog is the append-only stream consumed by the host. Producers never
// block: when the consumer falls behind, new events are dropped and counted.
type EventLog struct {
	ch      chan Event
	dropped atomic.Int64
	clock   Clock
}

func NewEventLog(buffer int, clock Clock) *EventLog {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	if clock == nil {
		clock = RealClock()
	}
	return &EventLog{ch: make(chan Event, buffer), clock: clock}
}

func (l *EventLog) Emit(symbol, level, message string) {
	ev := Event{Time: l.clock.Now(), Symbol: symbol, Level: level, Message: message}
	select {
	case l.ch <- ev:
	default:
		l.dropped.Add(1)
	}
}

// Events is the consumer side of the stream.
func (l *EventLog) Events() <-chan Event { return l.ch }

func (l *EventLog) Dropped() int64 { return l.dropped.Load() }

// reporter writes the same message to zap and to the event stream.
type reporter struct {
	logger *zap.Logger
	events *EventLog
}

func (r reporter) info(symbol, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logger.Info(msg, zap.String("symbol", symbol))
	r.events.Emit(symbol, "info", msg)
}

func (r reporter) warn(symbol string, err error, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		r.logger.Warn(msg, zap.String("symbol", symbol), zap.Error(err))
		msg = msg + ": " + err.Error()
	} else {
		r.logger.Warn(msg, zap.String("symbol", symbol))
	}
	r.events.Emit(symbol, "warn", msg)
}

func (r reporter) error(symbol string, err error, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logger.Error(msg, zap.String("symbol", symbol), zap.Error(err))
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	r.events.Emit(symbol, "error", msg)
}
