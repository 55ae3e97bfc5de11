package exchange

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	tickerTopicPrefix = "tickers."
	pingInterval      = 20 * time.Second
	maxReconnectDelay = 30 * time.Second
)

type streamPrice struct {
	price float64
	at    time.Time
}

// PriceStream keeps the last traded price of each subscribed symbol from the
// public ticker stream. It reconnects until its context is cancelled.
type PriceStream struct {
	wsURL   string
	symbols []string
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.RWMutex
	prices map[string]streamPrice
	onTick []func(symbol string, price float64)
}

func NewPriceStream(wsURL string, symbols []string, logger *zap.Logger) *PriceStream {
	if wsURL == "" {
		wsURL = BybitWSURL
	}
	return &PriceStream{
		wsURL:   wsURL,
		symbols: symbols,
		logger:  logger,
		now:     time.Now,
		prices:  make(map[string]streamPrice),
	}
}

// OnTick registers a callback for every price update.
func (s *PriceStream) OnTick(cb func(symbol string, price float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTick = append(s.onTick, cb)
}

// Latest returns the cached price if it is younger than maxAge.
func (s *PriceStream) Latest(symbol string, maxAge time.Duration) (float64, bool) {
	s.mu.RLock()
	p, ok := s.prices[symbol]
	s.mu.RUnlock()
	if !ok || s.now().Sub(p.at) > maxAge {
		return 0, false
	}
	return p.price, true
}

// Run connects and reads until ctx is done, reconnecting with a growing delay.
func (s *PriceStream) Run(ctx context.Context) {
	delay := time.Second
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("Price stream disconnected", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *PriceStream) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	var writeMu sync.Mutex
	args := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		args[i] = tickerTopicPrefix + sym
	}
	writeMu.Lock()
	err = conn.WriteJSON(map[string]any{"op": "subscribe", "args": args})
	writeMu.Unlock()
	if err != nil {
		return err
	}
	s.logger.Info("Price stream connected", zap.Strings("symbols", s.symbols))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteJSON(map[string]string{"op": "ping"})
				writeMu.Unlock()
				if err != nil {
					return
				}
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(message)
	}
}

func (s *PriceStream) handleMessage(message []byte) {
	var event struct {
		Topic string `json:"topic"`
		Data  struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &event); err != nil {
		s.logger.Debug("Price stream: bad message", zap.Error(err))
		return
	}
	if !strings.HasPrefix(event.Topic, tickerTopicPrefix) || event.Data.LastPrice == "" {
		// subscription acks, pongs and delta updates without a price
		return
	}
	price, err := strconv.ParseFloat(event.Data.LastPrice, 64)
	if err != nil || price <= 0 {
		return
	}
	symbol := strings.TrimPrefix(event.Topic, tickerTopicPrefix)

	s.mu.Lock()
	s.prices[symbol] = streamPrice{price: price, at: s.now()}
	callbacks := make([]func(string, float64), len(s.onTick))
	copy(callbacks, s.onTick)
	s.mu.Unlock()

	for _, cb := range callbacks {
		cb(symbol, price)
	}
}
