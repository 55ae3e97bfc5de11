package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_ladder/internal/domain"
	"go.uber.org/zap"
)

const (
	BybitBaseURL = "https://api.bybit.com"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/linear"

	category   = "linear"
	recvWindow = 5000

	// prices from the stream older than this fall back to REST
	streamMaxAge = 5 * time.Second
)

// Bybit v5 return codes the adapter maps to domain errors.
const (
	retOrderNotExists      = 110001
	retLeverageNotModified = 110043
)

// APIError is a non-zero retCode from the v5 API.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string { return fmt.Sprintf("bybit api error %d: %s", e.Code, e.Msg) }

type instrumentSteps struct {
	qty    decimal.Decimal
	tick   decimal.Decimal
	minQty decimal.Decimal
}

// BybitAdapter implements domain.Gateway for USDT linear perpetuals.
type BybitAdapter struct {
	apiKey    string
	apiSecret string
	baseURL   string
	hedgeMode bool
	client    *http.Client
	logger    *zap.Logger
	now       func() time.Time
	stream    *PriceStream

	mu    sync.Mutex
	steps map[string]instrumentSteps
}

func NewBybitAdapter(apiKey, apiSecret, baseURL string, hedgeMode bool, logger *zap.Logger) *BybitAdapter {
	if baseURL == "" {
		baseURL = BybitBaseURL
	}
	return &BybitAdapter{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		hedgeMode: hedgeMode,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		now:       time.Now,
		steps:     make(map[string]instrumentSteps),
	}
}

// UseStream makes FetchTicker prefer fresh prices pushed by s.
func (b *BybitAdapter) UseStream(s *PriceStream) { b.stream = s }

// --- REST API ---

func (b *BybitAdapter) sign(params string, timestamp int64) string {
	// timestamp + apiKey + recvWindow + params
	toSign := fmt.Sprintf("%d%s%d%s", timestamp, b.apiKey, recvWindow, params)
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(toSign))
	return hex.EncodeToString(h.Sum(nil))
}

func (b *BybitAdapter) get(ctx context.Context, path string, query url.Values, out any) error {
	return b.do(ctx, http.MethodGet, path, query.Encode(), nil, out)
}

func (b *BybitAdapter) post(ctx context.Context, path string, payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return b.do(ctx, http.MethodPost, path, "", body, out)
}

func (b *BybitAdapter) do(ctx context.Context, method, path, query string, body []byte, out any) error {
	timestamp := b.now().UnixMilli()
	target := b.baseURL + path
	signed := string(body)
	if query != "" {
		target += "?" + query
		signed = query
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-SIGN", b.sign(signed, timestamp))
	req.Header.Set("X-BAPI-RECV-WINDOW", strconv.Itoa(recvWindow))
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	var envelope struct {
		RetCode int             `json:"retCode"`
		RetMsg  string          `json:"retMsg"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if envelope.RetCode != 0 {
		return &APIError{Code: envelope.RetCode, Msg: envelope.RetMsg}
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

func isRetCode(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func (b *BybitAdapter) FetchBalance(ctx context.Context) (float64, error) {
	var result struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
			Coin        []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	query := url.Values{"accountType": {"UNIFIED"}, "coin": {"USDT"}}
	if err := b.get(ctx, "/v5/account/wallet-balance", query, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, errors.New("wallet balance: empty account list")
	}
	for _, c := range result.List[0].Coin {
		if c.Coin == "USDT" {
			return parseFloat(c.WalletBalance), nil
		}
	}
	return parseFloat(result.List[0].TotalEquity), nil
}

func (b *BybitAdapter) FetchTicker(ctx context.Context, symbol string) (float64, error) {
	if b.stream != nil {
		if price, ok := b.stream.Latest(symbol, streamMaxAge); ok {
			return price, nil
		}
	}

	var result struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {symbol}}
	if err := b.get(ctx, "/v5/market/tickers", query, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("ticker %s: symbol not found", symbol)
	}
	price := parseFloat(result.List[0].LastPrice)
	if price <= 0 {
		return 0, fmt.Errorf("ticker %s: invalid last price %q", symbol, result.List[0].LastPrice)
	}
	return price, nil
}

// FetchOHLCV returns candles oldest first.
func (b *BybitAdapter) FetchOHLCV(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	var result struct {
		List [][]string `json:"list"`
	}
	query := url.Values{
		"category": {category},
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := b.get(ctx, "/v5/market/kline", query, &result); err != nil {
		return nil, err
	}

	candles := make([]domain.Candle, 0, len(result.List))
	for _, raw := range result.List {
		// [startTime, open, high, low, close, volume, turnover]
		if len(raw) < 6 {
			continue
		}
		ts, _ := strconv.ParseInt(raw[0], 10, 64)
		candles = append(candles, domain.Candle{
			Time:   ts / 1000,
			Open:   parseFloat(raw[1]),
			High:   parseFloat(raw[2]),
			Low:    parseFloat(raw[3]),
			Close:  parseFloat(raw[4]),
			Volume: parseFloat(raw[5]),
		})
	}
	// Bybit returns newest first
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func (b *BybitAdapter) FetchPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
			PositionIdx   int    `json:"positionIdx"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {symbol}}
	if err := b.get(ctx, "/v5/position/list", query, &result); err != nil {
		return nil, err
	}

	for _, raw := range result.List {
		size := parseFloat(raw.Size)
		if size <= 0 {
			continue
		}
		// in hedge mode only the long leg (positionIdx 1) belongs to us
		if b.hedgeMode && raw.PositionIdx != 1 {
			continue
		}
		side := domain.SideLong
		if raw.Side == "Sell" {
			side = domain.SideShort
		}
		lev, _ := strconv.ParseFloat(raw.Leverage, 64)
		return &domain.Position{
			Symbol:        raw.Symbol,
			Side:          side,
			Amount:        size,
			EntryPrice:    parseFloat(raw.AvgPrice),
			UnrealizedPnL: parseFloat(raw.UnrealisedPnl),
			Leverage:      int(lev),
		}, nil
	}
	return nil, nil
}

type rawOrder struct {
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	OrderStatus string `json:"orderStatus"`
	ReduceOnly  bool   `json:"reduceOnly"`
}

func (r rawOrder) toDomain() domain.Order {
	return domain.Order{
		ID:         r.OrderID,
		Symbol:     r.Symbol,
		Side:       domain.OrderSide(r.Side),
		Price:      parseFloat(r.Price),
		Amount:     parseFloat(r.Qty),
		Status:     mapOrderStatus(r.OrderStatus),
		ReduceOnly: r.ReduceOnly,
	}
}

func mapOrderStatus(s string) domain.OrderStatus {
	switch s {
	case "PartiallyFilled":
		return domain.OrderStatusPartiallyFilled
	case "Filled":
		return domain.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return domain.OrderStatusCancelled
	case "Rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusNew
	}
}

func (b *BybitAdapter) FetchOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	var result struct {
		List []rawOrder `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {symbol}, "openOnly": {"0"}, "limit": {"50"}}
	if err := b.get(ctx, "/v5/order/realtime", query, &result); err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(result.List))
	for _, r := range result.List {
		orders = append(orders, r.toDomain())
	}
	return orders, nil
}

func (b *BybitAdapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, amount float64, reduceOnly bool) (*domain.Order, error) {
	payload, err := b.orderPayload(ctx, symbol, side, amount, reduceOnly)
	if err != nil {
		return nil, err
	}
	payload["orderType"] = "Market"
	return b.createOrder(ctx, payload, symbol, side, 0, amount, reduceOnly)
}

func (b *BybitAdapter) PlaceLimitOrder(ctx context.Context, symbol string, side domain.OrderSide, price, amount float64, reduceOnly bool) (*domain.Order, error) {
	payload, err := b.orderPayload(ctx, symbol, side, amount, reduceOnly)
	if err != nil {
		return nil, err
	}
	steps := b.stepsFor(symbol)
	payload["orderType"] = "Limit"
	payload["price"] = roundToStep(price, steps.tick)
	payload["timeInForce"] = "GTC"
	return b.createOrder(ctx, payload, symbol, side, price, amount, reduceOnly)
}

func (b *BybitAdapter) orderPayload(ctx context.Context, symbol string, side domain.OrderSide, amount float64, reduceOnly bool) (map[string]any, error) {
	if _, err := b.GetMarketMetadata(ctx, symbol); err != nil {
		return nil, err
	}
	steps := b.stepsFor(symbol)
	payload := map[string]any{
		"category":    category,
		"symbol":      symbol,
		"side":        string(side),
		"qty":         roundToStep(amount, steps.qty),
		"orderLinkId": uuid.NewString(),
	}
	if reduceOnly {
		payload["reduceOnly"] = true
	}
	if b.hedgeMode {
		// long leg for both opening buys and reducing sells
		payload["positionIdx"] = 1
	}
	return payload, nil
}

func (b *BybitAdapter) createOrder(ctx context.Context, payload map[string]any, symbol string, side domain.OrderSide, price, amount float64, reduceOnly bool) (*domain.Order, error) {
	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := b.post(ctx, "/v5/order/create", payload, &result); err != nil {
		return nil, err
	}
	b.logger.Debug("Order created",
		zap.String("symbol", symbol),
		zap.String("order_id", result.OrderID),
		zap.String("link_id", result.OrderLinkID),
		zap.Any("payload", payload))
	return &domain.Order{
		ID:         result.OrderID,
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Amount:     amount,
		Status:     domain.OrderStatusNew,
		ReduceOnly: reduceOnly,
	}, nil
}

func (b *BybitAdapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	payload := map[string]any{"category": category, "symbol": symbol, "orderId": orderID}
	err := b.post(ctx, "/v5/order/cancel", payload, nil)
	if isRetCode(err, retOrderNotExists) {
		return fmt.Errorf("cancel %s: %w", orderID, domain.ErrOrderNotFound)
	}
	return err
}

// FetchOrderStatus checks live orders first, then history. An order neither
// endpoint knows is reported as NotFound.
func (b *BybitAdapter) FetchOrderStatus(ctx context.Context, symbol, orderID string) (domain.OrderLookup, error) {
	for _, path := range []string{"/v5/order/realtime", "/v5/order/history"} {
		var result struct {
			List []rawOrder `json:"list"`
		}
		query := url.Values{"category": {category}, "symbol": {symbol}, "orderId": {orderID}}
		if err := b.get(ctx, path, query, &result); err != nil {
			return domain.OrderLookup{}, err
		}
		if len(result.List) > 0 {
			return domain.OrderLookup{Status: mapOrderStatus(result.List[0].OrderStatus)}, nil
		}
	}
	return domain.OrderLookup{NotFound: true}, nil
}

func (b *BybitAdapter) GetMarketMetadata(ctx context.Context, symbol string) (*domain.MarketMeta, error) {
	b.mu.Lock()
	steps, ok := b.steps[symbol]
	b.mu.Unlock()
	if ok {
		return metaFromSteps(symbol, steps), nil
	}

	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Status        string `json:"status"`
			LotSizeFilter struct {
				QtyStep     string `json:"qtyStep"`
				MinOrderQty string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {symbol}}
	if err := b.get(ctx, "/v5/market/instruments-info", query, &result); err != nil {
		return nil, err
	}
	if len(result.List) == 0 {
		return nil, fmt.Errorf("instrument %s not found", symbol)
	}
	raw := result.List[0]
	qty, err := decimal.NewFromString(raw.LotSizeFilter.QtyStep)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: qty step %q: %w", symbol, raw.LotSizeFilter.QtyStep, err)
	}
	tick, err := decimal.NewFromString(raw.PriceFilter.TickSize)
	if err != nil {
		return nil, fmt.Errorf("instrument %s: tick size %q: %w", symbol, raw.PriceFilter.TickSize, err)
	}
	minQty, _ := decimal.NewFromString(raw.LotSizeFilter.MinOrderQty)

	if !minQty.IsPositive() {
		minQty = qty
	}

	steps = instrumentSteps{qty: qty, tick: tick, minQty: minQty}
	b.mu.Lock()
	b.steps[symbol] = steps
	b.mu.Unlock()
	return metaFromSteps(symbol, steps), nil
}

func metaFromSteps(symbol string, steps instrumentSteps) *domain.MarketMeta {
	minQty := steps.minQty
	minAmount, _ := minQty.Float64()
	tick, _ := steps.tick.Float64()
	return &domain.MarketMeta{
		Symbol:          symbol,
		ContractSize:    1,
		AmountPrecision: stepPrecision(steps.qty),
		MinAmount:       minAmount,
		TickSize:        tick,
	}
}

func (b *BybitAdapter) stepsFor(symbol string) instrumentSteps {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.steps[symbol]
}

func (b *BybitAdapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	payload := map[string]any{
		"category":     category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	err := b.post(ctx, "/v5/position/set-leverage", payload, nil)
	if isRetCode(err, retLeverageNotModified) {
		return nil
	}
	return err
}

// stepPrecision converts a lot or tick step into decimal places:
// 0.001 -> 3, 1 -> 0, 10 -> -1.
func stepPrecision(step decimal.Decimal) int32 {
	if !step.IsPositive() {
		return 0
	}
	normalized, err := decimal.NewFromString(step.String())
	if err != nil {
		return 0
	}
	if exp := normalized.Exponent(); exp < 0 {
		return -exp
	}
	p := int32(0)
	for v := normalized.IntPart(); v >= 10 && v%10 == 0; v /= 10 {
		p--
	}
	return p
}

// roundToStep rounds v to the nearest multiple of step and formats it the
// way the API expects. A zero step leaves v at 8 decimals.
func roundToStep(v float64, step decimal.Decimal) string {
	d := decimal.NewFromFloat(v)
	if !step.IsPositive() {
		return d.Round(8).String()
	}
	return d.Div(step).Round(0).Mul(step).String()
}
