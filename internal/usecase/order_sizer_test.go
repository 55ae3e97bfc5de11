package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_ladder/internal/domain"
	"github.com/vitos/crypto_trade_ladder/internal/usecase"
	"go.uber.org/zap"
)

func TestOrderSizer_EndToEndLevelOne(t *testing.T) {
	gw := NewMockGateway()
	gw.Meta["DOGEUSDT"] = &domain.MarketMeta{Symbol: "DOGEUSDT", ContractSize: 1, AmountPrecision: 0, MinAmount: 1}
	sizer := usecase.NewOrderSizer(usecase.BuildLevelTable(170), 1, gw, zap.NewNop())

	value, err := sizer.PositionValue(1, 1000)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, value, 1e-9)

	amount, err := sizer.CalculateOrderAmount(context.Background(), 1, 0.5, 1000, "DOGEUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.0, amount)
}

func TestOrderSizer_SplitsAcrossSymbols(t *testing.T) {
	gw := NewMockGateway()
	sizer := usecase.NewOrderSizer(usecase.BuildLevelTable(170), 2, gw, zap.NewNop())

	amount, err := sizer.CalculateOrderAmount(context.Background(), 1, 100, 1000, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.25, amount)
}

func TestOrderSizer_ContractSizeAndRounding(t *testing.T) {
	gw := NewMockGateway()
	gw.Meta["ETHUSDT"] = &domain.MarketMeta{ContractSize: 0.1, AmountPrecision: 1, MinAmount: 0.1}
	sizer := usecase.NewOrderSizer(usecase.BuildLevelTable(170), 1, gw, zap.NewNop())

	// 50 / (300 * 0.1) = 1.666.. -> 1.7
	amount, err := sizer.CalculateOrderAmount(context.Background(), 1, 300, 1000, "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.7, amount)
}

func TestOrderSizer_ClampsToMinimum(t *testing.T) {
	gw := NewMockGateway()
	gw.Meta["BTCUSDT"] = &domain.MarketMeta{ContractSize: 1, AmountPrecision: 3, MinAmount: 0.001}
	sizer := usecase.NewOrderSizer(usecase.BuildLevelTable(170), 1, gw, zap.NewNop())

	amount, err := sizer.CalculateOrderAmount(context.Background(), 1, 60000, 1, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.001, amount)
}

func TestOrderSizer_MonotonicInBalance(t *testing.T) {
	gw := NewMockGateway()
	sizer := usecase.NewOrderSizer(usecase.BuildLevelTable(170), 3, gw, zap.NewNop())
	ctx := context.Background()

	for level := 1; level <= usecase.LevelCount; level++ {
		prev := 0.0
		for _, balance := range []float64{10, 100, 1000, 5000, 100000} {
			amount, err := sizer.CalculateOrderAmount(ctx, level, 42.5, balance, "SOLUSDT")
			require.NoError(t, err)
			assert.GreaterOrEqual(t, amount, prev, "level %d balance %v", level, balance)
			assert.GreaterOrEqual(t, amount, 0.001)
			prev = amount
		}
	}
}

func TestOrderSizer_FallbackWithoutMetadata(t *testing.T) {
	gw := NewMockGateway()
	gw.MetaErr = errBoom
	sizer := usecase.NewOrderSizer(usecase.BuildLevelTable(170), 1, gw, zap.NewNop())
	ctx := context.Background()

	amount, err := sizer.CalculateOrderAmount(ctx, 1, 3, 1000, "XRPUSDT")
	require.NoError(t, err)
	assert.Equal(t, 16.66666667, amount)

	amount, err = sizer.CalculateOrderAmount(ctx, 1, 90000, 0.5, "XRPUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.001, amount)
}

func TestOrderSizer_RejectsBadInput(t *testing.T) {
	sizer := usecase.NewOrderSizer(usecase.BuildLevelTable(170), 1, NewMockGateway(), zap.NewNop())
	ctx := context.Background()

	_, err := sizer.CalculateOrderAmount(ctx, 11, 100, 1000, "BTCUSDT")
	assert.Error(t, err)
	_, err = sizer.CalculateOrderAmount(ctx, 1, 0, 1000, "BTCUSDT")
	assert.Error(t, err)
}

func TestOrderSizer_MetadataCached(t *testing.T) {
	gw := NewMockGateway()
	sizer := usecase.NewOrderSizer(usecase.BuildLevelTable(170), 1, gw, zap.NewNop())
	ctx := context.Background()

	_, err := sizer.Metadata(ctx, "BTCUSDT")
	require.NoError(t, err)
	gw.MetaErr = errBoom
	meta, err := sizer.Metadata(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.0, meta.ContractSize)
}
