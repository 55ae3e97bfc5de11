package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vitos/crypto_trade_ladder/internal/usecase"
)

func TestSymbolState_CooldownGate(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	st := usecase.NewSymbolState("BTCUSDT")
	assert.True(t, st.CanEnter(now), "first entry is never gated")

	st.IsFirstEntry = false
	st.LastCloseTime = now
	assert.False(t, st.CanEnter(now.Add(30*time.Second)))
	assert.Equal(t, 30*time.Second, st.CooldownRemaining(now.Add(30*time.Second)))
	assert.True(t, st.CanEnter(now.Add(60*time.Second)))
	assert.Zero(t, st.CooldownRemaining(now.Add(61*time.Second)))
}

func TestSymbolState_Snapshot(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	st := usecase.NewSymbolState("ETHUSDT")
	st.Protective = &usecase.ProtectiveOrder{ID: "x", Price: 2020, Kind: usecase.ExitProfit}
	st.ActiveLevel = 3

	snap := st.Snapshot(now)
	assert.Equal(t, "ETHUSDT", snap.Symbol)
	assert.Equal(t, "FLAT", snap.Phase)
	assert.Equal(t, 3, snap.ActiveLevel)
	assert.Equal(t, 2020.0, snap.ExitPrice)
	assert.Equal(t, "profit", snap.ExitKind)
	assert.Nil(t, snap.Position)
}
