package asset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTier(t *testing.T) {
	tests := []struct {
		ticker string
		want   Tier
	}{
		{"BTC", Tier1},
		{"ETH", Tier1},
		{"SOL", Tier2},
		{"AAVE", Tier3},
		{"DOGE", Tier3},
		{"NOTACOIN", Tier4},
		{"1INCH", Tier4},
	}

	for _, tt := range tests {
		t.Run(tt.ticker, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyTier(tt.ticker))
		})
	}
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("TIER2")
	require.NoError(t, err)
	assert.Equal(t, Tier2, tier)

	_, err = ParseTier("TIER9")
	assert.Error(t, err)
}

type fakeRegistry struct {
	calls  int
	nextID int64
	assets map[string]*Asset
}

func (f *fakeRegistry) GetOrCreate(ctx context.Context, ticker string, category Category) (*Asset, error) {
	f.calls++
	if a, ok := f.assets[ticker]; ok {
		return a, nil
	}
	f.nextID++
	a := &Asset{
		ID:       f.nextID,
		Ticker:   ticker,
		Name:     ticker,
		Category: category,
		Tier:     ClassifyTier(ticker),
		Active:   true,
	}
	if f.assets == nil {
		f.assets = make(map[string]*Asset)
	}
	f.assets[ticker] = a
	return a, nil
}

func TestResolverMemoizes(t *testing.T) {
	reg := &fakeRegistry{}
	resolver := NewResolver(reg)
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "AAVE", CategoryCrypto)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		ref, err := resolver.Resolve(ctx, "AAVE", CategoryCrypto)
		require.NoError(t, err)
		assert.Equal(t, first, ref)
	}

	assert.Equal(t, 1, reg.calls)
	assert.Equal(t, 1, resolver.Misses())

	_, err = resolver.Resolve(ctx, "BTC", CategoryCrypto)
	require.NoError(t, err)
	assert.Equal(t, 2, reg.calls)
}

func TestResolverNewTickerGetsClassified(t *testing.T) {
	reg := &fakeRegistry{}
	resolver := NewResolver(reg)

	ref, err := resolver.Resolve(context.Background(), "BTC", CategoryCrypto)
	require.NoError(t, err)
	assert.Equal(t, "BTC", ref.Ticker)
	assert.Equal(t, Tier1, reg.assets["BTC"].Tier)

	_, err = resolver.Resolve(context.Background(), "OBSCURE", CategoryCrypto)
	require.NoError(t, err)
	assert.Equal(t, Tier4, reg.assets["OBSCURE"].Tier)
}
