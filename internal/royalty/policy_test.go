package royalty

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierBoundary(t *testing.T) {
	threshold := big.NewInt(1_000_000)
	p, err := NewPolicy(true, threshold, 10, 7)
	require.NoError(t, err)

	cases := []struct {
		name  string
		value *big.Int
		want  Tier
	}{
		{"nil", nil, Tier{TierDefault, 10}},
		{"zero", big.NewInt(0), Tier{TierDefault, 10}},
		{"below", big.NewInt(999_999), Tier{TierDefault, 10}},
		{"equal", big.NewInt(1_000_000), Tier{TierDefault, 10}},
		{"one above", big.NewInt(1_000_001), Tier{TierLarge, 7}},
		{"far above", new(big.Int).Lsh(big.NewInt(1), 200), Tier{TierLarge, 7}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.TierFor(tc.value))
		})
	}
}

func TestTieringDisabled(t *testing.T) {
	p, err := NewPolicy(false, big.NewInt(1), 10, 7)
	require.NoError(t, err)
	assert.Equal(t, Tier{TierDefault, 10}, p.TierFor(big.NewInt(1_000_000)))
}

func TestThresholdIsCopied(t *testing.T) {
	threshold := big.NewInt(5)
	p, err := NewPolicy(true, threshold, 10, 7)
	require.NoError(t, err)

	threshold.SetInt64(1000)
	assert.Equal(t, TierLarge, p.TierFor(big.NewInt(6)).Name)
	assert.Equal(t, int64(5), p.Threshold().Int64())
}

func TestNewPolicyValidation(t *testing.T) {
	_, err := NewPolicy(true, big.NewInt(1), 10_001, 7)
	assert.Error(t, err)

	_, err = NewPolicy(true, big.NewInt(-1), 10, 7)
	assert.Error(t, err)
}
