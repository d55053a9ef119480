package filter

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/units"
)

var (
	pool1    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	pool2    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	stranger = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func mustEther(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := units.ParseEther(s)
	require.NoError(t, err)
	return v
}

func newRules(t *testing.T) Rules {
	t.Helper()
	r, err := NewRules(pool1, pool2, mustEther(t, "5"), []string{"a9059cbb", "0x23B872DD"})
	require.NoError(t, err)
	return r
}

func transfer(to *common.Address, value *big.Int) domain.PendingTx {
	return domain.PendingTx{
		Hash:  common.HexToHash("0xabc"),
		To:    to,
		Input: common.FromHex("0xa9059cbb000000000000000000000000deadbeef"),
		Value: value,
	}
}

func TestRulesCheck(t *testing.T) {
	r := newRules(t)
	ten := mustEther(t, "10")

	cases := []struct {
		name string
		tx   domain.PendingTx
		want Reason
	}{
		{"accepted pool1", transfer(&pool1, ten), Accepted},
		{"accepted pool2", transfer(&pool2, ten), Accepted},
		{"exact minimum", transfer(&pool1, mustEther(t, "5")), Accepted},
		{"missing to", transfer(nil, ten), ReasonMissingTo},
		{"below minimum", transfer(&pool1, mustEther(t, "0.1")), ReasonBelowMinValue},
		{"nil value", transfer(&pool1, nil), ReasonBelowMinValue},
		{"unknown pool", transfer(&stranger, ten), ReasonUnknownPool},
		{
			"empty input",
			domain.PendingTx{To: &pool1, Value: ten},
			ReasonEmptyInput,
		},
		{
			"unknown selector",
			domain.PendingTx{To: &pool1, Value: ten, Input: common.FromHex("0xdeadbeef00")},
			ReasonUnknownSelector,
		},
		{
			"second selector, mixed-case config",
			domain.PendingTx{To: &pool2, Value: ten, Input: common.FromHex("0x23b872dd")},
			Accepted,
		},
		{
			"short input",
			domain.PendingTx{To: &pool1, Value: ten, Input: []byte{0xa9, 0x05, 0x9c}},
			ReasonUnknownSelector,
		},
		{
			"single byte input",
			domain.PendingTx{To: &pool1, Value: ten, Input: []byte{0xa9}},
			ReasonUnknownSelector,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Check(tc.tx))
			assert.Equal(t, tc.want == Accepted, r.Accept(tc.tx))
		})
	}
}

func TestRulesCheckOrder(t *testing.T) {
	r := newRules(t)

	// Everything wrong at once: the first rule wins.
	tx := domain.PendingTx{Value: big.NewInt(0)}
	assert.Equal(t, ReasonMissingTo, r.Check(tx))

	tx.To = &stranger
	assert.Equal(t, ReasonEmptyInput, r.Check(tx))

	tx.Input = []byte{0x01}
	assert.Equal(t, ReasonBelowMinValue, r.Check(tx))

	tx.Value = mustEther(t, "6")
	assert.Equal(t, ReasonUnknownPool, r.Check(tx))
}

func TestRulesTotality(t *testing.T) {
	r := newRules(t)
	ten := mustEther(t, "10")

	for n := 0; n <= 12; n++ {
		input := make([]byte, n)
		for i := range input {
			input[i] = byte(i * 37)
		}
		tx := domain.PendingTx{To: &pool1, Value: ten, Input: input}
		assert.NotPanics(t, func() { r.Check(tx) })
	}
	assert.NotPanics(t, func() { r.Check(domain.PendingTx{}) })
}

func TestNewRulesValidation(t *testing.T) {
	_, err := NewRules(pool1, pool2, nil, nil)
	assert.Error(t, err, "no selectors")

	_, err = NewRules(pool1, pool2, nil, []string{"a9059c"})
	assert.Error(t, err, "short selector")

	_, err = NewRules(pool1, pool2, nil, []string{"zz059cbb"})
	assert.Error(t, err, "non-hex selector")

	_, err = NewRules(pool1, pool2, big.NewInt(-1), []string{"a9059cbb"})
	assert.Error(t, err, "negative minimum")

	r, err := NewRules(pool1, pool2, nil, []string{"a9059cbb"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), r.MinValue().Int64())
	assert.Equal(t, [2]common.Address{pool1, pool2}, r.Pools())
}
