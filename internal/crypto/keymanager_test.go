package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// Well-known throwaway key (hardhat account #0).
const (
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestParsePrivateKey(t *testing.T) {
	for _, in := range []string{testKeyHex, "0x" + testKeyHex, "  0x" + testKeyHex + "\n"} {
		k, err := ParsePrivateKey(in)
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(testAddress), Address(k))
	}

	_, err := ParsePrivateKey("0xnothex")
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
	_, err = ParsePrivateKey("abcd")
	assert.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestEncryptDecryptKey(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	require.NoError(t, err)
	assert.Contains(t, string(blob), testAddress)
	assert.NotContains(t, string(blob), testKeyHex)

	k, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testAddress), Address(k))

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)

	_, err = EncryptKey(testKeyHex, "")
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	dir := t.TempDir()

	t.Run("raw wins", func(t *testing.T) {
		k, err := LoadKey(KeyConfig{RawPrivateKey: testKeyHex, EncryptedKeyPath: "/does/not/exist"})
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(testAddress), Address(k))
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(testKeyHex, "pw")
		require.NoError(t, err)
		path := filepath.Join(dir, "key.json")
		require.NoError(t, os.WriteFile(path, blob, 0o600))

		k, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(testAddress), Address(k))
	})

	t.Run("keystore v3", func(t *testing.T) {
		priv, err := ParsePrivateKey(testKeyHex)
		require.NoError(t, err)
		ks, err := keystore.EncryptKey(&keystore.Key{
			Id:         uuid.New(),
			Address:    Address(priv),
			PrivateKey: priv,
		}, "pw", keystore.LightScryptN, keystore.LightScryptP)
		require.NoError(t, err)
		path := filepath.Join(dir, "UTC--keystore.json")
		require.NoError(t, os.WriteFile(path, ks, 0o600))

		k, err := LoadKey(KeyConfig{KeystorePath: path, KeyPassword: "pw"})
		require.NoError(t, err)
		assert.Equal(t, common.HexToAddress(testAddress), Address(k))
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := LoadKey(KeyConfig{})
		assert.ErrorIs(t, err, domain.ErrInvalidKey)
	})
}

func TestTxSigner(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := NewTxSigner(key, big.NewInt(250))

	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	tx := types.NewTx(&types.LegacyTx{Nonce: 3, GasPrice: big.NewInt(1e8), Gas: 21000, To: &to, Value: new(big.Int)})
	signed, err := s.Sign(tx)
	require.NoError(t, err)

	from, err := types.Sender(s.Signer(), signed)
	require.NoError(t, err)
	assert.Equal(t, s.From(), from)
	assert.Equal(t, big.NewInt(250), signed.ChainId())
}

func TestWebhookSignature(t *testing.T) {
	secret := []byte("s3cret")
	body := []byte(`{"kind":"signal_novel"}`)

	h := WebhookHeaders(secret, body)
	ts := h[HeaderTimestamp]
	require.NotEmpty(t, ts)
	assert.True(t, VerifyWebhook(secret, ts, body, h[HeaderSignature]))
	assert.False(t, VerifyWebhook(secret, ts, []byte(`{}`), h[HeaderSignature]))
	assert.False(t, VerifyWebhook([]byte("other"), ts, body, h[HeaderSignature]))
}
