package trust

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, keyID string) Key {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	encoded, err := EncodePublicKey(pub)
	require.NoError(t, err)
	return Key{KeyID: keyID, Algorithm: AlgorithmEd25519, PublicKey: encoded}
}

func TestStoreUpsertAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())

	require.NoError(t, store.Upsert("acme", testKey(t, "k1")))
	require.NoError(t, store.Upsert("acme", testKey(t, "k2")))

	tr, err := store.Load("acme")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Equal(t, "acme", tr.Publisher)
	assert.Len(t, tr.Keys, 2)
	assert.NotNil(t, tr.FindKey("k1"))
	assert.Nil(t, tr.FindKey("missing"))
}

func TestStoreLoadMissingPublisher(t *testing.T) {
	store := NewStore(t.TempDir())
	tr, err := store.Load("nobody")
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestStoreRevokeAndRestore(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Upsert("acme", testKey(t, "k1")))

	require.NoError(t, store.Revoke("acme", "k1", "compromised"))
	tr, err := store.Load("acme")
	require.NoError(t, err)
	key := tr.FindKey("k1")
	require.NotNil(t, key)
	assert.True(t, key.Revoked)
	assert.Equal(t, "compromised", key.RevokeReason)
	assert.NotNil(t, key.RevokedAt)

	require.NoError(t, store.Restore("acme", "k1"))
	tr, err = store.Load("acme")
	require.NoError(t, err)
	assert.False(t, tr.FindKey("k1").Revoked)
}

func TestStoreRemoveLastKeyDeletesFile(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, store.Upsert("acme", testKey(t, "k1")))

	require.NoError(t, store.Remove("acme", "k1"))
	_, err := os.Stat(filepath.Join(dir, "acme.json"))
	assert.True(t, os.IsNotExist(err))

	tr, err := store.Load("acme")
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestStoreLoadsLegacyRecordWithoutRevokedFields(t *testing.T) {
	dir := t.TempDir()
	key := testKey(t, "old")
	legacy := map[string]any{
		"publisher": "acme",
		"keys": []map[string]any{{
			"key_id":     key.KeyID,
			"algorithm":  key.Algorithm,
			"public_key": key.PublicKey,
		}},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "acme.json"), data, 0o644))

	tr, err := NewStore(dir).Load("acme")
	require.NoError(t, err)
	require.NotNil(t, tr)
	loaded := tr.FindKey("old")
	require.NotNil(t, loaded)
	assert.False(t, loaded.Revoked)
	assert.Nil(t, loaded.RevokedAt)
}

func TestEncodeDecodePublicKeyRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	encoded, err := EncodePublicKey(pub)
	require.NoError(t, err)
	decoded, err := DecodePublicKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, pub, decoded)
}

func TestFingerprintStableAndShort(t *testing.T) {
	key := testKey(t, "k1")
	fp := Fingerprint(key)
	assert.Len(t, fp, 16)
	assert.Equal(t, fp, Fingerprint(key))
	assert.NotEqual(t, fp, Fingerprint(testKey(t, "k2")))
}

func TestStoreList(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.Upsert("beta", testKey(t, "b")))
	require.NoError(t, store.Upsert("acme", testKey(t, "a")))

	publishers, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "beta"}, publishers)
}
