package credentials

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStoreMissingFileIsEmpty(t *testing.T) {
	store, err := NewTokenStore(filepath.Join(t.TempDir(), "oauth_creds.json"))
	require.NoError(t, err)
	assert.Nil(t, store.Current())
}

func TestTokenStoreSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth_creds.json")
	store, err := NewTokenStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(Token{AccessToken: "abc", RefreshToken: "def"}))

	cur := store.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "abc", cur.AccessToken)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := NewTokenStore(path)
	require.NoError(t, err)
	cur = reopened.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "def", cur.RefreshToken)
}

func TestTokenStoreCurrentReturnsCopy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth_creds.json")
	store, err := NewTokenStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(Token{AccessToken: "abc"}))

	cur := store.Current()
	cur.AccessToken = "mutated"
	assert.Equal(t, "abc", store.Current().AccessToken)
}

func TestTokenStoreLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oauth_creds.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	_, err := NewTokenStore(path)
	assert.Error(t, err)
}
