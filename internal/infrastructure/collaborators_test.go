package infrastructure

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Guna-13/xikolo-android/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_FileWinsOverEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	t.Setenv("XIKOLO_TEST_TOKEN", "from-env")
	store := NewTokenStore(path, "XIKOLO_TEST_TOKEN")

	token, ok := store.ResolveAccessToken()
	assert.True(t, ok)
	assert.Equal(t, "from-env", token)

	require.NoError(t, store.Save("from-file"))
	token, ok = store.ResolveAccessToken()
	assert.True(t, ok)
	assert.Equal(t, "from-file", token)

	// rotation is picked up on the next call
	require.NoError(t, os.WriteFile(path, []byte("rotated\n"), 0600))
	token, _ = store.ResolveAccessToken()
	assert.Equal(t, "rotated", token)
}

func TestTokenStore_Missing(t *testing.T) {
	store := NewTokenStore(filepath.Join(t.TempDir(), "absent"), "XIKOLO_TEST_UNSET_TOKEN")

	_, ok := store.ResolveAccessToken()
	assert.False(t, ok)
}

func TestReportedConnectivity(t *testing.T) {
	c := NewReportedConnectivity(domain.ConnectionWifi)
	assert.True(t, c.IsOnline())
	assert.Equal(t, domain.ConnectionWifi, c.ConnectionType())

	require.NoError(t, c.Set(domain.ConnectionNone))
	assert.False(t, c.IsOnline())

	require.NoError(t, c.Set(domain.ConnectionMobile))
	assert.True(t, c.IsOnline())
	assert.Equal(t, domain.ConnectionMobile, c.ConnectionType())

	assert.Error(t, c.Set("carrier-pigeon"))
	assert.Equal(t, domain.ConnectionMobile, c.ConnectionType())
}

func TestReportedConnectivity_InvalidInitialIsOffline(t *testing.T) {
	c := NewReportedConnectivity("")
	assert.False(t, c.IsOnline())
}

func TestJSONPassthroughMapper(t *testing.T) {
	var mapper JSONPassthroughMapper

	payload, err := mapper.ToPayload("courses", []byte("{ \"data\" : [ 1, 2 ] }\n"))
	require.NoError(t, err)
	assert.Equal(t, `{"data":[1,2]}`, string(payload))

	_, err = mapper.ToPayload("courses", []byte("<html>"))
	assert.Error(t, err)

	_, err = mapper.ToPayload("courses", []byte("  "))
	assert.Error(t, err)
}
