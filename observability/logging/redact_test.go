package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSensitiveMatchesKnownKeys(t *testing.T) {
	require.True(t, Sensitive("preimage"))
	require.True(t, Sensitive("secret"))
	require.True(t, Sensitive("rpc_password"))
	require.True(t, Sensitive("RPC_User"))
	require.True(t, Sensitive(" seed_path "))
	require.False(t, Sensitive("hash"))
	require.False(t, Sensitive(""))
}

func TestMaskFieldRedactsSecretMaterial(t *testing.T) {
	attr := MaskField("rpc_user", "alice")
	require.Equal(t, "rpc_user", attr.Key)
	require.Equal(t, RedactedValue, attr.Value.String())
}

func TestMaskFieldPassesThroughBenignFields(t *testing.T) {
	attr := MaskField("rpc_host", "localhost")
	require.Equal(t, "localhost", attr.Value.String())

	// An empty secret stays empty so absent config reads as absent.
	attr = MaskField("rpc_password", "")
	require.Equal(t, "", attr.Value.String())
}

func TestShortHash(t *testing.T) {
	require.Equal(t, "deadbeef", ShortHash("deadbeef"))
	require.Equal(t, "0123456789ab", ShortHash("0123456789abcdef0123456789abcdef"))
}
