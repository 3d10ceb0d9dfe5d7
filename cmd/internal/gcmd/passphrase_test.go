package gcmd_test

import (
	"testing"

	"github.com/gordian-engine/gsa/cmd/internal/gcmd"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

func TestSignerFromInsecurePassphrase(t *testing.T) {
	t.Parallel()

	a1, err := gcmd.SignerFromInsecurePassphrase("a")
	require.NoError(t, err)
	a2, err := gcmd.SignerFromInsecurePassphrase("a")
	require.NoError(t, err)
	b, err := gcmd.SignerFromInsecurePassphrase("b")
	require.NoError(t, err)

	require.True(t, a1.PubKey().Equal(a2.PubKey()))
	require.False(t, a1.PubKey().Equal(b.PubKey()))
	require.Equal(t, "bls12381", a1.PubKey().TypeName())
}

func TestLibp2pKeyFromInsecurePassphrase(t *testing.T) {
	t.Parallel()

	k1, err := gcmd.Libp2pKeyFromInsecurePassphrase("a")
	require.NoError(t, err)
	k2, err := gcmd.Libp2pKeyFromInsecurePassphrase("a")
	require.NoError(t, err)

	id1, err := peer.IDFromPrivateKey(k1)
	require.NoError(t, err)
	id2, err := peer.IDFromPrivateKey(k2)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}
