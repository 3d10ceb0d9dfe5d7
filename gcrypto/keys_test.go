package gcrypto_test

import (
	"context"
	"testing"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/gcrypto/gcryptotest"
	"github.com/stretchr/testify/require"
)

func TestEd25519(t *testing.T) {
	t.Parallel()

	var reg gcrypto.Registry
	gcrypto.RegisterEd25519(&reg)

	signers := gcryptotest.DeterministicEd25519Signers(2)
	s1, s2 := signers[0], signers[1]

	dec1, err := reg.Decode(s1.PubKey().TypeName(), s1.PubKey().PubKeyBytes())
	require.NoError(t, err)

	require.True(t, s1.PubKey().Equal(dec1))
	require.False(t, s2.PubKey().Equal(dec1))

	msg := []byte("hello")
	sig, err := s1.Sign(context.Background(), msg)
	require.NoError(t, err)

	require.True(t, s1.PubKey().Verify(msg, sig))
	require.False(t, s2.PubKey().Verify(msg, sig))
}

func TestBLS(t *testing.T) {
	t.Parallel()

	var reg gcrypto.Registry
	gcrypto.RegisterBLS(&reg)

	signers := gcryptotest.DeterministicBLSSigners(2)
	s1, s2 := signers[0], signers[1]

	dec1, err := reg.Unmarshal(reg.Marshal(s1.PubKey()))
	require.NoError(t, err)
	require.True(t, s1.PubKey().Equal(dec1))

	msg := []byte("hello")
	sig, err := s1.Sign(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, sig, gcrypto.BLSSignatureSize)

	require.True(t, dec1.Verify(msg, sig))
	require.False(t, s2.PubKey().Verify(msg, sig))
	require.False(t, s1.PubKey().Verify([]byte("other"), sig))
}

func TestNewBLSPubKey_invalid(t *testing.T) {
	t.Parallel()

	_, err := gcrypto.NewBLSPubKey([]byte("short"))
	require.Error(t, err)

	_, err = gcrypto.NewBLSPubKey(make([]byte, gcrypto.BLSPubKeySize))
	require.Error(t, err)
}

func TestAggregateBLSSignatures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	signers := gcryptotest.DeterministicBLSSigners(4)
	msg := []byte("vote")

	sigs := make([][]byte, 3)
	keys := make([]gcrypto.PubKey, 3)
	for i := range sigs {
		var err error
		sigs[i], err = signers[i].Sign(ctx, msg)
		require.NoError(t, err)
		keys[i] = signers[i].PubKey()
	}

	agg, err := gcrypto.AggregateBLSSignatures(sigs)
	require.NoError(t, err)

	require.True(t, gcrypto.VerifyBLSAggregate(msg, agg, keys))

	t.Run("wrong key set", func(t *testing.T) {
		require.False(t, gcrypto.VerifyBLSAggregate(msg, agg, keys[:2]))

		withExtra := append(append([]gcrypto.PubKey(nil), keys...), signers[3].PubKey())
		require.False(t, gcrypto.VerifyBLSAggregate(msg, agg, withExtra))
	})

	t.Run("wrong message", func(t *testing.T) {
		require.False(t, gcrypto.VerifyBLSAggregate([]byte("other"), agg, keys))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := gcrypto.AggregateBLSSignatures(nil)
		require.ErrorIs(t, err, gcrypto.ErrNoSignatures)
	})
}

func TestDeriveBLSSigner(t *testing.T) {
	t.Parallel()

	ed := gcryptotest.DeterministicEd25519Signers(2)

	a, err := gcrypto.DeriveBLSSigner(ed[0])
	require.NoError(t, err)
	again, err := gcrypto.DeriveBLSSigner(ed[0])
	require.NoError(t, err)
	b, err := gcrypto.DeriveBLSSigner(ed[1])
	require.NoError(t, err)

	require.True(t, a.PubKey().Equal(again.PubKey()))
	require.False(t, a.PubKey().Equal(b.PubKey()))
}

func TestKeyID(t *testing.T) {
	t.Parallel()

	ed := gcryptotest.DeterministicEd25519Signers(1)[0].PubKey()
	bls := gcryptotest.DeterministicBLSSigners(1)[0].PubKey()

	require.NotEqual(t, gcrypto.KeyID(ed), gcrypto.KeyID(bls))
	require.Equal(t, gcrypto.KeyID(bls), gcrypto.KeyID(gcrypto.BLSPubKey(bls.PubKeyBytes())))
}
