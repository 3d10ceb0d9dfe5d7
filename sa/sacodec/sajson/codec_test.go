package sajson_test

import (
	"testing"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/sacodec"
	"github.com/gordian-engine/gsa/sa/sacodec/sacodectest"
	"github.com/gordian-engine/gsa/sa/sacodec/sajson"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saconsensus/saconsensustest"
	"github.com/stretchr/testify/require"
)

func newRegistry() *gcrypto.Registry {
	var reg gcrypto.Registry
	gcrypto.RegisterBLS(&reg)
	gcrypto.RegisterEd25519(&reg)
	return &reg
}

func TestMarshalCodecCompliance(t *testing.T) {
	sacodectest.TestMarshalCodecCompliance(t, func() sacodec.MarshalCodec {
		return sajson.MarshalCodec{CryptoRegistry: newRegistry()}
	})
}

func TestMarshalCodecCompliance_compressed(t *testing.T) {
	sacodectest.TestMarshalCodecCompliance(t, func() sacodec.MarshalCodec {
		return sacodec.CompressedCodec{
			Inner: sajson.MarshalCodec{CryptoRegistry: newRegistry()},
		}
	})
}

func TestMarshalCodec_unknownSignerType(t *testing.T) {
	t.Parallel()

	fx := saconsensustest.NewFixture(2)
	msg := fx.Validation(0, 0, saconsensus.NoCandidateVote())

	b, err := sajson.MarshalCodec{CryptoRegistry: newRegistry()}.MarshalMessage(msg)
	require.NoError(t, err)

	// A registry without BLS cannot decode the signer.
	var reg gcrypto.Registry
	gcrypto.RegisterEd25519(&reg)

	var got saconsensus.Message
	err = sajson.MarshalCodec{CryptoRegistry: &reg}.UnmarshalMessage(b, &got)
	require.ErrorContains(t, err, "signer")
}

func TestMarshalCodec_emptyMessage(t *testing.T) {
	t.Parallel()

	_, err := sajson.MarshalCodec{CryptoRegistry: newRegistry()}.MarshalMessage(saconsensus.Message{})
	require.Error(t, err)
}
