package samemstore_test

import (
	"testing"

	"github.com/gordian-engine/gsa/sa/sastore"
	"github.com/gordian-engine/gsa/sa/sastore/samemstore"
	"github.com/gordian-engine/gsa/sa/sastore/sastoretest"
)

func TestAttestationStore(t *testing.T) {
	t.Parallel()

	sastoretest.TestAttestationStoreCompliance(t, func(func(func())) (sastore.AttestationStore, error) {
		return samemstore.NewAttestationStore(), nil
	})
}
