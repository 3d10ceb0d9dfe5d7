// Package samemstore contains in-memory implementations of the sastore interfaces.
package samemstore

import (
	"context"
	"sync"

	"github.com/gordian-engine/gsa/gcrypto"
	"github.com/gordian-engine/gsa/sa/saconsensus"
	"github.com/gordian-engine/gsa/sa/saregistry"
	"github.com/gordian-engine/gsa/sa/sastore"
)

type AttestationStore struct {
	mu sync.RWMutex

	rounds map[uint64]map[uint8]saregistry.StoredAttestation
}

func NewAttestationStore() *AttestationStore {
	return &AttestationStore{
		rounds: make(map[uint64]map[uint8]saregistry.StoredAttestation),
	}
}

func (s *AttestationStore) SaveFailAttestation(
	_ context.Context,
	round uint64, iteration uint8,
	att saconsensus.Attestation, generator gcrypto.PubKey,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byIter := s.rounds[round]
	if byIter == nil {
		byIter = make(map[uint8]saregistry.StoredAttestation)
		s.rounds[round] = byIter
	}

	if _, ok := byIter[iteration]; ok {
		return sastore.AttestationExistsError{Round: round, Iteration: iteration}
	}

	byIter[iteration] = saregistry.StoredAttestation{Att: att, Generator: generator}
	return nil
}

func (s *AttestationStore) LoadFailAttestations(_ context.Context, round uint64) (map[uint8]saregistry.StoredAttestation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint8]saregistry.StoredAttestation, len(s.rounds[round]))
	for i, sa := range s.rounds[round] {
		out[i] = sa
	}
	return out, nil
}

func (s *AttestationStore) PruneBefore(_ context.Context, round uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for r := range s.rounds {
		if r < round {
			delete(s.rounds, r)
		}
	}
	return nil
}
