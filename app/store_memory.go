package app

import (
	"context"
	"sync"
	"time"

	"github.com/Howie774/onprompted/app/models"
)

// MemoryStore is a mutex-guarded in-memory AccountStore. It backs tests and
// local runs without Postgres; the mutex gives the same serialization for
// concurrent updates that the SQL store gets from its transactions.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[string]models.Account
	transcripts map[string][]models.Transcript
}

var _ AccountStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]models.Account),
		transcripts: make(map[string][]models.Transcript),
	}
}

func (s *MemoryStore) EnsureAccount(_ context.Context, identity, email string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[identity]
	if !ok {
		acct = defaultAccount(identity, email, time.Now())
		s.accounts[identity] = acct
	}
	return acct, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, identity string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[identity]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (s *MemoryStore) FindByCustomerID(_ context.Context, customerID string) (models.Account, error) {
	if customerID == "" {
		return models.Account{}, ErrAccountNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, acct := range s.accounts {
		if acct.StripeCustomerID == customerID {
			return acct, nil
		}
	}
	return models.Account{}, ErrAccountNotFound
}

func (s *MemoryStore) UpdateAccount(_ context.Context, identity string, apply func(*models.Account) error) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[identity]
	if !ok {
		acct = defaultAccount(identity, "", time.Now())
	}

	// apply mutates a copy; the map is only written once apply succeeds.
	if err := apply(&acct); err != nil {
		return models.Account{}, err
	}
	s.accounts[identity] = acct
	return acct, nil
}

func (s *MemoryStore) SaveTranscript(_ context.Context, t models.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcripts[t.Identity] = append(s.transcripts[t.Identity], t)
	return nil
}

func (s *MemoryStore) ListTranscripts(_ context.Context, identity string, limit int) ([]models.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.transcripts[identity]
	out := make([]models.Transcript, 0, limit)
	// newest first
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
