package ippolicy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nexrelay.dev/ippolicy"
)

// memStore is a minimal in-memory ippolicy.Store for tests, standing in for
// the event store's ip_data table.
type memStore struct{ rows map[string]*ippolicy.Data }

func newMemStore() *memStore { return &memStore{rows: map[string]*ippolicy.Data{}} }

func (m *memStore) GetIPData(ip string) (*ippolicy.Data, error) {
	if d, ok := m.rows[ip]; ok {
		return d, nil
	}
	return nil, nil
}

func (m *memStore) SetIPData(ip string, d *ippolicy.Data) error {
	m.rows[ip] = d
	return nil
}

func TestBanEscalatesDuration(t *testing.T) {
	orig := ippolicy.BaseDuration
	ippolicy.BaseDuration = 10 * time.Second
	defer func() { ippolicy.BaseDuration = orig }()

	p := ippolicy.New(newMemStore())
	first, err := p.Ban("1.2.3.4", ippolicy.BadProtocol)
	require.NoError(t, err)

	second, err := p.Ban("1.2.3.4", ippolicy.BadProtocol)
	require.NoError(t, err)
	require.Greater(t, second, first)
}

func TestIsBannedReflectsActiveBan(t *testing.T) {
	ippolicy.BaseDuration = time.Hour
	p := ippolicy.New(newMemStore())
	require.False(t, p.IsBanned("5.6.7.8"))

	_, err := p.Ban("5.6.7.8", ippolicy.AuthFail)
	require.NoError(t, err)
	require.True(t, p.IsBanned("5.6.7.8"))
}

func TestDifferentIPsAreIndependent(t *testing.T) {
	p := ippolicy.New(newMemStore())
	_, err := p.Ban("9.9.9.9", ippolicy.ScrapeAttempt)
	require.NoError(t, err)
	require.True(t, p.IsBanned("9.9.9.9"))
	require.False(t, p.IsBanned("1.1.1.1"))
}

func TestForgetForcesReload(t *testing.T) {
	store := newMemStore()
	p := ippolicy.New(store)
	_, err := p.Ban("2.2.2.2", ippolicy.TooFastEvents)
	require.NoError(t, err)

	// simulate an external moderator clearing the ban directly in storage
	store.rows["2.2.2.2"] = &ippolicy.Data{}
	require.True(t, p.IsBanned("2.2.2.2")) // still cached

	p.Forget("2.2.2.2")
	require.False(t, p.IsBanned("2.2.2.2"))
}
