package token

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/kquant-trader/internal/domain"
)

type fakeRefresher struct {
	calls int32
}

func (f *fakeRefresher) RefreshToken(ctx context.Context) (domain.TokenState, error) {
	atomic.AddInt32(&f.calls, 1)
	now := time.Now()
	return domain.TokenState{
		AccessToken: "fresh-token",
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Hour),
	}, nil
}

func TestGetValidToken_RefreshesWhenExpired(t *testing.T) {
	dir := t.TempDir()
	refresher := &fakeRefresher{}
	m := New(filepath.Join(dir, "token.json"), filepath.Join(dir, "token.lock"), refresher, zerolog.Nop())

	tok, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)
	assert.EqualValues(t, 1, refresher.calls)
}

func TestGetValidToken_ReusesUnexpiredCachedState(t *testing.T) {
	dir := t.TempDir()
	refresher := &fakeRefresher{}
	m := New(filepath.Join(dir, "token.json"), filepath.Join(dir, "token.lock"), refresher, zerolog.Nop())

	_, err := m.GetValidToken(context.Background())
	require.NoError(t, err)

	_, err = m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, refresher.calls, "second call should reuse the cached unexpired token")
}

func TestForceRefresh_ReadsDiskStateBeforeContactingBroker(t *testing.T) {
	dir := t.TempDir()
	refresher := &fakeRefresher{}
	statePath := filepath.Join(dir, "token.json")
	lockPath := filepath.Join(dir, "token.lock")

	writer := New(statePath, lockPath, refresher, zerolog.Nop())
	require.NoError(t, writer.ForceRefresh(context.Background()))
	require.EqualValues(t, 1, refresher.calls)

	reader := New(statePath, lockPath, refresher, zerolog.Nop())
	require.NoError(t, reader.ForceRefresh(context.Background()))
	assert.EqualValues(t, 1, refresher.calls, "reader should see the fresh on-disk state and skip a second broker call")
}
