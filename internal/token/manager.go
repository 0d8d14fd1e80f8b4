// Package token owns the brokerage OAuth access token: its on-disk state,
// refresh cadence, and cross-process serialization.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/kquant-trader/internal/domain"
)

// Refresher requests a fresh token from the broker. Implemented by
// internal/brokerage; kept as an interface here to avoid an import cycle.
type Refresher interface {
	RefreshToken(ctx context.Context) (domain.TokenState, error)
}

const minRefreshGap = 60 * time.Second

// Manager implements get_valid_token / force_refresh over a file-locked,
// atomically-persisted TokenState. One Manager per process; the FileLock
// guards concurrent processes, not concurrent goroutines within one.
type Manager struct {
	statePath string
	lock      *FileLock
	refresher Refresher
	log       zerolog.Logger

	mu    sync.Mutex
	state domain.TokenState
}

// New constructs a Manager. statePath is the JSON file holding TokenState;
// lockPath is a sibling lock file guarding its refresh.
func New(statePath, lockPath string, refresher Refresher, log zerolog.Logger) *Manager {
	return &Manager{
		statePath: statePath,
		lock:      NewFileLock(lockPath, log),
		refresher: refresher,
		log:       log.With().Str("component", "token").Logger(),
	}
}

// GetValidToken returns a currently-valid access token, refreshing first
// if the cached or on-disk state has expired.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state.AccessToken == "" {
		if loaded, err := m.readState(); err == nil {
			state = loaded
		}
	}

	if !state.Expired(time.Now()) {
		return state.AccessToken, nil
	}
	if err := m.ForceRefresh(ctx); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.AccessToken, nil
}

// ForceRefresh acquires the cross-process lock, re-reads disk state in case
// another process already refreshed, and only then contacts the broker.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	if err := m.lock.Acquire(ctx); err != nil {
		return fmt.Errorf("token: acquire refresh lock: %w", err)
	}
	defer m.lock.Release()

	onDisk, err := m.readState()
	if err == nil && !onDisk.Expired(time.Now()) {
		m.mu.Lock()
		m.state = onDisk
		m.mu.Unlock()
		m.log.Debug().Msg("another process already refreshed the token")
		return nil
	}

	if gap := time.Since(onDisk.IssuedAt); gap < minRefreshGap && !onDisk.IssuedAt.IsZero() {
		wait := minRefreshGap - gap
		m.log.Debug().Dur("wait", wait).Msg("honoring one-refresh-per-minute limit")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	fresh, err := m.refresher.RefreshToken(ctx)
	if err != nil {
		return fmt.Errorf("token: refresh: %w", err)
	}

	if err := m.writeStateAtomic(fresh); err != nil {
		return fmt.Errorf("token: persist refreshed state: %w", err)
	}

	m.mu.Lock()
	m.state = fresh
	m.mu.Unlock()
	m.log.Info().Time("expires_at", fresh.ExpiresAt).Msg("token refreshed")
	return nil
}

func (m *Manager) readState() (domain.TokenState, error) {
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		return domain.TokenState{}, err
	}
	var s domain.TokenState
	if err := json.Unmarshal(data, &s); err != nil {
		return domain.TokenState{}, err
	}
	return s, nil
}

func (m *Manager) writeStateAtomic(s domain.TokenState) error {
	dir := filepath.Dir(m.statePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, m.statePath)
}
