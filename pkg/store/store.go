package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kskip310/luminous/internal/observability"
	"github.com/kskip310/luminous/internal/tracing"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Tier names where a save landed.
type Tier string

const (
	TierRemote Tier = "Remote"
	TierLocal  Tier = "Local"
	TierError  Tier = "Error"
)

// Source names where a load came from.
type Source string

const (
	SourceRemote  Source = "remote"
	SourceLocal   Source = "local"
	SourceDefault Source = "default"
)

// SaveOutcome is the result of one Save call.
type SaveOutcome struct {
	Tier             Tier
	Timestamp        int64
	RemoteConfigured bool
	// LocalSaved is true whenever the local tier holds this save, including
	// the write-through after a remote success.
	LocalSaved bool
	RemoteErr  error
	LocalErr   error
}

// LoadOutcome is the result of one Load call.
type LoadOutcome struct {
	Source           Source
	RemoteConfigured bool
	RemoteErr        error
	LocalErr         error
}

// Config configures a StateStore.
type Config struct {
	Local     *LocalStore
	Remote    RemoteTier
	KeyPrefix string
	Logger    zerolog.Logger
}

// StateStore persists agent state across the remote and local tiers.
type StateStore struct {
	local     *LocalStore
	keyPrefix string
	logger    zerolog.Logger

	mu     sync.RWMutex
	remote RemoteTier
}

// New creates a StateStore. The local tier is mandatory.
func New(cfg Config) (*StateStore, error) {
	if cfg.Local == nil {
		return nil, errors.New("local store is required")
	}
	observability.EnsureRegistered()

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "luminous"
	}
	return &StateStore{
		local:     cfg.Local,
		remote:    cfg.Remote,
		keyPrefix: prefix,
		logger:    cfg.Logger,
	}, nil
}

// Local returns the local tier.
func (s *StateStore) Local() *LocalStore {
	return s.local
}

// SetRemote swaps the remote tier, e.g. after a configuration reload.
func (s *StateStore) SetRemote(remote RemoteTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = remote
}

func (s *StateStore) currentRemote() RemoteTier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.remote == nil || !s.remote.Configured() {
		return nil
	}
	return s.remote
}

// RemoteConfigured reports whether a remote tier with connection parameters is set.
func (s *StateStore) RemoteConfigured() bool {
	return s.currentRemote() != nil
}

// StateKey returns the storage key for identity's state.
func (s *StateStore) StateKey(identity string) string {
	return s.keyPrefix + ":state:" + identity
}

// Save writes st for identity: remote first when configured, falling back
// to the local tier within the same call. It never returns an error; the
// outcome carries the tier that took the write.
func (s *StateStore) Save(ctx context.Context, identity string, st state.AgentState) SaveOutcome {
	ctx, span := tracing.StartSpan(ctx, "luminous.store", "state.save",
		attribute.String("identity", identity),
	)
	defer span.End()

	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, s.logger)
	outcome := SaveOutcome{Tier: TierError, Timestamp: start.UnixMilli()}

	data, err := state.Encode(st)
	if err != nil {
		outcome.LocalErr = err
		tracing.Fail(span, err)
		observability.RecordStateSave(string(outcome.Tier), time.Since(start))
		return outcome
	}

	key := s.StateKey(identity)
	remote := s.currentRemote()
	outcome.RemoteConfigured = remote != nil

	if remote != nil {
		if err := remote.Set(ctx, key, data); err != nil {
			outcome.RemoteErr = err
			logger.Warn().Err(err).Msg("Remote save failed, falling back to local tier")
		} else {
			outcome.Tier = TierRemote
		}
	}

	if err := s.local.Put(ctx, key, data); err != nil {
		outcome.LocalErr = err
		logger.Error().Err(err).Msg("Local save failed")
	} else {
		outcome.LocalSaved = true
		if outcome.Tier != TierRemote {
			outcome.Tier = TierLocal
		}
	}

	if outcome.Tier == TierError {
		tracing.Fail(span, fmt.Errorf("both tiers failed: remote=%v local=%v", outcome.RemoteErr, outcome.LocalErr))
	}
	span.SetAttributes(attribute.String("tier", string(outcome.Tier)))
	observability.RecordStateSave(string(outcome.Tier), time.Since(start))

	logger.Debug().
		Str("tier", string(outcome.Tier)).
		Dur("duration", time.Since(start)).
		Msg("State saved")

	return outcome
}

// Load returns the state for identity. It never fails: remote first when
// configured (mirrored into the local tier on success), then the local
// tier, then the default state.
func (s *StateStore) Load(ctx context.Context, identity string) (state.AgentState, LoadOutcome) {
	ctx, span := tracing.StartSpan(ctx, "luminous.store", "state.load",
		attribute.String("identity", identity),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	key := s.StateKey(identity)
	remote := s.currentRemote()
	outcome := LoadOutcome{RemoteConfigured: remote != nil}

	if remote != nil {
		data, found, err := remote.Get(ctx, key)
		switch {
		case err != nil:
			outcome.RemoteErr = err
			logger.Warn().Err(err).Msg("Remote load failed, falling back to local tier")
		case found:
			st, err := state.Decode(data)
			if err != nil {
				outcome.RemoteErr = err
				logger.Warn().Err(err).Msg("Remote state is malformed, falling back to local tier")
				break
			}
			if err := s.local.Put(ctx, key, data); err != nil {
				logger.Warn().Err(err).Msg("Failed to mirror remote state locally")
			}
			outcome.Source = SourceRemote
			return s.finishLoad(st, outcome), outcome
		}
	}

	data, err := s.local.Get(ctx, key)
	if err == nil {
		st, decodeErr := state.Decode(data)
		if decodeErr == nil {
			outcome.Source = SourceLocal
			return s.finishLoad(st, outcome), outcome
		}
		err = decodeErr
	}
	if !errors.Is(err, ErrNotFound) {
		outcome.LocalErr = err
		logger.Warn().Err(err).Msg("Local load failed, using default state")
	}

	outcome.Source = SourceDefault
	return s.finishLoad(state.Default(), outcome), outcome
}

func (s *StateStore) finishLoad(st state.AgentState, outcome LoadOutcome) state.AgentState {
	st.ContinuityState = outcome.Continuity(st.ContinuityState)
	observability.RecordStateLoad(string(outcome.Source))
	return st
}

// Continuity derives the continuity record after a save.
func (o SaveOutcome) Continuity(prev state.ContinuityState) state.ContinuityState {
	next := prev
	if o.LocalSaved {
		next.LastLocalSaveTime = o.Timestamp
	}
	switch {
	case o.Tier == TierRemote:
		next.CloudStatus = state.CloudOK
		next.LastCloudSaveTime = o.Timestamp
	case !o.RemoteConfigured:
		next.CloudStatus = state.CloudUnavailable
	default:
		next.CloudStatus = state.CloudError
	}
	return next
}

// Continuity derives the continuity record after a load.
func (o LoadOutcome) Continuity(prev state.ContinuityState) state.ContinuityState {
	next := prev
	switch {
	case !o.RemoteConfigured:
		next.CloudStatus = state.CloudUnavailable
	case o.RemoteErr != nil:
		next.CloudStatus = state.CloudError
	default:
		next.CloudStatus = state.CloudOK
	}
	return next
}

// Verification compares the remote copy of a state with the live one.
type Verification struct {
	Found   bool   `json:"found"`
	InSync  bool   `json:"inSync"`
	Detail  string `json:"detail"`
	Checked int64  `json:"checked"`
}

// VerifyRemote fetches identity's remote blob and compares it with st,
// ignoring the continuity record which is derived per device.
func (s *StateStore) VerifyRemote(ctx context.Context, identity string, st state.AgentState) (Verification, error) {
	v := Verification{Checked: time.Now().UnixMilli()}
	remote := s.currentRemote()
	if remote == nil {
		return v, ErrRemoteUnconfigured
	}

	data, found, err := remote.Get(ctx, s.StateKey(identity))
	if err != nil {
		return v, err
	}
	if !found {
		v.Detail = "no remote record"
		return v, nil
	}
	v.Found = true

	remoteState, err := state.Decode(data)
	if err != nil {
		v.Detail = "remote record is malformed"
		return v, nil
	}

	remoteState.ContinuityState = state.ContinuityState{}
	st.ContinuityState = state.ContinuityState{}
	a, err := state.Encode(remoteState)
	if err != nil {
		return v, err
	}
	b, err := state.Encode(st)
	if err != nil {
		return v, err
	}
	v.InSync = bytes.Equal(a, b)
	if v.InSync {
		v.Detail = "remote matches local state"
	} else {
		v.Detail = "remote differs from local state"
	}
	return v, nil
}
