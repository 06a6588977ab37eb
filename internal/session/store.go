package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	contextKeyPrefix     = "context:"
	participantKeyPrefix = "participant_map:"
	maxMergeAttempts     = 5
	scanBatch            = 100
)

// ErrMergeConflict is returned when a merge kept losing the optimistic lock.
var ErrMergeConflict = errors.New("session changed concurrently, merge gave up")

// Store keeps booking contexts in Redis hashes with a sliding TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

// NewStore creates a session store backed by Redis.
func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl, now: time.Now}
}

func contextKey(callID string) string {
	return contextKeyPrefix + callID
}

func participantKey(participantID string) string {
	return participantKeyPrefix + participantID
}

// TTL is the sliding expiry applied on every write.
func (s *Store) TTL() time.Duration { return s.ttl }

// Get returns the persisted context, or a fresh default one when none exists.
func (s *Store) Get(ctx context.Context, callID string) (BookingContext, error) {
	bc, err := s.Peek(ctx, callID)
	if err != nil {
		return BookingContext{}, err
	}
	if bc == nil {
		return New(callID, s.now()), nil
	}
	return *bc, nil
}

// Peek returns the persisted context, or nil when the call has none.
func (s *Store) Peek(ctx context.Context, callID string) (*BookingContext, error) {
	raw, err := s.rdb.HGetAll(ctx, contextKey(callID)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", callID, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	bc := fromFields(toFieldMap(raw))
	return &bc, nil
}

// Put overwrites the whole context and restarts its TTL window.
func (s *Store) Put(ctx context.Context, callID string, bc BookingContext) error {
	now := s.now()
	bc.CallID = callID
	if bc.CreatedAt.IsZero() {
		bc.CreatedAt = now.UTC()
	}
	bc.UpdatedAt = now.UTC()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.write(ctx, pipe, bc)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: put %s: %w", callID, err)
	}
	return nil
}

// Save merges patch into the latest persisted context and writes the result.
// The read and the write are guarded by WATCH so a concurrent writer forces a
// re-read instead of being overwritten.
func (s *Store) Save(ctx context.Context, callID string, patch BookingContext, clear ...Field) (BookingContext, error) {
	key := contextKey(callID)
	var merged BookingContext

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		now := s.now()
		base := New(callID, now)
		if len(raw) > 0 {
			base = fromFields(toFieldMap(raw))
		}
		merged = Merge(base, patch, clear...)
		merged.CallID = callID
		merged.UpdatedAt = now.UTC()

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, merged)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxMergeAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return merged, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return BookingContext{}, fmt.Errorf("session: save %s: %w", callID, err)
	}
	return BookingContext{}, ErrMergeConflict
}

func (s *Store) write(ctx context.Context, pipe redis.Pipeliner, bc BookingContext) {
	key := contextKey(bc.CallID)
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, toArgs(bc.fields())...)
	pipe.Expire(ctx, key, s.ttl)
	if bc.ParticipantID != "" {
		pipe.Expire(ctx, participantKey(bc.ParticipantID), s.ttl)
	}
}

// Delete drops a call's context. Tools never call this; it is used when a
// participant starts a new call while an old one is still cached.
func (s *Store) Delete(ctx context.Context, callID string) error {
	if err := s.rdb.Del(ctx, contextKey(callID)).Err(); err != nil {
		return fmt.Errorf("session: delete %s: %w", callID, err)
	}
	return nil
}

// BindParticipant points a telephony participant at its current call and
// returns the call it pointed at before, if any.
func (s *Store) BindParticipant(ctx context.Context, participantID, callID string) (string, error) {
	key := participantKey(participantID)
	prev, err := s.rdb.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("session: read participant %s: %w", participantID, err)
	}
	if err := s.rdb.Set(ctx, key, callID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("session: bind participant %s: %w", participantID, err)
	}
	return prev, nil
}

// ParticipantCall returns the call currently bound to a participant, or "".
func (s *Store) ParticipantCall(ctx context.Context, participantID string) (string, error) {
	callID, err := s.rdb.Get(ctx, participantKey(participantID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: lookup participant %s: %w", participantID, err)
	}
	return callID, nil
}

// ListActive returns every unexpired context.
func (s *Store) ListActive(ctx context.Context) ([]BookingContext, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, contextKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("session: scan: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}

	out := make([]BookingContext, 0, len(cmds))
	for _, cmd := range cmds {
		raw := cmd.Val()
		if len(raw) == 0 {
			continue // expired between scan and read
		}
		out = append(out, fromFields(toFieldMap(raw)))
	}
	return out, nil
}

func toFieldMap(raw map[string]string) map[Field]string {
	m := make(map[Field]string, len(raw))
	for k, v := range raw {
		m[Field(k)] = v
	}
	return m
}

func toArgs(m map[Field]string) []any {
	args := make([]any, 0, len(m)*2)
	for f, v := range m {
		args = append(args, string(f), v)
	}
	return args
}
