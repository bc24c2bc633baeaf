package transient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const codeRecordVersion1 = 1

var (
	// ErrNotFound means no live value exists for the key: never written,
	// expired, or already consumed.
	ErrNotFound = errors.New("transient value not found")
	// ErrCodeMismatch means a live code exists but the submission did
	// not match it.
	ErrCodeMismatch = errors.New("code mismatch")
	// ErrAttemptsExceeded means the code was deleted after too many
	// failed submissions.
	ErrAttemptsExceeded = errors.New("code attempts exceeded")
	// ErrBackend wraps Redis transport failures.
	ErrBackend = errors.New("transient store backend unavailable")
)

// Store is the Redis-backed transient store. Safe for concurrent use.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// New creates a Store. The prefix namespaces all keys.
func New(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "acc"
	}
	return &Store{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *Store) codeKey(purpose, subject string) string {
	return s.prefix + ":confirm:" + purpose + ":" + subject
}

func (s *Store) stagedKey(purpose, subject string) string {
	return s.prefix + ":staged:" + purpose + ":" + subject
}

type codeRecord struct {
	CodeHash  [32]byte
	Attempts  uint16
	ExpiresAt int64
}

// SaveCode stores the SHA-256 of code under (purpose, subject),
// overwriting any previous code for the key.
func (s *Store) SaveCode(ctx context.Context, purpose, subject, code string, ttl time.Duration) error {
	rec := &codeRecord{
		CodeHash:  sha256.Sum256([]byte(code)),
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	encoded, err := encodeCodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.codeKey(purpose, subject), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// ConsumeCode verifies a submitted code. On match the record is deleted
// before returning, so the code is single use. On mismatch the attempt
// counter is incremented and the record is deleted once maxAttempts is
// reached. The check-and-update runs under WATCH so concurrent
// submissions cannot stretch the budget.
func (s *Store) ConsumeCode(ctx context.Context, purpose, subject, submitted string, maxAttempts int) error {
	const maxRetries = 4
	key := s.codeKey(purpose, subject)
	submittedHash := sha256.Sum256([]byte(submitted))

	for i := 0; i < maxRetries; i++ {
		var outcome error
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeCodeRecord(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > rec.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				outcome = ErrNotFound
				return nil
			}

			if subtle.ConstantTimeCompare(rec.CodeHash[:], submittedHash[:]) == 1 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			rec.Attempts++
			if int(rec.Attempts) >= maxAttempts {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				outcome = ErrAttemptsExceeded
				return nil
			}

			ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				outcome = ErrNotFound
				return nil
			}

			updated, err := encodeCodeRecord(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			outcome = ErrCodeMismatch
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return outcome
	}

	return ErrNotFound
}

// DeleteCode removes a code without consuming it.
func (s *Store) DeleteCode(ctx context.Context, purpose, subject string) error {
	if err := s.redis.Del(ctx, s.codeKey(purpose, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// SaveStaged stores a staging payload under (purpose, subject),
// overwriting any previous payload.
func (s *Store) SaveStaged(ctx context.Context, purpose, subject string, payload []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.stagedKey(purpose, subject), payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// GetStaged reads a staging payload without removing it.
func (s *Store) GetStaged(ctx context.Context, purpose, subject string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.stagedKey(purpose, subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return data, nil
}

// TakeStaged reads and removes a staging payload in one round trip.
func (s *Store) TakeStaged(ctx context.Context, purpose, subject string) ([]byte, error) {
	data, err := s.redis.GetDel(ctx, s.stagedKey(purpose, subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return data, nil
}

// DeleteStaged removes a staging payload.
func (s *Store) DeleteStaged(ctx context.Context, purpose, subject string) error {
	if err := s.redis.Del(ctx, s.stagedKey(purpose, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func encodeCodeRecord(rec *codeRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(codeRecordVersion1)
	buf.Write(rec.CodeHash[:])
	if err := binary.Write(&buf, binary.BigEndian, rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCodeRecord(data []byte) (*codeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersion1 {
		return nil, errors.New("invalid code record version")
	}

	rec := &codeRecord{}
	if _, err := io.ReadFull(reader, rec.CodeHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	return rec, nil
}
