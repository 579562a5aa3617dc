package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateRecordVersion1 = 1

// RedisStateStore keeps state records under their token with a TTL matching
// the record expiry.
type RedisStateStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStateStore(redisClient redis.UniversalClient, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "ga"
	}
	return &RedisStateStore{
		redis:  redisClient,
		prefix: prefix + ":st",
		now:    time.Now,
	}
}

func (s *RedisStateStore) key(token string) string {
	return s.prefix + ":" + token
}

func (s *RedisStateStore) Put(ctx context.Context, rec *StateRecord) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("state record already expired")
	}
	encoded, err := encodeStateRecord(rec)
	if err != nil {
		return err
	}
	ok, err := s.redis.SetNX(ctx, s.key(rec.Token), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateBackend, err)
	}
	if !ok {
		return errors.New("state token collision")
	}
	return nil
}

func (s *RedisStateStore) Consume(ctx context.Context, token string) (*StateRecord, error) {
	if token == "" {
		return nil, nil
	}
	data, err := s.redis.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStateBackend, err)
	}

	rec, err := decodeStateRecord(data)
	if err != nil {
		return nil, nil
	}
	rec.Token = token
	if rec.Expired(s.now()) {
		return nil, nil
	}
	return rec, nil
}

// Sweep is a no-op; Redis expires keys on its own.
func (s *RedisStateStore) Sweep(context.Context) (int, error) {
	return 0, nil
}

func encodeStateRecord(rec *StateRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(stateRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	for _, field := range []string{rec.UserID, rec.Provider, rec.CodeVerifier} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeStateRecord(data []byte) (*StateRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != stateRecordVersion1 {
		return nil, errors.New("invalid state record version")
	}

	var created, expires int64
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return nil, err
	}

	rec := &StateRecord{
		CreatedAt: time.UnixMilli(created),
		ExpiresAt: time.UnixMilli(expires),
	}
	if rec.UserID, err = readString(reader); err != nil {
		return nil, err
	}
	if rec.Provider, err = readString(reader); err != nil {
		return nil, err
	}
	if rec.CodeVerifier, err = readString(reader); err != nil {
		return nil, err
	}
	return rec, nil
}

var _ StateStore = (*RedisStateStore)(nil)
