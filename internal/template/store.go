package template

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const templateKeyPrefix = "template:"

var ErrTemplateNotFound = fmt.Errorf("template not found")

// Store keeps enrolled templates in Redis, keyed by id. Templates are exact
// 512-byte buffers and matching is byte equality; there is no fuzzy
// comparison at this layer.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Put stores a template under id, generating one when the caller supplies
// none, and returns the id used. Anything that is not exactly 512 bytes is
// rejected before touching the store.
func (s *Store) Put(ctx context.Context, id string, buf []byte) (string, error) {
	if len(buf) != Size {
		return "", fmt.Errorf("template must be exactly %d bytes, got %d", Size, len(buf))
	}
	if id == "" {
		id = uuid.New().String()
	}

	if err := s.client.Set(ctx, templateKey(id), buf, 0).Err(); err != nil {
		return "", fmt.Errorf("failed to store template: %w", err)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := s.client.Get(ctx, templateKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return data, nil
}

// Match scans all stored templates for one byte-equal to buf and returns its
// id, or ErrTemplateNotFound when nothing matches.
func (s *Store) Match(ctx context.Context, buf []byte) (string, error) {
	if len(buf) != Size {
		return "", fmt.Errorf("match buffer must be exactly %d bytes, got %d", Size, len(buf))
	}

	iter := s.client.Scan(ctx, 0, templateKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			// The key may have been deleted mid-scan; keep looking.
			continue
		}
		if bytes.Equal(data, buf) {
			return key[len(templateKeyPrefix):], nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("failed to scan templates: %w", err)
	}
	return "", ErrTemplateNotFound
}

func templateKey(id string) string {
	return templateKeyPrefix + id
}
