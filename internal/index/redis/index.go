// Package redis implements the vector index port on Redis 8+ via the
// RediSearch FT.* command family.
package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/clearsrc/scadex/internal/domain"
	"github.com/clearsrc/scadex/internal/index"
)

// Compile-time check: Store implements index.Index.
var _ index.Index = (*Store)(nil)

const keyPrefix = "scadex:chunk:"

// Config holds connection parameters for a Redis backend.
type Config struct {
	Addrs      []string
	Username   string
	Password   string
	Collection string
}

// Store keeps one hash per point under keyPrefix and a single FT index over
// the vector field.
type Store struct {
	client     rueidis.Client
	collection string
	logger     *zap.Logger
}

// New creates a Redis-backed vector index.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH result parsing expects RESP2 array format
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Store{client: client, collection: cfg.Collection, logger: logger}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCollectionUnavailable, err)
	}
	return nil
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for redis: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// EnsureCollection creates the FT index if absent. An existing index is only
// reused when its vector DIM matches the embedder's dimension; FT.INFO is
// both the existence check and the source of the recorded DIM.
func (s *Store) EnsureCollection(ctx context.Context, dimension int) error {
	cmd := s.client.B().Arbitrary("FT.INFO").Args(s.collection).Build()
	info, err := s.client.Do(ctx, cmd).ToArray()
	if err == nil {
		if existing := indexDimension(info); existing > 0 && existing != dimension {
			return fmt.Errorf("%w: index %q has dimension %d, embedder produces %d",
				domain.ErrVectorDimMismatch, s.collection, existing, dimension)
		}
		s.logger.Info("reusing existing index",
			zap.String("collection", s.collection), zap.Int("dimension", dimension))
		return nil
	}
	if !isRedisErr(err, "unknown index name") {
		return fmt.Errorf("ft.info: %w", err)
	}

	args := createArgs(s.collection, dimension)
	create := s.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.client.Do(ctx, create).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return fmt.Errorf("ft.create: %w", err)
	}
	s.logger.Info("created index",
		zap.String("collection", s.collection), zap.Int("dimension", dimension))
	return nil
}

// indexDimension extracts the vector field's DIM from an FT.INFO reply. The
// reply is a flat key/value array whose "attributes" value holds one flat
// property-pair array per schema field. Returns 0 when no DIM is present.
func indexDimension(info []rueidis.RedisMessage) int {
	for i := 0; i+1 < len(info); i += 2 {
		name, err := info[i].ToString()
		if err != nil || !strings.EqualFold(name, "attributes") {
			continue
		}
		attrs, err := info[i+1].ToArray()
		if err != nil {
			return 0
		}
		for _, attr := range attrs {
			props, err := attr.ToArray()
			if err != nil {
				continue
			}
			for j := 0; j+1 < len(props); j += 2 {
				prop, err := props[j].ToString()
				if err != nil || !strings.EqualFold(prop, "dim") {
					continue
				}
				if n, err := props[j+1].AsInt64(); err == nil {
					return int(n)
				}
				if v, err := props[j+1].ToString(); err == nil {
					if n, err := strconv.Atoi(v); err == nil {
						return n
					}
				}
			}
		}
	}
	return 0
}

// createArgs builds the FT.CREATE argument list for the chunk schema.
func createArgs(collection string, dimension int) []string {
	return []string{
		collection, "ON", "HASH", "PREFIX", "1", keyPrefix, "SCHEMA",
		"vector", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dimension),
		"DISTANCE_METRIC", "COSINE",
		"ecosystem", "TAG",
		"package", "TAG",
	}
}

// Upsert writes each point as a hash. HSET on an existing key overwrites it.
func (s *Store) Upsert(ctx context.Context, points []index.Point) error {
	if len(points) == 0 {
		return nil
	}

	cmds := make([]rueidis.Completed, 0, len(points))
	for _, p := range points {
		cmds = append(cmds, s.client.B().Hset().Key(pointKey(p.ID)).FieldValue().
			FieldValue("vector", vectorToBytes(p.Vector)).
			FieldValue("ecosystem", p.Payload.Ecosystem).
			FieldValue("package", p.Payload.Package).
			FieldValue("file_path", p.Payload.FilePath).
			FieldValue("chunk_index", strconv.Itoa(p.Payload.ChunkIndex)).
			FieldValue("extension", p.Payload.Extension).
			FieldValue("file_fp", p.Payload.FileFP).
			FieldValue("chunk_fp", p.Payload.ChunkFP).
			Build())
	}

	for _, resp := range s.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("hset: %w", err)
		}
	}
	return nil
}

// Search runs a KNN query via FT.SEARCH and converts cosine distance to
// similarity, best first.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]index.Hit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	queryStr := fmt.Sprintf("*=>[KNN %d @vector $BLOB]", k)
	cmd := s.client.B().Arbitrary("FT.SEARCH").Args(
		s.collection, queryStr,
		"SORTBY", "__vector_score",
		"RETURN", "1", "__vector_score",
		"LIMIT", "0", strconv.Itoa(k),
		"PARAMS", "2", "BLOB", vectorToBytes(vector),
		"DIALECT", "2",
	).Build()

	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("ft.search: %w", err)
	}
	return parseKNNResult(raw)
}

// parseKNNResult decodes the RESP2 FT.SEARCH reply:
// [total, key1, fields1, key2, fields2, ...].
func parseKNNResult(raw []rueidis.RedisMessage) ([]index.Hit, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	hits := make([]index.Hit, 0, total)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		id, ok := pointID(key)
		if !ok {
			continue
		}

		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		score := 0.0
		for j := 0; j+1 < len(fields); j += 2 {
			name, err := fields[j].ToString()
			if err != nil || name != "__vector_score" {
				continue
			}
			value, err := fields[j+1].ToString()
			if err != nil {
				continue
			}
			if dist, err := strconv.ParseFloat(value, 64); err == nil {
				score = max(0, 1.0-dist) // cosine distance → similarity, clamped to [0,1]
			}
		}

		hits = append(hits, index.Hit{ID: id, Score: score})
	}
	return hits, nil
}

func pointKey(id uint64) string {
	return keyPrefix + strconv.FormatUint(id, 10)
}

// pointID extracts the numeric id from a hash key.
func pointID(key string) (uint64, bool) {
	suffix, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// isRedisErr checks if err is a Redis server error containing substr
// (case-insensitive).
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
