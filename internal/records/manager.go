package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/SanishKumar/comfy-service/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	recordsKey = "generations"
	recentKey  = "generations:recent"
)

// ErrNotFound is returned when no record has the requested id
var ErrNotFound = errors.New("record not found")

// Manager keeps generation records in memory and, when configured, in Redis
type Manager struct {
	redis      *redis.Client
	records    sync.Map // id -> Record
	mu         sync.Mutex
	maxRecords int
	logger     *logrus.Logger
}

// NewManager creates a records manager. An empty Redis host keeps records in
// memory only.
func NewManager(cfg config.RedisConfig) *Manager {
	var rdb *redis.Client
	if cfg.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		})
	}
	return newManager(rdb, cfg.MaxRecords)
}

func newManager(rdb *redis.Client, maxRecords int) *Manager {
	if maxRecords <= 0 {
		maxRecords = 500
	}
	return &Manager{
		redis:      rdb,
		maxRecords: maxRecords,
		logger:     config.NewLogger(),
	}
}

// Persistent reports whether records survive restarts
func (m *Manager) Persistent() bool {
	return m.redis != nil
}

// Add stores a new record
func (m *Manager) Add(ctx context.Context, record *Record) error {
	if err := m.save(ctx, record, true); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"record_id": record.ID,
		"lora_name": record.LoraName,
	}).Debug("Generation record added")
	return nil
}

// Update stores the current state of an existing record
func (m *Manager) Update(ctx context.Context, record *Record) error {
	if err := m.save(ctx, record, false); err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"record_id": record.ID,
		"prompt_id": record.PromptID,
		"status":    record.Status,
	}).Debug("Generation record updated")
	return nil
}

func (m *Manager) save(ctx context.Context, record *Record, isNew bool) error {
	snapshot := *record

	if !isNew && m.evicted(ctx, snapshot.ID) {
		m.logger.WithField("record_id", snapshot.ID).Debug("Record already pruned, skipping update")
		return nil
	}

	// the cache keeps the latest state even when Redis is unreachable
	m.records.Store(snapshot.ID, snapshot)

	if m.redis != nil {
		recordJSON, err := json.Marshal(&snapshot)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}

		pipe := m.redis.TxPipeline()
		pipe.HSet(ctx, recordsKey, snapshot.ID, recordJSON)
		if isNew {
			pipe.ZAdd(ctx, recentKey, redis.Z{
				Score:  float64(snapshot.CreatedAt.UnixMilli()),
				Member: snapshot.ID,
			})
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to save record to Redis: %w", err)
		}
	}

	if isNew {
		m.prune(ctx)
	}
	return nil
}

// evicted reports whether prune already dropped the record. Writing it back
// would leave a hash entry no listing can reach.
func (m *Manager) evicted(ctx context.Context, id string) bool {
	if m.redis == nil {
		_, ok := m.records.Load(id)
		return !ok
	}

	err := m.redis.ZScore(ctx, recentKey, id).Err()
	if errors.Is(err, redis.Nil) {
		m.records.Delete(id)
		return true
	}
	return false
}

// Get gets record by ID
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	if value, ok := m.records.Load(id); ok {
		record := value.(Record)
		return &record, nil
	}

	if m.redis == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	recordJSON, err := m.redis.HGet(ctx, recordsKey, id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get record from Redis: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	m.records.Store(record.ID, record)
	return &record, nil
}

// List lists up to limit records, newest first. limit <= 0 lists all.
func (m *Manager) List(ctx context.Context, limit int) ([]*Record, error) {
	if m.redis != nil {
		return m.listFromRedis(ctx, limit)
	}

	records := m.sortedFromMemory()
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *Manager) listFromRedis(ctx context.Context, limit int) ([]*Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := m.redis.ZRevRange(ctx, recentKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records from Redis: %w", err)
	}
	if len(ids) == 0 {
		return []*Record{}, nil
	}

	values, err := m.redis.HMGet(ctx, recordsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get records from Redis: %w", err)
	}

	records := make([]*Record, 0, len(values))
	for i, value := range values {
		recordJSON, ok := value.(string)
		if !ok {
			m.logger.WithField("record_id", ids[i]).Warn("Record missing from hash")
			continue
		}
		var record Record
		if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
			m.logger.WithError(err).Warn("Failed to unmarshal record")
			continue
		}
		m.records.Store(record.ID, record)
		records = append(records, &record)
	}
	return records, nil
}

func (m *Manager) sortedFromMemory() []*Record {
	records := make([]*Record, 0)
	m.records.Range(func(_, value interface{}) bool {
		record := value.(Record)
		records = append(records, &record)
		return true
	})

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records
}

// prune drops the oldest records beyond maxRecords
func (m *Manager) prune(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.sortedFromMemory()
	if len(records) > m.maxRecords {
		for _, record := range records[m.maxRecords:] {
			m.records.Delete(record.ID)
		}
	}

	if m.redis == nil {
		return
	}

	stale, err := m.redis.ZRange(ctx, recentKey, 0, int64(-m.maxRecords-1)).Result()
	if err != nil {
		m.logger.WithError(err).Warn("Failed to read stale records")
		return
	}
	if len(stale) == 0 {
		return
	}

	members := make([]interface{}, len(stale))
	for i, id := range stale {
		members[i] = id
	}

	pipe := m.redis.TxPipeline()
	pipe.HDel(ctx, recordsKey, stale...)
	pipe.ZRem(ctx, recentKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		m.logger.WithError(err).Warn("Failed to prune records")
		return
	}

	m.logger.WithField("pruned_count", len(stale)).Debug("Pruned old generation records")
}

// Shutdown closes the Redis connection
func (m *Manager) Shutdown() error {
	if m.redis == nil {
		return nil
	}
	m.logger.Info("Closing records store")
	return m.redis.Close()
}
