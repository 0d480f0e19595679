package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/okian/clanrank/internal/domain/model"
	"github.com/okian/clanrank/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: rank DESC, then created ASC, then id ASC (deterministic).
// "less" means displayed earlier, so in-order traversal yields the list
// from top to bottom.

const driverMemory = "memory"

// key is the ordering tuple of a row.
type key struct {
	rank    int64
	created time.Time
	id      string
}

func keyOf(e model.RankedEntity) key {
	return key{rank: e.RankValue, created: e.CreatedAt, id: e.ID}
}

// less returns true if a should appear before b.
func less(a, b key) bool {
	if a.rank != b.rank {
		return a.rank > b.rank
	}
	if !a.created.Equal(b.created) {
		return a.created.Before(b.created)
	}
	return strings.Compare(a.id, b.id) < 0
}

// treap node
type node struct {
	k     key
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func rotateRight(y *node) *node {
	x := y.left
	t2 := x.right
	x.right = y
	y.left = t2
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	t2 := y.left
	y.left = x
	x.right = t2
	fix(x)
	fix(y)
	return y
}

func insert(n *node, k key, prio uint64) *node {
	if n == nil {
		return &node{k: k, prio: prio, size: 1}
	}
	if less(k, n.k) {
		n.left = insert(n.left, k, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, k, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, k key) *node {
	if n == nil {
		return nil
	}
	if k.id == n.k.id {
		// Merge children by rotating highest priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, k)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, k)
		}
	} else if less(k, n.k) {
		n.left = deleteNode(n.left, k)
	} else {
		n.right = deleteNode(n.right, k)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit entities in display order.
func collectTopN(n *node, limit int, byID map[string]model.RankedEntity, out *[]model.RankedEntity) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, byID, out)
	if len(*out) < limit {
		if e, ok := byID[n.k.id]; ok {
			*out = append(*out, e)
		}
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, byID, out)
	}
}

// position returns the 0-based display index of k.
func position(n *node, k key) int {
	idx := 0
	for n != nil {
		switch {
		case k.id == n.k.id:
			return idx + nsize(n.left)
		case less(k, n.k):
			n = n.left
		default:
			idx += nsize(n.left) + 1
			n = n.right
		}
	}
	return -1
}

// TreapStore keeps the ranked list in memory.
type TreapStore struct {
	mu   sync.RWMutex
	root *node
	byID map[string]model.RankedEntity
	now  func() time.Time
	seed []model.RankedEntity

	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

var _ Admin = (*TreapStore)(nil)

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(ctx context.Context, opts ...Option) *TreapStore {
	s := &TreapStore{
		byID:                  make(map[string]model.RankedEntity),
		now:                   time.Now,
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, e := range s.seed {
		if e.ID == "" {
			e.ID = model.NewID()
		}
		s.put(s.stamp(e))
	}
	s.seed = nil

	metrics.UpdateStoreRecords(len(s.byID))
	s.startMetricsUpdater(ctx)
	return s
}

func (s *TreapStore) stamp(e model.RankedEntity) model.RankedEntity {
	now := s.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	if e.Version < 1 {
		e.Version = 1
	}
	return e
}

// put inserts or replaces e (assumes lock is held).
func (s *TreapStore) put(e model.RankedEntity) {
	if old, ok := s.byID[e.ID]; ok {
		s.root = deleteNode(s.root, keyOf(old))
	}
	s.byID[e.ID] = e
	s.root = insert(s.root, keyOf(e), rand.Uint64()) //nolint:gosec // treap priority, not security
}

// Close stops the background metrics updater.
func (s *TreapStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	return nil
}

// FetchOrdered implements Store.FetchOrdered in O(limit + log n).
func (s *TreapStore) FetchOrdered(ctx context.Context, limit int) ([]model.RankedEntity, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(driverMemory, "fetch", time.Since(start)) }()

	if limit < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RankedEntity, 0, min(limit, len(s.byID)))
	collectTopN(s.root, limit, s.byID, &out)
	return out, nil
}

// UpdateRank implements Store.UpdateRank with O(log n) expected time.
func (s *TreapStore) UpdateRank(ctx context.Context, u RankUpdate) (model.RankedEntity, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(driverMemory, "update_rank", time.Since(start)) }()

	if err := ctx.Err(); err != nil {
		return model.RankedEntity{}, err
	}
	if u.ID == "" {
		return model.RankedEntity{}, ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[u.ID]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.RankedEntity{}, fmt.Errorf("%w: %s", ErrNotFound, u.ID)
	}
	if u.ExpectedVersion != 0 && u.ExpectedVersion != cur.Version {
		metrics.RecordErrorByComponent("repository", "conflict")
		return model.RankedEntity{}, fmt.Errorf("%w: %s at version %d, expected %d",
			ErrConflict, u.ID, cur.Version, u.ExpectedVersion)
	}

	next := cur
	next.RankValue = u.RankValue
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now().UTC()
	s.put(next)
	return next, nil
}

// Get returns one entity by id.
func (s *TreapStore) Get(ctx context.Context, id string) (model.RankedEntity, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(driverMemory, "get", time.Since(start)) }()

	if id == "" {
		return model.RankedEntity{}, ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return model.RankedEntity{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Position returns the 0-based display index of id.
func (s *TreapStore) Position(ctx context.Context, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return position(s.root, keyOf(e)), nil
}

// Insert adds a new entity. Missing id, timestamps and version are filled in.
func (s *TreapStore) Insert(ctx context.Context, e model.RankedEntity) (model.RankedEntity, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(driverMemory, "insert", time.Since(start)) }()

	if e.ID == "" {
		e.ID = model.NewID()
	}
	e = s.stamp(e)

	s.mu.Lock()
	if _, ok := s.byID[e.ID]; ok {
		s.mu.Unlock()
		return model.RankedEntity{}, fmt.Errorf("%w: %s", ErrDuplicate, e.ID)
	}
	s.put(e)
	n := len(s.byID)
	s.mu.Unlock()

	metrics.UpdateStoreRecords(n)
	return e, nil
}

// Delete removes an entity.
func (s *TreapStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.root = deleteNode(s.root, keyOf(e))
	delete(s.byID, id)
	n := len(s.byID)
	s.mu.Unlock()

	metrics.UpdateStoreRecords(n)
	return nil
}

// Count returns the total number of entities.
func (s *TreapStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// startMetricsUpdater starts a background goroutine that refreshes the
// record gauge.
func (s *TreapStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.mu.RLock()
				n := len(s.byID)
				s.mu.RUnlock()
				metrics.UpdateStoreRecords(n)
			}
		}
	}()
}
