package lookup

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mini-rpc/coreband/internal/corelog"
)

// MaxAccounts bounds a single query's account set: the greedy cover below
// tracks remaining accounts in a single uint64 bitmask, one bit per
// account.
const MaxAccounts = 64

// IndexConfig is the discovery index's external configuration, matching
// the enumerated fields (defaults included).
type IndexConfig struct {
	NumPartitions         int
	MaxConcurrentRequests int
	ReloadDelay           time.Duration
	NumPartitionsPerQuery int
	TopTablesPerPartition int
	MinScore              uint32
	CacheDirectory        string
}

func (c IndexConfig) withDefaults() IndexConfig {
	if c.NumPartitions <= 0 {
		c.NumPartitions = 257
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = 1
	}
	if c.NumPartitionsPerQuery <= 0 {
		c.NumPartitionsPerQuery = 1
	}
	if c.TopTablesPerPartition <= 0 {
		c.TopTablesPerPartition = 16
	}
	return c
}

// Index is the sharded table array: NumPartitions independently-published
// partitions plus a derived allTables view, republished by joinPartitions
// whenever the fetcher completes a pass.
type Index struct {
	cfg        IndexConfig
	log        *corelog.Logger
	partitions []atomic.Pointer[[]Table]
	allTables  atomic.Pointer[[]Table]

	initOnce sync.Once
	initCh   chan struct{}
}

// NewIndex constructs an empty index. Partitions are populated later via
// publishPartition (the Partitioned Table Fetcher's Refresh, or its
// Bootstrap from the disk cache).
func NewIndex(cfg IndexConfig, log *corelog.Logger) *Index {
	cfg = cfg.withDefaults()
	if log == nil {
		log = corelog.Nop()
	}
	idx := &Index{
		cfg:        cfg,
		log:        log,
		partitions: make([]atomic.Pointer[[]Table], cfg.NumPartitions),
		initCh:     make(chan struct{}),
	}
	empty := []Table{}
	idx.allTables.Store(&empty)
	return idx
}

// Initialized returns a channel closed the first time the index is ready
// to serve queries: either bootstrap loaded ≥80% of partitions from disk,
// or the first live refresh completed.
func (idx *Index) Initialized() <-chan struct{} { return idx.initCh }

func (idx *Index) markInitialized() {
	idx.initOnce.Do(func() { close(idx.initCh) })
}

// publishPartition atomically replaces one partition's table slice.
func (idx *Index) publishPartition(partition int, tables []Table) {
	idx.partitions[partition].Store(&tables)
}

func (idx *Index) loadedPartitions() int {
	n := 0
	for i := range idx.partitions {
		if idx.partitions[i].Load() != nil {
			n++
		}
	}
	return n
}

// joinPartitions rebuilds allTables as the union of every loaded
// partition, sorted by NumUniqueAccounts descending, and republishes it.
// Readers of AllTables may observe an older snapshot between two calls;
// that is the intended opaque-publish contract, not a bug.
func (idx *Index) joinPartitions() {
	var all []Table
	for i := range idx.partitions {
		p := idx.partitions[i].Load()
		if p == nil {
			continue
		}
		all = append(all, (*p)...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].NumUniqueAccounts() > all[j].NumUniqueAccounts()
	})
	idx.allTables.Store(&all)
}

// AllTables returns the currently published flat view.
func (idx *Index) AllTables() []Table {
	return *idx.allTables.Load()
}

// ScanForTable looks up a table by address across every loaded partition.
func (idx *Index) ScanForTable(address PublicKey) (Table, bool) {
	for i := range idx.partitions {
		p := idx.partitions[i].Load()
		if p == nil {
			continue
		}
		for _, t := range *p {
			if t.Address() == address {
				return t, true
			}
		}
	}
	return nil, false
}

// Query returns a near-minimal cover of tables for the given accounts. It
// never calls out to a backend; it is pure in-memory computation against
// the currently published AllTables snapshot.
func (idx *Index) Query(ctx context.Context, accounts []PublicKey) ([]Table, error) {
	if len(accounts) > MaxAccounts {
		accounts = accounts[:MaxAccounts]
	}
	return findOptimalSetOfTables(ctx, idx.AllTables(), accounts, idx.cfg)
}
