package lookup

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mini-rpc/coreband/internal/corelog"
)

// PartitionCallHandler fetches the current table set for one partition. A
// caller wires this on top of a dispatch.Dispatcher running in courteous
// mode (see jsonrpc.PartitionCallHandler for a concrete example); the
// fetcher only needs the resulting blocking call.
type PartitionCallHandler interface {
	Call(ctx context.Context) ([]Table, error)
}

// Fetcher drives the Partitioned Table Fetcher: a worker pool pulls
// partition indices from a shared counter, fetches each partition through
// its handler, optionally caches it to disk, and republishes allTables
// once every partition in the pass has landed.
type Fetcher struct {
	idx         *Index
	handlers    []PartitionCallHandler
	concurrency int
	cache       *Cache
	log         *corelog.Logger
}

// NewFetcher builds a Fetcher over idx. cache may be nil to disable disk
// persistence entirely.
func NewFetcher(idx *Index, handlers []PartitionCallHandler, cache *Cache, log *corelog.Logger) *Fetcher {
	if log == nil {
		log = corelog.Nop()
	}
	concurrency := idx.cfg.MaxConcurrentRequests
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Fetcher{idx: idx, handlers: handlers, concurrency: concurrency, cache: cache, log: log}
}

// Bootstrap attempts to load every partition from the disk cache. If at
// least 80% load successfully, the index is marked initialized
// immediately; otherwise the first call to Refresh completes
// initialization instead.
func (f *Fetcher) Bootstrap() {
	if f.cache == nil {
		return
	}
	loaded := 0
	for p := 0; p < f.idx.cfg.NumPartitions; p++ {
		tables, ok, err := f.cache.Read(p)
		if err != nil {
			f.log.PartitionFetchFailed(p, err)
			continue
		}
		if !ok {
			continue
		}
		f.idx.publishPartition(p, tables)
		loaded++
	}
	if float64(loaded)/float64(f.idx.cfg.NumPartitions) >= 0.8 {
		f.idx.joinPartitions()
		f.idx.markInitialized()
	}
}

// Refresh runs one full pass over every partition. It blocks until every
// partition has been attempted (or ctx is cancelled), then republishes
// allTables and marks the index initialized — a no-op past the first call.
func (f *Fetcher) Refresh(ctx context.Context) {
	var next atomic.Int64
	numPartitions := int64(f.idx.cfg.NumPartitions)
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < f.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				p := next.Add(1) - 1
				if p >= numPartitions {
					return
				}
				select {
				case <-ctx.Done():
					return
				default:
				}
				f.fetchOne(ctx, int(p))
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		<-done
	}

	f.idx.joinPartitions()
	f.idx.markInitialized()
}

func (f *Fetcher) fetchOne(ctx context.Context, partition int) {
	start := time.Now()
	tables, err := f.handlers[partition].Call(ctx)
	if err != nil {
		f.log.PartitionFetchFailed(partition, err)
		return
	}
	f.idx.publishPartition(partition, tables)

	var totalUnique int
	for _, t := range tables {
		totalUnique += t.NumUniqueAccounts()
	}
	avg := 0.0
	if len(tables) > 0 {
		avg = float64(totalUnique) / float64(len(tables))
	}
	f.log.PartitionLoaded(partition, len(tables), avg, time.Since(start))

	if f.cache != nil {
		if err := f.cache.Write(partition, tables); err != nil {
			f.log.CacheWriteFailed(partition, err)
		}
	}
}

// Run loads the disk cache, then repeats Refresh every cfg.ReloadDelay
// until ctx is cancelled. A non-positive ReloadDelay means "refresh once
// and return" rather than looping forever.
func (f *Fetcher) Run(ctx context.Context) {
	f.Bootstrap()
	if f.idx.cfg.ReloadDelay <= 0 {
		f.Refresh(ctx)
		return
	}
	for {
		f.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(f.idx.cfg.ReloadDelay):
		}
	}
}
