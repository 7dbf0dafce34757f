package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/kvnovik/relcore/src/btree"
	"github.com/kvnovik/relcore/src/bufferpool"
	"github.com/kvnovik/relcore/src/cfg"
	"github.com/kvnovik/relcore/src/lockmgr"
	"github.com/kvnovik/relcore/src/logging"
	"github.com/kvnovik/relcore/src/pkg/common"
	"github.com/kvnovik/relcore/src/pkg/utils"
	"github.com/kvnovik/relcore/src/storage/disk"
	"github.com/kvnovik/relcore/src/txn"
)

// demoKeySize is the fixed key width the scripted demo workload uses: a
// single big-endian uint32.
const demoKeySize = 4

// RelcoreEntrypoint wires configuration, logging, the disk manager, buffer
// pool, lock manager, and a named B+-tree index, then drives a scripted
// demo workload: row-locked inserts, a full range scan, and a table unlock
// attempted while row locks are still held, which the lock manager rejects.
type RelcoreEntrypoint struct {
	ConfigPath string

	cfg cfg.Config
	log *zap.SugaredLogger

	disks  []*disk.Manager
	bpm    bufferpool.PageStore
	locks  *lockmgr.Manager
	header *btree.Header
	tree   *btree.BTree

	detectorCancel context.CancelFunc
}

func (e *RelcoreEntrypoint) Init(ctx context.Context) error {
	config, err := cfg.Load(e.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e.cfg = config
	e.log = logging.New(config.Environment).With("run_id", uuid.NewString())

	fs := afero.NewOsFs()
	n := config.ShardedPoolCount
	if n < 1 {
		n = 1
	}

	if n == 1 {
		dm, err := disk.New(fs, config.DataFile)
		if err != nil {
			return fmt.Errorf("open disk manager: %w", err)
		}
		e.disks = []*disk.Manager{dm}
		e.bpm = bufferpool.New(config.BufferPoolSize, config.ReplacerK, dm, e.log)
	} else {
		instances := make([]*bufferpool.Manager, n)
		for i := 0; i < n; i++ {
			dm, err := disk.NewStrided(fs, config.DataFile, i, n)
			if err != nil {
				return fmt.Errorf("open disk manager for shard %d: %w", i, err)
			}
			e.disks = append(e.disks, dm)
			instances[i] = bufferpool.New(config.BufferPoolSize, config.ReplacerK, dm, e.log)
		}
		e.bpm = bufferpool.NewSharded(instances)
		e.log.Infow("buffer pool striped across shards", "shards", n)
	}

	e.locks = lockmgr.New(e.log)
	detectorCtx, cancel := context.WithCancel(context.Background())
	e.detectorCancel = cancel
	e.locks.StartDetector(detectorCtx, time.Duration(config.DetectorTickMS)*time.Millisecond)

	header, err := btree.NewHeader(e.bpm)
	if err != nil {
		return fmt.Errorf("init header page: %w", err)
	}
	e.header = header
	e.tree = btree.New("demo_index", e.bpm, header, demoKeySize, btree.ByteComparator)

	return nil
}

func (e *RelcoreEntrypoint) Run(ctx context.Context) error {
	e.log.Infow("relcore demo starting", "buffer_pool_size", e.cfg.BufferPoolSize)

	const table txn.TableID = 1
	ctx1 := txn.New(1, lockmgr.RepeatableRead)

	if err := e.locks.LockTable(ctx1, lockmgr.IX, table); err != nil {
		return fmt.Errorf("lock table: %w", err)
	}

	for i := uint32(0); i < 50; i++ {
		key := encodeDemoKey(i)
		rid := common.RecordID{PageID: common.PageID(i / 4), Slot: i % 4}
		if err := e.locks.LockRow(ctx1, lockmgr.X, table, rid); err != nil {
			return fmt.Errorf("lock row: %w", err)
		}
		ok, err := e.tree.Insert(key, rid, ctx1)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		e.log.Debugw("inserted", "key", i, "accepted", ok)
	}

	it, err := e.tree.Begin()
	if err != nil {
		return fmt.Errorf("begin scan: %w", err)
	}
	count := 0
	for !it.IsEnd() {
		count++
		if err := it.Next(); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
	}
	e.log.Infow("range scan complete", "entries", count)

	if err := e.locks.UnlockTable(ctx1, table); err != nil {
		e.log.Warnw("unlock table with outstanding row locks (expected in this demo)", "err", err)
	}

	e.bpm.FlushAllPages()
	e.log.Infow("relcore demo finished")
	return nil
}

func (e *RelcoreEntrypoint) Close() error {
	if e.detectorCancel != nil {
		e.detectorCancel()
	}
	if e.bpm != nil {
		e.bpm.FlushAllPages()
	}
	for _, dm := range e.disks {
		if err := dm.Close(); err != nil {
			return err
		}
	}
	if e.log != nil {
		_ = e.log.Sync()
	}
	return nil
}

func encodeDemoKey(n uint32) []byte {
	return utils.Uint32ToBytes(n)
}
