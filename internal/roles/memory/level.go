package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/haricheung/overseer/internal/types"
)

// LevelDB key prefix scheme. Audit keys carry a zero-padded sequence number so
// lexical order equals insertion order.
//
//	a|<seq>       → AuditEntry JSON
//	p|snapshot    → []PendingApproval JSON
const (
	prefixAudit = "a|"
	keyPending  = "p|snapshot"
	seqWidth    = 20
)

// Level is the goleveldb-backed local tier. LevelDB is single-process; a second
// process opening the same path fails with a lock error.
type Level struct {
	mu  sync.Mutex // guards seq and the append+evict sequence
	db  *leveldb.DB
	seq uint64
}

// OpenLevel opens (or creates) a LevelDB database at path.
func OpenLevel(path string) (*Level, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("memory: open leveldb at %s: %w", path, err)
	}
	l := &Level{db: db}
	iter := db.NewIterator(util.BytesPrefix([]byte(prefixAudit)), nil)
	if iter.Last() {
		l.seq = seqFromKey(string(iter.Key()))
	}
	err = iter.Error()
	iter.Release()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: scan audit keys: %w", err)
	}
	return l, nil
}

func auditKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%0*d", prefixAudit, seqWidth, seq))
}

func seqFromKey(k string) uint64 {
	n, _ := strconv.ParseUint(strings.TrimPrefix(k, prefixAudit), 10, 64)
	return n
}

// AppendAudit stores e under the next sequence number and evicts the oldest
// entries so at most bound remain.
//
// Expectations:
//   - Entries survive Close and reopen at the same path
//   - After more than bound appends only the newest bound entries remain
//   - bound <= 0 disables eviction
func (l *Level) AppendAudit(_ context.Context, e types.AuditEntry, bound int) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("memory: marshal audit entry: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	if err := l.db.Put(auditKey(l.seq), data, nil); err != nil {
		return fmt.Errorf("memory: put audit entry: %w", err)
	}
	if bound <= 0 {
		return nil
	}

	var keys [][]byte
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixAudit)), nil)
	for iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	err = iter.Error()
	iter.Release()
	if err != nil {
		return fmt.Errorf("memory: scan audit entries: %w", err)
	}
	if excess := len(keys) - bound; excess > 0 {
		batch := new(leveldb.Batch)
		for _, k := range keys[:excess] {
			batch.Delete(k)
		}
		if err := l.db.Write(batch, nil); err != nil {
			return fmt.Errorf("memory: evict audit entries: %w", err)
		}
		slog.Debug("[MEMORY] evicted audit entries", "count", excess, "bound", bound)
	}
	return nil
}

// RecentAudit returns up to n entries, newest first. n <= 0 returns every entry.
func (l *Level) RecentAudit(_ context.Context, n int) ([]types.AuditEntry, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixAudit)), nil)
	defer iter.Release()

	var out []types.AuditEntry
	for ok := iter.Last(); ok; ok = iter.Prev() {
		if n > 0 && len(out) == n {
			break
		}
		var e types.AuditEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			slog.Warn("[MEMORY] skipping unreadable audit entry", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

func (l *Level) SavePending(_ context.Context, items []types.PendingApproval) error {
	if items == nil {
		items = []types.PendingApproval{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("memory: marshal pending: %w", err)
	}
	if err := l.db.Put([]byte(keyPending), data, nil); err != nil {
		return fmt.Errorf("memory: put pending: %w", err)
	}
	return nil
}

func (l *Level) LoadPending(_ context.Context) ([]types.PendingApproval, error) {
	data, err := l.db.Get([]byte(keyPending), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: get pending: %w", err)
	}
	var items []types.PendingApproval
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("memory: unmarshal pending: %w", err)
	}
	return items, nil
}

func (l *Level) Close() error {
	return l.db.Close()
}
