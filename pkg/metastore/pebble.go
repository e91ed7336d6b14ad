package metastore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ha1tch/tsqlcompat/pkg/callsig"
	"github.com/ha1tch/tsqlcompat/pkg/errors"
	"github.com/ha1tch/tsqlcompat/pkg/log"
)

var prefixTypmod = []byte("typmod/")

// PebbleOptions configures the Pebble store.
type PebbleOptions struct {
	CacheSizeMB int64
	Sync        bool
}

// DefaultPebbleOptions returns a small cache and synced writes.
func DefaultPebbleOptions() PebbleOptions {
	return PebbleOptions{CacheSizeMB: 8, Sync: true}
}

// Pebble is a Store persisted in a Pebble database, with records encoded as
// msgpack.
type Pebble struct {
	db    *pebble.DB
	write *pebble.WriteOptions
}

var _ Store = (*Pebble)(nil)

type pebbleLogger struct {
	log *log.CategoryLogger
}

func (l pebbleLogger) Infof(format string, args ...interface{}) {
	l.log.Debug("pebble", "msg", fmt.Sprintf(format, args...))
}

func (l pebbleLogger) Errorf(format string, args ...interface{}) {
	l.log.Error("pebble", nil, "msg", fmt.Sprintf(format, args...))
}

func (l pebbleLogger) Fatalf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log.Error("pebble fatal", nil, "msg", msg)
	panic("pebble: " + msg)
}

// OpenPebble opens or creates the store at path.
func OpenPebble(path string, opts PebbleOptions, logger *log.Logger) (*Pebble, error) {
	if logger == nil {
		logger = log.Default()
	}
	cache := pebble.NewCache(opts.CacheSizeMB << 20)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:  cache,
		Logger: pebbleLogger{log: logger.Catalog()},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMetaStore, "failed to open pebble metastore").
			WithOp("metastore.OpenPebble").
			WithField("path", path).
			Err()
	}

	write := pebble.NoSync
	if opts.Sync {
		write = pebble.Sync
	}
	return &Pebble{db: db, write: write}, nil
}

func typmodKey(routine callsig.OID) []byte {
	key := make([]byte, len(prefixTypmod)+4)
	copy(key, prefixTypmod)
	binary.BigEndian.PutUint32(key[len(prefixTypmod):], uint32(routine))
	return key
}

func (p *Pebble) Put(_ context.Context, routine callsig.OID, rec Record) error {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(&rec); err != nil {
		return storeErr(err, "metastore.Put", "failed to encode record")
	}
	if err := p.db.Set(typmodKey(routine), buf.Bytes(), p.write); err != nil {
		return storeErr(err, "metastore.Put", "failed to write record")
	}
	return nil
}

func (p *Pebble) Get(_ context.Context, routine callsig.OID) (*Record, error) {
	val, closer, err := p.db.Get(typmodKey(routine))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "metastore.Get", "failed to read record")
	}
	defer closer.Close()

	var rec Record
	if err := msgpack.NewDecoder(bytes.NewReader(val)).Decode(&rec); err != nil {
		return nil, storeErr(err, "metastore.Get", "failed to decode record")
	}
	return &rec, nil
}

func (p *Pebble) Delete(_ context.Context, routine callsig.OID) error {
	if err := p.db.Delete(typmodKey(routine), p.write); err != nil {
		return storeErr(err, "metastore.Delete", "failed to delete record")
	}
	return nil
}

func (p *Pebble) ReturnTypmod(ctx context.Context, routine callsig.OID, nargs int, _ callsig.OID) (int32, error) {
	rec, err := p.Get(ctx, routine)
	if err != nil {
		return -1, err
	}
	return rec.ReturnTypmod(nargs), nil
}

// Len counts stored records.
func (p *Pebble) Len() (int, error) {
	upper := append([]byte(nil), prefixTypmod...)
	upper[len(upper)-1]++
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: prefixTypmod, UpperBound: upper})
	if err != nil {
		return 0, storeErr(err, "metastore.Len", "failed to open iterator")
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, nil
}

func (p *Pebble) Close() error {
	return p.db.Close()
}

func storeErr(err error, op, msg string) error {
	return errors.Wrap(err, errors.ErrCodeMetaStore, msg).WithOp(op).Err()
}
