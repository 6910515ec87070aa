// Package logstore implements the append-only, crash-recoverable
// operation log. The wire format is pinned exactly: a 24-byte header,
// a variable-length payload, and a CRC32 trailer. Grounded on
// threads/foundation/message_queue.go's binary.LittleEndian header
// encoding and threads/pattern/storage.go's tiered-write/CRC pattern,
// generalized from a ring buffer over shared memory to a sequential
// file.
package logstore

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nmxmxh/coreruntime/internal/coreerr"
	"github.com/nmxmxh/coreruntime/internal/metrics"
)

// EntryType is the stable entry-type id stored in the header.
type EntryType uint8

const (
	TokenCreated      EntryType = 1
	ExperienceAdded   EntryType = 2
	ConnectionUpdated EntryType = 3
	Snapshot          EntryType = 4
)

const headerSize = 24
const crcSize = 4

// Flags bits on an entry header.
type Flags uint8

const (
	FlagNone Flags = 0
)

// Entry is one decoded log record.
type Entry struct {
	TimestampUS uint64
	Type        EntryType
	Sequence    uint64
	Flags       Flags
	Payload     []byte
}

// Handler is invoked once per replayed entry. It must be idempotent
// within a single sequence number since a partially-flushed async
// batch can surface the same sequence twice across a crash.
type Handler func(Entry) error

// Log is the append-only file-backed log. One Log instance owns a
// single file and a single writer goroutine for async mode; sync
// writes happen inline on the calling goroutine.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	log  *zap.Logger
	m    *metrics.Registry
	seq  atomic.Uint64

	async     bool
	queue     chan pendingEntry
	batchSize int
	batchWait time.Duration
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

type pendingEntry struct {
	typ     EntryType
	payload []byte
	result  chan error
}

// Options configures a Log.
type Options struct {
	Path      string
	Async     bool
	QueueSize int
	BatchSize int
	BatchWait time.Duration
}

// Open opens (creating if needed) the log file at opts.Path for
// append, and starts the async writer goroutine if opts.Async.
func Open(opts Options, log *zap.Logger, m *metrics.Registry) (*Log, error) {
	f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Durability, "logstore.open", err)
	}
	l := &Log{
		f:         f,
		w:         bufio.NewWriter(f),
		log:       log,
		m:         m,
		async:     opts.Async,
		batchSize: opts.BatchSize,
		batchWait: opts.BatchWait,
		done:      make(chan struct{}),
	}
	if l.batchSize <= 0 {
		l.batchSize = 64
	}
	if l.batchWait <= 0 {
		l.batchWait = 50 * time.Millisecond
	}
	if opts.Async {
		qs := opts.QueueSize
		if qs <= 0 {
			qs = 1024
		}
		l.queue = make(chan pendingEntry, qs)
		l.wg.Add(1)
		go l.runAsyncWriter()
	}
	return l, nil
}

// AppendSync writes entry type+payload inline, assigning the next
// sequence number, and flushes durably when typ is Snapshot.
func (l *Log) AppendSync(typ EntryType, payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.seq.Add(1)
	if err := l.writeLocked(typ, payload, seq); err != nil {
		return 0, err
	}
	if typ == Snapshot {
		if err := l.w.Flush(); err != nil {
			return seq, coreerr.Wrap(coreerr.Durability, "logstore.append_sync.flush", err)
		}
		if err := l.f.Sync(); err != nil {
			return seq, coreerr.Wrap(coreerr.Durability, "logstore.append_sync.fsync", err)
		}
	}
	if l.m != nil {
		l.m.LogWrites.WithLabelValues(entryTypeLabel(typ), "sync").Inc()
	}
	return seq, nil
}

// AppendAsync submits typ+payload to the async writer queue without
// blocking. If the queue is full it returns Backpressure immediately;
// the caller decides whether to retry or drop.
func (l *Log) AppendAsync(typ EntryType, payload []byte) error {
	if !l.async {
		_, err := l.AppendSync(typ, payload)
		return err
	}
	select {
	case l.queue <- pendingEntry{typ: typ, payload: payload}:
		return nil
	default:
		if l.m != nil {
			l.m.LogWrites.WithLabelValues(entryTypeLabel(typ), "async_rejected").Inc()
		}
		return coreerr.New(coreerr.Backpressure, "logstore.append_async")
	}
}

func (l *Log) runAsyncWriter() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.batchWait)
	defer ticker.Stop()

	batch := make([]pendingEntry, 0, l.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.mu.Lock()
		for _, p := range batch {
			seq := l.seq.Add(1)
			if err := l.writeLocked(p.typ, p.payload, seq); err != nil {
				l.log.Error("async log write failed", zap.Error(err))
			} else if l.m != nil {
				l.m.LogWrites.WithLabelValues(entryTypeLabel(p.typ), "async").Inc()
			}
		}
		_ = l.w.Flush()
		l.mu.Unlock()
		batch = batch[:0]
	}

	for {
		select {
		case p, ok := <-l.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, p)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-l.done:
			// Drain entries still sitting in the queue before the final flush.
			for {
				select {
				case p := <-l.queue:
					batch = append(batch, p)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (l *Log) writeLocked(typ EntryType, payload []byte, seq uint64) error {
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(time.Now().UnixMicro()))
	hdr[8] = byte(typ)
	binary.LittleEndian.PutUint32(hdr[9:13], uint32(len(payload)))
	binary.LittleEndian.PutUint64(hdr[13:21], seq)
	hdr[21] = byte(FlagNone)
	// hdr[22:24] padding, left zero

	if _, err := l.w.Write(hdr[:]); err != nil {
		return coreerr.Wrap(coreerr.Durability, "logstore.write_header", err)
	}
	if _, err := l.w.Write(payload); err != nil {
		return coreerr.Wrap(coreerr.Durability, "logstore.write_payload", err)
	}
	crc := crc32.ChecksumIEEE(payload)
	var trailer [crcSize]byte
	binary.LittleEndian.PutUint32(trailer[:], crc)
	if _, err := l.w.Write(trailer[:]); err != nil {
		return coreerr.Wrap(coreerr.Durability, "logstore.write_crc", err)
	}
	if typ != Snapshot {
		// Non-Snapshot entries rely on OS buffering; flush the
		// bufio.Writer so AppendSync's effects are visible to a
		// subsequent Replay in the same process without fsync.
		if err := l.w.Flush(); err != nil {
			return coreerr.Wrap(coreerr.Durability, "logstore.flush", err)
		}
	}
	return nil
}

// Replay reads the log from offset 0, verifying each entry's CRC32 and
// invoking handler in sequence order. A CRC mismatch at entry N halts
// replay at N-1 and returns the last good sequence along with a
// Durability error; entries beyond N are never applied.
func Replay(path string, handler Handler) (lastGoodSeq uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, coreerr.Wrap(coreerr.Durability, "logstore.replay.open", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var hdr [headerSize]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return lastGoodSeq, nil
			}
			return lastGoodSeq, coreerr.Wrap(coreerr.Durability, "logstore.replay.read_header", err)
		}
		typ := EntryType(hdr[8])
		size := binary.LittleEndian.Uint32(hdr[9:13])
		seq := binary.LittleEndian.Uint64(hdr[13:21])
		flags := Flags(hdr[21])
		tsUS := binary.LittleEndian.Uint64(hdr[0:8])

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return lastGoodSeq, coreerr.Wrap(coreerr.Durability, "logstore.replay.truncated_payload", err)
		}
		var trailer [crcSize]byte
		if _, err := io.ReadFull(r, trailer[:]); err != nil {
			return lastGoodSeq, coreerr.Wrap(coreerr.Durability, "logstore.replay.truncated_crc", err)
		}
		want := binary.LittleEndian.Uint32(trailer[:])
		got := crc32.ChecksumIEEE(payload)
		if want != got {
			return lastGoodSeq, coreerr.New(coreerr.Durability, "logstore.replay.crc_mismatch")
		}

		entry := Entry{TimestampUS: tsUS, Type: typ, Sequence: seq, Flags: flags, Payload: payload}
		if err := handler(entry); err != nil {
			return lastGoodSeq, coreerr.Wrap(coreerr.Durability, "logstore.replay.handler", err)
		}
		lastGoodSeq = seq
	}
}

// Close stops the async writer (flushing any queued batch) and closes
// the underlying file.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		if l.async {
			close(l.done)
			l.wg.Wait()
		}
	})
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.w.Flush()
	return l.f.Close()
}

func entryTypeLabel(t EntryType) string {
	switch t {
	case TokenCreated:
		return "token_created"
	case ExperienceAdded:
		return "experience_added"
	case ConnectionUpdated:
		return "connection_updated"
	case Snapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}
