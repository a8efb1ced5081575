package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	defaultOptions = opt.Options{
		Compression:        opt.SnappyCompression,
		BlockCacheCapacity: 8 * opt.MiB,
		WriteBuffer:        4 * opt.MiB,
	}

	// Options returns the leveldb options the journal is opened with.
	// It's defined as a variable for the sake of testing.
	Options = func() *opt.Options {
		return &defaultOptions
	}

	entriesBucket = []byte("entries/")
	unixEpoch     = time.Unix(0, 0)

	// ErrClosed is returned by operations on a closed journal.
	ErrClosed = errors.New("journal is closed")
)

// Journal records forwarding decisions and delivery reports in a leveldb
// database. Entries are keyed by the time they were recorded, so iteration
// returns them in chronological order and pruning deletes a key prefix
// range.
type Journal struct {
	ldb       *leveldb.DB
	retention time.Duration
	now       func() time.Time

	lock     sync.Mutex
	sequence uint32
	closed   bool

	stopPruning chan struct{}
	pruningDone chan struct{}
}

// Open opens the journal at path, creating it when it doesn't exist.
// Entries older than retention are removed by Prune.
func Open(path string, retention time.Duration) (*Journal, error) {
	ldb, err := leveldb.OpenFile(path, Options())

	// If the database is corrupted, attempt to recover.
	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.Warnf("Journal corruption detected for path %s: %s", path, err)
		var err error
		ldb, err = leveldb.RecoverFile(path, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "recovering journal %s", path)
		}
		log.Warnf("Journal recovered from corruption for path %s", path)
	}

	// If the database cannot be opened for any other
	// reason, return the error as-is.
	if err != nil {
		return nil, errors.Wrapf(err, "opening journal %s", path)
	}
	log.Infof("Journal opened at %s", path)
	return newJournal(ldb, retention), nil
}

// OpenInMemory opens a journal that lives only as long as the process.
func OpenInMemory(retention time.Duration) (*Journal, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), Options())
	if err != nil {
		return nil, errors.Wrap(err, "opening in-memory journal")
	}
	return newJournal(ldb, retention), nil
}

func newJournal(ldb *leveldb.DB, retention time.Duration) *Journal {
	return &Journal{
		ldb:       ldb,
		retention: retention,
		now:       time.Now,
	}
}

// entryKey is the bucket prefix, the big-endian unix nanoseconds of the
// entry and a sequence number that keeps entries of the same instant apart.
// Instants before the unix epoch, the zero time included, share the
// nanoseconds 0: their UnixNano is negative or overflows.
func entryKey(recorded time.Time, sequence uint32) []byte {
	var nanoseconds uint64
	if recorded.After(unixEpoch) {
		nanoseconds = uint64(recorded.UnixNano())
	}
	key := make([]byte, 0, len(entriesBucket)+12)
	key = append(key, entriesBucket...)
	key = binary.BigEndian.AppendUint64(key, nanoseconds)
	key = binary.BigEndian.AppendUint32(key, sequence)
	return key
}

func timeKey(t time.Time) []byte {
	return entryKey(t, 0)
}

// Record stores entry. A zero Time is set to the current time.
func (j *Journal) Record(entry *Entry) error {
	j.lock.Lock()
	if j.closed {
		j.lock.Unlock()
		return errors.WithStack(ErrClosed)
	}
	if entry.Time.IsZero() {
		entry.Time = j.now()
	}
	j.sequence++
	key := entryKey(entry.Time, j.sequence)
	j.lock.Unlock()

	value, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrapf(err, "encoding journal entry for %s", entry.RequestID)
	}
	err = j.ldb.Put(key, value, nil)
	if err != nil {
		return errors.Wrapf(err, "writing journal entry for %s", entry.RequestID)
	}
	log.Tracef("Recorded %s", entry)
	return nil
}

// Entries returns the entries recorded at or after since, oldest first.
func (j *Journal) Entries(since time.Time) ([]*Entry, error) {
	if j.isClosed() {
		return nil, errors.WithStack(ErrClosed)
	}
	keyRange := &util.Range{Start: timeKey(since), Limit: util.BytesPrefix(entriesBucket).Limit}
	iterator := j.ldb.NewIterator(keyRange, nil)
	defer iterator.Release()

	var entries []*Entry
	for iterator.Next() {
		entry := &Entry{}
		err := json.Unmarshal(iterator.Value(), entry)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding journal entry %x", iterator.Key())
		}
		entries = append(entries, entry)
	}
	err := iterator.Error()
	if err != nil {
		return nil, errors.Wrap(err, "iterating the journal")
	}
	return entries, nil
}

// EntriesFor returns the entries of the request requestID, oldest first.
func (j *Journal) EntriesFor(requestID string) ([]*Entry, error) {
	entries, err := j.Entries(time.Time{})
	if err != nil {
		return nil, err
	}
	var matching []*Entry
	for _, entry := range entries {
		if entry.RequestID == requestID {
			matching = append(matching, entry)
		}
	}
	return matching, nil
}

// Prune deletes the entries older than the retention period and returns
// how many were deleted.
func (j *Journal) Prune() (int, error) {
	if j.isClosed() {
		return 0, errors.WithStack(ErrClosed)
	}
	cutoff := j.now().Add(-j.retention)
	keyRange := &util.Range{Start: entriesBucket, Limit: timeKey(cutoff)}
	iterator := j.ldb.NewIterator(keyRange, nil)
	defer iterator.Release()

	batch := new(leveldb.Batch)
	for iterator.Next() {
		batch.Delete(bytes.Clone(iterator.Key()))
	}
	err := iterator.Error()
	if err != nil {
		return 0, errors.Wrap(err, "iterating the journal")
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	err = j.ldb.Write(batch, nil)
	if err != nil {
		return 0, errors.Wrap(err, "pruning the journal")
	}
	log.Debugf("Pruned %d journal entries older than %s", batch.Len(), cutoff)
	return batch.Len(), nil
}

// StartPruning prunes the journal every interval until Close.
func (j *Journal) StartPruning(interval time.Duration) {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.closed || j.stopPruning != nil {
		return
	}
	j.stopPruning = make(chan struct{})
	j.pruningDone = make(chan struct{})
	stop, done := j.stopPruning, j.pruningDone

	spawn("Journal.StartPruning", func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_, err := j.Prune()
				if err != nil {
					log.Warnf("Pruning the journal failed: %s", err)
				}
			}
		}
	})
}

func (j *Journal) isClosed() bool {
	j.lock.Lock()
	defer j.lock.Unlock()
	return j.closed
}

// Close stops pruning and closes the database. Calling it a second time
// returns ErrClosed.
func (j *Journal) Close() error {
	j.lock.Lock()
	if j.closed {
		j.lock.Unlock()
		return errors.WithStack(ErrClosed)
	}
	j.closed = true
	stop, done := j.stopPruning, j.pruningDone
	j.lock.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return j.ldb.Close()
}
