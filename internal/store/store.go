// Package store is the local persistence layer: one bbolt database
// holding per-user, per-table record sets plus tombstones for deleted
// ids. It is a best-effort cache, not a durability guarantee: reads
// never fail (corrupt entries are skipped) and failed writes leave the
// prior state intact.
package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Campzilla/STURMENTI-GESTIANALI-ROXSTAR/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// storeDirPerm is the permission mode for the data directory.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the database file.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt database lock.
	storeOpenTimeout = 5 * time.Second

	// TombstoneTTL is how long a deleted id keeps suppressing re-inserts.
	// After expiry the id becomes eligible for re-creation.
	TombstoneTTL = 24 * time.Hour
)

// anonNamespace is used when no authenticated user is available.
const anonNamespace = "anon"

// sharedTables hold household data common to every login. Their buckets
// resolve to the anonymous namespace no matter which user the namespace
// is scoped to, so the seeded shopping list reads the same for everyone.
var sharedTables = map[string]bool{
	"checklist": true,
}

func tableBucket(user, table string) []byte {
	return []byte("user:" + user + ":table:" + table)
}

func tombstoneBucket(user, table string) []byte {
	return []byte("user:" + user + ":tombstones:" + table)
}

// Store wraps the bbolt database shared by all users and tables.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at dir/tools.db.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	return OpenAt(filepath.Join(dir, "tools.db"), logger)
}

// OpenAt opens a database at the given path, creating it if it does not
// exist. Useful for tests that need an isolated database.
func OpenAt(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Namespace returns a per-user view of the store. An empty user falls
// back to the shared anonymous namespace, so pre-login data has a home
// and switching users never leaks records across identities.
func (s *Store) Namespace(user string) *Namespace {
	if user == "" {
		user = anonNamespace
	}

	return &Namespace{store: s, user: user, now: time.Now}
}

// Namespace is the store scoped to a single user identity.
type Namespace struct {
	store *Store
	user  string

	// now is injectable for tombstone TTL tests.
	now func() time.Time
}

// User returns the namespace identity.
func (n *Namespace) User() string {
	return n.user
}

// bucketUser resolves which identity owns the table's buckets. Shared
// tables always live under the anonymous namespace.
func (n *Namespace) bucketUser(table string) string {
	if sharedTables[table] {
		return anonNamespace
	}

	return n.user
}

// ReadAll returns all records in the table with valid encoding. Missing
// buckets and corrupt entries yield an empty or partial result, never an
// error.
func (n *Namespace) ReadAll(table string) []models.Record {
	var out []models.Record

	err := n.store.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(n.bucketUser(table), table))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var rec models.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				// Corrupt entry: skip it rather than failing the read.
				return nil
			}

			out = append(out, rec)

			return nil
		})
	})
	if err != nil {
		n.store.logger.Debug("local read failed", slog.String("table", table), slog.Any("error", err))
		return nil
	}

	return out
}

// Get returns the record with the given id, or nil when absent.
func (n *Namespace) Get(table, id string) models.Record {
	var rec models.Record

	_ = n.store.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(n.bucketUser(table), table))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}

		var r models.Record
		if err := json.Unmarshal(v, &r); err != nil {
			return nil
		}

		rec = r

		return nil
	})

	return rec
}

// WriteAll fully replaces the stored records for the table. Failures are
// swallowed; the prior state stays intact.
func (n *Namespace) WriteAll(table string, recs []models.Record) {
	err := n.store.db.Update(func(tx *bolt.Tx) error {
		key := tableBucket(n.bucketUser(table), table)

		if tx.Bucket(key) != nil {
			if err := tx.DeleteBucket(key); err != nil {
				return err
			}
		}

		b, err := tx.CreateBucket(key)
		if err != nil {
			return err
		}

		for _, rec := range recs {
			if rec.ID() == "" {
				continue
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(rec.ID()), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		n.store.logger.Debug("local write failed", slog.String("table", table), slog.Any("error", err))
	}
}

// UpsertMany merges records into the table by id: each field of an
// incoming record overwrites the stored one, absent fields survive.
// Records without an id are ignored. Returns the full merged table.
func (n *Namespace) UpsertMany(table string, recs []models.Record) []models.Record {
	err := n.store.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(tableBucket(n.bucketUser(table), table))
		if err != nil {
			return err
		}

		for _, rec := range recs {
			id := rec.ID()
			if id == "" {
				continue
			}

			merged := rec
			if v := b.Get([]byte(id)); v != nil {
				var existing models.Record
				if json.Unmarshal(v, &existing) == nil {
					merged = models.Merge(existing, rec)
				}
			}

			data, err := json.Marshal(merged)
			if err != nil {
				return err
			}

			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		n.store.logger.Debug("local upsert failed", slog.String("table", table), slog.Any("error", err))
	}

	return n.ReadAll(table)
}

// RemoveMatching deletes every record matching the predicate and returns
// the remaining records.
func (n *Namespace) RemoveMatching(table string, match func(models.Record) bool) []models.Record {
	err := n.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(n.bucketUser(table), table))
		if b == nil {
			return nil
		}

		var doomed [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var rec models.Record
			if json.Unmarshal(v, &rec) != nil {
				return nil
			}

			if match(rec) {
				key := make([]byte, len(k))
				copy(key, k)
				doomed = append(doomed, key)
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		n.store.logger.Debug("local remove failed", slog.String("table", table), slog.Any("error", err))
	}

	return n.ReadAll(table)
}

// RemoveByID deletes a single record by id and returns the remainder.
func (n *Namespace) RemoveByID(table, id string) []models.Record {
	return n.RemoveMatching(table, func(r models.Record) bool { return r.ID() == id })
}

// MarkDeleted records a tombstone for the id, so a stale re-insert of
// the same id is suppressed for the TTL window.
func (n *Namespace) MarkDeleted(table, id string) {
	if id == "" {
		return
	}

	n.markDeletedAt(table, id, n.now())
}

func (n *Namespace) markDeletedAt(table, id string, ts time.Time) {
	err := n.store.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(tombstoneBucket(n.bucketUser(table), table))
		if err != nil {
			return err
		}

		return b.Put([]byte(id), []byte(strconv.FormatInt(ts.UnixMilli(), 10)))
	})
	if err != nil {
		n.store.logger.Debug("tombstone write failed", slog.String("table", table), slog.Any("error", err))
	}
}

// IsDeleted reports whether the id is currently tombstoned. Expired
// tombstones are pruned lazily on lookup.
func (n *Namespace) IsDeleted(table, id string) bool {
	if id == "" {
		return false
	}

	return n.DeletedIDs(table)[id]
}

// DeletedIDs returns the set of currently tombstoned ids for the table
// in a single transaction, pruning expired tombstones in the same pass.
func (n *Namespace) DeletedIDs(table string) map[string]bool {
	out := make(map[string]bool)

	err := n.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tombstoneBucket(n.bucketUser(table), table))
		if b == nil {
			return nil
		}

		cutoff := n.now().Add(-TombstoneTTL).UnixMilli()

		var expired [][]byte

		_ = b.ForEach(func(k, v []byte) error {
			ms, err := strconv.ParseInt(string(v), 10, 64)
			if err != nil || ms < cutoff {
				key := make([]byte, len(k))
				copy(key, k)
				expired = append(expired, key)

				return nil
			}

			out[string(k)] = true

			return nil
		})

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		n.store.logger.Debug("tombstone read failed", slog.String("table", table), slog.Any("error", err))
	}

	return out
}

// ClearDeleted drops the tombstone for an id. Called whenever the id is
// successfully (re)written so a fresh create after a delete is not
// itself treated as deleted.
func (n *Namespace) ClearDeleted(table, id string) {
	if id == "" {
		return
	}

	err := n.store.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tombstoneBucket(n.bucketUser(table), table))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(id))
	})
	if err != nil {
		n.store.logger.Debug("tombstone clear failed", slog.String("table", table), slog.Any("error", err))
	}
}
