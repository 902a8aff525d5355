package lock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

const leaseBucket = "daemon_lease"

// Lease is a durable, bbolt-backed single-instance guard for daemon mode
// (C14): a crashed daemon's lock is reclaimable once the lease expires,
// instead of requiring an operator to remove a stale plain lockfile. It is
// a row in the run-history store (C12), not a store of its own, so it
// shares that store's already-open *bbolt.DB instead of opening the file a
// second time.
type Lease struct {
	db     *bbolt.DB
	key    string
	expiry time.Duration
}

// NewLease returns a Lease keyed by instanceKey (typically the daemon's
// config path or a fixed name), expiring after expiry if never refreshed.
// db is normally history.Store's own handle (history.Store.DB()), so the
// lease and the run-history records live in the same bbolt file.
func NewLease(db *bbolt.DB, instanceKey string, expiry time.Duration) (*Lease, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(leaseBucket))
		return errors.Wrap(err, "create lease bucket")
	})
	if err != nil {
		return nil, err
	}
	return &Lease{db: db, key: instanceKey, expiry: expiry}, nil
}

// Expiry returns the lease's configured expiry window, so callers that
// schedule periodic renewal (the daemon) can derive a sensible renewal
// interval from it instead of duplicating the value.
func (l *Lease) Expiry() time.Duration {
	return l.expiry
}

// Acquire claims the lease for ownerID, succeeding if no lease is held, the
// existing lease is already held by ownerID, or the existing lease has
// expired.
func (l *Lease) Acquire(ownerID string) (bool, error) {
	var acquired bool
	err := l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(leaseBucket))
		cur := b.Get([]byte(l.key))
		if cur != nil {
			heldBy, heldAt, err := parseLease(cur)
			if err != nil {
				return errors.Wrap(err, "parse existing lease")
			}
			if heldBy != ownerID && time.Since(heldAt) < l.expiry {
				acquired = false
				return nil
			}
		}
		if err := b.Put([]byte(l.key), []byte(formatLease(ownerID))); err != nil {
			return errors.Wrap(err, "write lease")
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// Renew refreshes the lease timestamp for ownerID, keeping it from expiring
// while the daemon is alive. A no-op if another owner holds the lease; an
// absent (or unparsable) record is written afresh for ownerID.
func (l *Lease) Renew(ownerID string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(leaseBucket))
		cur := b.Get([]byte(l.key))
		if cur != nil {
			heldBy, _, err := parseLease(cur)
			if err == nil && heldBy != ownerID {
				return nil
			}
		}
		return errors.Wrap(b.Put([]byte(l.key), []byte(formatLease(ownerID))), "renew lease")
	})
}

// Release drops the lease if held by ownerID.
func (l *Lease) Release(ownerID string) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(leaseBucket))
		cur := b.Get([]byte(l.key))
		if cur == nil {
			return nil
		}
		heldBy, _, err := parseLease(cur)
		if err != nil || heldBy == ownerID {
			return errors.Wrap(b.Delete([]byte(l.key)), "delete lease")
		}
		return nil
	})
}

func formatLease(ownerID string) string {
	return fmt.Sprintf("%s:%d", ownerID, time.Now().UnixNano())
}

func parseLease(data []byte) (ownerID string, at time.Time, err error) {
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) != 2 {
		return "", time.Time{}, errors.New("malformed lease record")
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "parse lease timestamp")
	}
	return parts[0], time.Unix(0, nanos), nil
}
