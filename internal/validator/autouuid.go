package validator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AutoUUIDSink receives a generated UUID for one row's cell. It is
// satisfied by store.Store.BackfillValue, kept as its own small
// interface here so this package never imports store.
type AutoUUIDSink interface {
	BackfillValue(ctx context.Context, classID uint64, propertyID uint64, objectID int64, value string) error
}

// BackfillAutoUUIDs walks rows of classID that predate propertyID
// carrying the autoUuid role (spec.md's special_props slot 7) and
// assigns each one a fresh random UUID (RFC 4122 version 4), mirroring
// the value the substrate would generate for a brand-new row.
//
// It visits the stored value rows for propertyID and fills in only those
// whose value is nil or empty, so re-running an alter_class that merely
// keeps the role in place is a no-op. Objects that have no stored value
// row for propertyID at all are not visited and receive no UUID.
func BackfillAutoUUIDs(ctx context.Context, classID, propertyID uint64, rows RowSource, sink AutoUUIDSink) (int, error) {
	n := 0
	err := rows.ScanClassValues(ctx, classID, []uint64{propertyID}, func(rv RowValue) error {
		if rv.Value != nil {
			if s, ok := rv.Value.(string); ok && s != "" {
				return nil
			}
		}
		if err := sink.BackfillValue(ctx, classID, propertyID, rv.ObjectID, uuid.New().String()); err != nil {
			return fmt.Errorf("backfill autoUuid for object %d: %w", rv.ObjectID, err)
		}
		n++
		return nil
	})
	return n, err
}
