// Package store is the substrate access layer: durable storage for the
// name dictionary, class/property metadata, object values, range and
// full-text index shadow tables, and the invalid-object ledger (spec.md
// §5). Store is an interface rather than a concrete type because the
// substrate itself is out of scope (spec.md Non-goals) — MySQL is wired
// in here only as the concrete implementation the integration tests run
// against, grounded on the teacher's own choice of database/sql plus
// go-sql-driver/mysql for its testcontainers-backed suite.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"flexilite/internal/catalog"
	"flexilite/internal/defparser"
	"flexilite/internal/schema"
	"flexilite/internal/validator"
)

// Tx is the subset of *sql.Tx the engine pipeline needs; it lets callers
// compose multiple store operations inside one substrate transaction.
type Tx interface {
	Commit() error
	Rollback() error
}

// Store is the full substrate surface the engine drives a schema
// alteration through.
type Store interface {
	// Begin opens a substrate transaction scoped to ctx.
	Begin(ctx context.Context) (Tx, error)

	// Names
	InsertName(ctx context.Context, tx Tx, text string) (uint64, error)
	GetNameID(ctx context.Context, tx Tx, text string) (uint64, bool, error)
	GetNameText(ctx context.Context, tx Tx, id uint64) (string, bool, error)

	// Classes
	LoadClassByName(ctx context.Context, tx Tx, name string) (*schema.ClassDef, bool, error)
	LoadClassByID(ctx context.Context, tx Tx, id uint64) (*schema.ClassDef, bool, error)
	SaveClass(ctx context.Context, tx Tx, cd *schema.ClassDef, rawJSON []byte) error
	DeleteClass(ctx context.Context, tx Tx, id uint64) error

	// Properties. belowThreshold is the applier's index_apply_threshold
	// verdict (spec.md §4.6.4): SaveProperty derives ctlv from p's
	// declared intent gated by it, and always records the full intent as
	// ctlvPlan.
	SaveProperty(ctx context.Context, tx Tx, classID uint64, p *schema.PropertyDef, belowThreshold bool) error
	DeleteProperty(ctx context.Context, tx Tx, classID, propertyID uint64) error

	// Schema version (spec.md §5: the context's watermark vs. this
	// counter decides whether a connection's caches are stale).
	SchemaVersion(ctx context.Context, tx Tx) (uint64, error)
	BumpSchemaVersion(ctx context.Context, tx Tx) (uint64, error)

	// ObjectCount reports how many objects of classID exist, used by the
	// applier's index_apply_threshold heuristic. It reads outside any
	// substrate transaction since it only informs a heuristic decision.
	ObjectCount(ctx context.Context, classID uint64) (int64, error)

	// BackfillValue writes a generated value into one stored cell, used
	// to populate autoUuid/autoShortId slots on rows that predate the
	// role being assigned to their property.
	BackfillValue(ctx context.Context, tx Tx, classID uint64, propertyID uint64, objectID int64, value string) error

	// RelocateObjects reassigns every stored value row from fromClassID to
	// toClassID, used by drop_class(soft=true) to move rows under the
	// system "Object" class (spec.md §6).
	RelocateObjects(ctx context.Context, tx Tx, fromClassID, toClassID uint64) error

	// DropAuxiliaryData removes classID's range, full-text, and reference
	// index rows (spec.md §6: soft-drop "drops indexes, FTS, range,
	// reference values").
	DropAuxiliaryData(ctx context.Context, tx Tx, classID uint64) error

	validator.RowSource
	validator.InvalidRecorder
}

// MySQLStore is the reference Store implementation, backed by
// database/sql and the MySQL driver.
type MySQLStore struct {
	db *sql.DB
}

// Open dials dsn and returns a ready MySQLStore.
func Open(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open substrate connection: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Close() error { return s.db.Close() }

type sqlTx struct{ tx *sql.Tx }

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func (s *MySQLStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin substrate transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

// querier is the subset of *sql.DB / *sql.Tx every read/write helper
// below needs; methods that receive a nil Tx (a caller reading outside
// any explicit transaction) fall back to the pooled *sql.DB.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *MySQLStore) q(tx Tx) querier {
	if st, ok := tx.(*sqlTx); ok && st != nil {
		return st.tx
	}
	return s.db
}

func (s *MySQLStore) InsertName(ctx context.Context, tx Tx, text string) (uint64, error) {
	res, err := s.q(tx).ExecContext(ctx,
		`INSERT INTO flexi_names (name) VALUES (?) ON DUPLICATE KEY UPDATE name_id = LAST_INSERT_ID(name_id)`, text)
	if err != nil {
		return 0, fmt.Errorf("insert name %q: %w", text, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert name %q: %w", text, err)
	}
	return uint64(id), nil
}

func (s *MySQLStore) GetNameID(ctx context.Context, tx Tx, text string) (uint64, bool, error) {
	var id uint64
	err := s.q(tx).QueryRowContext(ctx, `SELECT name_id FROM flexi_names WHERE name = ?`, text).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup name %q: %w", text, err)
	}
	return id, true, nil
}

func (s *MySQLStore) GetNameText(ctx context.Context, tx Tx, id uint64) (string, bool, error) {
	var text string
	err := s.q(tx).QueryRowContext(ctx, `SELECT name FROM flexi_names WHERE name_id = ?`, id).Scan(&text)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup name id %d: %w", id, err)
	}
	return text, true, nil
}

func (s *MySQLStore) LoadClassByName(ctx context.Context, tx Tx, name string) (*schema.ClassDef, bool, error) {
	var id uint64
	err := s.q(tx).QueryRowContext(ctx,
		`SELECT c.class_id FROM flexi_classes c JOIN flexi_names n ON n.name_id = c.name_id WHERE n.name = ?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup class %q: %w", name, err)
	}
	return s.LoadClassByID(ctx, tx, id)
}

func (s *MySQLStore) LoadClassByID(ctx context.Context, tx Tx, id uint64) (*schema.ClassDef, bool, error) {
	var rawJSON []byte
	var nameText string
	var ctloMask uint32
	err := s.q(tx).QueryRowContext(ctx,
		`SELECT n.name, c.ctlo_mask, c.data_json FROM flexi_classes c JOIN flexi_names n ON n.name_id = c.name_id WHERE c.class_id = ?`,
		id).Scan(&nameText, &ctloMask, &rawJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load class %d: %w", id, err)
	}
	cd, decErr := decodeClassDef(rawJSON)
	if decErr != nil {
		return nil, false, fmt.Errorf("decode class %d: %w", id, decErr)
	}
	cd.ClassID = id
	cd.Name = schema.Name{Text: nameText}
	cd.CtloMask = ctloMask
	return cd, true, nil
}

func (s *MySQLStore) SaveClass(ctx context.Context, tx Tx, cd *schema.ClassDef, rawJSON []byte) error {
	_, err := s.q(tx).ExecContext(ctx,
		`INSERT INTO flexi_classes (class_id, name_id, ctlo_mask, data_json) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE ctlo_mask = VALUES(ctlo_mask), data_json = VALUES(data_json)`,
		cd.ClassID, cd.Name.ID, cd.CtloMask, rawJSON)
	if err != nil {
		return fmt.Errorf("save class %q: %w", cd.Name.Text, err)
	}
	return nil
}

func (s *MySQLStore) DeleteClass(ctx context.Context, tx Tx, id uint64) error {
	if _, err := s.q(tx).ExecContext(ctx, `DELETE FROM flexi_classes WHERE class_id = ?`, id); err != nil {
		return fmt.Errorf("delete class %d: %w", id, err)
	}
	return nil
}

func (s *MySQLStore) SaveProperty(ctx context.Context, tx Tx, classID uint64, p *schema.PropertyDef, belowThreshold bool) error {
	ctlvPlan := propertyCtlvPlan(p)
	p.CtlvPlan = ctlvPlan
	ctlv := effectiveCtlv(ctlvPlan, belowThreshold)

	_, err := s.q(tx).ExecContext(ctx,
		`INSERT INTO flexi_class_properties (property_id, class_id, name_id, prop_type, ctlv, ctlv_plan)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE prop_type = VALUES(prop_type), ctlv = VALUES(ctlv), ctlv_plan = VALUES(ctlv_plan)`,
		p.ID, classID, p.Name.ID, string(p.Type), ctlv, ctlvPlan)
	if err != nil {
		return fmt.Errorf("save property %q on class %d: %w", p.Name.Text, classID, err)
	}
	return nil
}

func (s *MySQLStore) DeleteProperty(ctx context.Context, tx Tx, classID, propertyID uint64) error {
	_, err := s.q(tx).ExecContext(ctx,
		`DELETE FROM flexi_class_properties WHERE class_id = ? AND property_id = ?`, classID, propertyID)
	if err != nil {
		return fmt.Errorf("delete property %d on class %d: %w", propertyID, classID, err)
	}
	return nil
}

func (s *MySQLStore) SchemaVersion(ctx context.Context, tx Tx) (uint64, error) {
	var v uint64
	err := s.q(tx).QueryRowContext(ctx, `SELECT version FROM flexi_schema_version WHERE id = 1`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

func (s *MySQLStore) BumpSchemaVersion(ctx context.Context, tx Tx) (uint64, error) {
	if _, err := s.q(tx).ExecContext(ctx, `UPDATE flexi_schema_version SET version = version + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("bump schema version: %w", err)
	}
	return s.SchemaVersion(ctx, tx)
}

func (s *MySQLStore) ObjectCount(ctx context.Context, classID uint64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM flexi_objects WHERE class_id = ?`, classID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count objects of class %d: %w", classID, err)
	}
	return n, nil
}

// BackfillValue writes a generated value into one stored cell, used by
// the applier to populate autoUuid/autoShortId slots on pre-existing
// rows when that role is newly assigned to a property.
func (s *MySQLStore) BackfillValue(ctx context.Context, tx Tx, classID uint64, propertyID uint64, objectID int64, value string) error {
	_, err := s.q(tx).ExecContext(ctx,
		`INSERT INTO flexi_objects (class_id, property_id, object_id, value) VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE value = VALUES(value)`,
		classID, propertyID, objectID, value)
	if err != nil {
		return fmt.Errorf("backfill value for object %d property %d: %w", objectID, propertyID, err)
	}
	return nil
}

// RelocateObjects implements the Store interface: it moves every value
// row for fromClassID under toClassID in one statement, so a soft-drop's
// relocation is atomic with the rest of its transaction.
func (s *MySQLStore) RelocateObjects(ctx context.Context, tx Tx, fromClassID, toClassID uint64) error {
	_, err := s.q(tx).ExecContext(ctx,
		`UPDATE flexi_objects SET class_id = ? WHERE class_id = ?`, toClassID, fromClassID)
	if err != nil {
		return fmt.Errorf("relocate objects from class %d to class %d: %w", fromClassID, toClassID, err)
	}
	return nil
}

// DropAuxiliaryData implements the Store interface: it deletes classID's
// range-index, full-text-index, and reference-value rows.
func (s *MySQLStore) DropAuxiliaryData(ctx context.Context, tx Tx, classID uint64) error {
	for _, stmt := range []string{
		`DELETE FROM flexi_range_data WHERE class_id = ?`,
		`DELETE FROM flexi_full_text_data WHERE class_id = ?`,
		`DELETE FROM flexi_ref_values WHERE class_id = ?`,
	} {
		if _, err := s.q(tx).ExecContext(ctx, stmt, classID); err != nil {
			return fmt.Errorf("drop auxiliary data for class %d: %w", classID, err)
		}
	}
	return nil
}

// ScanClassValues implements validator.RowSource by streaming every
// stored value for the given properties of classID.
func (s *MySQLStore) ScanClassValues(ctx context.Context, classID uint64, propertyIDs []uint64, fn func(validator.RowValue) error) error {
	if len(propertyIDs) == 0 {
		return nil
	}
	placeholders := make([]any, 0, len(propertyIDs)+1)
	placeholders = append(placeholders, classID)
	q := `SELECT object_id, property_id, value FROM flexi_objects WHERE class_id = ? AND property_id IN (`
	for i, id := range propertyIDs {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders = append(placeholders, id)
	}
	q += ") ORDER BY object_id"

	rows, err := s.db.QueryContext(ctx, q, placeholders...)
	if err != nil {
		return fmt.Errorf("scan class %d values: %w", classID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rv validator.RowValue
		var value sql.NullString
		if err := rows.Scan(&rv.ObjectID, &rv.PropertyID, &value); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		if value.Valid {
			rv.Value = value.String
		}
		if err := fn(rv); err != nil {
			return err
		}
	}
	return rows.Err()
}

// RecordInvalid implements validator.InvalidRecorder by appending to
// [.invalid_objects] (spec.md §6: ClassID, ObjectID, Reason).
func (s *MySQLStore) RecordInvalid(ctx context.Context, classID uint64, objectID int64, propName, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flexi_invalid_objects (class_id, object_id, property_name, reason) VALUES (?, ?, ?, ?)`,
		classID, objectID, propName, reason)
	if err != nil {
		return fmt.Errorf("record invalid object %d: %w", objectID, err)
	}
	return nil
}

// propertyCtlvPlan computes the full-intent per-property flag word
// (spec.md §4.6.4's ctlvPlan): every indexing intent the declared
// property carries, irrespective of the index_apply_threshold heuristic.
func propertyCtlvPlan(p *schema.PropertyDef) uint32 {
	var plan uint32
	if p.Unique {
		plan |= schema.CtloUniqueIndex
	}
	if p.Indexed {
		plan |= schema.CtloOrderedIndex
	}
	if p.FullText {
		plan |= schema.CtloFullText
	}
	if p.RangeIndex {
		plan |= schema.CtloRange
	}
	if p.Type == catalog.Reference {
		plan |= schema.CtloRef
	}
	return plan
}

// effectiveCtlv derives ctlv from ctlvPlan per spec.md §4.6.4's
// index_apply_threshold heuristic: below the threshold only uniqueness
// and reference flags materialise; ordered/full-text/range intent is
// deferred until a later applier run observes the class has crossed it.
func effectiveCtlv(ctlvPlan uint32, belowThreshold bool) uint32 {
	if !belowThreshold {
		return ctlvPlan
	}
	return ctlvPlan & (schema.CtloUniqueIndex | schema.CtloRef)
}

func decodeClassDef(rawJSON []byte) (*schema.ClassDef, error) {
	return defparser.Parse(rawJSON, defparser.Options{Strict: false})
}
