package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEqual        Op = "=="
	OpNotEqual     Op = "!="
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

var sqlOps = map[Op]string{
	OpEqual:        "=",
	OpNotEqual:     "!=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
}

// Filter constrains a top-level field.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Order sorts results by a top-level field.
type Order struct {
	Field      string
	Descending bool
}

// Query selects documents from one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    *Order
	Limit      int
}

// Collection starts a query on a collection.
func Collection(name string) Query {
	return Query{Collection: name}
}

// Where returns a copy of q with an additional filter.
func (q Query) Where(field string, op Op, value any) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Op: op, Value: value})
	return q
}

// OrderByField returns a copy of q ordered by field.
func (q Query) OrderByField(field string, descending bool) Query {
	q.OrderBy = &Order{Field: field, Descending: descending}
	return q
}

// WithLimit returns a copy of q limited to n results (0 = no limit).
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// String renders the query for logs.
func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Collection)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " where %s %s %v", f.Field, f.Op, f.Value)
	}
	if q.OrderBy != nil {
		dir := "asc"
		if q.OrderBy.Descending {
			dir = "desc"
		}
		fmt.Fprintf(&b, " order by %s %s", q.OrderBy.Field, dir)
	}
	return b.String()
}

func (q Query) validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if err := checkField(f.Field); err != nil {
			return err
		}
		if _, ok := sqlOps[f.Op]; !ok {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
	}
	if q.OrderBy != nil {
		if err := checkField(q.OrderBy.Field); err != nil {
			return err
		}
	}
	return nil
}

// checkField allows plain identifiers only; field names are spliced into
// JSON paths.
func checkField(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty field name", ErrInvalidQuery)
	}
	for _, r := range name {
		ok := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("%w: unsupported field name %q", ErrInvalidQuery, name)
		}
	}
	return nil
}

// Query runs a one-shot query and returns the matching documents.
func (db *DB) Query(ctx context.Context, q Query) ([]*Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := db.checkRules(ctx, q); err != nil {
		return nil, err
	}
	if q.OrderBy != nil && len(q.Filters) > 0 {
		ok, err := db.hasIndex(ctx, q.Collection, q.OrderBy.Field, q.OrderBy.Descending)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrIndexRequired, q)
		}
	}

	conditions := []string{"collection = ?"}
	args := []interface{}{q.Collection}
	for _, f := range q.Filters {
		conditions = append(conditions, fmt.Sprintf("json_extract(data, ?) %s ?", sqlOps[f.Op]))
		args = append(args, jsonPath(f.Field), bindValue(f.Value))
	}

	query := `SELECT id, data, created_at, updated_at FROM documents WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at ASC, id ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	docs, err := scanDocuments(rows, q.Collection)
	if err != nil {
		return nil, err
	}

	if q.OrderBy != nil {
		field, desc := q.OrderBy.Field, q.OrderBy.Descending
		sort.SliceStable(docs, func(i, j int) bool {
			c := compareValues(docs[i].Field(field), docs[j].Field(field))
			if desc {
				return c > 0
			}
			return c < 0
		})
	}

	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

// Get retrieves a single document. Access rules apply to queries only.
func (db *DB) Get(ctx context.Context, collection, id string) (*Document, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?`,
		collection, id)

	doc := &Document{Collection: collection}
	var data, createdAt, updatedAt string
	if err := row.Scan(&doc.ID, &data, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	doc.Data = json.RawMessage(data)
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return doc, nil
}

func scanDocuments(rows *sql.Rows, collection string) ([]*Document, error) {
	var docs []*Document
	for rows.Next() {
		doc := &Document{Collection: collection}
		var data, createdAt, updatedAt string
		if err := rows.Scan(&doc.ID, &data, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc.Data = json.RawMessage(data)
		doc.CreatedAt = parseTime(createdAt)
		doc.UpdatedAt = parseTime(updatedAt)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return docs, nil
}

func jsonPath(field string) string {
	return `$."` + field + `"`
}

// bindValue converts filter values into types SQLite compares the same
// way json_extract returns them.
func bindValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return boolToInt(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case string, int, int64, float64:
		return x
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return boolToInt(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return fmt.Sprint(v)
}

// compareValues orders decoded JSON values. Strings that parse as
// RFC 3339 timestamps compare chronologically; missing values sort first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case string:
		if y, ok := b.(string); ok {
			tx, errX := time.Parse(time.RFC3339Nano, x)
			ty, errY := time.Parse(time.RFC3339Nano, y)
			if errX == nil && errY == nil {
				return tx.Compare(ty)
			}
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
