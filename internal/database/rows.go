package database

import (
	"database/sql"
	"strconv"
	"time"
)

// Row is a single result row as a column-name mapping. Values hold whatever
// the driver produced; use the To* helpers (or the Row accessors) to coerce,
// since MySQL returns numerics as []byte while Postgres returns native types.
type Row map[string]interface{}

func (r Row) Int64(col string) int64     { return ToInt64(r[col]) }
func (r Row) Float64(col string) float64 { return ToFloat64(r[col]) }
func (r Row) String(col string) string   { return ToString(r[col]) }

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ToInt64 coerces a driver value to int64, returning 0 on nil or anything
// unparseable.
func ToInt64(v interface{}) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case int64:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint64:
		return int64(val)
	case float64:
		return int64(val)
	case float32:
		return int64(val)
	case bool:
		if val {
			return 1
		}
		return 0
	case []byte:
		return parseInt64(string(val))
	case string:
		return parseInt64(val)
	case time.Time:
		return val.Unix()
	default:
		return 0
	}
}

// ToFloat64 coerces a driver value to float64, returning 0 on nil or
// anything unparseable.
func ToFloat64(v interface{}) float64 {
	switch val := v.(type) {
	case nil:
		return 0
	case float64:
		return val
	case float32:
		return float64(val)
	case int64:
		return float64(val)
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case uint64:
		return float64(val)
	case []byte:
		f, err := strconv.ParseFloat(string(val), 64)
		if err != nil {
			return 0
		}
		return f
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// ToString coerces a driver value to string, returning "" on nil.
func ToString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	// MySQL aggregates can come back as decimal strings.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}
