package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"lakerun/internal/domain"
	"lakerun/internal/expr"
)

// applyProjection produces the table's declared output columns for each row.
// Passthrough columns must exist in the input row; the mismatch is detected
// before anything is written.
func applyProjection(t *domain.TableSpec, rows []domain.Row) ([]domain.Row, error) {
	if len(t.Columns) == 0 {
		return rows, nil
	}

	out := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		projected := make(domain.Row, len(t.Columns))
		for _, col := range t.Columns {
			if col.Expr == "" {
				v, ok := row[col.Name]
				if !ok {
					return nil, &domain.SchemaMismatchError{Table: t.Name, Column: col.Name}
				}
				projected[col.Name] = v
				continue
			}
			v, err := expr.Eval(fmt.Sprintf("%s.%s", t.Name, col.Name), col.Expr, row)
			if err != nil {
				return nil, fmt.Errorf("table %q: derive column %q: %w", t.Name, col.Name, err)
			}
			projected[col.Name] = v
		}
		out = append(out, projected)
	}
	return out, nil
}

// applyJoin inner-joins new left-side rows against the right-side snapshot.
// Left rows without a matching right row are excluded. On column-name
// collision the left (stream) value wins.
func applyJoin(t *domain.TableSpec, leftRows, rightRows []domain.Row) ([]domain.Row, error) {
	index := make(map[string][]domain.Row, len(rightRows))
	for _, row := range rightRows {
		key, err := joinKey(t, row)
		if err != nil {
			return nil, err
		}
		index[key] = append(index[key], row)
	}

	var out []domain.Row
	for _, left := range leftRows {
		key, err := joinKey(t, left)
		if err != nil {
			return nil, err
		}
		for _, right := range index[key] {
			merged := right.Clone()
			for k, v := range left {
				merged[k] = v
			}
			out = append(out, merged)
		}
	}
	return out, nil
}

func joinKey(t *domain.TableSpec, row domain.Row) (string, error) {
	parts := make([]string, len(t.Join.On))
	for i, col := range t.Join.On {
		v, ok := row[col]
		if !ok {
			return "", &domain.SchemaMismatchError{Table: t.Name, Column: col}
		}
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x1f"), nil
}

// applyAggregations recomputes the table's aggregates from the complete
// current input state. Groups are emitted in a stable key order.
func applyAggregations(t *domain.TableSpec, rows []domain.Row) ([]domain.Row, error) {
	groups := map[string][]domain.Row{}
	var keys []string

	for _, row := range rows {
		parts := make([]string, len(t.GroupBy))
		for i, col := range t.GroupBy {
			v, ok := row[col]
			if !ok {
				return nil, &domain.SchemaMismatchError{Table: t.Name, Column: col}
			}
			parts[i] = fmt.Sprintf("%v", v)
		}
		key := strings.Join(parts, "\x1f")
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], row)
	}
	sort.Strings(keys)

	out := make([]domain.Row, 0, len(keys))
	for _, key := range keys {
		members := groups[key]
		row := make(domain.Row, len(t.GroupBy)+len(t.Aggregations))
		for _, col := range t.GroupBy {
			row[col] = members[0][col]
		}
		for _, agg := range t.Aggregations {
			v, err := aggregate(t, agg, members)
			if err != nil {
				return nil, err
			}
			row[agg.As] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func aggregate(t *domain.TableSpec, agg domain.Aggregation, rows []domain.Row) (any, error) {
	if agg.Op == "count" && agg.Column == "" {
		return int64(len(rows)), nil
	}

	var (
		count int64
		sum   float64
		min   float64
		max   float64
	)
	for _, row := range rows {
		v, ok := row[agg.Column]
		if !ok {
			return nil, &domain.SchemaMismatchError{Table: t.Name, Column: agg.Column}
		}
		if v == nil {
			continue
		}
		if agg.Op == "count" {
			count++
			continue
		}
		f, ok := asFloat(v)
		if !ok {
			return nil, domain.ErrValidation("table %q: aggregation %q: column %q is not numeric (%T)",
				t.Name, agg.As, agg.Column, v)
		}
		if count == 0 {
			min, max = f, f
		} else {
			if f < min {
				min = f
			}
			if f > max {
				max = f
			}
		}
		count++
		sum += f
	}

	switch agg.Op {
	case "count":
		return count, nil
	case "sum":
		return sum, nil
	case "avg":
		if count == 0 {
			return nil, nil
		}
		return sum / float64(count), nil
	case "min":
		if count == 0 {
			return nil, nil
		}
		return min, nil
	case "max":
		if count == 0 {
			return nil, nil
		}
		return max, nil
	default:
		return nil, domain.ErrValidation("table %q: unknown aggregation op %q", t.Name, agg.Op)
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}
