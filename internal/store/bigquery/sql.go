package bigquery

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/shopspring/decimal"
)

// statement is a query with its named parameters.
type statement struct {
	SQL    string
	Params []bigquery.QueryParameter
}

func tableRef(project, dataset string, kind store.Kind) string {
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, kind)
}

// param converts a store value to a BigQuery parameter value. NUMERIC goes
// through *big.Rat and nullable strings through NullString.
func param(name string, v any) bigquery.QueryParameter {
	switch x := v.(type) {
	case decimal.Decimal:
		return bigquery.QueryParameter{Name: name, Value: x.Rat()}
	case *string:
		if x == nil {
			return bigquery.QueryParameter{Name: name, Value: bigquery.NullString{}}
		}
		return bigquery.QueryParameter{Name: name, Value: bigquery.NullString{StringVal: *x, Valid: true}}
	}
	return bigquery.QueryParameter{Name: name, Value: v}
}

func buildInsert(project, dataset string, table store.Table, id, ownerID string, createdAt time.Time, fields store.Fields) statement {
	cols := []string{store.ColID, store.ColUserID, store.ColCreatedAt}
	vals := []string{"@" + store.ColID, "@" + store.ColUserID, "@" + store.ColCreatedAt}
	params := []bigquery.QueryParameter{
		{Name: store.ColID, Value: id},
		{Name: store.ColUserID, Value: ownerID},
		{Name: store.ColCreatedAt, Value: createdAt},
	}
	for _, c := range table.Columns {
		cols = append(cols, c.Name)
		vals = append(vals, "@"+c.Name)
		params = append(params, param(c.Name, fields[c.Name]))
	}

	return statement{
		SQL: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			tableRef(project, dataset, table.Kind), strings.Join(cols, ", "), strings.Join(vals, ", ")),
		Params: params,
	}
}

func buildUpdate(project, dataset string, table store.Table, id, ownerID string, patch store.Fields) statement {
	names := make([]string, 0, len(patch))
	for name := range patch {
		names = append(names, name)
	}
	sort.Strings(names)

	var sets []string
	var params []bigquery.QueryParameter
	for _, name := range names {
		sets = append(sets, fmt.Sprintf("%s = @set_%s", name, name))
		params = append(params, param("set_"+name, patch[name]))
	}
	params = append(params,
		bigquery.QueryParameter{Name: store.ColID, Value: id},
		bigquery.QueryParameter{Name: store.ColUserID, Value: ownerID},
	)

	return statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s WHERE id = @id AND user_id = @user_id",
			tableRef(project, dataset, table.Kind), strings.Join(sets, ", ")),
		Params: params,
	}
}

func buildDelete(project, dataset string, kind store.Kind, id, ownerID string) statement {
	return statement{
		SQL: fmt.Sprintf("DELETE FROM %s WHERE id = @id AND user_id = @user_id", tableRef(project, dataset, kind)),
		Params: []bigquery.QueryParameter{
			{Name: store.ColID, Value: id},
			{Name: store.ColUserID, Value: ownerID},
		},
	}
}

func buildNullRefs(project, dataset string, br store.Backref, id, ownerID string) statement {
	return statement{
		SQL: fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s = @ref AND user_id = @user_id",
			tableRef(project, dataset, br.Kind), br.Column, br.Column),
		Params: []bigquery.QueryParameter{
			{Name: "ref", Value: id},
			{Name: store.ColUserID, Value: ownerID},
		},
	}
}

func buildExists(project, dataset string, kind store.Kind, id, ownerID string) statement {
	return statement{
		SQL: fmt.Sprintf("SELECT COUNT(1) AS n FROM %s WHERE id = @id AND user_id = @user_id", tableRef(project, dataset, kind)),
		Params: []bigquery.QueryParameter{
			{Name: store.ColID, Value: id},
			{Name: store.ColUserID, Value: ownerID},
		},
	}
}

var sqlOps = map[store.Op]string{
	store.OpEq:  "=",
	store.OpGte: ">=",
	store.OpLte: "<=",
}

func buildSelect(project, dataset string, table store.Table, ownerID string, q store.Query) (statement, error) {
	cols := []string{store.ColID, store.ColUserID, store.ColCreatedAt}
	for _, c := range table.Columns {
		cols = append(cols, c.Name)
	}

	where := []string{"user_id = @user_id"}
	params := []bigquery.QueryParameter{{Name: store.ColUserID, Value: ownerID}}
	for i, f := range q.Filters {
		if !table.Filterable(f.Field) {
			return statement{}, fmt.Errorf("%w: cannot filter on %s", store.ErrInvalidFields, f.Field)
		}
		op, ok := sqlOps[f.Op]
		if !ok {
			return statement{}, fmt.Errorf("%w: unsupported operator %q", store.ErrInvalidFields, f.Op)
		}
		name := fmt.Sprintf("f%d", i)
		where = append(where, fmt.Sprintf("%s %s @%s", f.Field, op, name))
		params = append(params, param(name, filterValue(f.Value)))
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	order := store.ColCreatedAt + " " + dir
	if q.OrderBy != "" {
		if !table.Filterable(q.OrderBy) {
			return statement{}, fmt.Errorf("%w: cannot order by %s", store.ErrInvalidFields, q.OrderBy)
		}
		if q.OrderBy != store.ColCreatedAt {
			order = q.OrderBy + " " + dir + ", " + order
		}
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		strings.Join(cols, ", "), tableRef(project, dataset, table.Kind), strings.Join(where, " AND "), order)
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return statement{SQL: sql, Params: params}, nil
}

// filterValue unwraps nullable strings; comparing against NULL never matches.
func filterValue(v any) any {
	if p, ok := v.(*string); ok && p != nil {
		return *p
	}
	if n, ok := v.(int); ok {
		return int64(n)
	}
	return v
}

// decodeRow converts a row read as map[string]bigquery.Value into a record.
func decodeRow(table store.Table, row map[string]bigquery.Value) (*store.Record, error) {
	rec := &store.Record{Fields: make(store.Fields, len(table.Columns))}

	var ok bool
	if rec.ID, ok = row[store.ColID].(string); !ok {
		return nil, fmt.Errorf("decodeRow: id is %T", row[store.ColID])
	}
	rec.OwnerID, _ = row[store.ColUserID].(string)
	rec.CreatedAt, _ = row[store.ColCreatedAt].(time.Time)

	for _, c := range table.Columns {
		v, err := decodeValue(c, row[c.Name])
		if err != nil {
			return nil, fmt.Errorf("decodeRow: %s: %w", c.Name, err)
		}
		rec.Fields[c.Name] = v
	}
	return rec, nil
}

func decodeValue(c store.Column, v bigquery.Value) (any, error) {
	if v == nil {
		if c.Nullable {
			return (*string)(nil), nil
		}
		return nil, fmt.Errorf("unexpected NULL")
	}

	switch c.Type {
	case store.TypeMoney:
		if r, ok := v.(*big.Rat); ok {
			return decimal.NewFromString(r.FloatString(9))
		}
	case store.TypeDate:
		if d, ok := v.(civil.Date); ok {
			return d, nil
		}
	case store.TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case store.TypeInt:
		if n, ok := v.(int64); ok {
			return n, nil
		}
	case store.TypeString:
		if s, ok := v.(string); ok {
			if c.Nullable {
				return &s, nil
			}
			return s, nil
		}
	}
	return nil, fmt.Errorf("unexpected %T for %s column", v, c.Type)
}
