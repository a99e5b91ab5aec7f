package postgres

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/financinha/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// placeholder returns $n with the cast the column type needs. Money and dates
// travel as text so no float or time zone conversion happens on the way.
func placeholder(n int, t store.ColumnType) string {
	switch t {
	case store.TypeMoney:
		return fmt.Sprintf("$%d::numeric", n)
	case store.TypeDate:
		return fmt.Sprintf("$%d::date", n)
	}
	return fmt.Sprintf("$%d", n)
}

func encode(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String()
	case civil.Date:
		return x.String()
	}
	return v
}

func selectList(table store.Table) string {
	cols := []string{ident(store.ColID), ident(store.ColUserID), ident(store.ColCreatedAt)}
	for _, c := range table.Columns {
		switch c.Type {
		case store.TypeMoney:
			cols = append(cols, ident(c.Name)+"::text")
		case store.TypeDate:
			cols = append(cols, "to_char("+ident(c.Name)+", 'YYYY-MM-DD')")
		default:
			cols = append(cols, ident(c.Name))
		}
	}
	return strings.Join(cols, ", ")
}

func buildInsert(table store.Table, id, ownerID string, createdAt time.Time, fields store.Fields) (string, []any) {
	cols := []string{ident(store.ColID), ident(store.ColUserID), ident(store.ColCreatedAt)}
	vals := []string{"$1", "$2", "$3"}
	args := []any{id, ownerID, createdAt}

	for _, c := range table.Columns {
		args = append(args, encode(fields[c.Name]))
		cols = append(cols, ident(c.Name))
		vals = append(vals, placeholder(len(args), c.Type))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		ident(string(table.Kind)), strings.Join(cols, ", "), strings.Join(vals, ", "))
	return sql, args
}

func buildUpdate(table store.Table, id, ownerID string, patch store.Fields) (string, []any) {
	names := make([]string, 0, len(patch))
	for name := range patch {
		names = append(names, name)
	}
	sort.Strings(names)

	var sets []string
	var args []any
	for _, name := range names {
		c, _ := table.Column(name)
		args = append(args, encode(patch[name]))
		sets = append(sets, ident(name)+" = "+placeholder(len(args), c.Type))
	}
	args = append(args, id, ownerID)

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d AND %s = $%d",
		ident(string(table.Kind)), strings.Join(sets, ", "),
		ident(store.ColID), len(args)-1, ident(store.ColUserID), len(args))
	return sql, args
}

func buildDelete(table store.Table, id, ownerID string) (string, []any) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = $2",
		ident(string(table.Kind)), ident(store.ColID), ident(store.ColUserID))
	return sql, []any{id, ownerID}
}

func buildSelect(table store.Table, ownerID string, q store.Query) (string, []any, error) {
	args := []any{ownerID}
	where := []string{ident(store.ColUserID) + " = $1"}

	for _, f := range q.Filters {
		if !table.Filterable(f.Field) {
			return "", nil, fmt.Errorf("%w: cannot filter on %s", store.ErrInvalidFields, f.Field)
		}
		switch f.Op {
		case store.OpEq, store.OpGte, store.OpLte:
		default:
			return "", nil, fmt.Errorf("%w: unsupported operator %q", store.ErrInvalidFields, f.Op)
		}
		c, _ := table.Column(f.Field)
		args = append(args, encode(f.Value))
		where = append(where, fmt.Sprintf("%s %s %s", ident(f.Field), f.Op, placeholder(len(args), c.Type)))
	}

	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	order := ident(store.ColCreatedAt) + " " + dir
	if q.OrderBy != "" {
		if !table.Filterable(q.OrderBy) {
			return "", nil, fmt.Errorf("%w: cannot order by %s", store.ErrInvalidFields, q.OrderBy)
		}
		if q.OrderBy != store.ColCreatedAt {
			order = ident(q.OrderBy) + " " + dir + ", " + order
		}
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		selectList(table), ident(string(table.Kind)), strings.Join(where, " AND "), order)
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return sql, args, nil
}
