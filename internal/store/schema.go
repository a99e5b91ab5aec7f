package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ColumnType is the logical type of a column.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeMoney
	TypeDate
	TypeBool
	TypeInt
)

func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeMoney:
		return "money"
	case TypeDate:
		return "date"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	}
	return "unknown"
}

// Column describes one user column. System columns (id, user_id, created_at)
// are managed by the backends.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	// Ref names the kind an id column points to. References must be owned by
	// the same user; deleting the target nulls the reference.
	Ref Kind
}

// Table is the schema of one kind.
type Table struct {
	Kind    Kind
	Columns []Column
}

// System column names shared by every table.
const (
	ColID        = "id"
	ColUserID    = "user_id"
	ColCreatedAt = "created_at"
)

var tables = map[Kind]Table{
	KindTransactions: {
		Kind: KindTransactions,
		Columns: []Column{
			{Name: "date", Type: TypeDate},
			{Name: "description", Type: TypeString},
			{Name: "amount", Type: TypeMoney},
			{Name: "direction", Type: TypeString},
			{Name: "category", Type: TypeString},
			{Name: "payment_method", Type: TypeString},
			{Name: "account_id", Type: TypeString, Nullable: true, Ref: KindAccounts},
			{Name: "credit_card_id", Type: TypeString, Nullable: true, Ref: KindCreditCards},
			{Name: "affects_cash", Type: TypeBool},
			{Name: "notes", Type: TypeString, Nullable: true},
		},
	},
	KindAccounts: {
		Kind: KindAccounts,
		Columns: []Column{
			{Name: "name", Type: TypeString},
			{Name: "type", Type: TypeString},
			{Name: "initial_balance", Type: TypeMoney},
		},
	},
	KindCreditCards: {
		Kind: KindCreditCards,
		Columns: []Column{
			{Name: "name", Type: TypeString},
			{Name: "credit_limit", Type: TypeMoney},
			{Name: "closing_day", Type: TypeInt},
			{Name: "due_day", Type: TypeInt},
		},
	},
	KindBudgets: {
		Kind: KindBudgets,
		Columns: []Column{
			{Name: "category", Type: TypeString},
			{Name: "monthly_limit", Type: TypeMoney},
		},
	},
}

// Schema returns the table for kind.
func Schema(kind Kind) (Table, bool) {
	t, ok := tables[kind]
	return t, ok
}

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(tables))
	for k := range tables {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Column looks up a user column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Filterable reports whether name can be used in a filter or ordering.
func (t Table) Filterable(name string) bool {
	if name == ColID || name == ColCreatedAt {
		return true
	}
	_, ok := t.Column(name)
	return ok
}

// Reference is a non-null id column value pointing at another kind.
type Reference struct {
	Column string
	Kind   Kind
	ID     string
}

// References lists the non-null references in fields.
func (t Table) References(fields Fields) []Reference {
	var refs []Reference
	for _, c := range t.Columns {
		if c.Ref == "" {
			continue
		}
		if p, ok := fields[c.Name].(*string); ok && p != nil {
			refs = append(refs, Reference{Column: c.Name, Kind: c.Ref, ID: *p})
		}
	}
	return refs
}

// Backref is a column in another table that references a kind.
type Backref struct {
	Kind   Kind
	Column string
}

// ReferencedBy lists the columns that point at kind.
func ReferencedBy(kind Kind) []Backref {
	var out []Backref
	for _, k := range Kinds() {
		for _, c := range tables[k].Columns {
			if c.Ref == kind {
				out = append(out, Backref{Kind: k, Column: c.Name})
			}
		}
	}
	return out
}

// Normalize validates fields against the schema of kind and returns a copy
// with canonical value types. Nullable strings become *string, ints become int64.
// With partial set, missing columns are allowed (updates); otherwise every
// non-nullable column is required.
func Normalize(kind Kind, fields Fields, partial bool) (Fields, error) {
	t, ok := Schema(kind)
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidFields, kind)
	}

	out := make(Fields, len(fields))
	for name, v := range fields {
		c, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %s.%s", ErrInvalidFields, kind, name)
		}
		nv, err := coerce(c, v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidFields, kind, name, err)
		}
		out[name] = nv
	}

	if partial {
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: empty patch for %s", ErrInvalidFields, kind)
		}
		return out, nil
	}

	var missing []string
	for _, c := range t.Columns {
		if _, ok := out[c.Name]; ok {
			continue
		}
		if c.Nullable {
			out[c.Name] = (*string)(nil)
			continue
		}
		missing = append(missing, c.Name)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s missing %s", ErrInvalidFields, kind, strings.Join(missing, ", "))
	}
	return out, nil
}

func coerce(c Column, v any) (any, error) {
	if v == nil {
		if c.Nullable {
			return (*string)(nil), nil
		}
		return nil, fmt.Errorf("null not allowed")
	}

	switch c.Type {
	case TypeString:
		switch s := v.(type) {
		case string:
			if c.Nullable {
				return &s, nil
			}
			return s, nil
		case *string:
			if !c.Nullable {
				if s == nil {
					return nil, fmt.Errorf("null not allowed")
				}
				return *s, nil
			}
			if s == nil {
				return (*string)(nil), nil
			}
			cp := *s
			return &cp, nil
		}
	case TypeMoney:
		if d, ok := v.(decimal.Decimal); ok {
			return d, nil
		}
	case TypeDate:
		if d, ok := v.(civil.Date); ok {
			if !d.IsValid() {
				return nil, fmt.Errorf("invalid date %s", d)
			}
			return d, nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int64:
			return n, nil
		}
	}
	return nil, fmt.Errorf("want %s, got %T", c.Type, v)
}

// Compare orders two values of the same column type. Nil sorts first.
func Compare(a, b any) int {
	a, b = deref(a), deref(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case decimal.Decimal:
		if y, ok := b.(decimal.Decimal); ok {
			return x.Cmp(y)
		}
	case civil.Date:
		if y, ok := b.(civil.Date); ok {
			switch {
			case x.Before(y):
				return -1
			case x.After(y):
				return 1
			}
			return 0
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
	case int64:
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case int:
		return Compare(int64(x), b)
	}
	if y, ok := b.(int); ok {
		return Compare(a, int64(y))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func deref(v any) any {
	if p, ok := v.(*string); ok {
		if p == nil {
			return nil
		}
		return *p
	}
	return v
}
