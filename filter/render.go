package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// RenderOData renders expr as an OData $filter string. Equal trees always
// render to the same text.
func RenderOData(expr Expr) string {
	var b strings.Builder
	writeOData(&b, expr, false)
	return b.String()
}

func writeOData(b *strings.Builder, expr Expr, nested bool) {
	switch e := expr.(type) {
	case nil, True:
		b.WriteString("true")
	case Eq:
		fmt.Fprintf(b, "%s eq %s", e.Field, odataString(e.Value))
	case Ne:
		fmt.Fprintf(b, "%s ne %s", e.Field, odataString(e.Value))
	case AnyOf:
		fmt.Fprintf(b, "%s/any(p: p eq %s)", e.Field, odataString(e.Value))
	case And:
		writeODataJoin(b, e.Terms, " and ", "true", nested)
	case Or:
		writeODataJoin(b, e.Terms, " or ", "false", nested)
	}
}

func writeODataJoin(b *strings.Builder, terms []Expr, sep, empty string, nested bool) {
	if len(terms) == 0 {
		b.WriteString(empty)
		return
	}
	if len(terms) == 1 {
		writeOData(b, terms[0], nested)
		return
	}
	if nested {
		b.WriteByte('(')
	}
	for i, term := range terms {
		if i > 0 {
			b.WriteString(sep)
		}
		writeOData(b, term, true)
	}
	if nested {
		b.WriteByte(')')
	}
}

func odataString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

// Columns maps filter fields to SQL column expressions.
type Columns map[Field]string

// RenderSQL renders expr as a PostgreSQL boolean expression. Values become
// positional parameters numbered from firstArg; the returned args line up with
// them. Collection fields must map to array columns.
func RenderSQL(expr Expr, columns Columns, firstArg int) (string, []any, error) {
	r := sqlRenderer{columns: columns, next: firstArg}
	var b strings.Builder
	if err := r.write(&b, expr, false); err != nil {
		return "", nil, err
	}
	return b.String(), r.args, nil
}

type sqlRenderer struct {
	columns Columns
	next    int
	args    []any
}

func (r *sqlRenderer) column(field Field) (string, error) {
	col, ok := r.columns[field]
	if !ok || col == "" {
		return "", fmt.Errorf("filter field %q has no column", field)
	}
	return col, nil
}

func (r *sqlRenderer) param(v string) string {
	r.args = append(r.args, v)
	p := "$" + strconv.Itoa(r.next)
	r.next++
	return p
}

func (r *sqlRenderer) write(b *strings.Builder, expr Expr, nested bool) error {
	switch e := expr.(type) {
	case nil, True:
		b.WriteString("TRUE")
	case Eq:
		col, err := r.column(e.Field)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "%s = %s", col, r.param(e.Value))
	case Ne:
		col, err := r.column(e.Field)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "%s IS DISTINCT FROM %s", col, r.param(e.Value))
	case AnyOf:
		col, err := r.column(e.Field)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "%s = ANY(%s)", r.param(e.Value), col)
	case And:
		return r.join(b, e.Terms, " AND ", "TRUE", nested)
	case Or:
		return r.join(b, e.Terms, " OR ", "FALSE", nested)
	default:
		return fmt.Errorf("unsupported filter node %T", expr)
	}
	return nil
}

func (r *sqlRenderer) join(b *strings.Builder, terms []Expr, sep, empty string, nested bool) error {
	if len(terms) == 0 {
		b.WriteString(empty)
		return nil
	}
	if len(terms) == 1 {
		return r.write(b, terms[0], nested)
	}
	if nested {
		b.WriteByte('(')
	}
	for i, term := range terms {
		if i > 0 {
			b.WriteString(sep)
		}
		if err := r.write(b, term, true); err != nil {
			return err
		}
	}
	if nested {
		b.WriteByte(')')
	}
	return nil
}
