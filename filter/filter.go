// Package filter is a backend-neutral boolean expression tree over document
// fields. Expressions are evaluated in memory for tests and rendered to OData
// or PostgreSQL text for retrieval backends.
package filter

// Field names a filterable document attribute.
type Field string

const (
	FieldConfidentialityLevel Field = "confidentialityLevel"
	FieldPartyKeys            Field = "partyKeys"
	FieldParties              Field = "parties"
	FieldDocumentType         Field = "documentType"
	FieldProceedingID         Field = "proceedingId"
	FieldRegulatoryCitations  Field = "regulatoryCitations"
	FieldDocumentID           Field = "documentId"
)

// Expr is a node of the expression tree.
type Expr interface {
	isExpr()
}

// True matches every document.
type True struct{}

// Eq matches when a scalar field equals Value.
type Eq struct {
	Field Field
	Value string
}

// Ne matches when a scalar field differs from Value.
type Ne struct {
	Field Field
	Value string
}

// AnyOf matches when a collection field contains Value.
type AnyOf struct {
	Field Field
	Value string
}

type And struct {
	Terms []Expr
}

type Or struct {
	Terms []Expr
}

func (True) isExpr()  {}
func (Eq) isExpr()    {}
func (Ne) isExpr()    {}
func (AnyOf) isExpr() {}
func (And) isExpr()   {}
func (Or) isExpr()    {}

// AllOf conjoins terms. Nested conjunctions are flattened and True terms are
// dropped; a single remaining term is returned as is.
func AllOf(terms ...Expr) Expr {
	flat := make([]Expr, 0, len(terms))
	for _, term := range terms {
		switch t := term.(type) {
		case nil, True:
			continue
		case And:
			flat = append(flat, t.Terms...)
		default:
			flat = append(flat, term)
		}
	}
	switch len(flat) {
	case 0:
		return True{}
	case 1:
		return flat[0]
	default:
		return And{Terms: flat}
	}
}

// OneOf disjoins terms. A True term makes the whole disjunction True. An empty
// disjunction matches nothing.
func OneOf(terms ...Expr) Expr {
	flat := make([]Expr, 0, len(terms))
	for _, term := range terms {
		switch t := term.(type) {
		case nil:
			continue
		case True:
			return True{}
		case Or:
			flat = append(flat, t.Terms...)
		default:
			flat = append(flat, term)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return Or{Terms: flat}
}

// AnyValue matches documents whose field equals one of values.
func AnyValue(field Field, values ...string) Expr {
	terms := make([]Expr, 0, len(values))
	for _, v := range values {
		terms = append(terms, Eq{Field: field, Value: v})
	}
	return OneOf(terms...)
}

// ContainsAny matches documents whose collection field holds one of values.
func ContainsAny(field Field, values ...string) Expr {
	terms := make([]Expr, 0, len(values))
	for _, v := range values {
		terms = append(terms, AnyOf{Field: field, Value: v})
	}
	return OneOf(terms...)
}

// Fields is the in-memory view of a document used by Eval.
type Fields struct {
	Scalars     map[Field]string
	Collections map[Field][]string
}

// Eval reports whether fields satisfy expr. A nil expression matches.
func Eval(expr Expr, fields Fields) bool {
	switch e := expr.(type) {
	case nil, True:
		return true
	case Eq:
		v, ok := fields.Scalars[e.Field]
		return ok && v == e.Value
	case Ne:
		v, ok := fields.Scalars[e.Field]
		return !ok || v != e.Value
	case AnyOf:
		for _, v := range fields.Collections[e.Field] {
			if v == e.Value {
				return true
			}
		}
		return false
	case And:
		for _, term := range e.Terms {
			if !Eval(term, fields) {
				return false
			}
		}
		return true
	case Or:
		for _, term := range e.Terms {
			if Eval(term, fields) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
