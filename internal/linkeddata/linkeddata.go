// Package linkeddata parses and serializes subject/predicate/object triples.
// The Turtle codec is backed by github.com/knakk/rdf; callers only see the
// package's own Triple and Term types.
package linkeddata

import (
	"net/url"
	"slices"
)

// TermKind distinguishes the three RDF term types.
type TermKind int

const (
	IRI TermKind = iota
	Blank
	Literal
)

func (k TermKind) String() string {
	switch k {
	case IRI:
		return "iri"
	case Blank:
		return "blank"
	case Literal:
		return "literal"
	default:
		return "unknown"
	}
}

// Term is one position of a triple. Datatype and Lang only apply to
// literals.
type Term struct {
	Kind     TermKind
	Value    string
	Datatype string
	Lang     string
}

// NewIRI returns an IRI term.
func NewIRI(v string) Term { return Term{Kind: IRI, Value: v} }

// NewLiteral returns a plain string literal term.
func NewLiteral(v string) Term { return Term{Kind: Literal, Value: v} }

// Triple is a single statement.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// Codec converts between text and triples. base resolves relative IRIs.
type Codec interface {
	Parse(text, base string) ([]Triple, error)
	Serialize(triples []Triple) (string, error)
}

// SubjectIRIs returns the distinct IRI subjects in first-seen order.
func SubjectIRIs(triples []Triple) []string {
	var out []string

	for _, t := range triples {
		if t.Subject.Kind != IRI || slices.Contains(out, t.Subject.Value) {
			continue
		}

		out = append(out, t.Subject.Value)
	}

	return out
}

// ObjectsOf returns the objects of every triple matching subject and
// predicate. An empty subject or predicate matches anything.
func ObjectsOf(triples []Triple, subject, predicate string) []Term {
	var out []Term

	for _, t := range triples {
		if subject != "" && t.Subject.Value != subject {
			continue
		}

		if predicate != "" && t.Predicate.Value != predicate {
			continue
		}

		out = append(out, t.Object)
	}

	return out
}

// Fragment returns the fragment of an IRI, or "" when it has none.
func Fragment(iri string) string {
	u, err := url.Parse(iri)
	if err != nil {
		return ""
	}

	return u.Fragment
}
