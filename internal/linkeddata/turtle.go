package linkeddata

import (
	"fmt"
	"maps"
	"strings"

	"github.com/knakk/rdf"
)

// Turtle is the text/turtle Codec.
type Turtle struct{}

// MediaType is the content type Turtle reads and writes.
const MediaType = "text/turtle"

// Parse decodes a Turtle document. base is used for relative IRIs such as
// <> and <todos/>; it may be empty when the document has none.
func (Turtle) Parse(text, base string) ([]Triple, error) {
	dec := rdf.NewTripleDecoder(strings.NewReader(text), rdf.Turtle)

	if base != "" {
		iri, err := rdf.NewIRI(base)
		if err != nil {
			return nil, fmt.Errorf("linkeddata: base %q: %w", base, err)
		}

		if err := dec.SetOption(rdf.Base, iri); err != nil {
			return nil, fmt.Errorf("linkeddata: setting base: %w", err)
		}
	}

	decoded, err := dec.DecodeAll()
	if err != nil {
		return nil, fmt.Errorf("linkeddata: parsing turtle: %w", err)
	}

	out := make([]Triple, 0, len(decoded))
	for _, t := range decoded {
		out = append(out, Triple{
			Subject:   fromTerm(t.Subj),
			Predicate: fromTerm(t.Pred),
			Object:    fromTerm(t.Obj),
		})
	}

	return out, nil
}

// prefixes are the namespaces Serialize writes as @prefix directives.
var prefixes = map[string]string{
	"http://purl.org/dc/terms/":                   "dc",
	"http://www.w3.org/ns/ldp#":                   "ldp",
	"http://www.w3.org/2006/vcard/ns#":            "vcard",
	"http://xmlns.com/foaf/0.1/":                  "foaf",
	"http://www.w3.org/2002/12/cal/ical#":         "cal",
	"http://www.w3.org/1999/02/22-rdf-syntax-ns#": "rdf",
}

// Serialize encodes triples as Turtle. An IRI subject or object with an
// empty value is written as <>, the document being described.
func (Turtle) Serialize(triples []Triple) (string, error) {
	converted := make([]rdf.Triple, 0, len(triples))

	for i, t := range triples {
		subj, err := toSubject(t.Subject)
		if err != nil {
			return "", fmt.Errorf("linkeddata: triple %d subject: %w", i, err)
		}

		pred, err := rdf.NewIRI(t.Predicate.Value)
		if err != nil {
			return "", fmt.Errorf("linkeddata: triple %d predicate: %w", i, err)
		}

		obj, err := toObject(t.Object)
		if err != nil {
			return "", fmt.Errorf("linkeddata: triple %d object: %w", i, err)
		}

		converted = append(converted, rdf.Triple{Subj: subj, Pred: pred, Obj: obj})
	}

	var b strings.Builder

	enc := rdf.NewTripleEncoder(&b, rdf.Turtle)
	maps.Copy(enc.Namespaces, prefixes)

	if err := enc.EncodeAll(converted); err != nil {
		return "", fmt.Errorf("linkeddata: encoding turtle: %w", err)
	}

	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("linkeddata: encoding turtle: %w", err)
	}

	return b.String(), nil
}

func fromTerm(t rdf.Term) Term {
	switch v := t.(type) {
	case rdf.IRI:
		return Term{Kind: IRI, Value: v.String()}
	case rdf.Blank:
		return Term{Kind: Blank, Value: strings.TrimPrefix(v.String(), "_:")}
	case rdf.Literal:
		return Term{Kind: Literal, Value: v.String(), Datatype: v.DataType.String(), Lang: v.Lang()}
	default:
		return Term{Kind: Literal, Value: t.String()}
	}
}

func toIRI(v string) (rdf.IRI, error) {
	if v == "" {
		return rdf.IRI{}, nil
	}

	return rdf.NewIRI(v)
}

func toSubject(t Term) (rdf.Subject, error) {
	switch t.Kind {
	case IRI:
		return toIRI(t.Value)
	case Blank:
		return rdf.NewBlank(t.Value)
	default:
		return nil, fmt.Errorf("%s term cannot be a subject", t.Kind)
	}
}

func toObject(t Term) (rdf.Object, error) {
	switch t.Kind {
	case IRI:
		return toIRI(t.Value)
	case Blank:
		return rdf.NewBlank(t.Value)
	case Literal:
		switch {
		case t.Lang != "":
			return rdf.NewLangLiteral(t.Value, t.Lang)
		case t.Datatype != "":
			dt, err := rdf.NewIRI(t.Datatype)
			if err != nil {
				return nil, err
			}

			return rdf.NewTypedLiteral(t.Value, dt), nil
		default:
			return rdf.NewLiteral(t.Value)
		}
	default:
		return nil, fmt.Errorf("unknown term kind %d", t.Kind)
	}
}
