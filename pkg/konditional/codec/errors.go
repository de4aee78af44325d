// Package codec implements the JSON snapshot and patch wire format
// described in spec.md §6.2/§6.3: a parse-don't-validate boundary that
// turns raw bytes plus a namespace's registered feature schema into a
// konditional.Configuration, or a typed *ParseError.
package codec

import "fmt"

// ErrorKind tags the taxonomy of codec failures from spec.md §7. A single
// Go error type with a Kind enum is used instead of seven distinct types,
// the idiomatic-Go analogue of the source taxonomy's sum type.
type ErrorKind string

const (
	KindSyntax         ErrorKind = "SYNTAX"
	KindUnknownFeature ErrorKind = "UNKNOWN_FEATURE"
	KindTypeMismatch   ErrorKind = "TYPE_MISMATCH"
	KindUnknownVariant ErrorKind = "UNKNOWN_VARIANT"
	KindInvalidScalar  ErrorKind = "INVALID_SCALAR"
	KindDuplicateRule  ErrorKind = "DUPLICATE_RULE"
	KindUnknownAxis    ErrorKind = "UNKNOWN_AXIS"
)

// ParseError is returned by Decode/DecodePatch on any failure. Path
// identifies where in the document the failure occurred (e.g.
// "$.flags[3].rules[1].versionRange"); the other fields are populated
// according to Kind.
type ParseError struct {
	Kind     ErrorKind
	Path     string
	Message  string
	Feature  string
	Expected string
	Found    string
	Field    string
	Tag      string
	Reason   string
	Index    int
	AxisID   string
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case KindSyntax:
		return fmt.Sprintf("codec: syntax error at %s: %s", e.Path, e.Message)
	case KindUnknownFeature:
		return fmt.Sprintf("codec: unknown feature %q at %s", e.Feature, e.Path)
	case KindTypeMismatch:
		return fmt.Sprintf("codec: feature %q: type mismatch at %s: expected %s, found %s", e.Feature, e.Path, e.Expected, e.Found)
	case KindUnknownVariant:
		return fmt.Sprintf("codec: unknown variant %q for field %q at %s", e.Tag, e.Field, e.Path)
	case KindInvalidScalar:
		return fmt.Sprintf("codec: invalid value for field %q at %s: %s", e.Field, e.Path, e.Reason)
	case KindDuplicateRule:
		return fmt.Sprintf("codec: feature %q: duplicate rule at index %d", e.Feature, e.Index)
	case KindUnknownAxis:
		return fmt.Sprintf("codec: unknown axis %q at %s", e.AxisID, e.Path)
	default:
		return fmt.Sprintf("codec: decode error (%s) at %s: %s", e.Kind, e.Path, e.Message)
	}
}

func syntaxErr(path string, err error) *ParseError {
	return &ParseError{Kind: KindSyntax, Path: path, Message: err.Error()}
}

func unknownFeatureErr(path, feature string) *ParseError {
	return &ParseError{Kind: KindUnknownFeature, Path: path, Feature: feature}
}

func typeMismatchErr(path, feature, expected, found string) *ParseError {
	return &ParseError{Kind: KindTypeMismatch, Path: path, Feature: feature, Expected: expected, Found: found}
}

func unknownVariantErr(path, field, tag string) *ParseError {
	return &ParseError{Kind: KindUnknownVariant, Path: path, Field: field, Tag: tag}
}

func invalidScalarErr(path, field, reason string) *ParseError {
	return &ParseError{Kind: KindInvalidScalar, Path: path, Field: field, Reason: reason}
}

func duplicateRuleErr(path, feature string, index int) *ParseError {
	return &ParseError{Kind: KindDuplicateRule, Path: path, Feature: feature, Index: index}
}

func unknownAxisErr(path, axisID string) *ParseError {
	return &ParseError{Kind: KindUnknownAxis, Path: path, AxisID: axisID}
}
