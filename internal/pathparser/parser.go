// Package pathparser splits inbound request paths into an optional identifier and keywords.
package pathparser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxKeywords is the hard upper bound on keywords per link.
const MaxKeywords = 5

// MaxSegmentLength bounds a single identifier or keyword.
const MaxSegmentLength = 32

var ErrMalformedPath = errors.New("malformed path")

// IdentifierLookup reports whether a segment is a claimed identifier.
type IdentifierLookup interface {
	IdentifierExists(ctx context.Context, name string) (bool, error)
}

// Parsed is the result of splitting a path.
type Parsed struct {
	Identifier *string
	Keywords   []string
}

// Parser turns raw paths into (identifier, keywords).
type Parser struct {
	identifiers IdentifierLookup
	maxKeywords int
}

// New creates a parser. maxKeywords is clamped to 1..MaxKeywords.
func New(identifiers IdentifierLookup, maxKeywords int) *Parser {
	if maxKeywords < 1 || maxKeywords > MaxKeywords {
		maxKeywords = MaxKeywords
	}
	return &Parser{identifiers: identifiers, maxKeywords: maxKeywords}
}

// Parse splits rawPath on '/'. If the first segment is a known identifier and
// 1..max segments remain, those are the keywords. Otherwise every segment is a
// keyword and the identifier is nil.
func (p *Parser) Parse(ctx context.Context, rawPath string) (*Parsed, error) {
	segments, err := Segments(rawPath)
	if err != nil {
		return nil, err
	}

	if len(segments) > 1 && p.identifiers != nil {
		known, err := p.identifiers.IdentifierExists(ctx, segments[0])
		if err != nil {
			return nil, fmt.Errorf("failed to look up identifier: %w", err)
		}
		if known && len(segments)-1 <= p.maxKeywords {
			identifier := segments[0]
			return &Parsed{Identifier: &identifier, Keywords: segments[1:]}, nil
		}
	}

	if len(segments) > p.maxKeywords {
		return nil, fmt.Errorf("%w: %d keywords, at most %d allowed", ErrMalformedPath, len(segments), p.maxKeywords)
	}

	return &Parsed{Keywords: segments}, nil
}

// Segments lowercases and validates every '/'-separated segment of a path.
// Leading and trailing slashes are ignored; empty inner segments are rejected.
func Segments(rawPath string) ([]string, error) {
	trimmed := strings.Trim(rawPath, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty path", ErrMalformedPath)
	}

	parts := strings.Split(trimmed, "/")
	if len(parts) > MaxKeywords+1 {
		return nil, fmt.Errorf("%w: too many segments", ErrMalformedPath)
	}

	segments := make([]string, len(parts))
	for i, part := range parts {
		segment := strings.ToLower(part)
		if !ValidSegment(segment) {
			return nil, fmt.Errorf("%w: invalid segment %q", ErrMalformedPath, part)
		}
		segments[i] = segment
	}

	return segments, nil
}

// ValidSegment reports whether s matches [a-z0-9][a-z0-9-_]* within the length bound.
func ValidSegment(s string) bool {
	if s == "" || len(s) > MaxSegmentLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case (c == '-' || c == '_') && i > 0:
		default:
			return false
		}
	}
	return true
}

// NormalizeKeywords lowercases and validates keywords supplied at link creation.
func NormalizeKeywords(keywords []string, max int) ([]string, error) {
	if max < 1 || max > MaxKeywords {
		max = MaxKeywords
	}
	if len(keywords) == 0 || len(keywords) > max {
		return nil, fmt.Errorf("%w: need 1..%d keywords, got %d", ErrMalformedPath, max, len(keywords))
	}

	out := make([]string, len(keywords))
	for i, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if !ValidSegment(k) {
			return nil, fmt.Errorf("%w: invalid keyword %q", ErrMalformedPath, k)
		}
		out[i] = k
	}
	return out, nil
}
