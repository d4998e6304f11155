package pathparser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticIdentifiers map[string]bool

func (s staticIdentifiers) IdentifierExists(_ context.Context, name string) (bool, error) {
	return s[name], nil
}

type failingIdentifiers struct{}

func (failingIdentifiers) IdentifierExists(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}

func TestParser_Parse(t *testing.T) {
	p := New(staticIdentifiers{"acme": true}, 5)
	ctx := context.Background()

	tests := []struct {
		name       string
		path       string
		identifier string
		keywords   []string
	}{
		{"single keyword", "/launch", "", []string{"launch"}},
		{"identifier and keyword", "/acme/spring-sale", "acme", []string{"spring-sale"}},
		{"uppercase is lowered", "/ACME/Spring-Sale", "acme", []string{"spring-sale"}},
		{"unknown first segment", "/foo/bar", "", []string{"foo", "bar"}},
		{"identifier alone is a keyword", "/acme", "", []string{"acme"}},
		{"trailing slash", "/launch/", "", []string{"launch"}},
		{"five keywords", "/a/b/c/d/e", "", []string{"a", "b", "c", "d", "e"}},
		{"identifier plus five", "/acme/a/b/c/d/e", "acme", []string{"a", "b", "c", "d", "e"}},
		{"underscore inside", "/q3_report", "", []string{"q3_report"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := p.Parse(ctx, tt.path)
			require.NoError(t, err)
			if tt.identifier == "" {
				assert.Nil(t, parsed.Identifier)
			} else {
				require.NotNil(t, parsed.Identifier)
				assert.Equal(t, tt.identifier, *parsed.Identifier)
			}
			assert.Equal(t, tt.keywords, parsed.Keywords)
		})
	}
}

func TestParser_ParseMalformed(t *testing.T) {
	p := New(staticIdentifiers{"acme": true}, 5)
	ctx := context.Background()

	for _, path := range []string{
		"",
		"/",
		"//",
		"/a//b",
		"/-leading",
		"/_leading",
		"/has.dot",
		"/with space",
		"/a/b/c/d/e/f",
		"/acme/a/b/c/d/e/f",
		"/toolongtoolongtoolongtoolongtoolong1",
	} {
		t.Run(path, func(t *testing.T) {
			_, err := p.Parse(ctx, path)
			assert.ErrorIs(t, err, ErrMalformedPath)
		})
	}
}

func TestParser_MaxKeywords(t *testing.T) {
	p := New(nil, 2)

	_, err := p.Parse(context.Background(), "/a/b")
	require.NoError(t, err)

	_, err = p.Parse(context.Background(), "/a/b/c")
	assert.ErrorIs(t, err, ErrMalformedPath)
}

func TestParser_LookupError(t *testing.T) {
	p := New(failingIdentifiers{}, 5)

	_, err := p.Parse(context.Background(), "/acme/sale")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedPath)

	// single segment never consults the lookup
	parsed, err := p.Parse(context.Background(), "/sale")
	require.NoError(t, err)
	assert.Equal(t, []string{"sale"}, parsed.Keywords)
}

func TestNormalizeKeywords(t *testing.T) {
	out, err := NormalizeKeywords([]string{" Spring ", "SALE"}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"spring", "sale"}, out)

	_, err = NormalizeKeywords(nil, 5)
	assert.ErrorIs(t, err, ErrMalformedPath)

	_, err = NormalizeKeywords([]string{"a", "b", "c"}, 2)
	assert.ErrorIs(t, err, ErrMalformedPath)

	_, err = NormalizeKeywords([]string{"a/b"}, 5)
	assert.ErrorIs(t, err, ErrMalformedPath)
}
