package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/record"
)

type fakeElement struct {
	text  string
	attrs map[string]string
}

func (e fakeElement) FindElements(context.Context, browser.Query) ([]browser.Element, error) {
	return nil, nil
}

func (e fakeElement) Text(context.Context) (string, error) {
	return e.text, nil
}

func (e fakeElement) Attribute(_ context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

// fakeScope answers queries from a table and records which ones were issued.
type fakeScope struct {
	results map[string][]browser.Element
	faults  map[string]error
	calls   []string
}

func (s *fakeScope) FindElements(_ context.Context, q browser.Query) ([]browser.Element, error) {
	s.calls = append(s.calls, q.Expr)
	if err, ok := s.faults[q.Expr]; ok {
		return nil, err
	}
	return s.results[q.Expr], nil
}

func texts(vals ...string) []browser.Element {
	out := make([]browser.Element, 0, len(vals))
	for _, v := range vals {
		out = append(out, fakeElement{text: v})
	}
	return out
}

func threeStrategies(kind FieldKind, required bool) FieldSpec {
	return FieldSpec{
		Name:     "memberships",
		Kind:     kind,
		Required: required,
		Strategies: []Strategy{
			{Label: "list", Query: browser.CSS("s1")},
			{Label: "paragraphs", Query: browser.CSS("s2")},
			{Label: "items", Query: browser.CSS("s3")},
		},
	}
}

func TestExtractFirstSuccessWins(t *testing.T) {
	t.Parallel()

	scope := &fakeScope{results: map[string][]browser.Element{
		"s1": texts(" IMA ", "", "API"),
		"s2": texts("never"),
		"s3": texts("never"),
	}}
	val, err := New(nil).Extract(context.Background(), scope, threeStrategies(List, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"IMA", "API"}, val.Items())
	assert.Equal(t, []string{"s1"}, scope.calls, "later strategies must not be attempted")
}

func TestExtractFallsThroughEmptyResults(t *testing.T) {
	t.Parallel()

	scope := &fakeScope{results: map[string][]browser.Element{
		"s1": texts("   ", "\n"),
		"s3": texts("Indian Dental Association"),
	}}
	val, err := New(nil).Extract(context.Background(), scope, threeStrategies(List, true))
	require.NoError(t, err)
	assert.Equal(t, []string{"Indian Dental Association"}, val.Items())
	assert.Equal(t, []string{"s1", "s2", "s3"}, scope.calls)
}

func TestExtractSentinels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		kind     FieldKind
		required bool
		wantErr  bool
	}{
		{"required scalar", Scalar, true, true},
		{"optional scalar", Scalar, false, false},
		{"required list", List, true, true},
		{"optional list", List, false, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			val, err := New(nil).Extract(context.Background(), &fakeScope{}, threeStrategies(tt.kind, tt.required))
			if tt.wantErr {
				var missing *MissingFieldError
				require.ErrorAs(t, err, &missing)
				assert.False(t, missing.Faulted)
				assert.Equal(t, "memberships", missing.Field)
			} else {
				require.NoError(t, err)
			}
			if tt.kind == Scalar {
				assert.Equal(t, record.KindUnspecified, val.Kind())
				assert.Equal(t, record.NotSpecified, val.Text())
			} else {
				assert.Equal(t, record.KindList, val.Kind())
				assert.NotNil(t, val.Items())
				assert.Empty(t, val.Items())
			}
		})
	}
}

func TestExtractFaultedStrategiesAreSkipped(t *testing.T) {
	t.Parallel()

	boom := errors.New("engine gone")
	scope := &fakeScope{
		faults:  map[string]error{"s1": boom},
		results: map[string][]browser.Element{"s2": texts("Cardiology")},
	}
	val, err := New(nil).Extract(context.Background(), scope, threeStrategies(Scalar, true))
	require.NoError(t, err)
	assert.Equal(t, "Cardiology", val.Text())
}

func TestExtractAllFaulted(t *testing.T) {
	t.Parallel()

	boom := errors.New("engine gone")
	scope := &fakeScope{faults: map[string]error{"s1": boom, "s2": boom, "s3": boom}}
	_, err := New(nil).Extract(context.Background(), scope, threeStrategies(List, false))

	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing, "faults surface even for optional fields")
	assert.True(t, missing.Faulted)
	assert.ErrorIs(t, err, boom)
}

func TestExtractScalarUsesFirstElement(t *testing.T) {
	t.Parallel()

	scope := &fakeScope{results: map[string][]browser.Element{
		"s1": texts("", "second"),
		"s2": texts("fallback"),
	}}
	val, err := New(nil).Extract(context.Background(), scope, threeStrategies(Scalar, true))
	require.NoError(t, err)
	assert.Equal(t, "fallback", val.Text(), "an empty first match fails the strategy")
}

func TestExtractAttributeAndSplit(t *testing.T) {
	t.Parallel()

	scope := &fakeScope{results: map[string][]browser.Element{
		"a":      {fakeElement{attrs: map[string]string{"href": " /rajkot/doctor/dr-a "}}},
		"timing": texts("Mon - Sat\n 10:00 AM - 1:00 PM \n\n"),
	}}
	ex := New(nil)

	href, err := ex.Extract(context.Background(), scope, FieldSpec{
		Name: "url", Kind: Scalar,
		Strategies: []Strategy{{Query: browser.CSS("a"), Attr: "href"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "/rajkot/doctor/dr-a", href.Text())

	timing, err := ex.Extract(context.Background(), scope, FieldSpec{
		Name: "timing", Kind: List,
		Strategies: []Strategy{{Query: browser.CSS("timing"), Transform: Split}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Mon - Sat", "10:00 AM - 1:00 PM"}, timing.Items())
}

func TestExtractIntoSetsSentinelOnMiss(t *testing.T) {
	t.Parallel()

	rec := record.New()
	err := New(nil).ExtractInto(context.Background(), &fakeScope{}, threeStrategies(Scalar, true), rec)
	require.Error(t, err)
	val, ok := rec.Get("memberships")
	require.True(t, ok)
	assert.Equal(t, record.KindUnspecified, val.Kind())
}

func TestFieldSpecValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, threeStrategies(List, true).Validate())
	require.Error(t, FieldSpec{Name: "x", Kind: List}.Validate())
	require.Error(t, FieldSpec{Name: "x", Kind: "map", Strategies: threeStrategies(List, true).Strategies}.Validate())
	bad := threeStrategies(List, true)
	bad.Strategies[1].Transform = "upper"
	require.Error(t, bad.Validate())
}
