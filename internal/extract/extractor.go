package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/directory-crawler/internal/browser"
	"github.com/JakeFAU/directory-crawler/internal/metrics"
	"github.com/JakeFAU/directory-crawler/internal/record"
)

// Extractor executes FieldSpecs against a DOM scope.
type Extractor struct {
	logger *zap.Logger
}

// New builds an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract tries each strategy of spec in order and returns the first non-empty
// result. When all strategies are exhausted the sentinel is returned (the
// unspecified value for scalars, an empty list for lists); required fields
// additionally get a *MissingFieldError.
func (e *Extractor) Extract(ctx context.Context, scope browser.Scope, spec FieldSpec) (record.Value, error) {
	var faults []error
	for i, st := range spec.Strategies {
		if err := ctx.Err(); err != nil {
			return sentinel(spec.Kind), fmt.Errorf("extract %s: %w", spec.Name, err)
		}
		val, ok, err := e.apply(ctx, scope, spec.Kind, st)
		if err != nil {
			e.logger.Debug("strategy faulted",
				zap.String("field", spec.Name),
				zap.Int("strategy", i),
				zap.String("label", st.Label),
				zap.Error(err),
			)
			faults = append(faults, fmt.Errorf("strategy %d (%s): %w", i, st.Label, err))
			continue
		}
		if ok {
			metrics.ObserveStrategyWin(spec.Name, i)
			e.logger.Debug("field extracted",
				zap.String("field", spec.Name),
				zap.Int("strategy", i),
				zap.String("label", st.Label),
			)
			return val, nil
		}
	}

	metrics.ObserveFieldMiss(spec.Name)
	faulted := len(faults) > 0 && len(faults) == len(spec.Strategies)
	if !spec.Required && !faulted {
		return sentinel(spec.Kind), nil
	}
	return sentinel(spec.Kind), &MissingFieldError{
		Field:   spec.Name,
		Faulted: faulted,
		Cause:   errors.Join(faults...),
	}
}

// ExtractInto runs Extract and stores the result on rec under spec.Name.
func (e *Extractor) ExtractInto(ctx context.Context, scope browser.Scope, spec FieldSpec, rec *record.Record) error {
	val, err := e.Extract(ctx, scope, spec)
	rec.Set(spec.Name, val)
	return err
}

func (e *Extractor) apply(ctx context.Context, scope browser.Scope, kind FieldKind, st Strategy) (record.Value, bool, error) {
	elements, err := scope.FindElements(ctx, st.Query)
	if err != nil {
		return record.Value{}, false, fmt.Errorf("query %s: %w", st.Query, err)
	}
	if len(elements) == 0 {
		return record.Value{}, false, nil
	}

	if kind == Scalar {
		items, err := e.read(ctx, elements[0], st)
		if err != nil {
			return record.Value{}, false, err
		}
		text := strings.Join(items, "\n")
		if text == "" {
			return record.Value{}, false, nil
		}
		return record.Scalar(text), true, nil
	}

	var items []string
	for _, el := range elements {
		vals, err := e.read(ctx, el, st)
		if err != nil {
			return record.Value{}, false, err
		}
		items = append(items, vals...)
	}
	if len(items) == 0 {
		return record.Value{}, false, nil
	}
	return record.List(items), true, nil
}

// read returns the transformed, non-empty text fragments of one element.
func (e *Extractor) read(ctx context.Context, el browser.Element, st Strategy) ([]string, error) {
	var raw string
	if st.Attr != "" {
		val, ok, err := el.Attribute(ctx, st.Attr)
		if err != nil {
			return nil, fmt.Errorf("read attribute %s: %w", st.Attr, err)
		}
		if !ok {
			return nil, nil
		}
		raw = val
	} else {
		text, err := el.Text(ctx)
		if err != nil {
			return nil, fmt.Errorf("read text: %w", err)
		}
		raw = text
	}
	return applyTransform(st.Transform, raw), nil
}

func applyTransform(t Transform, raw string) []string {
	if t == Split {
		var out []string
		for _, line := range strings.Split(raw, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		return out
	}
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		return []string{trimmed}
	}
	return nil
}

func sentinel(kind FieldKind) record.Value {
	if kind == List {
		return record.List(nil)
	}
	return record.Unspecified()
}
