// Package transformer bridges external payload shapes and the internal
// Request data model. Transformers are selected per request through the
// Transformer-Type header and resolved from a name registry.
package transformer

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/anonymizer/internal/model"
)

// HeaderTransformerType is the HTTP header naming the transformer for a
// request.
const HeaderTransformerType = "Transformer-Type"

// Transformer converts an external payload to and from the internal
// Request model.
type Transformer interface {
	// Parse validates the raw body and returns the typed body this
	// transformer works on. A nil return with nil error means the
	// transformer expects no content.
	Parse(raw []byte) (any, error)
	// Transform converts the typed body into an internal Request.
	Transform(body any) (*model.Request, error)
	// Update writes Request values back into the typed body; reports
	// whether anything changed.
	Update(body any, data *model.Request) (bool, error)
	// Snapshot records audit-relevant information from the body before
	// the pipeline potentially rewrites it.
	Snapshot(body any) map[string]any
}

var registry = make(map[string]func() Transformer)

// Register adds a transformer constructor under its dotted name.
func Register(name string, constructor func() Transformer) {
	registry[name] = constructor
}

// FromString resolves a transformer by name.
func FromString(name string) (Transformer, error) {
	constructor, ok := registry[name]
	if !ok {
		slog.Error("unknown transformer", "type", name)
		return nil, fmt.Errorf("unknown transformer %q", name)
	}
	return constructor(), nil
}

func init() {
	Register("NoTransformer", func() Transformer { return &NoTransformer{} })
	Register("misp.MispTransformer", func() Transformer { return &MispTransformer{} })
}

// NoTransformer expects no particular content and produces an empty
// Request.
type NoTransformer struct{}

func (*NoTransformer) Parse(raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("body is not valid JSON: %w", err)
	}
	return body, nil
}

func (*NoTransformer) Transform(any) (*model.Request, error) {
	return &model.Request{Type: model.NewTypeSet(), Data: nil}, nil
}

func (*NoTransformer) Update(any, *model.Request) (bool, error) {
	return false, nil
}

func (*NoTransformer) Snapshot(any) map[string]any {
	return map[string]any{}
}
