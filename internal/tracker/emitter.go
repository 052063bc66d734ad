package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Emitter receives every computed sample.
type Emitter interface {
	Emit(ctx context.Context, s Sample) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, s Sample) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, s Sample) error {
	return f(ctx, s)
}

// JSONLinesEmitter writes one JSON object per line.
type JSONLinesEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesEmitter creates an emitter writing to w.
func NewJSONLinesEmitter(w io.Writer) *JSONLinesEmitter {
	return &JSONLinesEmitter{enc: json.NewEncoder(w)}
}

// Emit encodes s followed by a newline.
func (e *JSONLinesEmitter) Emit(_ context.Context, s Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(s); err != nil {
		return fmt.Errorf("encoding sample: %w", err)
	}
	return nil
}

// MultiEmitter emits to every member in order. All members are called even
// when one fails; the errors are joined.
type MultiEmitter []Emitter

// Emit fans s out to every member.
func (m MultiEmitter) Emit(ctx context.Context, s Sample) error {
	var errs []error
	for _, e := range m {
		if err := e.Emit(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
