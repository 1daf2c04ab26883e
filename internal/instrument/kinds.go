package instrument

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/nerrad567/gray-logic-instruments/internal/dispatch"
)

type kindEntry struct {
	typ     reflect.Type
	factory func() any
}

var (
	kindsMu    sync.RWMutex
	kindsByID  = make(map[string]kindEntry)
	namesByTyp = make(map[reflect.Type]string)
)

// RegisterKind makes driver type D buildable by name in a worker process.
// factory returns a fresh driver.
func RegisterKind[D any](name string, factory func() D) {
	kindsMu.Lock()
	defer kindsMu.Unlock()

	t := reflect.TypeFor[D]()
	kindsByID[name] = kindEntry{typ: t, factory: func() any { return factory() }}
	namesByTyp[t] = name
}

// KindName returns the registered name of t, or its Go type string.
func KindName(t reflect.Type) string {
	kindsMu.RLock()
	name, ok := namesByTyp[t]
	kindsMu.RUnlock()

	if ok {
		return name
	}
	return t.String()
}

// NewKind creates an instrument whose driver is a fresh instance of the
// kind registered as kind. opts.Driver is ignored.
func NewKind(ctx context.Context, kind string, opts Options) (*Instrument, error) {
	kindsMu.RLock()
	entry, ok := kindsByID[kind]
	kindsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q for instrument %q", ErrUnknownKind, kind, fmt.Sprint(opts.Name))
	}
	opts.Driver = entry.factory()
	return New(ctx, opts)
}

// Build creates the executing copy of an instrument described by desc, as
// a delegate worker does on attach. The copy keeps the original uuid and
// leaves the connect hook to the attacher's connect command.
func Build(ctx context.Context, desc dispatch.Descriptor, extras map[string]any, logger Logger, recorder Recorder) (*Instrument, error) {
	var driver any
	if desc.Kind != KindName(reflect.TypeFor[Instrument]()) {
		kindsMu.RLock()
		entry, ok := kindsByID[desc.Kind]
		kindsMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q for instrument %q", ErrUnknownKind, desc.Kind, desc.Name)
		}
		driver = entry.factory()
	}

	return New(ctx, Options{
		Name:         desc.Name,
		Driver:       driver,
		Extras:       extras,
		Metadata:     desc.Metadata,
		Logger:       logger,
		Recorder:     recorder,
		id:           desc.UUID,
		deferConnect: true,
	})
}

// Builder adapts Build to a delegate.
func Builder(logger Logger, recorder Recorder) dispatch.Builder {
	return func(ctx context.Context, desc dispatch.Descriptor, extras map[string]any) (dispatch.Executor, error) {
		return Build(ctx, desc, extras, logger, recorder)
	}
}
