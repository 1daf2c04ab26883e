package instrument

import (
	"reflect"

	"github.com/nerrad567/gray-logic-instruments/internal/registry"
)

var instances = registry.New[Instrument]()

func kindOf(driver any) reflect.Type {
	if driver == nil {
		return reflect.TypeFor[Instrument]()
	}
	return reflect.TypeOf(driver)
}

// Instances returns the live instruments built with a driver of exactly type
// D, in creation order. Instruments whose driver merely embeds or wraps a D
// are not included.
func Instances[D any]() []*Instrument {
	return instances.Live(reflect.TypeFor[D]())
}

// All returns every live instrument, grouped by kind.
func All() []*Instrument {
	return instances.All()
}

// ByName returns the first live instrument called name.
func ByName(name string) (*Instrument, bool) {
	for _, i := range instances.All() {
		if i.name == name && !i.Closed() {
			return i, true
		}
	}
	return nil, false
}
