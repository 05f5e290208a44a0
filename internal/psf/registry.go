package psf

import (
	"sort"
	"strings"

	"github.com/copyleftdev/psffit/internal/errors"
)

var registry = map[string]Model{
	"gaussian": Gaussian{},
	"airydisk": AiryDisk{},
	"airy":     AiryDisk{},
	"moffat":   Moffat{},
}

// Lookup returns the model registered under name, ignoring case.
func Lookup(name string) (Model, error) {
	if m, ok := registry[strings.ToLower(strings.TrimSpace(name))]; ok {
		return m, nil
	}
	return nil, errors.InvalidArgument("Lookup", "unknown model %q (want one of %s)", name, strings.Join(Names(), ", "))
}

// Names returns the registered model names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
