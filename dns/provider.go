// Package dns manages the _acme-challenge TXT records needed for dns-01
// validation: provider integrations that create and delete records, and a
// propagation checker that confirms records are visible on the public
// resolvers before a challenge is answered.
package dns

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Provider manages TXT records in a DNS zone. Implementations are safe
// for use from a single enrollment at a time.
type Provider interface {
	// CreateRecord publishes a TXT record with the given fully qualified
	// name and value. Existing values for the name may be replaced.
	CreateRecord(ctx context.Context, record, value string) error
	// DeleteRecord removes a TXT record previously published with
	// CreateRecord. Deleting a record that does not exist is not an
	// error.
	DeleteRecord(ctx context.Context, record, value string) error
	// OutOfBand reports whether record changes happen outside this
	// process. Out-of-band providers get longer settle delays and skip
	// automated cleanup.
	OutOfBand() bool
}

// Config carries the provider-agnostic settings handed to factories.
type Config struct {
	// AWS region for the route53 provider.
	Region string
	// Address of a challenge test server's management API, for the
	// challtestsrv provider.
	ManagementURL string

	Logger *zap.Logger
}

// Factory builds a Provider from a Config.
type Factory func(ctx context.Context, conf Config) (Provider, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Factory{}
)

// RegisterProvider makes a provider available to New under the given
// name. Called from package init functions.
func RegisterProvider(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Providers returns the sorted names of all registered providers.
func Providers() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named provider. The Config's Logger may be nil.
func New(ctx context.Context, name string, conf Config) (Provider, error) {
	registryMu.Lock()
	factory, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown DNS provider %q (have %v)", name, Providers())
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}
	return factory(ctx, conf)
}
