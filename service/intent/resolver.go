package intent

import (
	"context"
	"fmt"
	"strings"
)

// Resolver maps a contact name to an on-chain address. found is false
// when the name is unknown; err is reserved for lookup failures.
type Resolver interface {
	Resolve(ctx context.Context, name string) (address string, found bool, err error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, name string) (string, bool, error)

func (f ResolverFunc) Resolve(ctx context.Context, name string) (string, bool, error) {
	return f(ctx, name)
}

// Contacts is a static, case-insensitive address book.
type Contacts map[string]string

// ParseContacts reads "name=address,name=address" as used by the
// CONTACTS environment variable.
func ParseContacts(s string) (Contacts, error) {
	out := make(Contacts)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, addr, ok := strings.Cut(pair, "=")
		name, addr = strings.TrimSpace(name), strings.TrimSpace(addr)
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("invalid contact %q: want name=address", pair)
		}
		out[strings.ToLower(name)] = addr
	}
	return out, nil
}

func (c Contacts) Resolve(ctx context.Context, name string) (string, bool, error) {
	addr, ok := c[strings.ToLower(strings.TrimSpace(name))]
	return addr, ok, nil
}

// Chain tries resolvers in order and returns the first hit. A failing
// resolver stops the chain.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, name string) (string, bool, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		addr, found, err := r.Resolve(ctx, name)
		if err != nil {
			return "", false, err
		}
		if found {
			return addr, true, nil
		}
	}
	return "", false, nil
}
