package dialer

import (
	"fmt"
	"os"
	"strings"
)

// Resolver resolves an address, or a comma separated list of them.
type Resolver interface {
	// Resolve returns the address, or "" if this resolver has none.
	Resolve() (string, error)

	// ResolveMany splits the resolved value on commas. n > 0 caps the result.
	ResolveMany(n int) ([]string, error)
}

// ConstantResolver always returns the same value
type ConstantResolver struct {
	s string
}

func NewConstantResolver(s string) *ConstantResolver {
	return &ConstantResolver{s: s}
}

func (r *ConstantResolver) Resolve() (string, error) {
	return r.s, nil
}

func (r *ConstantResolver) ResolveMany(n int) ([]string, error) {
	return splitMany(r.Resolve, n)
}

// EnvResolver resolves by looking for a key in the OS Environment
type EnvResolver struct {
	key string
}

func NewEnvResolver(key string) *EnvResolver {
	return &EnvResolver{key: key}
}

func (r *EnvResolver) Resolve() (string, error) {
	return os.Getenv(r.key), nil
}

func (r *EnvResolver) ResolveMany(n int) ([]string, error) {
	return splitMany(r.Resolve, n)
}

// CompositeResolver returns the first non-empty value of its delegates, in order.
type CompositeResolver struct {
	dels []Resolver
}

func NewCompositeResolver(dels ...Resolver) *CompositeResolver {
	return &CompositeResolver{dels: dels}
}

func (r *CompositeResolver) Resolve() (string, error) {
	for _, r := range r.dels {
		if s, err := r.Resolve(); s != "" || err != nil {
			return s, err
		}
	}
	return "", fmt.Errorf("could not resolve: no delegate resolved: %v", r.dels)
}

func (r *CompositeResolver) ResolveMany(n int) ([]string, error) {
	return splitMany(r.Resolve, n)
}

func splitMany(resolve func() (string, error), n int) ([]string, error) {
	s, err := resolve()
	if err != nil || s == "" {
		return nil, err
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}
