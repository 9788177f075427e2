// Package env resolves environment variable bindings from layered sources:
// literal values, the process environment, a secret store, and defaults.
// Resolution is a pure lookup - nothing here touches a container runtime,
// and secret values are never logged.
package env

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// Binding Types
// =============================================================================

// Source identifies where a binding's value comes from.
type Source string

const (
	// SourceLiteral bindings carry their value inline.
	SourceLiteral Source = "literal"
	// SourceEnv bindings resolve from the process environment.
	SourceEnv Source = "env"
	// SourceSecret bindings resolve from the secret store.
	SourceSecret Source = "secret"
)

// Binding is a single environment variable requirement: a name, where its
// value comes from, and whether orchestration may proceed without it.
type Binding struct {
	Name     string
	Source   Source
	Key      string // lookup key in the source; defaults to Name
	Value    string // literal value for SourceLiteral
	Default  string
	Fallback bool // a default exists, making the binding optional
	Required bool
}

// =============================================================================
// Errors
// =============================================================================

// ErrNoSecretStore is returned when a secret binding is requested but no
// store was configured.
var ErrNoSecretStore = errors.New("no secret store configured")

// MissingRequiredVariableError lists every required binding that failed to
// resolve to a non-empty value. All names are reported at once so a single
// run surfaces the complete fix.
type MissingRequiredVariableError struct {
	Names []string
}

func (e *MissingRequiredVariableError) Error() string {
	return fmt.Sprintf("missing required variables: %s", strings.Join(e.Names, ", "))
}

// =============================================================================
// Resolver
// =============================================================================

// LookupFunc mirrors os.LookupEnv so the process environment can be
// substituted in tests.
type LookupFunc func(name string) (string, bool)

// Resolver resolves bindings against the process environment, an optional
// secret store, and configured defaults.
type Resolver struct {
	lookup   LookupFunc
	secrets  SecretStore
	defaults map[string]string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup replaces the process environment lookup.
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) { r.lookup = fn }
}

// WithSecretStore attaches a secret store for SourceSecret bindings.
func WithSecretStore(store SecretStore) Option {
	return func(r *Resolver) { r.secrets = store }
}

// WithDefaults supplies local fallback values, consulted after the
// process environment and before a binding's own default.
func WithDefaults(defaults map[string]string) Option {
	return func(r *Resolver) { r.defaults = defaults }
}

// NewResolver creates a Resolver. Without options it resolves only
// literals and bindings with defaults.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		lookup: func(string) (string, bool) { return "", false },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves every binding to a value. It fails with
// MissingRequiredVariableError naming every required binding that did not
// resolve to a non-empty value; optional bindings that fail to resolve are
// simply absent from the result.
func (r *Resolver) Resolve(bindings []Binding) (map[string]string, error) {
	values := make(map[string]string, len(bindings))
	var missing []string

	for _, b := range bindings {
		value, ok := r.resolveOne(b)
		if !ok || (value == "" && b.Required) {
			if b.Required {
				missing = append(missing, b.Name)
			}
			continue
		}
		values[b.Name] = value
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingRequiredVariableError{Names: missing}
	}
	return values, nil
}

func (r *Resolver) resolveOne(b Binding) (string, bool) {
	key := b.Key
	if key == "" {
		key = b.Name
	}

	switch b.Source {
	case SourceLiteral:
		return b.Value, true
	case SourceSecret:
		if r.secrets == nil {
			return "", false
		}
		if value, err := r.secrets.Get(key); err == nil && value != "" {
			return value, true
		}
	default: // SourceEnv
		if value, ok := r.lookup(key); ok {
			return value, true
		}
		if value, ok := r.defaults[key]; ok {
			return value, true
		}
	}

	if b.Fallback {
		return b.Default, true
	}
	return "", false
}

// =============================================================================
// Placeholder Substitution
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// secretPrefix marks an environment value as a secret store reference,
// e.g. "secret://DB_PASSWORD".
const secretPrefix = "secret://"

// Substitute replaces ${VAR} and ${VAR:-default} placeholders with values
// from the resolved map. Placeholders with no value and no default are
// left unchanged.
func Substitute(value string, values map[string]string) string {
	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		sub := varPlaceholderRegex.FindStringSubmatch(match)
		name := sub[1]
		if v, ok := values[name]; ok {
			return v
		}
		if strings.HasPrefix(match, "${"+name+":-") {
			return sub[2]
		}
		return match
	})
}

// ParseValue classifies a single environment value from a service
// declaration into a set of bindings.
//
//   - "secret://KEY"       -> one required secret binding
//   - "${VAR}"             -> one required env binding
//   - "${VAR:-default}"    -> one optional env binding with a fallback
//   - anything else        -> no bindings (plain literal)
//
// A value may reference several placeholders; each yields a binding.
func ParseValue(name, value string) []Binding {
	if strings.HasPrefix(value, secretPrefix) {
		key := strings.TrimPrefix(value, secretPrefix)
		return []Binding{{
			Name:     key,
			Source:   SourceSecret,
			Key:      key,
			Required: true,
		}}
	}

	var bindings []Binding
	for _, sub := range varPlaceholderRegex.FindAllStringSubmatch(value, -1) {
		b := Binding{
			Name:   sub[1],
			Source: SourceEnv,
		}
		if strings.HasPrefix(sub[0], "${"+sub[1]+":-") {
			b.Fallback = true
			b.Default = sub[2]
		} else {
			b.Required = true
		}
		bindings = append(bindings, b)
	}
	return bindings
}

// IsSecretRef reports whether a value is a secret store reference.
func IsSecretRef(value string) bool {
	return strings.HasPrefix(value, secretPrefix)
}

// SecretKey returns the store key for a secret reference value.
func SecretKey(value string) string {
	return strings.TrimPrefix(value, secretPrefix)
}
