package repository

import (
	"fmt"
	"reflect"
)

// StreamNamer derives the stream name of an instance from its entity type and identity.
// Implementations must be pure: the same input always yields the same name.
type StreamNamer interface {
	StreamName(entityType string, id fmt.Stringer) (string, error)
}

// NamerFunc adapts an ordinary function to the StreamNamer interface.
type NamerFunc func(entityType string, id fmt.Stringer) (string, error)

// StreamName calls f(entityType, id).
func (f NamerFunc) StreamName(entityType string, id fmt.Stringer) (string, error) {
	return f(entityType, id)
}

// CanonicalNamer names streams "<entityType>:<id>", e.g. "example/counter.Counter:0190…".
type CanonicalNamer struct{}

func (CanonicalNamer) StreamName(entityType string, id fmt.Stringer) (string, error) {
	identity, err := identityOf(id)
	if err != nil {
		return "", err
	}

	return entityType + ":" + identity, nil
}

// TenantScoped is implemented by identities that belong to a tenant.
type TenantScoped interface {
	fmt.Stringer
	TenantID() string
}

// TenantNamer prefixes the canonical name with the tenant, "<tenant>:<entityType>:<id>".
// Identities must implement TenantScoped, see TenantID.
type TenantNamer struct{}

func (TenantNamer) StreamName(entityType string, id fmt.Stringer) (string, error) {
	scoped, ok := id.(TenantScoped)
	if !ok || scoped.TenantID() == "" {
		return "", ErrMissingTenant
	}

	name, err := CanonicalNamer{}.StreamName(entityType, id)
	if err != nil {
		return "", err
	}

	return scoped.TenantID() + ":" + name, nil
}

// TenantID combines the identity of an object with the identity of the tenant it belongs to.
type TenantID[TID, OID fmt.Stringer] struct {
	Tenant TID
	Object OID
}

// NewTenantID creates a TenantID.
func NewTenantID[TID, OID fmt.Stringer](tenant TID, object OID) TenantID[TID, OID] {
	return TenantID[TID, OID]{Tenant: tenant, Object: object}
}

// String returns the object identity, the tenant is folded in by TenantNamer.
func (id TenantID[TID, OID]) String() string {
	return id.Object.String()
}

// TenantID returns the tenant identity.
func (id TenantID[TID, OID]) TenantID() string {
	return id.Tenant.String()
}

// EntityTypeOf returns the name the repository uses for T: package path and type name, pointers dereferenced.
func EntityTypeOf[T any]() string {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.PkgPath() == "" {
		return t.String()
	}

	return t.PkgPath() + "." + t.Name()
}

func identityOf(id fmt.Stringer) (string, error) {
	if isNil(id) {
		return "", ErrEmptyIdentity
	}

	identity := id.String()
	if identity == "" {
		return "", ErrEmptyIdentity
	}

	return identity, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
