// Package projects exposes the project facts the authorization policy needs:
// who owns a project and whether it is private.
package projects

import (
	"context"
	"errors"
	"fmt"
)

// DefaultTag is used when a reference names no tag.
const DefaultTag = "default"

var (
	// ErrNotFound is returned when no project matches a reference.
	ErrNotFound = errors.New("project not found")
	// ErrExists is returned when a fork target is already taken.
	ErrExists = errors.New("project already exists")
)

// Ref addresses a project as namespace/name:tag.
type Ref struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Tag       string `json:"tag"`
}

// NewRef builds a reference, defaulting an empty tag.
func NewRef(namespace, name, tag string) Ref {
	if tag == "" {
		tag = DefaultTag
	}
	return Ref{Namespace: namespace, Name: name, Tag: tag}
}

// String renders the registry path.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s:%s", r.Namespace, r.Name, r.Tag)
}

// Facts are the stored attributes of a project. The owner is Namespace.
type Facts struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
	Tag       string `json:"tag" yaml:"tag"`
	IsPrivate bool   `json:"is_private" yaml:"is_private"`
	// ForkedFrom is the registry path of the source project, if any
	ForkedFrom string `json:"forked_from,omitempty" yaml:"forked_from,omitempty"`
}

// Ref returns the reference addressing f.
func (f Facts) Ref() Ref {
	return Ref{Namespace: f.Namespace, Name: f.Name, Tag: f.Tag}
}

// Store is the storage collaborator consulted by guarded project routes.
type Store interface {
	// Facts looks a project up.
	Facts(ctx context.Context, ref Ref) (Facts, error)
	// Create records a new project. It fails with ErrExists on a taken ref.
	Create(ctx context.Context, facts Facts) error
	// SetPrivate updates the privacy flag.
	SetPrivate(ctx context.Context, ref Ref, private bool) (Facts, error)
	// Fork copies source to dest, keeping the source privacy flag.
	Fork(ctx context.Context, source, dest Ref) (Facts, error)
}
