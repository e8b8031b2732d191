// Package policy decides whether a caller may read or write a resource.
//
// Every function is pure: it returns nil to allow, or an *apperrors.Error
// whose kind carries the HTTP status. A nil caller is anonymous.
//
// Private resources are masked: anyone lacking access gets NotFoundMasked so
// the response does not confirm the resource exists. Public projects are
// readable by anyone but writable only by their owner, and a denied public
// write distinguishes 401 from 403.
package policy

import (
	"fmt"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/projects"
)

const (
	msgUnauthorized = "authentication required"
	msgNotFound     = "project not found"
)

// AccessList returns the namespaces caller may write to: its login followed
// by its organizations. Anonymous callers get nil.
func AccessList(caller *models.Identity) []string {
	return caller.AccessList()
}

// NamespaceWrite allows callers acting for namespace.
func NamespaceWrite(caller *models.Identity, namespace string) error {
	if caller == nil {
		return apperrors.New(apperrors.KindUnauthorized, msgUnauthorized)
	}
	if !caller.CanActFor(namespace) {
		return apperrors.New(apperrors.KindForbidden,
			fmt.Sprintf("%s may not modify namespace %s", caller.Login, namespace))
	}
	return nil
}

// ProjectRead allows anyone on a public project, and only the owner or its
// organization members on a private one.
func ProjectRead(caller *models.Identity, facts projects.Facts) error {
	if !facts.IsPrivate {
		return nil
	}
	if caller.CanActFor(facts.Namespace) {
		return nil
	}
	return apperrors.New(apperrors.KindNotFoundMasked, msgNotFound)
}

// ProjectWrite allows only the owner or its organization members.
func ProjectWrite(caller *models.Identity, facts projects.Facts) error {
	if facts.IsPrivate {
		return ProjectRead(caller, facts)
	}
	return NamespaceWrite(caller, facts.Namespace)
}

// Fork allows forking into destination when caller acts for it.
func Fork(caller *models.Identity, destination string) error {
	if !caller.CanActFor(destination) {
		return apperrors.New(apperrors.KindUnauthorized,
			fmt.Sprintf("not allowed to fork into namespace %s", destination))
	}
	return nil
}

// Samples and views belong to a project and share its decision.

func SampleRead(caller *models.Identity, project projects.Facts) error {
	return ProjectRead(caller, project)
}

func SampleWrite(caller *models.Identity, project projects.Facts) error {
	return ProjectWrite(caller, project)
}

func ViewRead(caller *models.Identity, project projects.Facts) error {
	return ProjectRead(caller, project)
}

func ViewWrite(caller *models.Identity, project projects.Facts) error {
	return ProjectWrite(caller, project)
}
