package policy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pepkit/pephub-sub000/internal/apperrors"
	"github.com/pepkit/pephub-sub000/internal/auth/models"
	"github.com/pepkit/pephub-sub000/internal/projects"
)

var (
	alice   = &models.Identity{Login: "alice", ID: 1}
	bob     = &models.Identity{Login: "bob", ID: 2}
	carol   = &models.Identity{Login: "carol", ID: 3, Organizations: []string{"alice"}}
	anon    *models.Identity
	p1      = projects.Facts{Namespace: "alice", Name: "p1", Tag: "default", IsPrivate: true}
	p2      = projects.Facts{Namespace: "alice", Name: "p2", Tag: "default", IsPrivate: false}
	allowed = 0
)

// status turns a decision into the HTTP status it produces, 0 for allow.
func status(err error) int {
	if err == nil {
		return allowed
	}
	return apperrors.As(err).Kind.Status()
}

func TestProjectRead(t *testing.T) {
	tests := []struct {
		name   string
		caller *models.Identity
		facts  projects.Facts
		want   int
	}{
		{"private, anonymous", anon, p1, http.StatusNotFound},
		{"private, stranger", bob, p1, http.StatusNotFound},
		{"private, owner", alice, p1, allowed},
		{"private, org member", carol, p1, allowed},
		{"public, anonymous", anon, p2, allowed},
		{"public, stranger", bob, p2, allowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status(ProjectRead(tt.caller, tt.facts)))
		})
	}
}

func TestProjectWrite(t *testing.T) {
	tests := []struct {
		name   string
		caller *models.Identity
		facts  projects.Facts
		want   int
	}{
		{"private, anonymous", anon, p1, http.StatusNotFound},
		{"private, stranger", bob, p1, http.StatusNotFound},
		{"private, owner", alice, p1, allowed},
		{"public, anonymous", anon, p2, http.StatusUnauthorized},
		{"public, stranger", bob, p2, http.StatusForbidden},
		{"public, owner", alice, p2, allowed},
		{"public, org member", carol, p2, allowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status(ProjectWrite(tt.caller, tt.facts)))
		})
	}
}

func TestProjectRead_MaskedKind(t *testing.T) {
	err := ProjectRead(bob, p1)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFoundMasked))
	assert.NotContains(t, err.Error(), "private")
}

func TestNamespaceWrite(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, status(NamespaceWrite(anon, "alice")))
	assert.Equal(t, http.StatusForbidden, status(NamespaceWrite(bob, "alice")))
	assert.Equal(t, allowed, status(NamespaceWrite(alice, "alice")))
	assert.Equal(t, allowed, status(NamespaceWrite(carol, "alice")))
	assert.Equal(t, http.StatusForbidden, status(NamespaceWrite(carol, "Alice")))
}

func TestFork(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, status(Fork(anon, "alice")))
	assert.Equal(t, http.StatusUnauthorized, status(Fork(bob, "alice")))
	assert.Equal(t, allowed, status(Fork(bob, "bob")))
	assert.Equal(t, allowed, status(Fork(carol, "alice")))
}

func TestAccessList(t *testing.T) {
	assert.Nil(t, AccessList(anon))
	assert.Equal(t, []string{"carol", "alice"}, AccessList(carol))
}

func TestSamplesAndViewsFollowProject(t *testing.T) {
	for _, caller := range []*models.Identity{anon, alice, bob} {
		for _, facts := range []projects.Facts{p1, p2} {
			assert.Equal(t, status(ProjectRead(caller, facts)), status(SampleRead(caller, facts)))
			assert.Equal(t, status(ProjectRead(caller, facts)), status(ViewRead(caller, facts)))
			assert.Equal(t, status(ProjectWrite(caller, facts)), status(SampleWrite(caller, facts)))
			assert.Equal(t, status(ProjectWrite(caller, facts)), status(ViewWrite(caller, facts)))
		}
	}
}
