package domain

import "fmt"

// IdentityKind enumerates the identity variants a caller can carry.
type IdentityKind string

const (
	IdentityKindAnonymous     IdentityKind = "anonymous"
	IdentityKindAuthenticated IdentityKind = "authenticated"
	IdentityKindUser          IdentityKind = "user"
	IdentityKindGroup         IdentityKind = "group"
)

// Identity is a single principal facet. It is a comparable value so it can
// be used as a set member.
type Identity struct {
	Kind  IdentityKind `json:"kind"`
	Realm Label        `json:"realm,omitempty"`
	Name  string       `json:"name,omitempty"`
}

// Anonymous is the identity of an unauthenticated caller.
func Anonymous() Identity {
	return Identity{Kind: IdentityKindAnonymous}
}

// Authenticated marks a caller as having presented a valid token for a realm.
func Authenticated(realm Label) Identity {
	return Identity{Kind: IdentityKindAuthenticated, Realm: realm}
}

// User is a subject within a realm.
func User(subject string, realm Label) Identity {
	return Identity{Kind: IdentityKindUser, Realm: realm, Name: subject}
}

// Group is a group membership within a realm.
func Group(name string, realm Label) Identity {
	return Identity{Kind: IdentityKindGroup, Realm: realm, Name: name}
}

func (i Identity) String() string {
	switch i.Kind {
	case IdentityKindAnonymous:
		return "anonymous"
	case IdentityKindAuthenticated:
		return fmt.Sprintf("authenticated(%s)", i.Realm)
	case IdentityKindUser:
		return fmt.Sprintf("user(%s, %s)", i.Name, i.Realm)
	case IdentityKindGroup:
		return fmt.Sprintf("group(%s, %s)", i.Name, i.Realm)
	default:
		return string(i.Kind)
	}
}

// Caller is the authenticated principal plus its derived identities.
// Identities always contains the subject.
type Caller struct {
	Subject    Identity
	Identities map[Identity]struct{}
}

// AnonymousCaller is the caller used when no credentials are presented.
func AnonymousCaller() Caller {
	anon := Anonymous()
	return Caller{
		Subject:    anon,
		Identities: map[Identity]struct{}{anon: {}},
	}
}

// NewCaller builds a caller from a subject and its identities.
func NewCaller(subject Identity, identities ...Identity) Caller {
	set := make(map[Identity]struct{}, len(identities)+1)
	set[subject] = struct{}{}
	for _, i := range identities {
		set[i] = struct{}{}
	}
	return Caller{Subject: subject, Identities: set}
}

// Is reports whether the caller carries the given identity.
func (c Caller) Is(i Identity) bool {
	_, ok := c.Identities[i]
	return ok
}

// IsAnonymous reports whether the caller presented no credentials.
func (c Caller) IsAnonymous() bool {
	return c.Subject.Kind == IdentityKindAnonymous
}
