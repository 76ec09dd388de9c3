package users

import (
	"slices"

	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/internal/utils"
	"github.com/jrsteele09/go-identity-session/serializer"
)

// RoleAdmin grants access to admin-only actions.
const RoleAdmin = "admin"

// User is an immutable snapshot of the signed-in identity. Two users are the
// same user when their ids match.
type User struct {
	id    string
	roles []string // Deduplicated; order carries no meaning
	email *string
	name  *string
}

var userSerializer = serializer.New(
	serializer.Field[*User]{Name: "id", Extract: func(u *User) any { return u.id }},
	serializer.Field[*User]{Name: "roles", Extract: func(u *User) any { return u.Roles() }},
	serializer.Field[*User]{Name: "email", Extract: func(u *User) any { return optional(u.email) }},
	serializer.Field[*User]{Name: "name", Extract: func(u *User) any { return optional(u.name) }},
)

// New coerces its inputs the same way Load does.
func New(id any, roles any, email any, name any) (*User, error) {
	idStr, ok := utils.ToScalarString(id)
	if !ok || idStr == "" {
		return nil, autherrors.New("id: %#v violates constraints (min_size?(1))", id)
	}

	emailPtr, err := optionalString("email", email)
	if err != nil {
		return nil, err
	}
	namePtr, err := optionalString("name", name)
	if err != nil {
		return nil, err
	}

	return &User{
		id:    idStr,
		roles: utils.ToStringSlice(roles),
		email: emailPtr,
		name:  namePtr,
	}, nil
}

// Load builds a user from its stored form.
func Load(raw map[string]any) (*User, error) {
	hash, err := userSerializer.LoadableHash(raw)
	if err != nil {
		return nil, err
	}
	return New(hash["id"], hash["roles"], hash["email"], hash["name"])
}

// FromProviderClaims builds a user from identity provider claims. The id comes
// from "sub", falling back to "uid"; profile fields may be nested under "info".
func FromProviderClaims(claims map[string]any) (*User, error) {
	id, ok := claims["sub"]
	if !ok || id == nil {
		id = claims["uid"]
	}

	info, _ := serializer.AsMap(claims["info"])
	field := func(key string) any {
		if v, ok := claims[key]; ok {
			return v
		}
		return info[key]
	}

	roles := field("roles")
	if roles == nil {
		roles = []string{}
	}
	return New(id, roles, field("email"), field("name"))
}

func (u *User) ID() string     { return u.id }
func (u *User) Email() *string { return u.email }
func (u *User) Name() *string  { return u.name }

func (u *User) Roles() []string {
	return slices.Clone(u.roles)
}

func (u *User) HasRole(role string) bool {
	return slices.Contains(u.roles, role)
}

func (u *User) Admin() bool {
	return u.HasRole(RoleAdmin)
}

func (u *User) Equal(other *User) bool {
	return other != nil && u.id == other.id
}

// Dump returns the stored form of the user.
func (u *User) Dump() map[string]any {
	return userSerializer.Dump(u)
}

func optionalString(field string, v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, autherrors.New("%s: %#v violates constraints (type?(String))", field, v)
	}
	return &s, nil
}

func optional(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
