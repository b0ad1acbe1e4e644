package model

// Identity is who the identity provider says the signed-in user is. Subject
// doubles as the user id in every backend service.
type Identity struct {
	Subject           string   `json:"sub"`
	Email             string   `json:"email"`
	FullName          string   `json:"name"`
	PreferredUsername string   `json:"preferred_username,omitempty"`
	Roles             []string `json:"roles"`
}

func (i Identity) UserID() ID { return ID(i.Subject) }

func (i Identity) HasRole(r Role) bool { return HasRole(i.Roles, r) }

// IsClinician is true for Doctor and OtherStaff.
func (i Identity) IsClinician() bool {
	for _, r := range Clinicians {
		if i.HasRole(r) {
			return true
		}
	}
	return false
}

// DisplayName falls back through the profile claims.
func (i Identity) DisplayName() string {
	switch {
	case i.FullName != "":
		return i.FullName
	case i.PreferredUsername != "":
		return i.PreferredUsername
	case i.Email != "":
		return i.Email
	default:
		return "Unknown User"
	}
}

// Me answers GET /auth/me.
type Me struct {
	Identity
	Home           string `json:"home"`
	HasNewMessages bool   `json:"hasNewMessages"`
}
