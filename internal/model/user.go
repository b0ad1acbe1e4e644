package model

type Role string

const (
	RoleDoctor     Role = "Doctor"
	RoleOtherStaff Role = "OtherStaff"
	RolePatient    Role = "Patient"
)

// Clinicians are the roles allowed into the practitioner workspace.
var Clinicians = []Role{RoleDoctor, RoleOtherStaff}

// AllRoles admits any signed-in user of the portal.
var AllRoles = []Role{RoleDoctor, RoleOtherStaff, RolePatient}

// HasRole matches the realm role name exactly.
func HasRole(roles []string, want Role) bool {
	for _, r := range roles {
		if r == string(want) {
			return true
		}
	}
	return false
}

// HomePath is where a user lands after sign-in.
func HomePath(roles []string) string {
	switch {
	case HasRole(roles, RoleDoctor), HasRole(roles, RoleOtherStaff):
		return "/doctor/patients"
	case HasRole(roles, RolePatient):
		return "/patient/me"
	default:
		return "/"
	}
}

// PatientDetailPath is the view a record mutation returns to.
func PatientDetailPath(roles []string, patientID ID) string {
	if HasRole(roles, RoleOtherStaff) && !HasRole(roles, RoleDoctor) {
		return "/staff/patient/" + patientID.String()
	}
	return "/doctor/patient/" + patientID.String()
}

// User is the user-management view of any account.
type User struct {
	ID       ID     `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	UserType string `json:"userType,omitempty"`
}

type Practitioner struct {
	ID       ID     `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
}

// Patient carries its records when fetched with relations.
type Patient struct {
	ID           ID            `json:"id"`
	FullName     string        `json:"fullName"`
	Email        string        `json:"email"`
	Conditions   []Condition   `json:"conditions,omitempty"`
	Encounters   []Encounter   `json:"encounters,omitempty"`
	Observations []Observation `json:"observations,omitempty"`
}

// PatientSummary is a row in a patient list.
type PatientSummary struct {
	ID       ID     `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
}

// Password stored in user management for accounts whose credentials live in
// the identity provider.
const ExternallyManagedPassword = "keycloak-managed"

type CreatePractitionerRequest struct {
	FullName       string `json:"fullName"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	PractitionerID string `json:"practitionerId"`
}

type CreatePatientRequest struct {
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	PatientID string `json:"patientId"`
}

// RegisterPatientRequest is the legacy self-service sign-up form.
type RegisterPatientRequest struct {
	Email    string `json:"email" binding:"required,email"`
	FullName string `json:"fullName" binding:"required,notblank,max=200"`
	Password string `json:"password" binding:"required,min=8,max=128"`
	UserType string `json:"userType,omitempty"`
}
