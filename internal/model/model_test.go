package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDAcceptsStringsAndNumbers(t *testing.T) {
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(`{"conditionId":12,"patientId":"p-7"}`), &c))
	assert.Equal(t, ID("12"), c.ConditionID)
	assert.Equal(t, ID("p-7"), c.PatientID)

	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"messageId":null,"senderId":3}`), &m))
	assert.True(t, m.MessageID.IsZero())
	assert.Equal(t, ID("3"), m.SenderID)

	assert.Error(t, json.Unmarshal([]byte(`{"conditionId":{}}`), &c))
}

func TestHomePath(t *testing.T) {
	assert.Equal(t, "/doctor/patients", HomePath([]string{"Doctor"}))
	assert.Equal(t, "/doctor/patients", HomePath([]string{"otherstaff"}))
	assert.Equal(t, "/patient/me", HomePath([]string{"offline_access", "Patient"}))
	assert.Equal(t, "/", HomePath(nil))
}

func TestPatientDetailPath(t *testing.T) {
	assert.Equal(t, "/doctor/patient/5", PatientDetailPath([]string{"Doctor"}, "5"))
	assert.Equal(t, "/staff/patient/5", PatientDetailPath([]string{"OtherStaff"}, "5"))
	assert.Equal(t, "/doctor/patient/5", PatientDetailPath([]string{"OtherStaff", "Doctor"}, "5"))
}

func TestConditionPatchKeepsIdentity(t *testing.T) {
	orig := Condition{
		ConditionID:   "9",
		PatientID:     "p1",
		ConditionName: "Flu",
		ConditionType: ConditionInfectious,
		SeverityLevel: 3,
		DiagnosedDate: "2024-01-01",
	}
	severity := 5
	got := ConditionPatch{SeverityLevel: &severity}.Apply(orig)

	assert.Equal(t, 5, got.SeverityLevel)
	assert.Equal(t, orig.ConditionID, got.ConditionID)
	assert.Equal(t, orig.PatientID, got.PatientID)
	assert.Equal(t, "Flu", got.ConditionName)
	assert.Equal(t, "2024-01-01", got.DiagnosedDate)
}

func TestIdentityDisplayName(t *testing.T) {
	assert.Equal(t, "Ann", Identity{FullName: "Ann", Email: "a@x"}.DisplayName())
	assert.Equal(t, "a@x", Identity{Email: "a@x"}.DisplayName())
	assert.Equal(t, "Unknown User", Identity{}.DisplayName())
	assert.True(t, Identity{Roles: []string{"OtherStaff"}}.IsClinician())
	assert.False(t, Identity{Roles: []string{"Patient"}}.IsClinician())
}

func TestHasRoleIsExact(t *testing.T) {
	assert.True(t, HasRole([]string{"offline_access", "Doctor"}, RoleDoctor))
	assert.False(t, HasRole([]string{"doctor"}, RoleDoctor))
	assert.False(t, HasRole([]string{"PATIENT"}, RolePatient))
	assert.False(t, Identity{Roles: []string{"otherstaff"}}.IsClinician())
}
