package model

// RecordKind names a clinical record collection; the value is the backend
// path segment.
type RecordKind string

const (
	KindCondition   RecordKind = "conditions"
	KindEncounter   RecordKind = "encounters"
	KindObservation RecordKind = "observations"
)

var RecordKinds = []RecordKind{KindCondition, KindEncounter, KindObservation}

func ParseRecordKind(s string) (RecordKind, bool) {
	for _, k := range RecordKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Singular is used for audit entity types and event payloads.
func (k RecordKind) Singular() string {
	switch k {
	case KindCondition:
		return "condition"
	case KindEncounter:
		return "encounter"
	case KindObservation:
		return "observation"
	default:
		return string(k)
	}
}

type ConditionType string

const (
	ConditionInfectious ConditionType = "Infectious"
	ConditionChronic    ConditionType = "Chronic"
	ConditionGenetic    ConditionType = "Genetic"
	ConditionAutoimmune ConditionType = "Autoimmune"
	ConditionMental     ConditionType = "Mental"
	ConditionOther      ConditionType = "Other"
)

type Condition struct {
	ConditionID    ID            `json:"conditionId"`
	PatientID      ID            `json:"patientId,omitempty"`
	PractitionerID ID            `json:"practitionerId,omitempty"`
	ConditionName  string        `json:"conditionName"`
	ConditionType  ConditionType `json:"conditionType"`
	SeverityLevel  int           `json:"severityLevel"`
	DiagnosedDate  string        `json:"diagnosedDate"`
}

type Encounter struct {
	EncounterID    ID     `json:"encounterId"`
	PatientID      ID     `json:"patientId,omitempty"`
	PractitionerID ID     `json:"practitionerId,omitempty"`
	Description    string `json:"description"`
	EncounterDate  string `json:"encounterDate"`
}

type Observation struct {
	ObservationID   ID     `json:"observationId"`
	PatientID       ID     `json:"patientId,omitempty"`
	PractitionerID  ID     `json:"practitionerId,omitempty"`
	Description     string `json:"description"`
	ObservationDate string `json:"observationDate"`
}

// RecordRef is the part of every record the portal needs to route on.
type RecordRef struct {
	PatientID      ID `json:"patientId"`
	PractitionerID ID `json:"practitionerId,omitempty"`
}

type ConditionRequest struct {
	ConditionName string        `json:"conditionName" binding:"required,notblank,max=200"`
	ConditionType ConditionType `json:"conditionType" binding:"required,oneof=Infectious Chronic Genetic Autoimmune Mental Other"`
	SeverityLevel int           `json:"severityLevel" binding:"required,min=1,max=10"`
	DiagnosedDate string        `json:"diagnosedDate" binding:"required,isodate"`
}

type EncounterRequest struct {
	Description   string `json:"description" binding:"required,notblank,max=4000"`
	EncounterDate string `json:"encounterDate" binding:"required,isodatetime"`
}

type ObservationRequest struct {
	Description     string `json:"description" binding:"required,notblank,max=4000"`
	ObservationDate string `json:"observationDate" binding:"required,isodatetime"`
}

// Patches carry only the submitted fields.

type ConditionPatch struct {
	ConditionName *string        `json:"conditionName" binding:"omitempty,notblank,max=200"`
	ConditionType *ConditionType `json:"conditionType" binding:"omitempty,oneof=Infectious Chronic Genetic Autoimmune Mental Other"`
	SeverityLevel *int           `json:"severityLevel" binding:"omitempty,min=1,max=10"`
	DiagnosedDate *string        `json:"diagnosedDate" binding:"omitempty,isodate"`
}

type EncounterPatch struct {
	Description   *string `json:"description" binding:"omitempty,notblank,max=4000"`
	EncounterDate *string `json:"encounterDate" binding:"omitempty,isodatetime"`
}

type ObservationPatch struct {
	Description     *string `json:"description" binding:"omitempty,notblank,max=4000"`
	ObservationDate *string `json:"observationDate" binding:"omitempty,isodatetime"`
}

// Apply returns c with the submitted fields replaced. Identity and ownership
// are never touched.
func (p ConditionPatch) Apply(c Condition) Condition {
	if p.ConditionName != nil {
		c.ConditionName = *p.ConditionName
	}
	if p.ConditionType != nil {
		c.ConditionType = *p.ConditionType
	}
	if p.SeverityLevel != nil {
		c.SeverityLevel = *p.SeverityLevel
	}
	if p.DiagnosedDate != nil {
		c.DiagnosedDate = *p.DiagnosedDate
	}
	return c
}

func (p EncounterPatch) Apply(e Encounter) Encounter {
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.EncounterDate != nil {
		e.EncounterDate = *p.EncounterDate
	}
	return e
}

func (p ObservationPatch) Apply(o Observation) Observation {
	if p.Description != nil {
		o.Description = *p.Description
	}
	if p.ObservationDate != nil {
		o.ObservationDate = *p.ObservationDate
	}
	return o
}

// MutationResult answers every create or update with the view to return to.
type MutationResult struct {
	Record   interface{} `json:"record"`
	Redirect string      `json:"redirect"`
}
