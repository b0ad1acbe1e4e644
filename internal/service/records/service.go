// Package records serves patient charts and clinical record mutations.
package records

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	"github.com/jwalitptl/patient-portal/pkg/messaging"
)

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

type Patients interface {
	Patient(ctx context.Context, creds apiclient.TokenSource, id model.ID, relations bool) (*model.Patient, error)
	PatientByEmail(ctx context.Context, creds apiclient.TokenSource, email string) (*model.Patient, error)
}

type Store interface {
	Create(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, patientID, practitionerID model.ID, body, out interface{}) error
	Get(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, id model.ID, out interface{}) error
	Update(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, id model.ID, body, out interface{}) error
	Delete(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, id model.ID) error
	ByPractitioner(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, practitionerID model.ID) ([]model.RecordRef, error)
}

type Service struct {
	patients Patients
	store    Store
	broker   messaging.Broker
}

// NewService builds the service. broker may be nil, in which case no
// record-change events are published.
func NewService(patients Patients, store Store, broker messaging.Broker) *Service {
	return &Service{patients: patients, store: store, broker: broker}
}

// Own returns the signed-in patient's chart.
func (s *Service) Own(ctx context.Context, creds apiclient.TokenSource, id model.Identity) (*model.Patient, error) {
	p, err := s.patients.PatientByEmail(ctx, creds, id.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to get own chart: %w", err)
	}
	return p, nil
}

func (s *Service) Chart(ctx context.Context, creds apiclient.TokenSource, patientID model.ID) (*model.Patient, error) {
	p, err := s.patients.Patient(ctx, creds, patientID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get patient chart: %w", err)
	}
	return p, nil
}

// TreatedPatients lists every patient the practitioner holds a record for,
// sorted by name.
func (s *Service) TreatedPatients(ctx context.Context, creds apiclient.TokenSource, practitionerID model.ID) ([]model.PatientSummary, error) {
	ids, err := s.treatedIDs(ctx, creds, practitionerID)
	if err != nil {
		return nil, err
	}

	out := make([]model.PatientSummary, len(ids))
	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id model.ID) {
			defer wg.Done()
			p, err := s.patients.Patient(ctx, creds, id, false)
			if err != nil {
				errs[i] = err
				return
			}
			out[i] = model.PatientSummary{ID: p.ID, FullName: p.FullName, Email: p.Email}
		}(i, id)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to load treated patient: %w", err)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].FullName) < strings.ToLower(out[j].FullName)
	})
	return out, nil
}

// treatedIDs is the union of patient ids across every record kind, in first
// seen order.
func (s *Service) treatedIDs(ctx context.Context, creds apiclient.TokenSource, practitionerID model.ID) ([]model.ID, error) {
	refs := make([][]model.RecordRef, len(model.RecordKinds))
	errs := make([]error, len(model.RecordKinds))
	var wg sync.WaitGroup
	for i, kind := range model.RecordKinds {
		wg.Add(1)
		go func(i int, kind model.RecordKind) {
			defer wg.Done()
			refs[i], errs[i] = s.store.ByPractitioner(ctx, creds, kind, practitionerID)
		}(i, kind)
	}
	wg.Wait()

	seen := make(map[model.ID]struct{})
	var ids []model.ID
	for i := range refs {
		if errs[i] != nil {
			return nil, fmt.Errorf("failed to list %s: %w", model.RecordKinds[i], errs[i])
		}
		for _, ref := range refs[i] {
			if ref.PatientID.IsZero() {
				continue
			}
			if _, ok := seen[ref.PatientID]; ok {
				continue
			}
			seen[ref.PatientID] = struct{}{}
			ids = append(ids, ref.PatientID)
		}
	}
	return ids, nil
}

// Get returns the record as its kind-specific type.
func (s *Service) Get(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, id model.ID) (interface{}, error) {
	out := newRecord(kind)
	if err := s.store.Get(ctx, creds, kind, id, out); err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", kind.Singular(), err)
	}
	return out, nil
}

func (s *Service) CreateCondition(ctx context.Context, creds apiclient.TokenSource, actor model.Identity, patientID model.ID, req model.ConditionRequest) (*model.MutationResult, error) {
	var c model.Condition
	if err := s.store.Create(ctx, creds, model.KindCondition, patientID, actor.UserID(), req, &c); err != nil {
		return nil, fmt.Errorf("failed to create condition: %w", err)
	}
	if c.PatientID.IsZero() {
		c.PatientID = patientID
	}
	s.publish(ctx, model.KindCondition, ActionCreated, patientID, c.ConditionID)
	return s.result(actor, patientID, c), nil
}

func (s *Service) CreateEncounter(ctx context.Context, creds apiclient.TokenSource, actor model.Identity, patientID model.ID, req model.EncounterRequest) (*model.MutationResult, error) {
	var e model.Encounter
	if err := s.store.Create(ctx, creds, model.KindEncounter, patientID, actor.UserID(), req, &e); err != nil {
		return nil, fmt.Errorf("failed to create encounter: %w", err)
	}
	if e.PatientID.IsZero() {
		e.PatientID = patientID
	}
	s.publish(ctx, model.KindEncounter, ActionCreated, patientID, e.EncounterID)
	return s.result(actor, patientID, e), nil
}

func (s *Service) CreateObservation(ctx context.Context, creds apiclient.TokenSource, actor model.Identity, patientID model.ID, req model.ObservationRequest) (*model.MutationResult, error) {
	var o model.Observation
	if err := s.store.Create(ctx, creds, model.KindObservation, patientID, actor.UserID(), req, &o); err != nil {
		return nil, fmt.Errorf("failed to create observation: %w", err)
	}
	if o.PatientID.IsZero() {
		o.PatientID = patientID
	}
	s.publish(ctx, model.KindObservation, ActionCreated, patientID, o.ObservationID)
	return s.result(actor, patientID, o), nil
}

// UpdateCondition merges the submitted fields onto the stored record. The
// record id and patient never change.
func (s *Service) UpdateCondition(ctx context.Context, creds apiclient.TokenSource, actor model.Identity, id model.ID, patch model.ConditionPatch) (*model.MutationResult, error) {
	var current model.Condition
	if err := s.store.Get(ctx, creds, model.KindCondition, id, &current); err != nil {
		return nil, fmt.Errorf("failed to get condition: %w", err)
	}
	next := patch.Apply(current)
	next.ConditionID, next.PatientID, next.PractitionerID = id, current.PatientID, current.PractitionerID

	updated := next
	if err := s.store.Update(ctx, creds, model.KindCondition, id, next, &updated); err != nil {
		return nil, fmt.Errorf("failed to update condition: %w", err)
	}
	updated.ConditionID, updated.PatientID = id, current.PatientID
	s.publish(ctx, model.KindCondition, ActionUpdated, current.PatientID, id)
	return s.result(actor, current.PatientID, updated), nil
}

func (s *Service) UpdateEncounter(ctx context.Context, creds apiclient.TokenSource, actor model.Identity, id model.ID, patch model.EncounterPatch) (*model.MutationResult, error) {
	var current model.Encounter
	if err := s.store.Get(ctx, creds, model.KindEncounter, id, &current); err != nil {
		return nil, fmt.Errorf("failed to get encounter: %w", err)
	}
	next := patch.Apply(current)
	next.EncounterID, next.PatientID, next.PractitionerID = id, current.PatientID, current.PractitionerID

	updated := next
	if err := s.store.Update(ctx, creds, model.KindEncounter, id, next, &updated); err != nil {
		return nil, fmt.Errorf("failed to update encounter: %w", err)
	}
	updated.EncounterID, updated.PatientID = id, current.PatientID
	s.publish(ctx, model.KindEncounter, ActionUpdated, current.PatientID, id)
	return s.result(actor, current.PatientID, updated), nil
}

func (s *Service) UpdateObservation(ctx context.Context, creds apiclient.TokenSource, actor model.Identity, id model.ID, patch model.ObservationPatch) (*model.MutationResult, error) {
	var current model.Observation
	if err := s.store.Get(ctx, creds, model.KindObservation, id, &current); err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}
	next := patch.Apply(current)
	next.ObservationID, next.PatientID, next.PractitionerID = id, current.PatientID, current.PractitionerID

	updated := next
	if err := s.store.Update(ctx, creds, model.KindObservation, id, next, &updated); err != nil {
		return nil, fmt.Errorf("failed to update observation: %w", err)
	}
	updated.ObservationID, updated.PatientID = id, current.PatientID
	s.publish(ctx, model.KindObservation, ActionUpdated, current.PatientID, id)
	return s.result(actor, current.PatientID, updated), nil
}

// Delete removes a record. The record is read first so the change event can
// name its patient.
func (s *Service) Delete(ctx context.Context, creds apiclient.TokenSource, kind model.RecordKind, id model.ID) error {
	var ref model.RecordRef
	if err := s.store.Get(ctx, creds, kind, id, &ref); err != nil {
		return fmt.Errorf("failed to get %s: %w", kind.Singular(), err)
	}
	if err := s.store.Delete(ctx, creds, kind, id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind.Singular(), err)
	}
	s.publish(ctx, kind, ActionDeleted, ref.PatientID, id)
	return nil
}

func (s *Service) result(actor model.Identity, patientID model.ID, record interface{}) *model.MutationResult {
	return &model.MutationResult{
		Record:   record,
		Redirect: model.PatientDetailPath(actor.Roles, patientID),
	}
}

// publish logs failures and never fails the mutation.
func (s *Service) publish(ctx context.Context, kind model.RecordKind, action string, patientID, recordID model.ID) {
	if s.broker == nil || patientID.IsZero() {
		return
	}
	change := messaging.RecordChange{
		PatientID: patientID.String(),
		Kind:      kind.Singular(),
		Action:    action,
		RecordID:  recordID.String(),
	}
	if err := s.broker.Publish(ctx, messaging.RecordChannel, change); err != nil {
		log.Warn().Err(err).
			Str("patient_id", change.PatientID).
			Str("kind", change.Kind).
			Msg("failed to publish record change")
	}
}

func newRecord(kind model.RecordKind) interface{} {
	switch kind {
	case model.KindCondition:
		return &model.Condition{}
	case model.KindEncounter:
		return &model.Encounter{}
	default:
		return &model.Observation{}
	}
}
