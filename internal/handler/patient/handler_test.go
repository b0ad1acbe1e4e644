package patient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jwalitptl/patient-portal/internal/middleware"
	"github.com/jwalitptl/patient-portal/internal/model"
	"github.com/jwalitptl/patient-portal/internal/service/records"
	"github.com/jwalitptl/patient-portal/internal/session"
	"github.com/jwalitptl/patient-portal/pkg/apiclient"
	apperrors "github.com/jwalitptl/patient-portal/pkg/errors"
	"github.com/jwalitptl/patient-portal/pkg/messaging"
	"github.com/jwalitptl/patient-portal/pkg/metrics"
	"github.com/jwalitptl/patient-portal/pkg/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	if err := validator.Register(); err != nil {
		panic(err)
	}
}

var directory = map[model.ID]model.Patient{
	"p-1": {ID: "p-1", FullName: "bo Ek", Email: "bo@x.se"},
	"p-2": {ID: "p-2", FullName: "Ann Berg", Email: "ann@x.se", Conditions: []model.Condition{{ConditionID: "c-1", ConditionName: "Asthma"}}},
}

type fakePatients struct{}

func (fakePatients) Patient(_ context.Context, _ apiclient.TokenSource, id model.ID, _ bool) (*model.Patient, error) {
	p, ok := directory[id]
	if !ok {
		return nil, apperrors.Upstream("users", http.StatusNotFound, errors.New("no patient"))
	}
	return &p, nil
}

func (fakePatients) PatientByEmail(_ context.Context, _ apiclient.TokenSource, email string) (*model.Patient, error) {
	for _, p := range directory {
		if p.Email == email {
			return &p, nil
		}
	}
	return nil, apperrors.Upstream("users", http.StatusNotFound, errors.New("no patient"))
}

type created struct {
	kind           model.RecordKind
	patientID      model.ID
	practitionerID model.ID
	body           interface{}
}

// fakeStore echoes created records back with an id and remembers each call.
type fakeStore struct {
	mu      sync.Mutex
	created []created
}

func (s *fakeStore) Create(_ context.Context, _ apiclient.TokenSource, kind model.RecordKind, patientID, practitionerID model.ID, body, out interface{}) error {
	s.mu.Lock()
	s.created = append(s.created, created{kind: kind, patientID: patientID, practitionerID: practitionerID, body: body})
	s.mu.Unlock()

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	switch rec := out.(type) {
	case *model.Condition:
		rec.ConditionID = "new"
	case *model.Encounter:
		rec.EncounterID = "new"
	case *model.Observation:
		rec.ObservationID = "new"
	}
	return nil
}

func (s *fakeStore) Get(context.Context, apiclient.TokenSource, model.RecordKind, model.ID, interface{}) error {
	return nil
}

func (s *fakeStore) Update(context.Context, apiclient.TokenSource, model.RecordKind, model.ID, interface{}, interface{}) error {
	return nil
}

func (s *fakeStore) Delete(context.Context, apiclient.TokenSource, model.RecordKind, model.ID) error {
	return nil
}

func (s *fakeStore) ByPractitioner(_ context.Context, _ apiclient.TokenSource, kind model.RecordKind, practitionerID model.ID) ([]model.RecordRef, error) {
	if practitionerID != "doc-1" {
		return nil, nil
	}
	switch kind {
	case model.KindCondition:
		return []model.RecordRef{{PatientID: "p-1"}, {PatientID: "p-2"}}, nil
	case model.KindEncounter:
		return []model.RecordRef{{PatientID: "p-2"}}, nil
	default:
		return nil, nil
	}
}

type fixture struct {
	engine *gin.Engine
	store  *fakeStore
	broker *messaging.MemoryBroker
	sess   *session.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	codec, err := session.NewCodec("test-secret")
	require.NoError(t, err)
	sessions := session.NewMemoryStore(codec, time.Minute, metrics.NewNop())
	auth := middleware.NewSessionAuth(sessions, nil, middleware.CookieConfig{})

	store := &fakeStore{}
	broker := messaging.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	r := gin.New()
	r.Use(middleware.ErrorHandler(), middleware.Validation(), auth.Load())
	svc := records.NewService(fakePatients{}, store, broker)
	NewHandler(svc, auth.RequireRoles, middleware.NewAuditMiddleware(nil)).RegisterRoutes(r.Group("/api"))

	return &fixture{engine: r, store: store, broker: broker, sess: sessions}
}

func (f *fixture) do(t *testing.T, id model.Identity, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	sess := session.New(time.Hour)
	sess.Status = session.StatusAuthenticated
	sess.Identity = id
	sess.Token = &oauth2.Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, f.sess.Save(context.Background(), sess))

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Accept", "application/json")
	req.AddCookie(&http.Cookie{Name: "portal_session", Value: sess.ID})
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

var (
	doctor  = model.Identity{Subject: "doc-1", Roles: []string{"Doctor"}}
	staff   = model.Identity{Subject: "staff-1", Roles: []string{"OtherStaff"}}
	patient = model.Identity{Subject: "p-2", Email: "ann@x.se", Roles: []string{"Patient"}}
)

func TestTreatedPatientsSortedByName(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, doctor, http.MethodGet, "/api/doctor/patients", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var list []model.PatientSummary
	data(t, w, &list)
	assert.Equal(t, []model.PatientSummary{
		{ID: "p-2", FullName: "Ann Berg", Email: "ann@x.se"},
		{ID: "p-1", FullName: "bo Ek", Email: "bo@x.se"},
	}, list)
}

func TestOwnChartForPatient(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, patient, http.MethodGet, "/api/patient/me", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p model.Patient
	data(t, w, &p)
	assert.Equal(t, model.ID("p-2"), p.ID)
	assert.Len(t, p.Conditions, 1)

	assert.Equal(t, http.StatusForbidden, f.do(t, doctor, http.MethodGet, "/api/patient/me", "").Code)
}

func TestChartForClinicians(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, staff, http.MethodGet, "/api/doctor/patients/p-2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p model.Patient
	data(t, w, &p)
	assert.Equal(t, "Ann Berg", p.FullName)

	assert.Equal(t, http.StatusNotFound, f.do(t, doctor, http.MethodGet, "/api/doctor/patients/p-9", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, patient, http.MethodGet, "/api/doctor/patients/p-2", "").Code)
}

func TestCreateEncounterAttributesToDoctor(t *testing.T) {
	f := newFixture(t)
	changes, err := f.broker.Subscribe(context.Background(), messaging.RecordChannel)
	require.NoError(t, err)

	w := f.do(t, doctor, http.MethodPost, "/api/doctor/patients/p-2/encounters",
		`{"description":"Follow-up","encounterDate":"2024-03-01T09:30"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res struct {
		Record   model.Encounter `json:"record"`
		Redirect string          `json:"redirect"`
	}
	data(t, w, &res)
	assert.Equal(t, "/doctor/patient/p-2", res.Redirect)
	assert.Equal(t, "Follow-up", res.Record.Description)

	require.Len(t, f.store.created, 1)
	assert.Equal(t, model.KindEncounter, f.store.created[0].kind)
	assert.Equal(t, model.ID("p-2"), f.store.created[0].patientID)
	assert.Equal(t, model.ID("doc-1"), f.store.created[0].practitionerID)

	select {
	case raw := <-changes:
		var change messaging.RecordChange
		require.NoError(t, json.Unmarshal(raw, &change))
		assert.Equal(t, "p-2", change.PatientID)
		assert.Equal(t, records.ActionCreated, change.Action)
	case <-time.After(time.Second):
		t.Fatal("no record change published")
	}
}

func TestCreateObservationValidates(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, doctor, http.MethodPost, "/api/doctor/patients/p-2/observations",
		`{"description":"BP 120/80","observationDate":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "observationDate")
	assert.Empty(t, f.store.created)

	w = f.do(t, doctor, http.MethodPost, "/api/doctor/patients/p-2/observations",
		`{"description":"BP 120/80","observationDate":"2024-03-01T09:30"}`)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, f.store.created, 1)
	assert.Equal(t, model.KindObservation, f.store.created[0].kind)
}

func TestStaffCannotCreateRecords(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, staff, http.MethodPost, "/api/doctor/patients/p-2/conditions",
		`{"conditionName":"Flu","conditionType":"Infectious","severityLevel":3,"diagnosedDate":"2024-01-01"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, f.store.created)
}
