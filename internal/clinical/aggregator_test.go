package clinical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/clinassist/platform/internal/adapters/health"
	apperrors "github.com/clinassist/platform/internal/shared/errors"
)

// --- fake record system ---

type route func(query url.Values) (string, error)

type fakeUpstream struct {
	mu     sync.Mutex
	routes map[string]route
	calls  []string
}

func (f *fakeUpstream) Get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	r, ok := f.routes[path]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ok {
		return nil, &health.StatusError{StatusCode: 404, Path: path}
	}
	body, err := r(query)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func body(s string) route {
	return func(url.Values) (string, error) { return s, nil }
}

func fail(err error) route {
	return func(url.Values) (string, error) { return "", err }
}

const (
	testPID   = "1001"
	testPUUID = "9f1c-uuid"
	testEID   = "55"

	patientsBody   = `{"data":[{"pid":"1000","uuid":"other"},{"pid":1001,"uuid":"9f1c-uuid","fname":"Maria","lname":"Lopez","DOB":"1975-06-01","sex":"Female","pubpid":"MRN1001"}]}`
	encountersBody = `{"data":[
		{"id":"55","pid":"1001","date":"2024-05-10 09:00:00","reason":"Follow-up","provider_id":"3","facility":"Main Clinic","facility_id":"1","billing_facility":"1","pc_catname":"Office Visit","billing_note":"","last_level_billed":"0","last_level_closed":"0"},
		{"id":"56","pid":"1001","date":"2024-06-01 10:00:00","reason":"Cough"},
		{"id":"57","pid":"1001","date":"2024-06-01 15:30:00","reason":"Rash"}
	]}`
	conditionsBody  = `{"resourceType":"Bundle","entry":[{"resource":{"code":{"coding":[{"code":"I10","display":"Hypertension"}]},"onsetDateTime":"2018-01-01"}}]}`
	medicationsBody = `{"resourceType":"Bundle","entry":[{"resource":{"medicationCodeableConcept":{"text":"Lisinopril"},"dosageInstruction":[{"timing":{"code":{"text":"daily"}},"doseAndRate":[{"doseQuantity":{"value":10,"unit":"mg"}}]}]}}]}`
	allergiesBody   = `{"resourceType":"Bundle","entry":[{"resource":{"code":{"text":"Penicillin"},"reaction":[{"severity":"severe","manifestation":[{"coding":[{"display":"Anaphylaxis"}]}]}]}}]}`
	vitalsBody      = `{"data":[{"bps":"128","bpd":"82","pulse":"70","temperature":"98.4"}]}`
	soapBody        = `{"data":[{"date":"2024-05-10","subjective":"Doing well","objective":"BP controlled"}]}`
)

var (
	conditionsPath  = "/apis/default/fhir/Condition"
	medicationsPath = "/apis/default/fhir/MedicationRequest"
	allergiesPath   = "/apis/default/fhir/AllergyIntolerance"
	vitalsPath      = fmt.Sprintf("/apis/default/api/patient/%s/encounter/%s/vital", testPID, testEID)
	soapPath        = fmt.Sprintf("/apis/default/api/patient/%s/encounter/%s/soap_note", testPID, testEID)
)

func newFake() *fakeUpstream {
	return &fakeUpstream{routes: map[string]route{
		patientSearchPath: body(patientsBody),
		"/apis/default/api/patient/" + testPUUID + "/encounter": body(encountersBody),
		conditionsPath:  body(conditionsBody),
		medicationsPath: body(medicationsBody),
		allergiesPath:   body(allergiesBody),
		vitalsPath:      body(vitalsBody),
		soapPath:        body(soapBody),
	}}
}

func newTestAggregator(up health.Upstream) *Aggregator {
	return NewAggregator(up, zap.NewNop())
}

// --- tests ---

func TestEncounterContextAllSucceed(t *testing.T) {
	agg := newTestAggregator(newFake())

	got, dis, err := agg.EncounterContext(context.Background(), EncounterRequest{PatientID: testPID, EncounterID: testEID})
	if err != nil || dis != nil {
		t.Fatalf("EncounterContext() = %v, %v", dis, err)
	}

	if len(got.DataWarnings) != 0 {
		t.Errorf("Expected no data warnings, got %v", got.DataWarnings)
	}
	if got.Patient.Name != "Maria Lopez" || got.Patient.ID != "1001" {
		t.Errorf("Unexpected patient %+v", got.Patient)
	}
	if got.Encounter.ID != "55" || got.Encounter.Facility.Name != "Main Clinic" || got.Encounter.Status != "Office Visit" {
		t.Errorf("Unexpected encounter %+v", got.Encounter)
	}
	cc := got.ClinicalContext
	if len(cc.ActiveProblems) != 1 || cc.ActiveProblems[0].Code != "I10" {
		t.Errorf("Unexpected problems %+v", cc.ActiveProblems)
	}
	if len(cc.Medications) != 1 || cc.Medications[0].Dose != "10 mg" {
		t.Errorf("Unexpected medications %+v", cc.Medications)
	}
	if len(cc.Allergies) != 1 || cc.Allergies[0].Reaction != "Anaphylaxis" {
		t.Errorf("Unexpected allergies %+v", cc.Allergies)
	}
	if cc.Vitals == nil || cc.Vitals.BP != "128/82" {
		t.Errorf("Unexpected vitals %+v", cc.Vitals)
	}
	if len(cc.ExistingNotes) != 1 || !strings.HasPrefix(cc.ExistingNotes[0].Summary, "SUBJECTIVE: Doing well") {
		t.Errorf("Unexpected notes %+v", cc.ExistingNotes)
	}
	wantCats := []health.Category{health.CategoryConditions, health.CategoryMedications, health.CategoryAllergies, health.CategoryVitals, health.CategorySOAPNotes}
	if fmt.Sprint(got.Categories) != fmt.Sprint(wantCats) {
		t.Errorf("Categories = %v, want %v", got.Categories, wantCats)
	}
}

func TestEncounterContextAllergyTimeout(t *testing.T) {
	up := newFake()
	up.routes[allergiesPath] = fail(&health.TimeoutError{Path: allergiesPath, Err: context.DeadlineExceeded})

	got, _, err := newTestAggregator(up).EncounterContext(context.Background(), EncounterRequest{PatientID: testPID, EncounterID: testEID})
	if err != nil {
		t.Fatalf("EncounterContext error = %v", err)
	}

	want := []string{"allergies_fetch_failed: request timed out"}
	if fmt.Sprint(got.DataWarnings) != fmt.Sprint(want) {
		t.Errorf("DataWarnings = %v, want %v", got.DataWarnings, want)
	}
	if got.ClinicalContext.Allergies == nil || len(got.ClinicalContext.Allergies) != 0 {
		t.Errorf("Expected empty allergies, got %v", got.ClinicalContext.Allergies)
	}
	if len(got.ClinicalContext.ActiveProblems) != 1 || len(got.ClinicalContext.Medications) != 1 ||
		got.ClinicalContext.Vitals == nil || len(got.ClinicalContext.ExistingNotes) != 1 {
		t.Errorf("Expected other categories populated, got %+v", got.ClinicalContext)
	}

	out, _ := json.Marshal(got.ClinicalContext)
	if !strings.Contains(string(out), `"allergies":[]`) {
		t.Errorf("Expected allergies to serialize as [], got %s", out)
	}
}

func TestEncounterContextDegradationIndependence(t *testing.T) {
	type cat struct {
		category health.Category
		path     string
	}
	cats := []cat{
		{health.CategoryConditions, conditionsPath},
		{health.CategoryMedications, medicationsPath},
		{health.CategoryAllergies, allergiesPath},
		{health.CategoryVitals, vitalsPath},
		{health.CategorySOAPNotes, soapPath},
	}

	failures := []error{
		&health.StatusError{StatusCode: 503},
		&health.TimeoutError{Err: context.DeadlineExceeded},
		&health.NetworkError{Err: errors.New("connection reset")},
	}

	for mask := 0; mask < 1<<len(cats); mask++ {
		t.Run(fmt.Sprintf("mask=%05b", mask), func(t *testing.T) {
			up := newFake()
			var wantTags []string
			for i, c := range cats {
				if mask&(1<<i) == 0 {
					continue
				}
				failure := failures[(mask+i)%len(failures)]
				up.routes[c.path] = fail(failure)
				tag, _ := health.DegradationFor(c.category, failure)
				wantTags = append(wantTags, tag)
			}

			got, _, err := newTestAggregator(up).EncounterContext(context.Background(), EncounterRequest{PatientID: testPID, EncounterID: testEID})
			if err != nil {
				t.Fatalf("EncounterContext error = %v", err)
			}

			if fmt.Sprint(got.DataWarnings) != fmt.Sprint(wantTags) {
				t.Errorf("DataWarnings = %v, want %v", got.DataWarnings, wantTags)
			}

			cc := got.ClinicalContext
			populated := []bool{
				len(cc.ActiveProblems) == 1,
				len(cc.Medications) == 1,
				len(cc.Allergies) == 1,
				cc.Vitals != nil,
				len(cc.ExistingNotes) == 1,
			}
			for i, c := range cats {
				failed := mask&(1<<i) != 0
				if populated[i] == failed {
					t.Errorf("%s: failed=%v populated=%v", c.category, failed, populated[i])
				}
			}
		})
	}
}

func TestEncounterContextAbsenceVersusFailure(t *testing.T) {
	up := newFake()
	up.routes[allergiesPath] = body(`{"resourceType":"Bundle","total":0}`)
	up.routes[vitalsPath] = body(`{"data":[]}`)
	up.routes[medicationsPath] = fail(&health.StatusError{StatusCode: 500})

	got, _, err := newTestAggregator(up).EncounterContext(context.Background(), EncounterRequest{PatientID: testPID, EncounterID: testEID})
	if err != nil {
		t.Fatalf("EncounterContext error = %v", err)
	}

	want := []string{"medications_fetch_failed: HTTP 500"}
	if fmt.Sprint(got.DataWarnings) != fmt.Sprint(want) {
		t.Errorf("DataWarnings = %v, want %v", got.DataWarnings, want)
	}
	if len(got.ClinicalContext.Allergies) != 0 || got.ClinicalContext.Vitals != nil {
		t.Errorf("Expected empty allergies and nil vitals, got %+v", got.ClinicalContext)
	}
}

func TestEncounterContextAllFail(t *testing.T) {
	up := newFake()
	for _, p := range []string{conditionsPath, medicationsPath, allergiesPath, vitalsPath, soapPath} {
		up.routes[p] = fail(&health.NetworkError{Err: errors.New("down")})
	}

	got, _, err := newTestAggregator(up).EncounterContext(context.Background(), EncounterRequest{PatientID: testPID, EncounterID: testEID})
	if err != nil {
		t.Fatalf("EncounterContext error = %v", err)
	}
	if len(got.DataWarnings) != 5 {
		t.Errorf("Expected 5 tags, got %v", got.DataWarnings)
	}
	if got.Patient.ID != "1001" || got.Encounter.ID != "55" {
		t.Errorf("Expected identity despite total failure, got %+v %+v", got.Patient, got.Encounter)
	}
	out, _ := json.Marshal(got)
	for _, frag := range []string{`"active_problems":[]`, `"vitals":null`, `"existing_notes":[]`} {
		if !strings.Contains(string(out), frag) {
			t.Errorf("Expected %s in %s", frag, out)
		}
	}
}

func TestEncounterContextDisambiguation(t *testing.T) {
	up := newFake()
	got, dis, err := newTestAggregator(up).EncounterContext(context.Background(), EncounterRequest{PatientID: testPID, Date: "2024-06-01"})
	if err != nil {
		t.Fatalf("EncounterContext error = %v", err)
	}
	if got != nil || dis == nil {
		t.Fatalf("Expected disambiguation only, got %v %v", got, dis)
	}
	if len(dis.Candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %+v", dis.Candidates)
	}
	if dis.Candidates[0].ID != "56" || dis.Candidates[0].Reason != "Cough" || dis.Candidates[1].Reason != "Rash" {
		t.Errorf("Unexpected candidates %+v", dis.Candidates)
	}
	if !strings.Contains(dis.Message, "2024-06-01") {
		t.Errorf("Message should name the date: %q", dis.Message)
	}

	for _, call := range up.calls {
		if call == conditionsPath || call == vitalsPath {
			t.Errorf("No category fetch expected on disambiguation, saw %s", call)
		}
	}
}

func TestEncounterContextByUniqueDate(t *testing.T) {
	got, dis, err := newTestAggregator(newFake()).EncounterContext(context.Background(), EncounterRequest{PatientID: testPID, Date: "2024-05-10"})
	if err != nil || dis != nil {
		t.Fatalf("EncounterContext() = %v, %v", dis, err)
	}
	if got.Encounter.ID != "55" {
		t.Errorf("Expected encounter 55, got %v", got.Encounter.ID)
	}
}

func TestEncounterContextNotFound(t *testing.T) {
	noUUID := newFake()
	noUUID.routes[patientSearchPath] = body(`[{"pid":"1001","uuid":""}]`)

	tests := []struct {
		name    string
		up      *fakeUpstream
		req     EncounterRequest
		message string
	}{
		{"unknown patient", newFake(), EncounterRequest{PatientID: "42", EncounterID: testEID}, "No patient found with ID 42"},
		{"patient without uuid", noUUID, EncounterRequest{PatientID: testPID, EncounterID: testEID}, "Patient 1001 has no UUID"},
		{"unknown encounter", newFake(), EncounterRequest{PatientID: testPID, EncounterID: "99"}, "No encounter found with ID 99 for patient 1001"},
		{"no encounter on date", newFake(), EncounterRequest{PatientID: testPID, Date: "2023-01-01"}, "No encounters found on 2023-01-01 for patient 1001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, dis, err := newTestAggregator(tt.up).EncounterContext(context.Background(), tt.req)
			if got != nil || dis != nil {
				t.Fatalf("Expected no result, got %v %v", got, dis)
			}
			if !apperrors.IsNotFound(err) {
				t.Fatalf("Expected not-found error, got %v", err)
			}
			var appErr *apperrors.AppError
			if !errors.As(err, &appErr) || appErr.Message != tt.message {
				t.Errorf("Message = %q, want %q", appErr.Message, tt.message)
			}
		})
	}
}

func TestEncounterContextValidation(t *testing.T) {
	_, _, err := newTestAggregator(newFake()).EncounterContext(context.Background(), EncounterRequest{PatientID: testPID})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

func TestEncounterContextDecodeErrorPropagates(t *testing.T) {
	up := newFake()
	up.routes[conditionsPath] = body(`{"entry": [`)

	_, _, err := newTestAggregator(up).EncounterContext(context.Background(), EncounterRequest{PatientID: testPID, EncounterID: testEID})
	var de *health.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Expected decode error to propagate, got %v", err)
	}
}

func TestEncounterContextOddBundleShapes(t *testing.T) {
	tests := []struct {
		name       string
		conditions string
		want       int
	}{
		{"string total", `{"resourceType":"Bundle","total":"1","entry":[{"resource":{"code":{"text":"Asthma"}}}]}`, 1},
		{"entry not a list", `{"resourceType":"Bundle","entry":{"resource":{}}}`, 0},
		{"top-level array", `[1,2]`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newFake()
			up.routes[conditionsPath] = body(tt.conditions)
			up.routes[allergiesPath] = body(`{"resourceType":"Bundle","entry":[{"resource":{"code":{"coding":[{"code":7980,"display":"Sulfa"}]}}}]}`)

			got, _, err := newTestAggregator(up).EncounterContext(context.Background(), EncounterRequest{PatientID: testPID, EncounterID: testEID})
			if err != nil {
				t.Fatalf("EncounterContext error = %v", err)
			}
			cc := got.ClinicalContext
			if len(cc.ActiveProblems) != tt.want {
				t.Errorf("Expected %d problems, got %+v", tt.want, cc.ActiveProblems)
			}
			if len(cc.Allergies) != 1 || cc.Allergies[0].Substance != "Sulfa" {
				t.Errorf("Expected Sulfa allergy, got %+v", cc.Allergies)
			}
			if len(cc.Medications) != 1 || cc.Vitals == nil || len(cc.ExistingNotes) != 1 {
				t.Errorf("Expected other categories populated, got %+v", cc)
			}
			if len(got.DataWarnings) != 0 {
				t.Errorf("Expected no data warnings, got %v", got.DataWarnings)
			}
		})
	}
}

func TestEncounterContextCancellation(t *testing.T) {
	up := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	up.routes[vitalsPath] = func(url.Values) (string, error) {
		cancel()
		return "", context.Canceled
	}

	_, _, err := newTestAggregator(up).EncounterContext(ctx, EncounterRequest{PatientID: testPID, EncounterID: testEID})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestEncounterContextFetchesConcurrently(t *testing.T) {
	up := newFake()
	var wg sync.WaitGroup
	wg.Add(5)
	barrier := func(next route) route {
		return func(q url.Values) (string, error) {
			wg.Done()
			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				return "", errors.New("fetchers did not run concurrently")
			}
			return next(q)
		}
	}
	for _, p := range []string{conditionsPath, medicationsPath, allergiesPath, vitalsPath, soapPath} {
		up.routes[p] = barrier(up.routes[p])
	}

	_, _, err := newTestAggregator(up).EncounterContext(context.Background(), EncounterRequest{PatientID: testPID, EncounterID: testEID})
	if err != nil {
		t.Fatalf("EncounterContext error = %v", err)
	}
}

func TestPatientSummary(t *testing.T) {
	up := newFake()
	up.routes[conditionsPath] = fail(&health.StatusError{StatusCode: 502})

	got, err := newTestAggregator(up).PatientSummary(context.Background(), testPID)
	if err != nil {
		t.Fatalf("PatientSummary error = %v", err)
	}

	want := []string{"conditions_fetch_failed: HTTP 502"}
	if fmt.Sprint(got.DataWarnings) != fmt.Sprint(want) {
		t.Errorf("DataWarnings = %v, want %v", got.DataWarnings, want)
	}
	if len(got.Medications) != 1 || len(got.Allergies) != 1 || len(got.ActiveProblems) != 0 {
		t.Errorf("Unexpected summary %+v", got)
	}
	if len(got.Categories) != 3 {
		t.Errorf("Expected 3 categories, got %v", got.Categories)
	}
	for _, call := range up.calls {
		if call == vitalsPath || call == soapPath {
			t.Errorf("Summary must not fetch encounter categories, saw %s", call)
		}
	}
}

func TestPatientSummaryNoWarningsSerializesEmptyList(t *testing.T) {
	got, err := newTestAggregator(newFake()).PatientSummary(context.Background(), testPID)
	if err != nil {
		t.Fatalf("PatientSummary error = %v", err)
	}
	out, _ := json.Marshal(got)
	if !strings.Contains(string(out), `"data_warnings":[]`) {
		t.Errorf("Expected data_warnings to serialize as [], got %s", out)
	}
}
