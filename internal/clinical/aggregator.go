// Package clinical assembles best-effort clinical context for a patient or
// an encounter from the record system.
package clinical

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/clinassist/platform/internal/adapters/health"
	"github.com/clinassist/platform/internal/adapters/health/fhir"
	apperrors "github.com/clinassist/platform/internal/shared/errors"
	"github.com/clinassist/platform/internal/shared/metrics"
)

// Mode labels which categories an aggregation fetches.
const (
	ModeEncounter = "encounter"
	ModeSummary   = "patient_summary"
)

// EncounterRequest identifies an encounter either by id or by date.
type EncounterRequest struct {
	PatientID   string
	EncounterID string
	Date        string // YYYY-MM-DD
}

// Validate checks that the request names a patient and an encounter.
func (r EncounterRequest) Validate() error {
	details := map[string]string{}
	if strings.TrimSpace(r.PatientID) == "" {
		details["patient_id"] = "required"
	}
	if strings.TrimSpace(r.EncounterID) == "" && strings.TrimSpace(r.Date) == "" {
		details["encounter_id"] = "either encounter_id or date must be provided"
	}
	if len(details) > 0 {
		return apperrors.Validation("invalid encounter context request", details)
	}
	return nil
}

// ClinicalContext holds the per-category payloads of an encounter. Each
// category is independently empty when it had no data or failed to load;
// DataWarnings tells the two apart.
type ClinicalContext struct {
	ActiveProblems []health.Condition  `json:"active_problems"`
	Medications    []health.Medication `json:"medications"`
	Allergies      []health.Allergy    `json:"allergies"`
	Vitals         *health.Vitals      `json:"vitals"`
	ExistingNotes  []health.Note       `json:"existing_notes"`
}

// EncounterContext is the aggregate result for one encounter.
type EncounterContext struct {
	Encounter       health.Encounter     `json:"encounter"`
	Patient         health.Patient       `json:"patient"`
	ClinicalContext ClinicalContext      `json:"clinical_context"`
	BillingStatus   health.BillingStatus `json:"billing_status"`
	DataWarnings    []string             `json:"data_warnings"`
	Categories      []health.Category    `json:"categories"`
}

// PatientSummary is the aggregate result for a patient without an
// encounter.
type PatientSummary struct {
	Patient        health.Patient      `json:"patient"`
	ActiveProblems []health.Condition  `json:"active_problems"`
	Medications    []health.Medication `json:"medications"`
	Allergies      []health.Allergy    `json:"allergies"`
	DataWarnings   []string            `json:"data_warnings"`
	Categories     []health.Category   `json:"categories"`
}

// Aggregator fetches clinical categories concurrently and tolerates the
// failure of any subset of them.
type Aggregator struct {
	upstream health.Upstream
	logger   *zap.Logger
}

// NewAggregator creates an aggregator over the given record system.
func NewAggregator(upstream health.Upstream, logger *zap.Logger) *Aggregator {
	return &Aggregator{upstream: upstream, logger: logger.Named("clinical")}
}

// EncounterContext resolves the patient and encounter, then fetches
// conditions, medications, allergies, vitals and SOAP notes.
//
// Exactly one of the first two results is non-nil on success. A date that
// matches several encounters yields a Disambiguation; an unknown patient
// or encounter yields a not-found error.
func (a *Aggregator) EncounterContext(ctx context.Context, req EncounterRequest) (*EncounterContext, *Disambiguation, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}

	patient, err := ResolvePatient(ctx, a.upstream, req.PatientID)
	if err != nil {
		a.recordFailure(ModeEncounter, err)
		return nil, nil, err
	}
	puuid := patient.UUID()

	encounters, err := ListEncounters(ctx, a.upstream, puuid)
	if err != nil {
		a.recordFailure(ModeEncounter, err)
		return nil, nil, err
	}

	enc, disambiguation, err := MatchEncounter(encounters, req.PatientID, req.EncounterID, req.Date)
	if err != nil {
		a.recordFailure(ModeEncounter, err)
		return nil, nil, err
	}
	if disambiguation != nil {
		metrics.RecordContextResolution(ModeEncounter, "disambiguation")
		return nil, disambiguation, nil
	}

	eid := enc.ID().String()
	pid := enc.PID.String()
	if pid == "" {
		pid = req.PatientID
	}

	cc := ClinicalContext{
		ActiveProblems: []health.Condition{},
		Medications:    []health.Medication{},
		Allergies:      []health.Allergy{},
		ExistingNotes:  []health.Note{},
	}

	fetches := []Fetch{
		a.conditions(puuid, &cc.ActiveProblems),
		a.medications(puuid, &cc.Medications),
		a.allergies(puuid, &cc.Allergies),
		a.vitals(pid, eid, &cc.Vitals),
		a.soapNotes(pid, eid, &cc.ExistingNotes),
	}

	tags, err := FetchAll(ctx, a.logger.With(zap.String("encounter_id", eid)), fetches)
	if err != nil {
		a.recordFailure(ModeEncounter, err)
		return nil, nil, err
	}

	metrics.RecordContextResolution(ModeEncounter, "resolved")
	return &EncounterContext{
		Encounter:       health.FormatEncounter(*enc),
		Patient:         health.FormatPatient(patient),
		ClinicalContext: cc,
		BillingStatus:   health.FormatBillingStatus(*enc),
		DataWarnings:    tags,
		Categories:      categoriesOf(fetches),
	}, nil, nil
}

// PatientSummary resolves the patient and fetches conditions, medications
// and allergies.
func (a *Aggregator) PatientSummary(ctx context.Context, patientID string) (*PatientSummary, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, apperrors.Validation("invalid patient summary request", map[string]string{"patient_id": "required"})
	}

	patient, err := ResolvePatient(ctx, a.upstream, patientID)
	if err != nil {
		a.recordFailure(ModeSummary, err)
		return nil, err
	}
	puuid := patient.UUID()

	summary := &PatientSummary{
		Patient:        health.FormatPatient(patient),
		ActiveProblems: []health.Condition{},
		Medications:    []health.Medication{},
		Allergies:      []health.Allergy{},
	}

	fetches := []Fetch{
		a.conditions(puuid, &summary.ActiveProblems),
		a.medications(puuid, &summary.Medications),
		a.allergies(puuid, &summary.Allergies),
	}

	tags, err := FetchAll(ctx, a.logger.With(zap.String("patient_id", patientID)), fetches)
	if err != nil {
		a.recordFailure(ModeSummary, err)
		return nil, err
	}

	summary.DataWarnings = tags
	summary.Categories = categoriesOf(fetches)
	metrics.RecordContextResolution(ModeSummary, "resolved")
	return summary, nil
}

// --- category fetchers ---

func (a *Aggregator) conditions(puuid string, dst *[]health.Condition) Fetch {
	return Fetch{Category: health.CategoryConditions, Run: func(ctx context.Context) error {
		body, err := a.upstream.Get(ctx, "/apis/default/fhir/Condition", url.Values{"patient": {puuid}})
		if err != nil {
			return err
		}
		v, err := fhir.ParseConditions(body)
		if err != nil {
			return &health.DecodeError{Path: "Condition", Err: err}
		}
		*dst = v
		return nil
	}}
}

func (a *Aggregator) medications(puuid string, dst *[]health.Medication) Fetch {
	return Fetch{Category: health.CategoryMedications, Run: func(ctx context.Context) error {
		body, err := a.upstream.Get(ctx, "/apis/default/fhir/MedicationRequest",
			url.Values{"patient": {puuid}, "status": {"active"}})
		if err != nil {
			return err
		}
		v, err := fhir.ParseMedications(body)
		if err != nil {
			return &health.DecodeError{Path: "MedicationRequest", Err: err}
		}
		*dst = v
		return nil
	}}
}

func (a *Aggregator) allergies(puuid string, dst *[]health.Allergy) Fetch {
	return Fetch{Category: health.CategoryAllergies, Run: func(ctx context.Context) error {
		body, err := a.upstream.Get(ctx, "/apis/default/fhir/AllergyIntolerance", url.Values{"patient": {puuid}})
		if err != nil {
			return err
		}
		v, err := fhir.ParseAllergies(body)
		if err != nil {
			return &health.DecodeError{Path: "AllergyIntolerance", Err: err}
		}
		*dst = v
		return nil
	}}
}

func (a *Aggregator) vitals(pid, eid string, dst **health.Vitals) Fetch {
	return Fetch{Category: health.CategoryVitals, Run: func(ctx context.Context) error {
		path := fmt.Sprintf("/apis/default/api/patient/%s/encounter/%s/vital", url.PathEscape(pid), url.PathEscape(eid))
		body, err := a.upstream.Get(ctx, path, nil)
		if err != nil {
			return err
		}
		records, err := health.DecodeItems[health.VitalRecord](body)
		if err != nil {
			return &health.DecodeError{Path: path, Err: err}
		}
		*dst = health.LatestVitals(records)
		return nil
	}}
}

func (a *Aggregator) soapNotes(pid, eid string, dst *[]health.Note) Fetch {
	return Fetch{Category: health.CategorySOAPNotes, Run: func(ctx context.Context) error {
		path := fmt.Sprintf("/apis/default/api/patient/%s/encounter/%s/soap_note", url.PathEscape(pid), url.PathEscape(eid))
		body, err := a.upstream.Get(ctx, path, nil)
		if err != nil {
			return err
		}
		records, err := health.DecodeItems[health.SOAPNoteRecord](body)
		if err != nil {
			return &health.DecodeError{Path: path, Err: err}
		}
		*dst = health.FormatSOAPNotes(records)
		return nil
	}}
}

func categoriesOf(fetches []Fetch) []health.Category {
	out := make([]health.Category, 0, len(fetches))
	for _, f := range fetches {
		out = append(out, f.Category)
	}
	return out
}

func (a *Aggregator) recordFailure(mode string, err error) {
	outcome := "error"
	if apperrors.IsNotFound(err) {
		outcome = "not_found"
	}
	metrics.RecordContextResolution(mode, outcome)
}
