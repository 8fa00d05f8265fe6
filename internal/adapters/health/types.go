package health

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinassist/platform/internal/shared/types"
)

// --- Raw record-system payloads ---

// PatientRecord is one entry of the patient search response. Scalar
// fields are kept verbatim so required-field checks can be configured
// without changing this type.
type PatientRecord struct {
	fields map[string]types.FlexString
}

// UnmarshalJSON keeps every scalar field of the patient object.
func (p *PatientRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]types.FlexString
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.fields = raw
	return nil
}

// NewPatientRecord builds a record from field values.
func NewPatientRecord(fields map[string]string) PatientRecord {
	p := PatientRecord{fields: make(map[string]types.FlexString, len(fields))}
	for k, v := range fields {
		p.fields[k] = types.FlexString(v)
	}
	return p
}

// Field returns a scalar field as a string, "" when absent.
func (p PatientRecord) Field(name string) string {
	return string(p.fields[name])
}

func (p PatientRecord) PID() types.FlexID { return types.FlexID(strings.TrimSpace(p.Field("pid"))) }
func (p PatientRecord) UUID() string { return strings.TrimSpace(p.Field("uuid")) }

// EncounterRecord is one entry of the patient encounter list.
type EncounterRecord struct {
	RawID               types.FlexID     `json:"id"`
	EID                 types.FlexID     `json:"eid"`
	PID                 types.FlexID     `json:"pid"`
	Date                types.FlexString `json:"date"`
	Reason              types.FlexString `json:"reason"`
	ProviderID          types.FlexID     `json:"provider_id"`
	Facility            types.FlexString `json:"facility"`
	FacilityID          types.FlexID     `json:"facility_id"`
	BillingFacility     types.FlexID     `json:"billing_facility"`
	BillingFacilityName types.FlexString `json:"billing_facility_name"`
	ClassCode           types.FlexString `json:"class_code"`
	Category            types.FlexString `json:"pc_catname"`
	BillingNote         types.FlexString `json:"billing_note"`
	LastLevelBilled     types.FlexString `json:"last_level_billed"`
	LastLevelClosed     types.FlexString `json:"last_level_closed"`
}

// ID returns the encounter number, preferring "id" over "eid".
func (e EncounterRecord) ID() types.FlexID {
	if e.RawID != "" {
		return e.RawID
	}
	return e.EID
}

// VitalRecord is one vitals form from the encounter vitals endpoint.
type VitalRecord struct {
	Temperature      types.FlexString `json:"temperature"`
	BPS              types.FlexString `json:"bps"`
	BPD              types.FlexString `json:"bpd"`
	Pulse            types.FlexString `json:"pulse"`
	Respiration      types.FlexString `json:"respiration"`
	OxygenSaturation types.FlexString `json:"oxygen_saturation"`
	Weight           types.FlexString `json:"weight"`
	Height           types.FlexString `json:"height"`
}

// SOAPNoteRecord is one SOAP note form.
type SOAPNoteRecord struct {
	Date       types.FlexString `json:"date"`
	Subjective types.FlexString `json:"subjective"`
	Objective  types.FlexString `json:"objective"`
	Assessment types.FlexString `json:"assessment"`
	Plan       types.FlexString `json:"plan"`
}

// InsuranceRecord is one coverage entry for a patient.
type InsuranceRecord struct {
	Type     types.FlexString `json:"type"` // primary, secondary, tertiary
	Provider types.FlexString `json:"provider"`
	PlanName types.FlexString `json:"plan_name"`
	PolicyNo types.FlexString `json:"policy_number"`
}

// IsPrimary reports whether the coverage is the patient's primary plan.
func (i InsuranceRecord) IsPrimary() bool {
	return strings.EqualFold(strings.TrimSpace(i.Type.String()), "primary")
}

// BillingRow is one active line of the billing table for an encounter.
type BillingRow struct {
	CodeType types.FlexString `json:"code_type"`
	Code     types.FlexString `json:"code"`
	CodeText types.FlexString `json:"code_text"`
	Fee      types.FlexString `json:"fee"`
	Modifier types.FlexString `json:"modifier"`
	Units    types.FlexString `json:"units"`
}

// --- Normalized records ---

// Condition is an active problem.
type Condition struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	OnsetDate   string `json:"onset_date"`
}

// Medication is an active medication order.
type Medication struct {
	DrugName  string `json:"drug_name"`
	Dose      string `json:"dose"`
	Frequency string `json:"frequency"`
}

// Allergy is a recorded allergy or intolerance.
type Allergy struct {
	Substance string `json:"substance"`
	Reaction  string `json:"reaction"`
	Severity  string `json:"severity"`
}

// Vitals is the most recent vitals record of an encounter.
type Vitals struct {
	Temp   string `json:"temp"`
	BP     string `json:"bp"`
	HR     string `json:"hr"`
	RR     string `json:"rr"`
	SpO2   string `json:"spo2"`
	Weight string `json:"weight"`
	Height string `json:"height"`
}

// Note is a prior clinical note.
type Note struct {
	Type    string `json:"type"`
	Date    string `json:"date"`
	Summary string `json:"summary"`
}

// Patient is the demographic header returned with clinical context.
type Patient struct {
	ID   types.FlexID `json:"id"`
	Name string       `json:"name"`
	DOB  string       `json:"dob"`
	Sex  string       `json:"sex"`
	MRN  string       `json:"mrn"`
}

// Ref names a provider or facility.
type Ref struct {
	Name string       `json:"name"`
	ID   types.FlexID `json:"id"`
}

// Encounter is the encounter header returned with clinical context.
type Encounter struct {
	ID        types.FlexID `json:"id"`
	Date      string       `json:"date"`
	Reason    string       `json:"reason"`
	Provider  Ref          `json:"provider"`
	Facility  Ref          `json:"facility"`
	ClassCode string       `json:"class_code"`
	Status    string       `json:"status"`
}

// BillingStatus is the billing metadata carried on the encounter itself.
// Code lists are only populated by claim validation.
type BillingStatus struct {
	HasDxCodes      bool     `json:"has_dx_codes"`
	HasCPTCodes     bool     `json:"has_cpt_codes"`
	DxCodes         []string `json:"dx_codes"`
	CPTCodes        []string `json:"cpt_codes"`
	BillingNote     string   `json:"billing_note"`
	LastLevelBilled string   `json:"last_level_billed"`
	LastLevelClosed string   `json:"last_level_closed"`
}

// --- Formatters ---

// FormatPatient builds the demographic header.
func FormatPatient(p PatientRecord) Patient {
	return Patient{
		ID:   p.PID(),
		Name: strings.TrimSpace(p.Field("fname") + " " + p.Field("lname")),
		DOB:  p.Field("DOB"),
		Sex:  p.Field("sex"),
		MRN:  p.Field("pubpid"),
	}
}

// FormatEncounter builds the encounter header. The provider name is not
// part of the encounter payload and stays empty.
func FormatEncounter(e EncounterRecord) Encounter {
	return Encounter{
		ID:        e.ID(),
		Date:      e.Date.String(),
		Reason:    e.Reason.String(),
		Provider:  Ref{ID: e.ProviderID},
		Facility:  Ref{Name: e.Facility.String(), ID: e.FacilityID},
		ClassCode: e.ClassCode.String(),
		Status:    e.Category.String(),
	}
}

// FormatBillingStatus extracts the billing metadata of an encounter.
func FormatBillingStatus(e EncounterRecord) BillingStatus {
	return BillingStatus{
		DxCodes:         []string{},
		CPTCodes:        []string{},
		BillingNote:     e.BillingNote.String(),
		LastLevelBilled: e.LastLevelBilled.String(),
		LastLevelClosed: e.LastLevelClosed.String(),
	}
}

// LatestVitals formats the last record of the list, nil when empty.
func LatestVitals(records []VitalRecord) *Vitals {
	if len(records) == 0 {
		return nil
	}
	latest := records[len(records)-1]

	var bp []string
	for _, part := range []string{latest.BPS.String(), latest.BPD.String()} {
		if part != "" {
			bp = append(bp, part)
		}
	}

	return &Vitals{
		Temp:   latest.Temperature.String(),
		BP:     strings.Join(bp, "/"),
		HR:     latest.Pulse.String(),
		RR:     latest.Respiration.String(),
		SpO2:   latest.OxygenSaturation.String(),
		Weight: latest.Weight.String(),
		Height: latest.Height.String(),
	}
}

// FormatSOAPNotes summarizes each note as "SECTION: text" pairs joined
// with "; ", skipping empty sections.
func FormatSOAPNotes(records []SOAPNoteRecord) []Note {
	notes := make([]Note, 0, len(records))
	for _, r := range records {
		var parts []string
		for _, s := range []struct {
			name string
			text types.FlexString
		}{
			{"SUBJECTIVE", r.Subjective},
			{"OBJECTIVE", r.Objective},
			{"ASSESSMENT", r.Assessment},
			{"PLAN", r.Plan},
		} {
			if s.text != "" {
				parts = append(parts, s.name+": "+s.text.String())
			}
		}
		notes = append(notes, Note{
			Type:    "SOAP",
			Date:    r.Date.String(),
			Summary: strings.Join(parts, "; "),
		})
	}
	return notes
}

// --- Envelope decoding ---

// DecodeItems decodes a list response. The list may be the body itself or
// sit under a top-level "data" key; any other shape yields an empty list.
// Every item is kept: one that does not decode into T, such as a bare
// string in a list of records, becomes a zero T. An error is returned only
// when body is not valid JSON.
func DecodeItems[T any](body json.RawMessage) ([]T, error) {
	items, err := unwrapList(body)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			var zero T
			v = zero
		}
		out = append(out, v)
	}
	return out, nil
}

func unwrapList(body json.RawMessage) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("invalid JSON body")
	}

	switch body[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, err
		}
		data, ok := envelope["data"]
		if !ok {
			return nil, nil
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 || data[0] != '[' {
			return nil, nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		return items, nil
	default:
		return nil, nil
	}
}
