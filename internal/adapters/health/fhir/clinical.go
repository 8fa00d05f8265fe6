package fhir

import (
	"github.com/clinassist/platform/internal/adapters/health"
	"github.com/clinassist/platform/internal/shared/types"
)

// Condition represents a FHIR R4 Condition resource (simplified)
type Condition struct {
	ResourceType   types.FlexString      `json:"resourceType"`
	ID             types.FlexString      `json:"id,omitempty"`
	ClinicalStatus *CodeableConcept      `json:"clinicalStatus,omitempty"`
	Category       List[CodeableConcept] `json:"category,omitempty"`
	Code           *CodeableConcept      `json:"code,omitempty"`
	Subject        *Reference            `json:"subject,omitempty"`
	OnsetDateTime  types.FlexString      `json:"onsetDateTime,omitempty"`
	RecordedDate   types.FlexString      `json:"recordedDate,omitempty"`
}

// MedicationRequest represents a FHIR R4 MedicationRequest resource (simplified)
type MedicationRequest struct {
	ResourceType              types.FlexString `json:"resourceType"`
	ID                        types.FlexString `json:"id,omitempty"`
	Status                    types.FlexString `json:"status,omitempty"` // active, on-hold, cancelled, completed, stopped
	Intent                    types.FlexString `json:"intent,omitempty"`
	MedicationCodeableConcept *CodeableConcept `json:"medicationCodeableConcept,omitempty"`
	Subject                   *Reference       `json:"subject,omitempty"`
	AuthoredOn                types.FlexString `json:"authoredOn,omitempty"`
	DosageInstruction         List[Dosage]     `json:"dosageInstruction,omitempty"`
}

// Dosage represents a FHIR Dosage
type Dosage struct {
	Text        types.FlexString  `json:"text,omitempty"`
	Timing      *Timing           `json:"timing,omitempty"`
	Route       *CodeableConcept  `json:"route,omitempty"`
	DoseAndRate List[DoseAndRate] `json:"doseAndRate,omitempty"`
}

func (d *Dosage) UnmarshalJSON(data []byte) error {
	type plain Dosage
	return decodeObject(data, (*plain)(d))
}

// Timing represents a FHIR Timing (only the code is used)
type Timing struct {
	Code *CodeableConcept `json:"code,omitempty"`
}

func (t *Timing) UnmarshalJSON(data []byte) error {
	type plain Timing
	return decodeObject(data, (*plain)(t))
}

// DoseAndRate represents a FHIR Dosage.doseAndRate element
type DoseAndRate struct {
	DoseQuantity *Quantity `json:"doseQuantity,omitempty"`
}

func (d *DoseAndRate) UnmarshalJSON(data []byte) error {
	type plain DoseAndRate
	return decodeObject(data, (*plain)(d))
}

// AllergyIntolerance represents a FHIR R4 AllergyIntolerance resource (simplified)
type AllergyIntolerance struct {
	ResourceType   types.FlexString      `json:"resourceType"`
	ID             types.FlexString      `json:"id,omitempty"`
	ClinicalStatus *CodeableConcept      `json:"clinicalStatus,omitempty"`
	Criticality    types.FlexString      `json:"criticality,omitempty"`
	Code           *CodeableConcept      `json:"code,omitempty"`
	Patient        *Reference            `json:"patient,omitempty"`
	Reaction       List[AllergyReaction] `json:"reaction,omitempty"`
}

// AllergyReaction represents a FHIR AllergyIntolerance.reaction element
type AllergyReaction struct {
	Manifestation List[CodeableConcept] `json:"manifestation,omitempty"`
	Severity      types.FlexString      `json:"severity,omitempty"` // mild, moderate, severe
}

func (r *AllergyReaction) UnmarshalJSON(data []byte) error {
	type plain AllergyReaction
	return decodeObject(data, (*plain)(r))
}

// ParseConditions extracts active problems from a Condition bundle.
func ParseConditions(body []byte) ([]health.Condition, error) {
	resources, err := decodeResources[Condition](body)
	if err != nil {
		return nil, err
	}

	conditions := make([]health.Condition, 0, len(resources))
	for _, r := range resources {
		conditions = append(conditions, health.Condition{
			Code:        r.Code.FirstCoding().Code.String(),
			Description: r.Code.Label(),
			OnsetDate:   r.OnsetDateTime.String(),
		})
	}
	return conditions, nil
}

// ParseMedications extracts medications from a MedicationRequest bundle.
// Dose and frequency come from the first dosage instruction only.
func ParseMedications(body []byte) ([]health.Medication, error) {
	resources, err := decodeResources[MedicationRequest](body)
	if err != nil {
		return nil, err
	}

	medications := make([]health.Medication, 0, len(resources))
	for _, r := range resources {
		med := health.Medication{
			DrugName: r.MedicationCodeableConcept.Label(),
		}
		if len(r.DosageInstruction) > 0 {
			dosage := r.DosageInstruction[0]
			if len(dosage.DoseAndRate) > 0 {
				med.Dose = dosage.DoseAndRate[0].DoseQuantity.String()
			}
			if dosage.Timing != nil && dosage.Timing.Code != nil {
				med.Frequency = dosage.Timing.Code.Text.String()
			}
		}
		medications = append(medications, med)
	}
	return medications, nil
}

// ParseAllergies extracts allergies from an AllergyIntolerance bundle.
func ParseAllergies(body []byte) ([]health.Allergy, error) {
	resources, err := decodeResources[AllergyIntolerance](body)
	if err != nil {
		return nil, err
	}

	allergies := make([]health.Allergy, 0, len(resources))
	for _, r := range resources {
		allergy := health.Allergy{
			Substance: r.Code.Label(),
		}
		if len(r.Reaction) > 0 {
			reaction := r.Reaction[0]
			allergy.Severity = reaction.Severity.String()
			if len(reaction.Manifestation) > 0 {
				allergy.Reaction = reaction.Manifestation[0].FirstCoding().Display.String()
			}
		}
		allergies = append(allergies, allergy)
	}
	return allergies, nil
}
