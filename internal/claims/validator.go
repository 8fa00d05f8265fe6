// Package claims checks whether an encounter carries everything needed to
// submit an insurance claim.
package claims

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/clinassist/platform/internal/adapters/health"
	"github.com/clinassist/platform/internal/clinical"
	apperrors "github.com/clinassist/platform/internal/shared/errors"
	"github.com/clinassist/platform/internal/shared/metrics"
	"github.com/clinassist/platform/internal/shared/types"
)

// ToolName is the evidence name under which results are reported to the
// verification engine.
const ToolName = "validate_claim_ready_completeness"

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Check names
const (
	CheckDiagnosisCodes      = "diagnosis_codes"
	CheckProcedureCodes      = "procedure_codes"
	CheckFees                = "fees"
	CheckRenderingProvider   = "rendering_provider"
	CheckBillingFacility     = "billing_facility"
	CheckPatientDemographics = "patient_demographics"
	CheckInsurance           = "insurance"
)

// Issue is one failed check
type Issue struct {
	Check    string `json:"check"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Summary lists what the claim would be submitted with
type Summary struct {
	DxCodes      []string `json:"dx_codes"`
	CPTCodes     []string `json:"cpt_codes"`
	Provider     string   `json:"provider"`
	Facility     string   `json:"facility"`
	TotalCharges float64  `json:"total_charges"`
}

// Result is the readiness report of one encounter
type Result struct {
	EncounterID  types.FlexID `json:"encounter_id"`
	Ready        bool         `json:"ready"`
	Errors       []Issue      `json:"errors"`
	Warnings     []Issue      `json:"warnings"`
	Summary      Summary      `json:"summary"`
	DataWarnings []string     `json:"data_warnings"`
}

// BillingSource returns the billing lines of an encounter
type BillingSource interface {
	Rows(ctx context.Context, encounterID, patientID string) ([]health.BillingRow, error)
}

// Validator runs the claim readiness checks
type Validator struct {
	upstream health.Upstream
	billing  BillingSource
	rules    *Rules
	logger   *zap.Logger
}

// NewValidator creates a new claim validator
func NewValidator(upstream health.Upstream, billing BillingSource, rules *Rules, logger *zap.Logger) *Validator {
	return &Validator{
		upstream: upstream,
		billing:  billing,
		rules:    rules,
		logger:   logger.Named("claims"),
	}
}

// Validate resolves the patient and encounter, fetches billing lines and
// insurance concurrently, and runs every check. Unknown patients or
// encounters are not-found errors; billing and insurance failures only
// add data warnings and leave the corresponding input empty.
func (v *Validator) Validate(ctx context.Context, patientID, encounterID string) (*Result, error) {
	if err := validateIDs(patientID, encounterID); err != nil {
		return nil, err
	}

	patient, err := clinical.ResolvePatient(ctx, v.upstream, patientID)
	if err != nil {
		return nil, err
	}
	puuid := patient.UUID()

	encounters, err := clinical.ListEncounters(ctx, v.upstream, puuid)
	if err != nil {
		return nil, err
	}
	enc, _, err := clinical.MatchEncounter(encounters, patientID, encounterID, "")
	if err != nil {
		return nil, err
	}

	billingRows := []health.BillingRow{}
	insurance := []health.InsuranceRecord{}

	fetches := []clinical.Fetch{
		{Category: health.CategoryBilling, Run: func(ctx context.Context) error {
			rows, err := v.billing.Rows(ctx, encounterID, patientID)
			if err != nil {
				return err
			}
			billingRows = rows
			return nil
		}},
		{Category: health.CategoryInsurance, Run: func(ctx context.Context) error {
			path := fmt.Sprintf("/apis/default/api/patient/%s/insurance", url.PathEscape(puuid))
			body, err := v.upstream.Get(ctx, path, nil)
			if err != nil {
				return err
			}
			records, err := health.DecodeItems[health.InsuranceRecord](body)
			if err != nil {
				return &health.DecodeError{Path: path, Err: err}
			}
			insurance = records
			return nil
		}},
	}

	tags, err := clinical.FetchAll(ctx, v.logger.With(zap.String("encounter_id", encounterID)), fetches)
	if err != nil {
		return nil, err
	}

	result := v.evaluate(patient, *enc, billingRows, insurance)
	result.EncounterID = types.FlexID(strings.TrimSpace(encounterID))
	result.DataWarnings = tags

	metrics.RecordClaimValidation(result.Ready)
	v.logger.Info("claim validated",
		zap.String("encounter_id", encounterID),
		zap.Bool("ready", result.Ready),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
		zap.Int("data_warnings", len(tags)),
	)
	return result, nil
}

// evaluate runs the checks in report order.
func (v *Validator) evaluate(patient health.PatientRecord, enc health.EncounterRecord, rows []health.BillingRow, insurance []health.InsuranceRecord) *Result {
	r := &Result{
		Errors:   []Issue{},
		Warnings: []Issue{},
	}

	dxErrs, dxCodes := v.checkDiagnosisCodes(rows)
	r.Errors = append(r.Errors, dxErrs...)

	cptErrs, feeWarnings, cptCodes, total := v.checkProcedureCodes(rows)
	r.Errors = append(r.Errors, cptErrs...)
	r.Warnings = append(r.Warnings, feeWarnings...)

	providerErrs, provider := v.checkRenderingProvider(enc)
	r.Errors = append(r.Errors, providerErrs...)

	facilityErrs, facility := v.checkBillingFacility(enc)
	r.Errors = append(r.Errors, facilityErrs...)

	r.Errors = append(r.Errors, v.checkDemographics(patient)...)
	r.Warnings = append(r.Warnings, v.checkInsurance(insurance)...)

	r.Ready = len(r.Errors) == 0
	r.Summary = Summary{
		DxCodes:      dxCodes,
		CPTCodes:     cptCodes,
		Provider:     provider,
		Facility:     facility,
		TotalCharges: total,
	}
	return r
}

func (v *Validator) checkDiagnosisCodes(rows []health.BillingRow) ([]Issue, []string) {
	accepted := codeTypeSet(v.rules.AcceptedDiagnosisCodeTypes)
	codes := []string{}
	for _, row := range rows {
		if accepted[strings.ToUpper(row.CodeType.String())] {
			codes = append(codes, row.Code.String())
		}
	}
	if len(codes) > 0 {
		return nil, codes
	}
	return []Issue{{
		Check:    CheckDiagnosisCodes,
		Message:  "Missing diagnosis codes (ICD-10). At least one required.",
		Severity: v.rules.severity(CheckDiagnosisCodes, SeverityError),
	}}, codes
}

// checkProcedureCodes also sums the fees of procedure lines and warns on
// each line without one.
func (v *Validator) checkProcedureCodes(rows []health.BillingRow) (errs, warnings []Issue, codes []string, total float64) {
	accepted := codeTypeSet(v.rules.AcceptedProcedureCodeTypes)
	codes = []string{}

	var procedures []health.BillingRow
	for _, row := range rows {
		if accepted[strings.ToUpper(row.CodeType.String())] {
			procedures = append(procedures, row)
			codes = append(codes, row.Code.String())
		}
	}

	if len(procedures) == 0 {
		errs = append(errs, Issue{
			Check:    CheckProcedureCodes,
			Message:  "Missing procedure codes (CPT). At least one required.",
			Severity: v.rules.severity(CheckProcedureCodes, SeverityError),
		})
		return errs, nil, codes, 0
	}

	for _, row := range procedures {
		fee := parseFee(row.Fee.String())
		total += fee
		if fee == 0 {
			warnings = append(warnings, Issue{
				Check:    CheckFees,
				Message:  fmt.Sprintf("CPT code %s has no fee assigned.", row.Code),
				Severity: v.rules.severity(CheckFees, SeverityWarning),
			})
		}
	}
	return errs, warnings, codes, total
}

func parseFee(s string) float64 {
	fee, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return fee
}

func (v *Validator) checkRenderingProvider(enc health.EncounterRecord) ([]Issue, string) {
	if enc.ProviderID.IsZero() {
		return []Issue{{
			Check:    CheckRenderingProvider,
			Message:  "No rendering provider assigned to encounter.",
			Severity: v.rules.severity(CheckRenderingProvider, SeverityError),
		}}, ""
	}
	return nil, "Provider #" + enc.ProviderID.String()
}

func (v *Validator) checkBillingFacility(enc health.EncounterRecord) ([]Issue, string) {
	if enc.BillingFacility.IsZero() {
		return []Issue{{
			Check:    CheckBillingFacility,
			Message:  "No billing facility assigned to encounter.",
			Severity: v.rules.severity(CheckBillingFacility, SeverityError),
		}}, ""
	}
	name := enc.BillingFacilityName.String()
	if name == "" {
		name = enc.Facility.String()
	}
	return nil, name
}

func (v *Validator) checkDemographics(patient health.PatientRecord) []Issue {
	var missing []string
	for _, d := range v.rules.RequiredDemographics {
		if strings.TrimSpace(patient.Field(d.Field)) != "" {
			continue
		}
		label := d.Label
		if label == "" {
			label = d.Field
		}
		missing = append(missing, label)
	}
	if len(missing) == 0 {
		return nil
	}
	return []Issue{{
		Check:    CheckPatientDemographics,
		Message:  fmt.Sprintf("Patient demographics incomplete: missing %s.", strings.Join(missing, ", ")),
		Severity: v.rules.severity(CheckPatientDemographics, SeverityError),
	}}
}

func (v *Validator) checkInsurance(insurance []health.InsuranceRecord) []Issue {
	for _, ins := range insurance {
		if ins.IsPrimary() {
			return nil
		}
	}
	return []Issue{{
		Check:    CheckInsurance,
		Message:  "No primary insurance on file. Verify if self-pay.",
		Severity: v.rules.severity(CheckInsurance, SeverityWarning),
	}}
}

func validateIDs(patientID, encounterID string) error {
	details := map[string]string{}
	if _, err := strconv.ParseInt(strings.TrimSpace(patientID), 10, 64); err != nil {
		details["patient_id"] = "must be an integer"
	}
	if _, err := strconv.ParseInt(strings.TrimSpace(encounterID), 10, 64); err != nil {
		details["encounter_id"] = "must be an integer"
	}
	if len(details) > 0 {
		return apperrors.Validation("invalid claim validation request", details)
	}
	return nil
}
