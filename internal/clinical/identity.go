package clinical

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/clinassist/platform/internal/adapters/health"
	apperrors "github.com/clinassist/platform/internal/shared/errors"
	"github.com/clinassist/platform/internal/shared/types"
)

const (
	patientSearchPath = "/apis/default/api/patient"
	upstreamService   = "openemr"
)

// Disambiguation is returned instead of a result when a date matches more
// than one encounter. It is not an error.
type Disambiguation struct {
	Message    string      `json:"message"`
	Candidates []Candidate `json:"encounters"`
}

// Candidate is one encounter the caller can choose from.
type Candidate struct {
	ID     types.FlexID `json:"id"`
	Date   string       `json:"date"`
	Reason string       `json:"reason"`
}

// ResolvePatient maps an external patient id to its record. The search
// endpoint may ignore the pid filter, so the match is done here on the
// string form of pid.
func ResolvePatient(ctx context.Context, up health.Upstream, patientID string) (health.PatientRecord, error) {
	body, err := up.Get(ctx, patientSearchPath, url.Values{"pid": {patientID}})
	if err != nil {
		return health.PatientRecord{}, upstreamErr(ctx, err)
	}

	patients, err := health.DecodeItems[health.PatientRecord](body)
	if err != nil {
		return health.PatientRecord{}, apperrors.Upstream(upstreamService, &health.DecodeError{Path: patientSearchPath, Err: err})
	}

	for _, p := range patients {
		if !p.PID().Equal(patientID) {
			continue
		}
		if p.UUID() == "" {
			return health.PatientRecord{}, apperrors.NotFoundf("patient", "Patient %s has no UUID", patientID)
		}
		return p, nil
	}
	return health.PatientRecord{}, apperrors.NotFound("patient", patientID)
}

// ListEncounters returns every encounter of the patient identified by
// its upstream uuid.
func ListEncounters(ctx context.Context, up health.Upstream, patientUUID string) ([]health.EncounterRecord, error) {
	path := fmt.Sprintf("/apis/default/api/patient/%s/encounter", url.PathEscape(patientUUID))
	body, err := up.Get(ctx, path, nil)
	if err != nil {
		return nil, upstreamErr(ctx, err)
	}

	encounters, err := health.DecodeItems[health.EncounterRecord](body)
	if err != nil {
		return nil, apperrors.Upstream(upstreamService, &health.DecodeError{Path: path, Err: err})
	}
	return encounters, nil
}

// MatchEncounter selects an encounter by exact id or, when encounterID is
// empty, by date prefix (YYYY-MM-DD).
//
// An id that several records share resolves to the first of them; only a
// date match with several candidates yields a Disambiguation.
func MatchEncounter(encounters []health.EncounterRecord, patientID, encounterID, date string) (*health.EncounterRecord, *Disambiguation, error) {
	if encounterID != "" {
		for i := range encounters {
			if encounters[i].ID().Equal(encounterID) {
				return &encounters[i], nil, nil
			}
		}
		return nil, nil, apperrors.NotFoundf("encounter",
			"No encounter found with ID %s for patient %s", encounterID, patientID)
	}

	var matches []health.EncounterRecord
	for _, enc := range encounters {
		if strings.HasPrefix(enc.Date.String(), date) {
			matches = append(matches, enc)
		}
	}

	switch len(matches) {
	case 0:
		return nil, nil, apperrors.NotFoundf("encounter",
			"No encounters found on %s for patient %s", date, patientID)
	case 1:
		return &matches[0], nil, nil
	}

	d := &Disambiguation{
		Message:    fmt.Sprintf("Multiple encounters found on %s. Please specify encounter_id.", date),
		Candidates: make([]Candidate, 0, len(matches)),
	}
	for _, enc := range matches {
		d.Candidates = append(d.Candidates, Candidate{
			ID:     enc.ID(),
			Date:   enc.Date.String(),
			Reason: enc.Reason.String(),
		})
	}
	return nil, d, nil
}

// upstreamErr wraps identity-resolution failures. These are never
// degradable; cancellation passes through untouched.
func upstreamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return apperrors.Upstream(upstreamService, err)
}
