package api

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/dispatchd/internal/engine"
	"github.com/starford/dispatchd/internal/models"
	"github.com/starford/dispatchd/internal/recordservice"
)

// CreateRecordRequest is the request body for creating a record.
type CreateRecordRequest struct {
	Fields models.Fields `json:"fields" validate:"required"`
}

// Validate validates the request.
func (r CreateRecordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Fields, validation.Required, validation.By(validFieldNames)),
	)
}

// UpdateRecordRequest is the request body for a human field edit.
// A null value clears the field.
type UpdateRecordRequest struct {
	Fields models.Fields `json:"fields" validate:"required"`
}

// Validate validates the request.
func (r UpdateRecordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Fields, validation.Required, validation.By(validFieldNames)),
	)
}

func validFieldNames(v any) error {
	f, _ := v.(models.Fields)
	for name := range f {
		if strings.TrimSpace(name) == "" {
			return errors.New("field names must not be empty")
		}
	}
	return nil
}

// TableInfo is a polled table (aliased from the domain layer).
type TableInfo = recordservice.TableInfo

// RecordDetail is the record response type (aliased from the domain layer).
type RecordDetail = recordservice.RecordDetail

// TableListResponse wraps the table listing.
type TableListResponse struct {
	Tables []TableInfo `json:"tables" validate:"required"`
}

// RecordListResponse wraps paginated record listings.
type RecordListResponse struct {
	Records []RecordDetail `json:"records" validate:"required"`
	Total   int            `json:"total" example:"42" validate:"required"`
}

// ChangesResponse lists the records the next cycle would process.
type ChangesResponse struct {
	Table   string         `json:"table" example:"intake" validate:"required"`
	Records []RecordDetail `json:"records" validate:"required"`
}

// OutcomeDTO is one processed record in a cycle report.
type OutcomeDTO struct {
	RecordID string   `json:"record_id" example:"rec0123456789abcd" validate:"required"`
	TicketID string   `json:"ticket_id,omitempty" example:"T-100"`
	Status   any      `json:"status"`
	Advanced bool     `json:"advanced"`
	Written  bool     `json:"written"`
	Errors   []string `json:"errors"`
	Codes    []string `json:"codes"`
}

// CycleResponse is the report of a cycle run on demand.
type CycleResponse struct {
	Table      string       `json:"table" example:"intake" validate:"required"`
	Detected   int          `json:"detected"`
	Advanced   int          `json:"advanced"`
	Failed     int          `json:"failed"`
	DurationMS int64        `json:"duration_ms"`
	Outcomes   []OutcomeDTO `json:"outcomes" validate:"required"`
}

// NewCycleResponse builds the display form of a cycle report, with error
// messages and codes per record and the duration in milliseconds.
func NewCycleResponse(r engine.Report) CycleResponse {
	out := CycleResponse{
		Table:      r.Table,
		Detected:   r.Detected,
		Advanced:   r.Advanced(),
		Failed:     r.Failed(),
		DurationMS: r.Duration.Milliseconds(),
		Outcomes:   make([]OutcomeDTO, len(r.Outcomes)),
	}
	for i, o := range r.Outcomes {
		codes := make([]string, len(o.Errors))
		for j, err := range o.Errors {
			codes[j] = string(engine.CodeOf(err))
		}
		out.Outcomes[i] = OutcomeDTO{
			RecordID: o.RecordID,
			TicketID: o.TicketID,
			Status:   o.Status,
			Advanced: o.Advanced,
			Written:  o.Written,
			Errors:   o.ErrorMessages(),
			Codes:    codes,
		}
	}
	return out
}
