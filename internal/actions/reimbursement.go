package actions

import (
	"context"

	"github.com/starford/dispatchd/internal/engine"
	"github.com/starford/dispatchd/internal/models"
)

// Reimbursement statuses.
const (
	StatusReimbursementNew = "New"
	StatusInReview         = "In Review"
	StatusPaid             = "Paid"
	StatusRejected         = "Rejected"
)

// Reimbursements returns the dispatch table for reimbursement requests.
func (a *Actions) Reimbursements() engine.DispatchTable {
	return engine.DispatchTable{
		engine.NoStatus:        {},
		StatusReimbursementNew: {{Name: "CompleteLinkedIntake", Run: a.CompleteLinkedIntake}},
		StatusInReview:         {},
		StatusPaid:             {},
		StatusRejected:         {},
	}
}

// CompleteLinkedIntake closes the intake ticket a new reimbursement refers to.
// The intake table picks up the status change on its own next cycle.
func (a *Actions) CompleteLinkedIntake(ctx context.Context, _ string, rec models.Record) (*engine.Update, error) {
	if rec.Meta.String(MetaCompletedIntakeRecord) != "" {
		return nil, nil
	}
	ticketID := rec.TicketID()
	if ticketID == "" {
		return nil, engine.NewPreconditionError("reimbursement has no ticket id")
	}

	matches, err := a.store.ListWithFilter(ctx, TableIntake, models.Filter{models.FieldTicketID: ticketID})
	if err != nil {
		return nil, engine.NewExternalError("find linked intake", err)
	}
	if len(matches) != 1 {
		return nil, engine.NewAmbiguousReferenceError(TableIntake, ticketID, len(matches))
	}

	intake := matches[0]
	if intake.Fields.Status() != StatusComplete {
		_, err := a.store.UpdateFields(ctx, TableIntake, intake.ID, models.Fields{models.FieldStatus: StatusComplete}, nil)
		if err != nil {
			return nil, engine.NewExternalError("complete linked intake", err)
		}
	}
	return &engine.Update{Meta: models.Meta{MetaCompletedIntakeRecord: intake.ID}}, nil
}
