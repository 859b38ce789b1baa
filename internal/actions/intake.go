package actions

import (
	"context"
	"errors"

	"github.com/starford/dispatchd/internal/apperr"
	"github.com/starford/dispatchd/internal/engine"
	"github.com/starford/dispatchd/internal/models"
)

// Intake statuses.
const (
	StatusNeedsTriage       = "Needs Triage"
	StatusSeekingVolunteer  = "Seeking Volunteer"
	StatusAssigned          = "Assigned / In Progress"
	StatusDeliveryScheduled = "Delivery Scheduled"
	StatusComplete          = "Complete"
	StatusNotApplicable     = "Not Applicable To This Program"
)

// Intake fields read by the handlers.
const (
	FieldNeighborhood = "neighborhood"
	FieldRequest      = "request"
	FieldCrossStreets = "crossStreets"
	FieldAssignee     = "assignee"
	FieldDeliveryDate = "deliveryDate"
)

// Intake returns the dispatch table for intake tickets.
func (a *Actions) Intake() engine.DispatchTable {
	return engine.DispatchTable{
		engine.NoStatus:         {},
		StatusNeedsTriage:       {},
		StatusSeekingVolunteer:  {{Name: "PostIntake", Run: a.PostIntake}},
		StatusAssigned:          {{Name: "AnnounceAssignment", Run: a.AnnounceAssignment}},
		StatusDeliveryScheduled: {{Name: "UpdateDeliveryScheduled", Run: a.UpdateDeliveryScheduled}},
		StatusComplete:          {{Name: "MarkIntakeComplete", Run: a.MarkIntakeComplete}},
		StatusNotApplicable:     {},
	}
}

// PostIntake announces a ticket that needs a volunteer in its neighborhood channel.
func (a *Actions) PostIntake(ctx context.Context, _ string, rec models.Record) (*engine.Update, error) {
	if _, ok := postOf(rec); ok {
		a.logger.Debug("intake already posted", "record_id", rec.ID, "ticket_id", rec.TicketID())
		return nil, nil
	}

	neighborhood := rec.Fields.String(FieldNeighborhood)
	channel, ok := a.channels.Resolve(neighborhood)
	if !ok {
		return nil, engine.NewDeferredError("no channel configured for neighborhood %q", neighborhood)
	}

	post, err := a.messenger.PostMessage(ctx, channel, seekingText(rec))
	if err != nil {
		return nil, engine.NewExternalError("post intake message", err)
	}
	return &engine.Update{Meta: models.Meta{
		MetaPostChannel:   post.Channel,
		MetaPostTimestamp: post.Timestamp,
	}}, nil
}

// AnnounceAssignment marks the post as taken and direct-messages the assigned volunteer.
func (a *Actions) AnnounceAssignment(ctx context.Context, _ string, rec models.Record) (*engine.Update, error) {
	post, ok := postOf(rec)
	if !ok {
		return nil, missingPost(rec)
	}

	if err := a.messenger.UpdateMessage(ctx, post.channel, post.timestamp, assignedText(rec)); err != nil {
		return nil, engine.NewExternalError("update intake message", err)
	}

	volunteer, err := a.assignee(ctx, rec)
	if err != nil {
		return nil, err
	}
	userID := volunteer.Fields.String(FieldSlackUserID)
	if userID == "" {
		return nil, engine.NewDeferredError("volunteer %s has no Slack user id", volunteer.ID)
	}
	if err := a.messenger.DirectMessage(ctx, userID, assignmentDM(rec, post)); err != nil {
		return nil, engine.NewExternalError("message assigned volunteer", err)
	}
	return post.update(), nil
}

// UpdateDeliveryScheduled shows the delivery date on the post.
func (a *Actions) UpdateDeliveryScheduled(ctx context.Context, _ string, rec models.Record) (*engine.Update, error) {
	post, ok := postOf(rec)
	if !ok {
		return nil, missingPost(rec)
	}
	if err := a.messenger.UpdateMessage(ctx, post.channel, post.timestamp, scheduledText(rec)); err != nil {
		return nil, engine.NewExternalError("update intake message", err)
	}
	return post.update(), nil
}

// MarkIntakeComplete rewrites the post as completed.
func (a *Actions) MarkIntakeComplete(ctx context.Context, _ string, rec models.Record) (*engine.Update, error) {
	post, ok := postOf(rec)
	if !ok {
		return nil, missingPost(rec)
	}
	if err := a.messenger.UpdateMessage(ctx, post.channel, post.timestamp, completeText(rec)); err != nil {
		return nil, engine.NewExternalError("update intake message", err)
	}
	return &engine.Update{}, nil
}

// assignee loads the volunteer record referenced by the ticket.
func (a *Actions) assignee(ctx context.Context, rec models.Record) (models.Record, error) {
	id := linkedID(rec.Fields[FieldAssignee])
	if id == "" {
		return models.Record{}, engine.NewDeferredError("ticket has no assignee")
	}
	v, err := a.store.FindByID(ctx, TableVolunteers, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Record{}, engine.NewDeferredError("assignee %s not found in volunteers", id)
	}
	if err != nil {
		return models.Record{}, engine.NewExternalError("load assignee", err)
	}
	return v, nil
}

// linkedID accepts a plain record id or a linked-record list and returns the first id.
func linkedID(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []any:
		if len(x) > 0 {
			s, _ := x[0].(string)
			return s
		}
	}
	return ""
}

type intakePost struct {
	channel   string
	timestamp string
}

func (p intakePost) update() *engine.Update {
	return &engine.Update{Meta: models.Meta{
		MetaPostChannel:   p.channel,
		MetaPostTimestamp: p.timestamp,
	}}
}

func postOf(rec models.Record) (intakePost, bool) {
	p := intakePost{
		channel:   rec.Meta.String(MetaPostChannel),
		timestamp: rec.Meta.String(MetaPostTimestamp),
	}
	return p, p.channel != "" && p.timestamp != ""
}

func missingPost(rec models.Record) error {
	last, _ := rec.Meta.LastSeenStatus()
	return engine.NewPreconditionError("no intake post recorded (last seen status %#v)", last)
}
