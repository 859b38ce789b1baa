package actions

import (
	"context"
	"time"

	"github.com/starford/dispatchd/internal/engine"
	"github.com/starford/dispatchd/internal/models"
)

// Volunteer statuses.
const (
	StatusVolunteerNew = "New"
	StatusActive       = "Active"
	StatusInactive     = "Inactive"
)

// Volunteer fields read by the handlers.
const (
	FieldName        = "name"
	FieldSlackUserID = "slackUserID"
)

// Volunteers returns the dispatch table for volunteer sign-ups.
func (a *Actions) Volunteers() engine.DispatchTable {
	return engine.DispatchTable{
		engine.NoStatus:    {},
		StatusVolunteerNew: {{Name: "WelcomeVolunteer", Run: a.WelcomeVolunteer}},
		StatusActive:       {},
		StatusInactive:     {},
	}
}

// WelcomeVolunteer sends a new volunteer a one-time welcome message.
func (a *Actions) WelcomeVolunteer(ctx context.Context, _ string, rec models.Record) (*engine.Update, error) {
	if rec.Meta.String(MetaWelcomedAt) != "" {
		return nil, nil
	}
	userID := rec.Fields.String(FieldSlackUserID)
	if userID == "" {
		return nil, engine.NewDeferredError("volunteer has no Slack user id")
	}
	if err := a.messenger.DirectMessage(ctx, userID, welcomeDM(rec)); err != nil {
		return nil, engine.NewExternalError("welcome volunteer", err)
	}
	return &engine.Update{Meta: models.Meta{
		MetaWelcomedAt: a.now().UTC().Format(time.RFC3339),
	}}, nil
}
