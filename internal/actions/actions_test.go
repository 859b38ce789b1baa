package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/dispatchd/internal/engine"
	"github.com/starford/dispatchd/internal/fields"
	"github.com/starford/dispatchd/internal/models"
	"github.com/starford/dispatchd/internal/testutil"
)

type harness struct {
	store      *fields.Store
	messenger  *testutil.Messenger
	actions    *Actions
	reconciler *engine.Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tr, err := fields.NewTranslator(map[string]fields.Schema{
		TableIntake: {Table: "Intake", Columns: map[string]string{
			"status":          "Status",
			"ticketID":        "Ticket ID",
			FieldNeighborhood: "Neighborhood",
			FieldRequest:      "Request",
			FieldAssignee:     "Assignee",
		}},
		TableReimbursements: {Table: "Reimbursements", Columns: map[string]string{
			"status":   "Status",
			"ticketID": "Ticket ID",
		}},
		TableVolunteers: {Table: "Volunteers", Columns: map[string]string{
			"status":         "Status",
			FieldName:        "Name",
			FieldSlackUserID: "Slack User ID",
		}},
	})
	require.NoError(t, err)

	store := fields.NewStore(testutil.TestStore(t), tr)
	messenger := testutil.NewMessenger()
	a := New(store, messenger, NewChannels(map[string]string{"Bushwick": "C0BUSH", "Flatbush": "C0FLAT"}, ""), nil)
	a.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	processor := engine.NewProcessor(store, nil)
	return &harness{
		store:      store,
		messenger:  messenger,
		actions:    a,
		reconciler: engine.NewReconciler(store, processor, nil, a.Tables(true)...),
	}
}

func (h *harness) create(t *testing.T, table string, f models.Fields) models.Record {
	t.Helper()
	r, err := h.store.Create(context.Background(), table, f)
	require.NoError(t, err)
	return r
}

func (h *harness) setStatus(t *testing.T, table, id string, status any) {
	t.Helper()
	_, err := h.store.UpdateFields(context.Background(), table, id, models.Fields{"status": status}, nil)
	require.NoError(t, err)
}

func (h *harness) get(t *testing.T, table, id string) models.Record {
	t.Helper()
	r, err := h.store.FindByID(context.Background(), table, id)
	require.NoError(t, err)
	return r
}

func (h *harness) cycle(t *testing.T, table string) engine.Report {
	t.Helper()
	report, err := h.reconciler.Cycle(context.Background(), table)
	require.NoError(t, err)
	return report
}

func TestChannels_Resolve(t *testing.T) {
	src := map[string]string{"Bushwick": "C0BUSH"}
	c := NewChannels(src, "")
	src["Bushwick"] = "mutated"

	ch, ok := c.Resolve(" bushwick ")
	assert.True(t, ok)
	assert.Equal(t, "C0BUSH", ch)

	_, ok = c.Resolve("Astoria")
	assert.False(t, ok)

	ch, ok = NewChannels(nil, "C0ALL").Resolve("Astoria")
	assert.True(t, ok)
	assert.Equal(t, "C0ALL", ch)
}

// Seeking volunteer with a valid neighborhood posts once and the next cycle is quiet.
func TestScenario_FirstPost(t *testing.T) {
	h := newHarness(t)
	r := h.create(t, TableIntake, models.Fields{"status": StatusSeekingVolunteer, "ticketID": "T-100", FieldNeighborhood: "Bushwick", FieldRequest: "groceries for 3"})

	report := h.cycle(t, TableIntake)
	require.Equal(t, 1, report.Advanced())

	posts := h.messenger.CallsOf("post")
	require.Len(t, posts, 1)
	assert.Equal(t, "C0BUSH", posts[0].Target)
	assert.Contains(t, posts[0].Text, "T-100")
	assert.Contains(t, posts[0].Text, "groceries for 3")

	got := h.get(t, TableIntake, r.ID)
	assert.Equal(t, "C0BUSH", got.Meta.String(MetaPostChannel))
	assert.Equal(t, posts[0].Timestamp, got.Meta.String(MetaPostTimestamp))
	assert.Equal(t, StatusSeekingVolunteer, got.Meta.String(models.MetaLastSeenStatus))

	report = h.cycle(t, TableIntake)
	assert.Zero(t, report.Detected)
	assert.Len(t, h.messenger.Calls(), 1)
}

// Assignment updates the existing post and messages exactly one volunteer.
func TestScenario_Assignment(t *testing.T) {
	h := newHarness(t)
	v := h.create(t, TableVolunteers, models.Fields{"status": StatusActive, FieldName: "Ana", FieldSlackUserID: "U0ANA"})
	r := h.create(t, TableIntake, models.Fields{"status": StatusSeekingVolunteer, "ticketID": "T-101", FieldNeighborhood: "Flatbush"})
	h.cycle(t, TableIntake)
	before := h.get(t, TableIntake, r.ID)
	h.messenger.Reset()

	_, err := h.store.UpdateFields(context.Background(), TableIntake, r.ID,
		models.Fields{"status": StatusAssigned, FieldAssignee: []any{v.ID}}, nil)
	require.NoError(t, err)
	report := h.cycle(t, TableIntake)
	require.Equal(t, 1, report.Advanced())

	updates := h.messenger.CallsOf("update")
	require.Len(t, updates, 1)
	assert.Equal(t, before.Meta.String(MetaPostTimestamp), updates[0].Timestamp)
	dms := h.messenger.CallsOf("dm")
	require.Len(t, dms, 1)
	assert.Equal(t, "U0ANA", dms[0].Target)
	assert.Empty(t, h.messenger.CallsOf("post"))

	after := h.get(t, TableIntake, r.ID)
	assert.Equal(t, before.Meta.String(MetaPostChannel), after.Meta.String(MetaPostChannel))
	assert.Equal(t, before.Meta.String(MetaPostTimestamp), after.Meta.String(MetaPostTimestamp))
	assert.Equal(t, StatusAssigned, after.Meta.String(models.MetaLastSeenStatus))
}

// Skipping straight from no status to assigned fails loudly and is retried.
func TestScenario_SkippedIntermediateState(t *testing.T) {
	h := newHarness(t)
	r := h.create(t, TableIntake, models.Fields{"ticketID": "T-102", FieldNeighborhood: "Bushwick"})

	report := h.cycle(t, TableIntake)
	require.Equal(t, 1, report.Advanced(), "untriaged record gets a cursor")

	h.setStatus(t, TableIntake, r.ID, StatusAssigned)
	report = h.cycle(t, TableIntake)
	require.Len(t, report.Outcomes, 1)
	require.True(t, report.Outcomes[0].Failed())
	assert.True(t, engine.IsPrecondition(report.Outcomes[0].Errors[0]))

	got := h.get(t, TableIntake, r.ID)
	last, ok := got.Meta.LastSeenStatus()
	assert.True(t, ok)
	assert.Nil(t, last, "cursor must stay on the previous status")

	report = h.cycle(t, TableIntake)
	assert.Equal(t, 1, report.Detected, "failed record is retried")
	assert.Empty(t, h.messenger.Calls())
}

// A reimbursement whose ticket matches no intake fails without writing anything.
func TestScenario_ReimbursementWithoutIntake(t *testing.T) {
	h := newHarness(t)
	other := h.create(t, TableIntake, models.Fields{"status": StatusAssigned, "ticketID": "T-200"})
	r := h.create(t, TableReimbursements, models.Fields{"status": StatusReimbursementNew, "ticketID": "T-999"})

	report := h.cycle(t, TableReimbursements)
	require.Len(t, report.Outcomes, 1)
	err := report.Outcomes[0].Errors[0]
	assert.True(t, engine.IsAmbiguousReference(err))
	assert.Contains(t, err.Error(), "found 0")

	assert.Equal(t, StatusAssigned, h.get(t, TableIntake, other.ID).Fields.Status())
	got := h.get(t, TableReimbursements, r.ID)
	assert.True(t, got.Meta.Empty())
	assert.Equal(t, StatusReimbursementNew, got.Fields.Status())
}

func TestCompleteLinkedIntake_DuplicateTicketsAreRejected(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, TableIntake, models.Fields{"status": StatusAssigned, "ticketID": "T-300"})
	b := h.create(t, TableIntake, models.Fields{"status": StatusDeliveryScheduled, "ticketID": "T-300"})
	r := h.create(t, TableReimbursements, models.Fields{"status": StatusReimbursementNew, "ticketID": "T-300"})

	_, err := h.actions.CompleteLinkedIntake(context.Background(), TableReimbursements, h.get(t, TableReimbursements, r.ID))
	require.Error(t, err)
	assert.True(t, engine.IsAmbiguousReference(err))
	assert.Contains(t, err.Error(), "found 2")

	assert.Equal(t, StatusAssigned, h.get(t, TableIntake, a.ID).Fields.Status())
	assert.Equal(t, StatusDeliveryScheduled, h.get(t, TableIntake, b.ID).Fields.Status())
}

func TestCompleteLinkedIntake_PropagatesToIntakeTable(t *testing.T) {
	h := newHarness(t)
	intake := h.create(t, TableIntake, models.Fields{"status": StatusSeekingVolunteer, "ticketID": "T-400", FieldNeighborhood: "Bushwick"})
	h.cycle(t, TableIntake)
	h.create(t, TableReimbursements, models.Fields{"status": StatusReimbursementNew, "ticketID": "T-400"})

	report := h.cycle(t, TableReimbursements)
	require.Equal(t, 1, report.Advanced())

	got := h.get(t, TableIntake, intake.ID)
	assert.Equal(t, StatusComplete, got.Fields.Status())
	assert.Equal(t, StatusSeekingVolunteer, got.Meta.String(models.MetaLastSeenStatus), "intake meta is untouched")

	h.messenger.Reset()
	report = h.cycle(t, TableIntake)
	require.Equal(t, 1, report.Advanced())
	updates := h.messenger.CallsOf("update")
	require.Len(t, updates, 1)
	assert.Contains(t, updates[0].Text, "complete")
}

func TestCompleteLinkedIntake_MissingTicketID(t *testing.T) {
	h := newHarness(t)
	_, err := h.actions.CompleteLinkedIntake(context.Background(), TableReimbursements,
		models.Record{ID: "rec1", Fields: models.Fields{"status": StatusReimbursementNew}})
	assert.True(t, engine.IsPrecondition(err))
}

func TestCompleteLinkedIntake_RecordsLinkedID(t *testing.T) {
	h := newHarness(t)
	intake := h.create(t, TableIntake, models.Fields{"status": StatusComplete, "ticketID": "T-401"})
	r := h.create(t, TableReimbursements, models.Fields{"status": StatusReimbursementNew, "ticketID": "T-401"})

	h.cycle(t, TableReimbursements)
	assert.Equal(t, intake.ID, h.get(t, TableReimbursements, r.ID).Meta.String(MetaCompletedIntakeRecord))
}

func TestPostIntake_UnknownNeighborhoodIsDeferred(t *testing.T) {
	h := newHarness(t)
	r := h.create(t, TableIntake, models.Fields{"status": StatusSeekingVolunteer, "ticketID": "T-500", FieldNeighborhood: "Atlantis"})

	report := h.cycle(t, TableIntake)
	require.Len(t, report.Outcomes, 1)
	assert.True(t, engine.IsDeferred(report.Outcomes[0].Errors[0]))
	assert.Empty(t, h.messenger.Calls())

	_, err := h.store.UpdateFields(context.Background(), TableIntake, r.ID, models.Fields{FieldNeighborhood: "Bushwick"}, nil)
	require.NoError(t, err)
	report = h.cycle(t, TableIntake)
	assert.Equal(t, 1, report.Advanced())
	assert.Len(t, h.messenger.CallsOf("post"), 1)
}

func TestPostIntake_GuardSkipsExistingPost(t *testing.T) {
	h := newHarness(t)
	rec := models.Record{ID: "rec1", Fields: models.Fields{"status": StatusSeekingVolunteer, FieldNeighborhood: "Bushwick"},
		Meta: models.Meta{MetaPostChannel: "C0BUSH", MetaPostTimestamp: "1.1", models.MetaLastSeenStatus: StatusAssigned}}

	update, err := h.actions.PostIntake(context.Background(), TableIntake, rec)
	require.NoError(t, err)
	assert.Nil(t, update)
	assert.Empty(t, h.messenger.Calls())
}

func TestPostIntake_MessagingFailure(t *testing.T) {
	h := newHarness(t)
	h.messenger.Fail["post"] = errors.New("rate_limited")
	rec := models.Record{ID: "rec1", Fields: models.Fields{"status": StatusSeekingVolunteer, FieldNeighborhood: "Bushwick"}}

	_, err := h.actions.PostIntake(context.Background(), TableIntake, rec)
	assert.Equal(t, engine.CodeExternal, engine.CodeOf(err))
}

func TestAnnounceAssignment_Deferred(t *testing.T) {
	h := newHarness(t)
	noSlack := h.create(t, TableVolunteers, models.Fields{"status": StatusActive, FieldName: "Bo"})
	meta := models.Meta{MetaPostChannel: "C0BUSH", MetaPostTimestamp: "1.1"}

	tests := []struct {
		name     string
		assignee any
	}{
		{"no assignee", nil},
		{"unknown volunteer", "recmissing"},
		{"volunteer without slack id", noSlack.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := models.Fields{"status": StatusAssigned}
			if tt.assignee != nil {
				f[FieldAssignee] = tt.assignee
			}
			_, err := h.actions.AnnounceAssignment(context.Background(), TableIntake, models.Record{ID: "rec1", Fields: f, Meta: meta})
			assert.True(t, engine.IsDeferred(err), "got %v", err)
		})
	}
	assert.Empty(t, h.messenger.CallsOf("dm"))
}

func TestUpdateDeliveryScheduled(t *testing.T) {
	h := newHarness(t)
	rec := models.Record{ID: "rec1",
		Fields: models.Fields{"status": StatusDeliveryScheduled, "ticketID": "T-600", FieldDeliveryDate: "2026-03-04"},
		Meta:   models.Meta{MetaPostChannel: "C0BUSH", MetaPostTimestamp: "1.1"}}

	update, err := h.actions.UpdateDeliveryScheduled(context.Background(), TableIntake, rec)
	require.NoError(t, err)
	assert.Equal(t, "1.1", update.Meta[MetaPostTimestamp])

	updates := h.messenger.CallsOf("update")
	require.Len(t, updates, 1)
	assert.Contains(t, updates[0].Text, "2026-03-04")

	_, err = h.actions.UpdateDeliveryScheduled(context.Background(), TableIntake, models.Record{ID: "rec2", Fields: rec.Fields})
	assert.True(t, engine.IsPrecondition(err))
}

func TestWelcomeVolunteer(t *testing.T) {
	h := newHarness(t)
	v := h.create(t, TableVolunteers, models.Fields{"status": StatusVolunteerNew, FieldName: "Cy", FieldSlackUserID: "U0CY"})

	report := h.cycle(t, TableVolunteers)
	require.Equal(t, 1, report.Advanced())

	dms := h.messenger.CallsOf("dm")
	require.Len(t, dms, 1)
	assert.Equal(t, "U0CY", dms[0].Target)
	assert.Contains(t, dms[0].Text, "Hi Cy")
	assert.Equal(t, "2026-03-01T12:00:00Z", h.get(t, TableVolunteers, v.ID).Meta.String(MetaWelcomedAt))

	// Re-entering New later does not welcome twice.
	h.setStatus(t, TableVolunteers, v.ID, StatusActive)
	h.cycle(t, TableVolunteers)
	h.setStatus(t, TableVolunteers, v.ID, StatusVolunteerNew)
	h.cycle(t, TableVolunteers)
	assert.Len(t, h.messenger.CallsOf("dm"), 1)
}

func TestWelcomeVolunteer_MissingSlackID(t *testing.T) {
	h := newHarness(t)
	_, err := h.actions.WelcomeVolunteer(context.Background(), TableVolunteers,
		models.Record{ID: "rec1", Fields: models.Fields{"status": StatusVolunteerNew}})
	assert.True(t, engine.IsDeferred(err))
}

func TestEveryStatusIsDispatched(t *testing.T) {
	h := newHarness(t)
	lifecycle := h.actions.Lifecycle()

	assert.Equal(t, []string{"AnnounceAssignment"}, lifecycle[TableIntake][StatusAssigned])
	assert.Empty(t, lifecycle[TableIntake][StatusNeedsTriage])
	assert.Contains(t, lifecycle[TableIntake], StatusNotApplicable)
	assert.Equal(t, []string{"CompleteLinkedIntake"}, lifecycle[TableReimbursements][StatusReimbursementNew])
	assert.Len(t, lifecycle[TableVolunteers], 3)
}
