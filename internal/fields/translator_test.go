package fields

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/dispatchd/internal/apperr"
	"github.com/starford/dispatchd/internal/models"
	"github.com/starford/dispatchd/internal/testutil"
)

func intakeSchemas() map[string]Schema {
	return map[string]Schema{
		"intake": {
			Table: "Intake",
			Columns: map[string]string{
				"status":       "Status",
				"ticketID":     "Ticket ID",
				"neighborhood": "Neighborhood",
			},
		},
	}
}

func TestNewTranslator_DuplicateColumn(t *testing.T) {
	_, err := NewTranslator(map[string]Schema{
		"intake": {Table: "Intake", Columns: map[string]string{"status": "Status", "state": "Status"}},
	})
	if err == nil {
		t.Fatal("expected error for two fields on one column")
	}
}

func TestNewTranslator_MissingTableName(t *testing.T) {
	if _, err := NewTranslator(map[string]Schema{"intake": {}}); err == nil {
		t.Fatal("expected error for schema without store table")
	}
}

func TestTranslateRoundTrip(t *testing.T) {
	tr, err := NewTranslator(intakeSchemas())
	if err != nil {
		t.Fatalf("NewTranslator: %v", err)
	}

	internal := models.Fields{"status": "Complete", "ticketID": "A-1", "unmapped": true}
	stored := tr.ToStore("intake", internal)
	if stored["Status"] != "Complete" || stored["Ticket ID"] != "A-1" {
		t.Errorf("ToStore = %v", stored)
	}
	if stored["unmapped"] != true {
		t.Error("unmapped fields should pass through")
	}

	back := tr.ToInternal("intake", stored)
	if len(back) != len(internal) {
		t.Fatalf("round trip = %v", back)
	}
	for k, v := range internal {
		if back[k] != v {
			t.Errorf("field %s = %v, want %v", k, back[k], v)
		}
	}
}

func TestStoreTable_Unknown(t *testing.T) {
	tr, _ := NewTranslator(intakeSchemas())
	if _, err := tr.StoreTable("payroll"); !errors.Is(err, apperr.ErrUnknownTable) {
		t.Fatalf("err = %v, want ErrUnknownTable", err)
	}
}

func TestStore_TranslatesReadsWritesAndFilters(t *testing.T) {
	tr, _ := NewTranslator(intakeSchemas())
	raw := testutil.TestStore(t)
	store := NewStore(raw, tr)
	ctx := context.Background()

	rec, err := store.Create(ctx, "intake", models.Fields{"status": "Seeking Volunteer", "ticketID": "A-7"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rawRec, err := raw.FindByID(ctx, "Intake", rec.ID)
	if err != nil {
		t.Fatalf("raw FindByID: %v", err)
	}
	if rawRec.Fields.String("Ticket ID") != "A-7" {
		t.Errorf("store should hold human columns, got %v", rawRec.Fields)
	}

	matches, err := store.ListWithFilter(ctx, "intake", models.Filter{"ticketID": "A-7"})
	if err != nil {
		t.Fatalf("ListWithFilter: %v", err)
	}
	if len(matches) != 1 || matches[0].Fields.String("status") != "Seeking Volunteer" {
		t.Fatalf("matches = %v", matches)
	}

	updated, err := store.UpdateFields(ctx, "intake", rec.ID, models.Fields{"status": "Complete"}, models.Meta{"k": "v"})
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if updated.Fields.String("status") != "Complete" || updated.Meta.String("k") != "v" {
		t.Errorf("updated = %+v", updated)
	}

	all, err := store.ListAll(ctx, "intake")
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 || all[0].Fields.String("ticketID") != "A-7" {
		t.Errorf("ListAll = %v", all)
	}
}
