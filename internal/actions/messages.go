package actions

import (
	"fmt"
	"strings"

	"github.com/starford/dispatchd/internal/models"
)

func ticketLabel(rec models.Record) string {
	if id := rec.TicketID(); id != "" {
		return id
	}
	return rec.ID
}

func seekingText(rec models.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *Volunteer needed* for ticket %s\n", ticketLabel(rec))
	if n := rec.Fields.String(FieldNeighborhood); n != "" {
		fmt.Fprintf(&b, "*Neighborhood:* %s\n", n)
	}
	if s := rec.Fields.String(FieldCrossStreets); s != "" {
		fmt.Fprintf(&b, "*Cross streets:* %s\n", s)
	}
	if r := rec.Fields.String(FieldRequest); r != "" {
		fmt.Fprintf(&b, "*Request:* %s\n", r)
	}
	b.WriteString("Reply in thread if you can take it.")
	return b.String()
}

func assignedText(rec models.Record) string {
	return fmt.Sprintf(":handshake: Ticket %s has a volunteer and is in progress.\n~%s~",
		ticketLabel(rec), strings.ReplaceAll(firstLine(seekingText(rec)), ":rotating_light: ", ""))
}

func scheduledText(rec models.Record) string {
	when := rec.Fields.String(FieldDeliveryDate)
	if when == "" {
		when = "a date to be confirmed"
	}
	return fmt.Sprintf(":calendar: Ticket %s: delivery scheduled for %s.", ticketLabel(rec), when)
}

func completeText(rec models.Record) string {
	return fmt.Sprintf(":white_check_mark: Ticket %s is complete. Thank you!", ticketLabel(rec))
}

func assignmentDM(rec models.Record, post intakePost) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You have been assigned ticket %s.", ticketLabel(rec))
	if r := rec.Fields.String(FieldRequest); r != "" {
		fmt.Fprintf(&b, "\n*Request:* %s", r)
	}
	if s := rec.Fields.String(FieldCrossStreets); s != "" {
		fmt.Fprintf(&b, "\n*Cross streets:* %s", s)
	}
	fmt.Fprintf(&b, "\nThe original post is in <#%s>.", post.channel)
	return b.String()
}

func welcomeDM(rec models.Record) string {
	name := rec.Fields.String(FieldName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s, welcome aboard! Delivery requests are posted in your neighborhood channel; "+
		"reply in a thread to pick one up.", name)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
