// Package view renders chat texts and keyboards.
package view

import (
	"fmt"
	"strings"

	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/transport"
)

// Reply keyboard labels.
const (
	BtnCreateTicket  = "📝 Create ticket"
	BtnMyTickets     = "📜 My tickets"
	BtnCancelTicket  = "❌ Cancel ticket"
	BtnServerCall    = "🔔 Server room call"
	BtnActiveTickets = "📢 Active tickets"
	BtnArchive       = "📖 Ticket archive"
	BtnBroadcast     = "📨 New broadcast"
	BtnStoreStatus   = "⚙️ Store status"
	BtnAddHandler    = "➕ Add handler"
	BtnRemoveHandler = "➖ Remove handler"
	BtnSharePhone    = "📞 Share phone number"
	BtnSkip          = "Skip"
	BtnCancelFlow    = "✖ Cancel"
)

// Callback actions. Arguments follow the action separated by "|".
const (
	ActionAccept          = "accept"
	ActionComplete        = "complete"
	ActionReject          = "reject"
	ActionServerReply     = "srv_reply"
	ActionBroadcastSend   = "broadcast_send"
	ActionBroadcastCancel = "broadcast_cancel"
	ActionRosterRemove    = "roster_rm"
	ActionFlowCancel      = "flow_cancel"
	ActionUserCancel      = "user_cancel"
)

var priorityLabels = map[domain.TicketPriority]string{
	domain.TicketPriorityLow:    "🔵 Low",
	domain.TicketPriorityMedium: "🟡 Medium",
	domain.TicketPriorityHigh:   "🔴 High",
}

// PriorityLabel is the button label of a priority.
func PriorityLabel(p domain.TicketPriority) string {
	if label, ok := priorityLabels[p]; ok {
		return label
	}
	return string(p)
}

// PriorityFromLabel maps a pressed priority button back to its value.
func PriorityFromLabel(label string) (domain.TicketPriority, bool) {
	for p, l := range priorityLabels {
		if l == strings.TrimSpace(label) {
			return p, true
		}
	}
	return "", false
}

// CallbackData joins an action and its arguments.
func CallbackData(action string, args ...string) string {
	return strings.Join(append([]string{action}, args...), "|")
}

// ParseCallback splits callback data into its action and arguments.
func ParseCallback(data string) (string, []string) {
	parts := strings.Split(data, "|")
	return parts[0], parts[1:]
}

// RequesterMenu is the main keyboard of a requester.
func RequesterMenu() *transport.Markup {
	return &transport.Markup{Reply: [][]string{
		{BtnCreateTicket},
		{BtnMyTickets, BtnServerCall},
		{BtnCancelTicket},
	}}
}

// HandlerMenu is the main keyboard of a handler; super-admins also get the
// roster buttons.
func HandlerMenu(superAdmin bool) *transport.Markup {
	rows := [][]string{
		{BtnActiveTickets, BtnBroadcast},
		{BtnArchive, BtnStoreStatus},
	}
	if superAdmin {
		rows = append(rows, []string{BtnAddHandler, BtnRemoveHandler})
	}
	return &transport.Markup{Reply: rows}
}

// MenuFor picks the main keyboard of a role.
func MenuFor(role domain.Role) *transport.Markup {
	if role.IsHandler() {
		return HandlerMenu(role == domain.RoleSuperAdmin)
	}
	return RequesterMenu()
}

// ContactRequest asks for the phone number with a contact-share button.
func ContactRequest() *transport.Markup {
	return &transport.Markup{Reply: [][]string{{BtnSharePhone}, {BtnCancelFlow}}, RequestContact: true, OneTime: true}
}

// SkipOrCancel offers the skip button of optional steps.
func SkipOrCancel() *transport.Markup {
	return &transport.Markup{Reply: [][]string{{BtnSkip}, {BtnCancelFlow}}, OneTime: true}
}

// CancelOnly offers only the cancel button.
func CancelOnly() *transport.Markup {
	return &transport.Markup{Reply: [][]string{{BtnCancelFlow}}}
}

// PriorityChoice offers the three priorities.
func PriorityChoice() *transport.Markup {
	return &transport.Markup{Reply: [][]string{
		{PriorityLabel(domain.TicketPriorityLow)},
		{PriorityLabel(domain.TicketPriorityMedium)},
		{PriorityLabel(domain.TicketPriorityHigh)},
		{BtnCancelFlow},
	}, OneTime: true}
}

// AcceptRejectActions are attached to a pending ticket alert.
func AcceptRejectActions(ticketID string) *transport.Markup {
	return &transport.Markup{Inline: [][]transport.Button{
		{{Text: "✅ Accept", Data: CallbackData(ActionAccept, ticketID)}},
		{{Text: "❌ Reject", Data: CallbackData(ActionReject, ticketID)}},
	}}
}

// WorkActions are attached to an accepted ticket.
func WorkActions(ticketID string) *transport.Markup {
	return &transport.Markup{Inline: [][]transport.Button{{
		{Text: "✅ Complete", Data: CallbackData(ActionComplete, ticketID)},
		{Text: "❌ Reject", Data: CallbackData(ActionReject, ticketID)},
	}}}
}

// ActionsFor returns the buttons that fit the ticket's status, or nil.
func ActionsFor(t *domain.Ticket) *transport.Markup {
	switch t.Status {
	case domain.TicketStatusPending:
		return AcceptRejectActions(t.ID)
	case domain.TicketStatusAccepted:
		return WorkActions(t.ID)
	}
	return nil
}

// ServerCallActions lets handlers answer a server room call.
func ServerCallActions(initiator domain.PartyID) *transport.Markup {
	id := fmt.Sprint(int64(initiator))
	return &transport.Markup{Inline: [][]transport.Button{{
		{Text: "👍", Data: CallbackData(ActionServerReply, "yes", id)},
		{Text: "👎", Data: CallbackData(ActionServerReply, "no", id)},
	}}}
}

// BroadcastConfirm closes the broadcast preview.
func BroadcastConfirm() *transport.Markup {
	return &transport.Markup{Inline: [][]transport.Button{{
		{Text: "✅ Send", Data: ActionBroadcastSend},
		{Text: "❌ Cancel", Data: ActionBroadcastCancel},
	}}}
}

// FlowCancel is an inline cancel button for flows driven by callbacks.
func FlowCancel() []transport.Button {
	return []transport.Button{{Text: BtnCancelFlow, Data: ActionFlowCancel}}
}

// RosterRemoveChoice lists removable handlers.
func RosterRemoveChoice(handlers []domain.Handler) *transport.Markup {
	rows := make([][]transport.Button, 0, len(handlers)+1)
	for _, h := range handlers {
		rows = append(rows, []transport.Button{{
			Text: fmt.Sprintf("➖ %s (%d)", h.Name, int64(h.ID)),
			Data: CallbackData(ActionRosterRemove, fmt.Sprint(int64(h.ID))),
		}})
	}
	return &transport.Markup{Inline: append(rows, FlowCancel())}
}

// CancellableChoice lists the requester's open tickets.
func CancellableChoice(tickets []domain.Ticket) *transport.Markup {
	rows := make([][]transport.Button, 0, len(tickets))
	for _, t := range tickets {
		rows = append(rows, []transport.Button{{
			Text: fmt.Sprintf("❌ #%s (%s)", t.ID, PriorityLabel(t.Priority)),
			Data: CallbackData(ActionUserCancel, t.ID),
		}})
	}
	return &transport.Markup{Inline: rows}
}
