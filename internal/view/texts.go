package view

import (
	"fmt"
	"html"
	"strings"

	"github.com/deskline/support-bot/internal/domain"
)

// Prompts of the conversation flows.
const (
	PromptName             = "Enter your full name:"
	PromptPhone            = "Send your phone number:"
	PromptDescription      = "Describe the problem:"
	PromptAttachment       = "Attach a screenshot or file, or press \"Skip\"."
	PromptPriority         = "Choose the ticket priority:"
	PromptRejectReason     = "✍️ Enter the rejection reason for ticket <b>#%s</b>:"
	PromptBroadcastText    = "📨 Enter the broadcast text:"
	PromptBroadcastMedia   = "Attach a photo, video or document, or press \"Skip\"."
	PromptBroadcastConfirm = "Send this broadcast to every registered user?"
	PromptRosterAdd        = "Send the numeric id of the new handler:"
	PromptRosterRemove     = "Choose the handler to remove:"
)

// Hints shown with a repeated prompt.
const (
	HintNameText        = "❌ Please enter your name as text."
	HintPhone           = "❌ Invalid format. Enter 10-15 digits, for example 0991234567."
	HintDescriptionText = "❌ Please describe the problem as text."
	HintAttachment      = "📷 Send a photo or file, or press \"Skip\"."
	HintPriority        = "Please choose the priority with the buttons."
	HintReasonText      = "❌ The reason must be non-empty text."
	HintBroadcastText   = "❌ The broadcast text must not be empty."
	HintBroadcastMedia  = "Send a photo, video or document, or press \"Skip\"."
	HintConfirm         = "Use the buttons under the preview."
	HintRosterID        = "❌ The id must be a number."
	HintRosterChoice    = "Pick a handler from the list."
)

// Telegram length limits, counted in characters.
const (
	MaxTextRunes    = 4096
	MaxCaptionRunes = 1024
)

// Notices.
const (
	WelcomeRequester     = "👋 Welcome to the support bot!"
	WelcomeHandler       = "👋 Welcome to the support panel!"
	TicketCreated        = "✅ Ticket created! Please wait for a reply."
	FlowCancelled        = "Cancelled."
	FlowReplaced         = "⚠️ Your unfinished form was discarded."
	NoTickets            = "You have no tickets yet."
	NoCancellable        = "No active tickets to cancel."
	ChooseCancellable    = "Choose the ticket to cancel:"
	NoActiveTickets      = "✅ No active tickets."
	ArchiveEmpty         = "The archive is empty."
	ServerCallSent       = "✅ Notification sent."
	ServerCallUnanswered = "⚠️ No handler could be reached. Try again later."
	BroadcastCancelled   = "Broadcast cancelled."
	NoRemovableHandlers  = "There are no handlers to remove."
	Apology              = "Sorry, a technical error occurred. We are already working on it."
	AccessDenied         = "⛔ Not allowed."
	TicketMissing        = "Ticket not found."
	UnknownCommand       = "Use the menu buttons."
	ReasonSaved          = "Reason saved."
	TicketTaken          = "You accepted the ticket!"
	TicketDone           = "Done!"
)

// Escape quotes user-supplied text for HTML parse mode.
func Escape(s string) string {
	return html.EscapeString(s)
}

// HintTooLong asks for a text within limit characters.
func HintTooLong(limit int) string {
	return fmt.Sprintf("❌ The text is too long. Keep it within %d characters.", limit)
}

// NewTicketAlert is the roster summary of a fresh ticket.
func NewTicketAlert(t *domain.Ticket) string {
	return fmt.Sprintf("🆕 <b>New ticket #%s</b>\n👤 %s\n📞 %s\n📄 %s\n⚙️ Priority: %s",
		t.ID, Escape(t.Name), Escape(t.Phone), Escape(t.Description), PriorityLabel(t.Priority))
}

// TicketCard renders a ticket for the handler views.
func TicketCard(t *domain.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Ticket #%s (%s)</b>\n👤 %s | 📞 %s\n📄 %s\n⚙️ Priority: %s",
		t.ID, t.Status.Label(), Escape(t.Name), Escape(t.Phone), Escape(t.Description), PriorityLabel(t.Priority))
	if t.HandlerID != nil {
		fmt.Fprintf(&b, "\n👨‍💻 <b>Accepted by:</b> %s", Escape(t.HandlerName))
	}
	if t.DeclineReason != nil {
		fmt.Fprintf(&b, "\n🛑 <b>Reason:</b> %s", Escape(*t.DeclineReason))
	}
	return b.String()
}

// RequesterTicketLine renders one entry of "My tickets".
func RequesterTicketLine(t *domain.Ticket) string {
	text := fmt.Sprintf("<b>#%s | %s %s | %s</b>\n%s",
		t.ID, statusIcon(t.Status), t.Status.Label(), PriorityLabel(t.Priority), Escape(t.Description))
	if t.Status == domain.TicketStatusRejected && t.DeclineReason != nil {
		text += fmt.Sprintf("\n\n🛑 <b>Rejection reason:</b> %s", Escape(*t.DeclineReason))
	}
	return text
}

// ArchiveLine renders one entry of the handler archive.
func ArchiveLine(t *domain.Ticket) string {
	text := fmt.Sprintf("%s <b>#%s</b> | %s\n%s", statusIcon(t.Status), t.ID, t.Status.Label(), Escape(t.Description))
	if t.DeclineReason != nil {
		text += fmt.Sprintf("\n🛑 Reason: %s", Escape(*t.DeclineReason))
	}
	return text
}

// ActiveCount heads the active ticket listing.
func ActiveCount(n int) string {
	return fmt.Sprintf("Active tickets found: %d", n)
}

// ClaimedNotice tells the requester who accepted the ticket.
func ClaimedNotice(t *domain.Ticket) string {
	return fmt.Sprintf("👨‍💻 Your ticket #%s was accepted by %s.", t.ID, Escape(t.HandlerName))
}

// CompletedNotice tells the requester the ticket is done.
func CompletedNotice(t *domain.Ticket) string {
	return fmt.Sprintf("✅ Your ticket #%s has been completed.", t.ID)
}

// RejectedNotice tells the requester why the ticket was rejected.
func RejectedNotice(t *domain.Ticket) string {
	reason := ""
	if t.DeclineReason != nil {
		reason = *t.DeclineReason
	}
	return fmt.Sprintf("❌ Your ticket #%s was rejected.\n<b>Reason:</b> %s", t.ID, Escape(reason))
}

// CancelledForHandler tells the former handler the requester withdrew.
func CancelledForHandler(t *domain.Ticket) string {
	return fmt.Sprintf("🗑 Ticket #%s was cancelled by the requester.", t.ID)
}

// CancelledForRequester confirms a cancellation.
func CancelledForRequester(id string) string {
	return fmt.Sprintf("🗑 Your ticket #%s has been cancelled.", id)
}

// CompletedCard replaces a handler alert after completion.
func CompletedCard(id string) string {
	return fmt.Sprintf("✅ Ticket #%s completed.", id)
}

// RejectedCard replaces a handler alert after rejection.
func RejectedCard(t *domain.Ticket) string {
	reason := ""
	if t.DeclineReason != nil {
		reason = *t.DeclineReason
	}
	return fmt.Sprintf("❌ Ticket #%s rejected.\n<b>Reason:</b> %s", t.ID, Escape(reason))
}

// StaleCard replaces an alert whose ticket moved on.
func StaleCard(id string, status domain.TicketStatus) string {
	return fmt.Sprintf("🔒 Ticket #%s has already been processed (%s).", id, status.Label())
}

// StatusConflict is the transient notice for a transition that lost a race.
func StatusConflict(status string) string {
	return "Ticket status is already: " + domain.TicketStatus(status).Label()
}

// ServerCallAlert is the urgent call sent to the roster.
func ServerCallAlert(initiator, phone string) string {
	if phone == "" {
		phone = "not provided"
	}
	return fmt.Sprintf("🔔 <b>Server room call</b>\n\n👤 Initiator: <b>%s</b>\n📞 Phone: <b>%s</b>", Escape(initiator), Escape(phone))
}

// ServerReply relays a handler's answer to the initiator.
func ServerReply(handler string, coming bool) string {
	if coming {
		return fmt.Sprintf("👍 %s is on the way.", Escape(handler))
	}
	return fmt.Sprintf("👎 %s cannot come right now.", Escape(handler))
}

// ServerReplyAck replaces the call alert for the answering handler.
func ServerReplyAck(coming bool) string {
	if coming {
		return "👍 You answered the server room call."
	}
	return "👎 You declined the server room call."
}

// BroadcastPreview renders the composed broadcast.
func BroadcastPreview(text string) string {
	return "📨 <b>Preview</b>\n\n" + Escape(text)
}

// BroadcastReport summarises a sent broadcast.
func BroadcastReport(b *domain.Broadcast) string {
	return fmt.Sprintf("📨 Broadcast sent: %d delivered, %d failed.", b.Delivered, b.Failed)
}

// HandlerAdded reports the roster-add outcome.
func HandlerAdded(name string, id domain.PartyID, added bool) string {
	if !added {
		return fmt.Sprintf("ℹ️ %s (%d) is already a handler.", Escape(name), int64(id))
	}
	return fmt.Sprintf("✅ %s (%d) added to the roster.", Escape(name), int64(id))
}

// HandlerRemoved reports the roster-remove outcome.
func HandlerRemoved(id domain.PartyID) string {
	return fmt.Sprintf("✅ Handler %d removed from the roster.", int64(id))
}

// PlaceholderName is used when a party's name cannot be resolved.
func PlaceholderName(id domain.PartyID) string {
	return fmt.Sprintf("id%d", int64(id))
}

// StoreStatus reports the store probe run from the handler menu.
func StoreStatus(err error, tickets int) string {
	if err != nil {
		return "❌ Store connection error: " + Escape(err.Error())
	}
	return fmt.Sprintf("✅ Connection is stable.\nTickets in the store: %d", tickets)
}

// StoreDown alerts super-admins about a sustained store outage.
func StoreDown(err error) string {
	return "🚨 ERROR: the store is unreachable!\n\n" + Escape(err.Error())
}

// StoreRecovered alerts super-admins that the store is back.
const StoreRecovered = "✅ Store connection restored!"

// CriticalError alerts super-admins about an unexpected failure.
func CriticalError(err error) string {
	return "🚨 <b>Critical error:</b>\n" + Escape(err.Error())
}

// ExportCaption labels the periodic export file.
func ExportCaption(date string) string {
	return fmt.Sprintf("📦 Store export (%s)", date)
}

func statusIcon(s domain.TicketStatus) string {
	switch s {
	case domain.TicketStatusPending:
		return "⏳"
	case domain.TicketStatusAccepted:
		return "👨‍💻"
	case domain.TicketStatusCompleted:
		return "✅"
	}
	return "❌"
}
