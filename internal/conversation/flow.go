// Package conversation drives the multi-step chat forms: ticket intake,
// rejection reason, broadcast composition and roster edits.
package conversation

import (
	"github.com/deskline/support-bot/internal/domain"
	"github.com/deskline/support-bot/internal/transport"
)

// FlowKind tags the flow variant held by a session.
type FlowKind string

const (
	FlowIntake       FlowKind = "intake"
	FlowRejection    FlowKind = "rejection"
	FlowBroadcast    FlowKind = "broadcast"
	FlowRosterAdd    FlowKind = "roster_add"
	FlowRosterRemove FlowKind = "roster_remove"
)

// Flow is one variant of conversation state.
type Flow interface {
	Kind() FlowKind
	// Permits reports whether a party with role may continue the flow.
	Permits(role domain.Role) bool
}

// IntakeStep enumerates the ticket intake steps.
type IntakeStep string

const (
	IntakeName        IntakeStep = "name"
	IntakePhone       IntakeStep = "phone"
	IntakeDescription IntakeStep = "description"
	IntakeAttachment  IntakeStep = "attachment"
	IntakePriority    IntakeStep = "priority"
)

// Intake collects a new ticket from a requester.
type Intake struct {
	Step        IntakeStep         `json:"step"`
	Name        string             `json:"name,omitempty"`
	Phone       string             `json:"phone,omitempty"`
	Description string             `json:"description,omitempty"`
	Attachment  *domain.Attachment `json:"attachment,omitempty"`
}

func (*Intake) Kind() FlowKind { return FlowIntake }

func (*Intake) Permits(role domain.Role) bool { return role == domain.RoleRequester }

// Rejection waits for the reason a handler declines a ticket.
type Rejection struct {
	TicketID string `json:"ticket_id"`
	// Origin is the alert whose buttons started the flow.
	Origin transport.MessageRef `json:"origin"`
}

func (*Rejection) Kind() FlowKind { return FlowRejection }

func (*Rejection) Permits(role domain.Role) bool { return role.IsHandler() }

// BroadcastStep enumerates the broadcast composition steps.
type BroadcastStep string

const (
	BroadcastText    BroadcastStep = "text"
	BroadcastMedia   BroadcastStep = "media"
	BroadcastConfirm BroadcastStep = "confirm"
)

// BroadcastDraft composes an announcement.
type BroadcastDraft struct {
	Step  BroadcastStep      `json:"step"`
	Text  string             `json:"text,omitempty"`
	Media *domain.Attachment `json:"media,omitempty"`
}

func (*BroadcastDraft) Kind() FlowKind { return FlowBroadcast }

func (*BroadcastDraft) Permits(role domain.Role) bool { return role.IsHandler() }

// RosterAdd waits for the id of a new handler.
type RosterAdd struct{}

func (*RosterAdd) Kind() FlowKind { return FlowRosterAdd }

func (*RosterAdd) Permits(role domain.Role) bool { return role == domain.RoleSuperAdmin }

// RosterRemove waits for a pick from the removable handler list.
type RosterRemove struct{}

func (*RosterRemove) Kind() FlowKind { return FlowRosterRemove }

func (*RosterRemove) Permits(role domain.Role) bool { return role == domain.RoleSuperAdmin }

func newFlow(kind FlowKind) (Flow, bool) {
	switch kind {
	case FlowIntake:
		return &Intake{}, true
	case FlowRejection:
		return &Rejection{}, true
	case FlowBroadcast:
		return &BroadcastDraft{}, true
	case FlowRosterAdd:
		return &RosterAdd{}, true
	case FlowRosterRemove:
		return &RosterRemove{}, true
	}
	return nil, false
}
