package models

// Submission is the envelope every mutation sends to the remote source.
// Start and End are fixed-offset RFC 3339 text. Event carries the full record
// on removals, which the remote side keeps for auditing.
type Submission struct {
	ID             string         `json:"id,omitempty"`
	Summary        string         `json:"summary,omitempty"`
	Description    string         `json:"description,omitempty"`
	Start          string         `json:"start,omitempty"`
	End            string         `json:"end,omitempty"`
	OrganizerEmail string         `json:"organizerEmail,omitempty"`
	HostName       string         `json:"hostName,omitempty"`
	Event          *CalendarEvent `json:"event,omitempty"`
}
