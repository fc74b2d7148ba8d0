package transcript

import "time"

// AttendeeRecord tracks one participant sighting. LeaveTime stays nil
// until the name disappears from a later roster scan.
type AttendeeRecord struct {
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	JoinTime  time.Time  `json:"join_time"`
	LeaveTime *time.Time `json:"leave_time,omitempty"`
}

// AttendeeReport is the summary handed to persistence and export.
type AttendeeReport struct {
	MeetingStart time.Time        `json:"meeting_start"`
	LastUpdated  time.Time        `json:"last_updated"`
	Total        int              `json:"total_unique_attendees"`
	CurrentCount int              `json:"current_attendee_count"`
	Names        []string         `json:"attendee_list"`
	Records      []AttendeeRecord `json:"attendee_history"`
}
