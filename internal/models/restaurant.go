package models

import "time"

// PainpointType tags a sales-context observation about a lead.
type PainpointType string

const (
	PainpointNoWebsite     PainpointType = "no_website"
	PainpointNoOnlineOrder PainpointType = "no_online_ordering"
	PainpointHighFees      PainpointType = "high_fees"
	PainpointLowReviews    PainpointType = "low_reviews"
	PainpointOutdatedMenu  PainpointType = "outdated_menu"
	PainpointOtherNote     PainpointType = "other"
)

// TaggedValue is one entry of an ordered tagged-value list, such as a
// restaurant painpoint.
type TaggedValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Restaurant is the lead record sequences run against. Only the fields
// the rendering and qualification collaborators need are modeled here;
// the wider lead CRUD lives outside this service.
type Restaurant struct {
	ID    string `json:"id"`
	OrgID string `json:"org_id"`

	Name        string `json:"name"`
	ContactName string `json:"contact_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Cuisine     string `json:"cuisine,omitempty"`
	City        string `json:"city,omitempty"`
	Notes       string `json:"notes,omitempty"`

	// Painpoints is an ordered list of tagged observations used to
	// personalize outreach content.
	Painpoints []TaggedValue `json:"painpoints,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
