package domain

import (
	"net/url"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "Pending"
	OrderStatusNew     OrderStatus = "New"
)

type FormSource string

const (
	FormSourceCheckout     FormSource = "Checkout"
	FormSourceSubscription FormSource = "Subscription"
	FormSourceContact      FormSource = "ContactModal"
)

// Submission is what gets posted to the order intake endpoint. Fields holds
// the customer's own form input; the remaining fields are appended by us.
type Submission struct {
	OrderNumber string
	Source      FormSource
	Status      OrderStatus
	Details     string
	Total       string
	Frequency   string
	Payment     string
	Fields      map[string]string
	CreatedAt   time.Time
}

// Form encodes the submission the way the intake sheet expects its columns.
func (s Submission) Form() url.Values {
	form := url.Values{}
	for k, v := range s.Fields {
		form.Set(k, v)
	}
	if s.OrderNumber != "" {
		form.Set("Order Number", s.OrderNumber)
	}
	if s.Frequency != "" {
		form.Set("Delivery Frequency", s.Frequency)
	}
	if s.Details != "" {
		form.Set("Order Details", s.Details)
	}
	if s.Total != "" {
		form.Set("Total Amount", s.Total)
	}
	if s.Payment != "" {
		form.Set("payment", s.Payment)
	}
	form.Set("Status", string(s.Status))
	form.Set("FormSource", string(s.Source))
	return form
}

// Receipt is handed back after the intake endpoint accepted the request.
// The endpoint answers opaquely, so Delivered only means the request
// completed without a transport error.
type Receipt struct {
	OrderNumber string    `json:"order_number"`
	Total       string    `json:"total,omitempty"`
	Delivered   bool      `json:"delivered"`
	SubmittedAt time.Time `json:"submitted_at"`
}
