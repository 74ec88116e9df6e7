package models

// Customer identifies who is paying for a slot. UserID is empty for guest
// checkout; Email is always required.
type Customer struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email"`
}

// CheckoutRequest starts the reserve-then-pay flow for one slot.
type CheckoutRequest struct {
	SlotID string `json:"slot_id"`
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email"`
}

// CheckoutSession is the hosted payment session created at the provider.
type CheckoutSession struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// CompletedCheckout is the domain view of a verified checkout.session.completed
// event: the correlation ids plus the customer attribution from metadata.
type CompletedCheckout struct {
	SessionID       string
	PaymentIntentID string
	SlotID          string
	UserID          string
	Email           string
}
