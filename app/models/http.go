// Package models defines request payloads shared by the HTTP handlers.
package models

// EngineerPromptRequest is the body of POST /prompt-engineer.
type EngineerPromptRequest struct {
	Goal                 string `json:"goal"`
	Category             string `json:"category"`
	ExtraContext         string `json:"extraContext"`
	ClarificationAnswers string `json:"clarificationAnswers"`
}

// CheckoutRequest is the body of POST /billing/create-checkout-session.
type CheckoutRequest struct {
	Plan Plan `json:"plan"`
}

// EchoRequest is the body of the POST /echo diagnostic endpoint.
type EchoRequest struct {
	Text string `json:"text"`
}
