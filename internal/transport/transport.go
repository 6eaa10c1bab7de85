// Package transport sends one rendered announcement to one contact address.
// Retry is the caller's concern; a transport only reports success or error
// for a single attempt. Duplicate sends under at-least-once retry are an
// accepted tradeoff.
package transport

import "context"

type SendRequest struct {
	MessageID string `json:"message_id"`
	Address   string `json:"address"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type Transport interface {
	Send(ctx context.Context, req *SendRequest) error
}
