/******************************************************************************
 *
 *  Description :
 *
 *    Definition of the wire protocol and generators of server responses.
 *
 *****************************************************************************/
package main

import (
	"net/http"
)

// ClientComMessage is a wrapper for client messages. Exactly one of the
// request fields is expected to be set.
type ClientComMessage struct {
	// Optional request id, echoed back in the response.
	Id string `json:"id,omitempty"`

	// Handshake request. Field names inside the object are contractual:
	// user, token, name, group, type plus arbitrary extras.
	Announce map[string]any `json:"announce,omitempty"`

	// Application message to relay: {type?, from, to?, data}.
	Message map[string]any `json:"message,omitempty"`

	// Dynamic room membership requests; values are room names.
	Join  string `json:"join,omitempty"`
	Leave string `json:"leave,omitempty"`
}

// Envelope field names of a relayed message.
const (
	msgType = "type"
	msgFrom = "from"
	msgTo   = "to"
	msgData = "data"

	typeMessage  = "message"
	typePresence = "presence"
)

// ServerComMessage is an ack sent in response to a single client request.
type ServerComMessage struct {
	Type    string `json:"type"` // always "response"
	Id      string `json:"id,omitempty"`
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Generators of server responses. Status codes follow HTTP conventions.

// NoErr indicates successful completion (200).
func NoErr(id, text string) *ServerComMessage {
	return &ServerComMessage{
		Type:    "response",
		Id:      id,
		Status:  http.StatusOK,
		Message: text,
	}
}

// NoErrParams indicates successful completion with a data payload (200).
func NoErrParams(id, text string, data any) *ServerComMessage {
	return &ServerComMessage{
		Type:    "response",
		Id:      id,
		Status:  http.StatusOK,
		Message: text,
		Data:    data,
	}
}

// ErrMalformed - the request cannot be processed as presented (400).
func ErrMalformed(id, text string) *ServerComMessage {
	return &ServerComMessage{
		Type:    "response",
		Id:      id,
		Status:  http.StatusBadRequest,
		Message: text,
	}
}

// ErrAuthFailed - invalid credentials or session, or handshake not done (401).
func ErrAuthFailed(id, text string) *ServerComMessage {
	return &ServerComMessage{
		Type:    "response",
		Id:      id,
		Status:  http.StatusUnauthorized,
		Message: text,
	}
}

// ErrNotFound - the requested room or operation is not available (404).
func ErrNotFound(id, text string) *ServerComMessage {
	return &ServerComMessage{
		Type:    "response",
		Id:      id,
		Status:  http.StatusNotFound,
		Message: text,
	}
}

// jstring extracts a string field from a decoded JSON object.
func jstring(obj map[string]any, field string) string {
	if v, ok := obj[field].(string); ok {
		return v
	}
	return ""
}

// jint extracts an integer field from a decoded JSON object.
func jint(obj map[string]any, field string) int {
	if v, ok := obj[field].(float64); ok {
		return int(v)
	}
	return 0
}
