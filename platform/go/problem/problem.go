// Package problem renders RFC 7807 problem documents and plain JSON bodies
// for the HTTP handlers.
package problem

import (
	"encoding/json"
	"net/http"
)

const ContentType = "application/problem+json"

const (
	TypeValidation   = "https://gtm.modernagencysales.com/problems/validation-error"
	TypeUnauthorized = "https://gtm.modernagencysales.com/problems/unauthorized"
	TypeNotFound     = "https://gtm.modernagencysales.com/problems/not-found"
	TypeConflict     = "https://gtm.modernagencysales.com/problems/conflict"
	TypeUpstream     = "https://gtm.modernagencysales.com/problems/upstream-error"
	TypeInternal     = "https://gtm.modernagencysales.com/problems/internal-error"
)

// Details is an application/problem+json body. Errors carries per-field
// messages for validation failures.
type Details struct {
	Type   string              `json:"type,omitempty"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Stage  string              `json:"stage,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func New(status int, title, detail, problemType string) Details {
	return Details{Type: problemType, Title: title, Status: status, Detail: detail}
}

// WithFields attaches one message per field.
func (d Details) WithFields(fields map[string]string) Details {
	if len(fields) == 0 {
		return d
	}
	d.Errors = make(map[string][]string, len(fields))
	for field, msg := range fields {
		d.Errors[field] = []string{msg}
	}
	return d
}

// Write sends d with its status code.
func Write(w http.ResponseWriter, d Details) {
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

// JSON sends body as application/json.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Internal is the generic response for unexpected failures. Provisioning
// problems are not self-service, so it points the user at support.
func Internal() Details {
	return New(http.StatusInternalServerError, "Internal server error",
		"Something went wrong on our side. Please contact support if this keeps happening.", TypeInternal)
}
