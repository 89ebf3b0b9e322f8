package models

import (
	"encoding/json"
	"strings"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
)

// Priority bounds. Higher is more important.
const (
	MinPriority = 1
	MaxPriority = 5
)

// RequestStatus tracks whether a request is ready for solving
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestResolved RequestStatus = "resolved"
	RequestDeclined RequestStatus = "declined"
)

// RequestType names the kind of preference
type RequestType string

const (
	TypeBunkWith      RequestType = "bunk_with"
	TypeNotBunkWith   RequestType = "not_bunk_with"
	TypeAgePreference RequestType = "age_preference"
)

// AgeDirection is the direction of an age preference
type AgeDirection string

const (
	Older   AgeDirection = "older"
	Younger AgeDirection = "younger"
)

// Preference is the closed set of request payloads:
// BunkWith, NotBunkWith and AgePreference.
type Preference interface {
	Type() RequestType
	isPreference()
}

// BunkWith asks to share a bunk with Target
type BunkWith struct{ Target string }

// NotBunkWith asks to be kept apart from Target
type NotBunkWith struct{ Target string }

// AgePreference asks for at least one bunkmate older or younger than the requester
type AgePreference struct{ Direction AgeDirection }

func (BunkWith) Type() RequestType      { return TypeBunkWith }
func (NotBunkWith) Type() RequestType   { return TypeNotBunkWith }
func (AgePreference) Type() RequestType { return TypeAgePreference }

func (BunkWith) isPreference()      {}
func (NotBunkWith) isPreference()   {}
func (AgePreference) isPreference() {}

// Request is a structured bunking preference
type Request struct {
	ID              string
	RequesterID     string
	Preference      Preference
	Priority        int
	Status          RequestStatus
	Locked          bool
	ConflictGroupID string
	Confidence      float64
}

// Target returns the other camper named by the request, if any
func (r Request) Target() string {
	switch p := r.Preference.(type) {
	case BunkWith:
		return p.Target
	case NotBunkWith:
		return p.Target
	}
	return ""
}

// Type returns the preference type
func (r Request) Type() RequestType {
	if r.Preference == nil {
		return ""
	}
	return r.Preference.Type()
}

// RawRequest is the loosely typed record produced by the upstream parser
type RawRequest struct {
	ID              string   `json:"id" yaml:"id"`
	RequesterID     string   `json:"requester_id" yaml:"requester_id"`
	TargetID        *string  `json:"target_id,omitempty" yaml:"target_id,omitempty"`
	Type            string   `json:"type" yaml:"type"`
	Direction       *string  `json:"direction,omitempty" yaml:"direction,omitempty"`
	Priority        int      `json:"priority" yaml:"priority"`
	Status          string   `json:"status" yaml:"status"`
	Locked          bool     `json:"locked,omitempty" yaml:"locked,omitempty"`
	ConflictGroupID string   `json:"conflict_group_id,omitempty" yaml:"conflict_group_id,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// ParseRequest validates a raw record into a Request.
// Records that do not conform are rejected with CodeInvalidInput.
func ParseRequest(raw RawRequest) (Request, error) {
	if raw.ID == "" {
		return Request{}, apperr.New(apperr.CodeInvalidInput, "request id is required")
	}
	if raw.RequesterID == "" {
		return Request{}, apperr.New(apperr.CodeInvalidInput, "request %s has no requester", raw.ID)
	}
	if raw.Priority < MinPriority || raw.Priority > MaxPriority {
		return Request{}, apperr.New(apperr.CodeInvalidInput, "request %s priority %d outside %d-%d", raw.ID, raw.Priority, MinPriority, MaxPriority)
	}

	req := Request{
		ID:              raw.ID,
		RequesterID:     raw.RequesterID,
		Priority:        raw.Priority,
		Locked:          raw.Locked,
		ConflictGroupID: raw.ConflictGroupID,
		Confidence:      1,
	}

	switch status := RequestStatus(strings.ToLower(raw.Status)); status {
	case RequestPending, RequestResolved, RequestDeclined:
		req.Status = status
	case "":
		req.Status = RequestPending
	default:
		return Request{}, apperr.New(apperr.CodeInvalidInput, "request %s has unknown status %q", raw.ID, raw.Status)
	}

	if raw.Confidence != nil {
		if *raw.Confidence < 0 || *raw.Confidence > 1 {
			return Request{}, apperr.New(apperr.CodeInvalidInput, "request %s confidence %v outside 0-1", raw.ID, *raw.Confidence)
		}
		req.Confidence = *raw.Confidence
	}

	target := ""
	if raw.TargetID != nil {
		target = strings.TrimSpace(*raw.TargetID)
	}

	switch RequestType(strings.ToLower(raw.Type)) {
	case TypeBunkWith:
		if target == "" {
			return Request{}, apperr.New(apperr.CodeInvalidInput, "request %s: bunk_with needs a target", raw.ID)
		}
		req.Preference = BunkWith{Target: target}
	case TypeNotBunkWith:
		if target == "" {
			return Request{}, apperr.New(apperr.CodeInvalidInput, "request %s: not_bunk_with needs a target", raw.ID)
		}
		req.Preference = NotBunkWith{Target: target}
	case TypeAgePreference:
		if raw.Direction == nil {
			return Request{}, apperr.New(apperr.CodeInvalidInput, "request %s: age_preference needs a direction", raw.ID)
		}
		dir := AgeDirection(strings.ToLower(*raw.Direction))
		if dir != Older && dir != Younger {
			return Request{}, apperr.New(apperr.CodeInvalidInput, "request %s: unknown direction %q", raw.ID, *raw.Direction)
		}
		req.Preference = AgePreference{Direction: dir}
	default:
		return Request{}, apperr.New(apperr.CodeInvalidInput, "request %s has unknown type %q", raw.ID, raw.Type)
	}
	return req, nil
}

// Raw converts the request back to its wire shape
func (r Request) Raw() RawRequest {
	raw := RawRequest{
		ID:              r.ID,
		RequesterID:     r.RequesterID,
		Type:            string(r.Type()),
		Priority:        r.Priority,
		Status:          string(r.Status),
		Locked:          r.Locked,
		ConflictGroupID: r.ConflictGroupID,
	}
	conf := r.Confidence
	raw.Confidence = &conf
	if t := r.Target(); t != "" {
		raw.TargetID = &t
	}
	if p, ok := r.Preference.(AgePreference); ok {
		d := string(p.Direction)
		raw.Direction = &d
	}
	return raw
}

func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Raw())
}

func (r *Request) UnmarshalJSON(data []byte) error {
	var raw RawRequest
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRequest(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
