// Package event defines the closed set of job-lifecycle event kinds and the
// canonical delivery payload for each. The translation here is pure: both
// the broker consumer and the webhook handlers feed through it, so a payload
// reaching a client is bit-identical regardless of ingestion path.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind enumerates the job-lifecycle event kinds. The set is closed;
// routing switches over it exhaustively so a new kind is a compile-time
// visible change.
type Kind int

const (
	KindStarted Kind = iota
	KindCompleted
	KindFailed
	KindUnknown // assessment type not recognized by upstream
)

func (k Kind) String() string {
	switch k {
	case KindStarted:
		return "started"
	case KindCompleted:
		return "completed"
	case KindFailed:
		return "failed"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Delivery event names pushed to clients.
const (
	EventAnalysisStarted  = "analysis-started"
	EventAnalysisComplete = "analysis-complete"
	EventAnalysisFailed   = "analysis-failed"
	EventAnalysisUnknown  = "analysis-unknown"
)

// Broker eventType values, matching the topic routing keys.
const (
	TypeStarted   = "analysis.started"
	TypeCompleted = "analysis.completed"
	TypeFailed    = "analysis.failed"
)

// Upstream marks a failed job as an unsupported input with this errorType.
const errorTypeUnknownAssessment = "unknown_assessment_type"

// Defaults applied when upstream omits optional hints.
const (
	defaultEstimatedTime    = "2-5 minutes"
	defaultStartedMessage   = "Your analysis is being processed"
	defaultCompletedMessage = "Your analysis is ready"
	defaultFailedMessage    = "Your analysis could not be processed"
)

// Status tokens carried in canonical payloads.
const (
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusFailed     = "failed"
)

var (
	ErrEmptyBody     = errors.New("empty message body")
	ErrMissingUserID = errors.New("missing userId")
	ErrMissingJobID  = errors.New("missing jobId")
)

// Metadata carries the kind-specific fields of a broker event record.
type Metadata struct {
	AssessmentName          string `json:"assessmentName"`
	EstimatedProcessingTime string `json:"estimatedProcessingTime,omitempty"`
	ProcessingTime          string `json:"processingTime,omitempty"`
	ErrorType               string `json:"errorType,omitempty"`
}

// Envelope is the structured event record carried in a broker message body.
type Envelope struct {
	EventType    string   `json:"eventType"`
	UserID       string   `json:"userId"`
	JobID        string   `json:"jobId"`
	ResultID     string   `json:"resultId,omitempty"`
	Message      string   `json:"message,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	Metadata     Metadata `json:"metadata"`
}

// Decode parses a broker message body into an Envelope. User id and job id
// are required on every kind; a body failing here is a poison message and
// belongs on the dead-letter path.
func Decode(body []byte) (*Envelope, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode event body: %w", err)
	}
	if env.UserID == "" {
		return nil, ErrMissingUserID
	}
	if env.JobID == "" {
		return nil, ErrMissingJobID
	}
	return &env, nil
}

// Kind resolves the event kind from the eventType field. Failed events whose
// metadata marks an unrecognized assessment type are promoted to KindUnknown
// so frontends can tell "processing error" from "unsupported input" without
// parsing the error message.
func (e *Envelope) Kind() (Kind, error) {
	switch e.EventType {
	case TypeStarted:
		return KindStarted, nil
	case TypeCompleted:
		return KindCompleted, nil
	case TypeFailed:
		if e.Metadata.ErrorType == errorTypeUnknownAssessment {
			return KindUnknown, nil
		}
		return KindFailed, nil
	default:
		return KindFailed, fmt.Errorf("unrecognized eventType %q", e.EventType)
	}
}

// Notification normalizes the envelope into the shared translation input.
func (e *Envelope) Notification(kind Kind) Notification {
	errMsg := e.ErrorMessage
	if errMsg == "" {
		errMsg = e.Metadata.ErrorType
	}
	return Notification{
		Kind:           kind,
		UserID:         e.UserID,
		JobID:          e.JobID,
		ResultID:       e.ResultID,
		AssessmentName: e.Metadata.AssessmentName,
		Message:        e.Message,
		ErrorMessage:   errMsg,
		EstimatedTime:  e.Metadata.EstimatedProcessingTime,
	}
}

// Notification is the normalized unit of work produced by either ingestion
// path. Canonicalization into a delivery payload happens in Payload.
type Notification struct {
	Kind           Kind
	UserID         string
	JobID          string
	ResultID       string
	AssessmentName string
	Message        string
	ErrorMessage   string
	EstimatedTime  string
}

// EventName returns the delivery event name for the notification's kind.
func (n Notification) EventName() string {
	switch n.Kind {
	case KindStarted:
		return EventAnalysisStarted
	case KindCompleted:
		return EventAnalysisComplete
	case KindFailed:
		return EventAnalysisFailed
	case KindUnknown:
		return EventAnalysisUnknown
	default:
		return EventAnalysisFailed
	}
}

// Payload builds the canonical delivery payload. Pure and deterministic:
// equal notifications always canonicalize to equal payloads.
func (n Notification) Payload() map[string]interface{} {
	switch n.Kind {
	case KindStarted:
		payload := map[string]interface{}{
			"jobId":          n.JobID,
			"status":         statusProcessing,
			"assessmentName": n.AssessmentName,
			"message":        stringOr(n.Message, defaultStartedMessage),
			"estimatedTime":  stringOr(n.EstimatedTime, defaultEstimatedTime),
		}
		if n.ResultID != "" {
			payload["resultId"] = n.ResultID
		}
		return payload

	case KindCompleted:
		return map[string]interface{}{
			"jobId":          n.JobID,
			"resultId":       n.ResultID,
			"status":         statusCompleted,
			"assessmentName": n.AssessmentName,
			"message":        stringOr(n.Message, defaultCompletedMessage),
		}

	default: // KindFailed and KindUnknown share the failure shape
		var resultID interface{}
		if n.ResultID != "" {
			resultID = n.ResultID
		}
		return map[string]interface{}{
			"jobId":          n.JobID,
			"resultId":       resultID,
			"status":         statusFailed,
			"assessmentName": n.AssessmentName,
			"errorMessage":   n.ErrorMessage,
			"message":        stringOr(n.Message, defaultFailedMessage),
		}
	}
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
