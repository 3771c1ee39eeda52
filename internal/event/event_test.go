package event

import (
	"reflect"
	"testing"
)

func TestDecode_ValidStartedEvent(t *testing.T) {
	body := []byte(`{
		"eventType": "analysis.started",
		"userId": "user-1",
		"jobId": "job-1",
		"metadata": {"assessmentName": "Big Five", "estimatedProcessingTime": "3 minutes"}
	}`)

	env, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	kind, err := env.Kind()
	if err != nil {
		t.Fatalf("Kind failed: %v", err)
	}
	if kind != KindStarted {
		t.Errorf("Expected KindStarted, got %v", kind)
	}
	if env.UserID != "user-1" || env.JobID != "job-1" {
		t.Errorf("Unexpected identifiers: user=%q job=%q", env.UserID, env.JobID)
	}
	if env.Metadata.AssessmentName != "Big Five" {
		t.Errorf("Expected assessment name to survive decode, got %q", env.Metadata.AssessmentName)
	}
}

func TestDecode_RejectsMalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"empty body", nil},
		{"invalid JSON", []byte(`{not json`)},
		{"missing userId", []byte(`{"eventType":"analysis.failed","jobId":"j1"}`)},
		{"missing jobId", []byte(`{"eventType":"analysis.failed","userId":"u1"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.body); err == nil {
				t.Error("Expected decode error, got nil")
			}
		})
	}
}

func TestEnvelope_KindResolution(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		errorType string
		want      Kind
		wantErr   bool
	}{
		{"started", TypeStarted, "", KindStarted, false},
		{"completed", TypeCompleted, "", KindCompleted, false},
		{"failed", TypeFailed, "validation_error", KindFailed, false},
		{"unknown assessment promoted", TypeFailed, "unknown_assessment_type", KindUnknown, false},
		{"unrecognized eventType", "analysis.paused", "", KindFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := &Envelope{EventType: tt.eventType, Metadata: Metadata{ErrorType: tt.errorType}}
			kind, err := env.Kind()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Kind error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && kind != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, kind)
			}
		})
	}
}

func TestNotification_StartedPayloadDefaults(t *testing.T) {
	n := Notification{
		Kind:           KindStarted,
		UserID:         "u1",
		JobID:          "j1",
		AssessmentName: "Big Five",
	}

	payload := n.Payload()

	if payload["status"] != "processing" {
		t.Errorf("Expected status processing, got %v", payload["status"])
	}
	if payload["estimatedTime"] != "2-5 minutes" {
		t.Errorf("Expected default estimated time, got %v", payload["estimatedTime"])
	}
	if payload["message"] == "" {
		t.Error("Expected default message for started event")
	}
	if _, present := payload["resultId"]; present {
		t.Error("Absent result id should be omitted from started payload")
	}

	if n.EventName() != EventAnalysisStarted {
		t.Errorf("Expected %s, got %s", EventAnalysisStarted, n.EventName())
	}
}

func TestNotification_FailedPayloadNullResultID(t *testing.T) {
	n := Notification{
		Kind:           KindFailed,
		UserID:         "u1",
		JobID:          "j1",
		AssessmentName: "Big Five",
		ErrorMessage:   "model crashed",
	}

	payload := n.Payload()

	resultID, present := payload["resultId"]
	if !present {
		t.Fatal("Failed payload must carry resultId key")
	}
	if resultID != nil {
		t.Errorf("Absent result id must serialize as null, got %v", resultID)
	}
	if payload["errorMessage"] != "model crashed" {
		t.Errorf("Expected error message to pass through, got %v", payload["errorMessage"])
	}
	if payload["status"] != "failed" {
		t.Errorf("Expected status failed, got %v", payload["status"])
	}
}

func TestNotification_UnknownSharesFailedShape(t *testing.T) {
	failed := Notification{Kind: KindFailed, JobID: "j1", AssessmentName: "A", ErrorMessage: "e"}
	unknown := Notification{Kind: KindUnknown, JobID: "j1", AssessmentName: "A", ErrorMessage: "e"}

	if !reflect.DeepEqual(failed.Payload(), unknown.Payload()) {
		t.Error("Unknown-type payload shape must match failed payload shape")
	}
	if unknown.EventName() != EventAnalysisUnknown {
		t.Errorf("Expected distinct event name %s, got %s", EventAnalysisUnknown, unknown.EventName())
	}
}

// The core dual-path property: a completed event canonicalized from a broker
// envelope must be identical to one built directly from webhook fields.
func TestNotification_BrokerAndWebhookPathsProduceIdenticalPayloads(t *testing.T) {
	body := []byte(`{
		"eventType": "analysis.completed",
		"userId": "u1",
		"jobId": "j1",
		"resultId": "r1",
		"metadata": {"assessmentName": "Big Five"}
	}`)

	env, err := Decode(body)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	kind, err := env.Kind()
	if err != nil {
		t.Fatalf("Kind failed: %v", err)
	}
	fromBroker := env.Notification(kind)

	fromWebhook := Notification{
		Kind:           KindCompleted,
		UserID:         "u1",
		JobID:          "j1",
		ResultID:       "r1",
		AssessmentName: "Big Five",
	}

	if fromBroker.EventName() != fromWebhook.EventName() {
		t.Errorf("Event names diverge: %s vs %s", fromBroker.EventName(), fromWebhook.EventName())
	}
	if !reflect.DeepEqual(fromBroker.Payload(), fromWebhook.Payload()) {
		t.Errorf("Canonical payloads diverge:\nbroker:  %#v\nwebhook: %#v",
			fromBroker.Payload(), fromWebhook.Payload())
	}
}

func TestNotification_ErrorMessageFallsBackToErrorType(t *testing.T) {
	env := &Envelope{
		EventType: TypeFailed,
		UserID:    "u1",
		JobID:     "j1",
		Metadata:  Metadata{AssessmentName: "A", ErrorType: "unknown_assessment_type"},
	}
	kind, _ := env.Kind()
	n := env.Notification(kind)

	if n.ErrorMessage != "unknown_assessment_type" {
		t.Errorf("Expected errorType fallback, got %q", n.ErrorMessage)
	}
}
