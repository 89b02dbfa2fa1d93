package llm

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/syedsabbir-git/ClassSync-sub001/internal/model"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func spanAttr(s sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestCallSpans(t *testing.T) {
	req := model.QuizRequest{Topic: "Cells", Kind: model.KindMultipleChoice}

	tests := []struct {
		name        string
		status      int
		content     string
		wantStatus  codes.Code
		wantOutcome string
	}{
		{"success", http.StatusOK, mcqJSON(15), codes.Unset, ""},
		{"transport failure", http.StatusInternalServerError, "", codes.Error, string(KindTransport)},
		{"prose response", http.StatusOK, "No JSON here.", codes.Error, string(KindContractViolation)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := recordSpans(t)
			var hits atomic.Int32
			srv := fakeLLM(t, tt.status, tt.content, &hits)

			_, _ = testClient(srv.URL, "test-key").GenerateQuiz(context.Background(), req)

			ended := sr.Ended()
			if len(ended) != 1 {
				t.Fatalf("got %d ended spans, want 1", len(ended))
			}
			s := ended[0]
			if s.Name() != "llm.generate_quiz" {
				t.Errorf("Name() = %q", s.Name())
			}
			if s.SpanKind() != trace.SpanKindClient {
				t.Errorf("SpanKind() = %v, want client", s.SpanKind())
			}
			if v, ok := spanAttr(s, "llm.model"); !ok || v.AsString() != "test-model" {
				t.Errorf("llm.model = %v, %v", v.AsString(), ok)
			}
			if s.Status().Code != tt.wantStatus {
				t.Errorf("Status() = %v, want %v", s.Status().Code, tt.wantStatus)
			}
			v, ok := spanAttr(s, "llm.outcome")
			if tt.wantOutcome == "" {
				if ok {
					t.Errorf("unexpected llm.outcome %q", v.AsString())
				}
				if q, _ := spanAttr(s, "quiz.questions"); q.AsInt64() != 15 {
					t.Errorf("quiz.questions = %d, want 15", q.AsInt64())
				}
				return
			}
			if !ok || v.AsString() != tt.wantOutcome {
				t.Errorf("llm.outcome = %q, want %q", v.AsString(), tt.wantOutcome)
			}
		})
	}
}

func TestMissingKeyStartsNoSpan(t *testing.T) {
	sr := recordSpans(t)
	_, err := testClient("http://unused", "").GenerateQuiz(context.Background(), model.QuizRequest{Topic: "x", Kind: model.KindShortAnswer})
	if !IsKind(err, KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if n := len(sr.Started()); n != 0 {
		t.Errorf("got %d spans, want none before any call is attempted", n)
	}
}

func TestSpanJoinsCallerTrace(t *testing.T) {
	sr := recordSpans(t)
	var hits atomic.Int32
	srv := fakeLLM(t, http.StatusOK, mcqJSON(15), &hits)

	ctx, parent := otel.Tracer("test").Start(context.Background(), "request")
	_, err := testClient(srv.URL, "test-key").GenerateQuiz(ctx, model.QuizRequest{Topic: "Cells", Kind: model.KindMultipleChoice})
	parent.End()
	if err != nil {
		t.Fatalf("GenerateQuiz: %v", err)
	}

	var child sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		if s.Name() == "llm.generate_quiz" {
			child = s
		}
	}
	if child == nil {
		t.Fatal("no llm span recorded")
	}
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("llm span is not a child of the caller's span")
	}
	if child.SpanContext().TraceID() != parent.SpanContext().TraceID() {
		t.Error("llm span is in a different trace")
	}
}
