package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestDispatchSuccess(t *testing.T) {
	r := New()
	r.Handle(TypeSendMessage, TypeMessageResponse, func(_ context.Context, payload json.RawMessage, tabID string) (any, error) {
		var p SendMessagePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		if tabID != "42" {
			t.Errorf("handler tabID = %q, want 42", tabID)
		}
		return MessageResponsePayload{Content: "echo: " + p.Message}, nil
	})

	payload, _ := json.Marshal(SendMessagePayload{Message: "hi", TabID: "42"})
	resp, ok := r.Dispatch(context.Background(), Envelope{
		Type:      TypeSendMessage,
		RequestID: "req-1",
		TabID:     "42",
		Payload:   payload,
	})
	if !ok {
		t.Fatal("Dispatch returned no reply for a known type")
	}
	if resp.Type != TypeMessageResponse {
		t.Errorf("response type = %s, want MESSAGE_RESPONSE", resp.Type)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("response requestId = %q, want req-1", resp.RequestID)
	}
	var mp MessageResponsePayload
	if err := json.Unmarshal(resp.Payload, &mp); err != nil {
		t.Fatalf("bad response payload: %v", err)
	}
	if mp.Content != "echo: hi" {
		t.Errorf("content = %q", mp.Content)
	}
}

func TestDispatchHandlerErrorBecomesErrorEnvelope(t *testing.T) {
	r := New()
	r.Handle(TypeSendMessage, TypeMessageResponse, func(context.Context, json.RawMessage, string) (any, error) {
		return nil, errors.New("model endpoint returned 500")
	})

	resp, ok := r.Dispatch(context.Background(), Envelope{Type: TypeSendMessage, RequestID: "r"})
	if !ok {
		t.Fatal("error path must still deliver exactly one reply")
	}
	if resp.Type != TypeError {
		t.Fatalf("response type = %s, want ERROR", resp.Type)
	}
	var ep ErrorPayload
	if err := json.Unmarshal(resp.Payload, &ep); err != nil {
		t.Fatalf("bad error payload: %v", err)
	}
	if ep.Error != "model endpoint returned 500" {
		t.Errorf("error = %q", ep.Error)
	}
}

func TestDispatchHandlerPanicBecomesErrorEnvelope(t *testing.T) {
	r := New()
	r.Handle(TypeGetSettings, TypeSettingsResponse, func(context.Context, json.RawMessage, string) (any, error) {
		panic("nil settings")
	})

	resp, ok := r.Dispatch(context.Background(), Envelope{Type: TypeGetSettings})
	if !ok {
		t.Fatal("panic path must still deliver exactly one reply")
	}
	if resp.Type != TypeError {
		t.Errorf("response type = %s, want ERROR", resp.Type)
	}
}

func TestDispatchUnknownTypeNoReply(t *testing.T) {
	r := New()
	if _, ok := r.Dispatch(context.Background(), Envelope{Type: "BOGUS"}); ok {
		t.Error("unknown type must produce no reply")
	}
}

func TestHandleReplacesExisting(t *testing.T) {
	r := New()
	r.Handle(TypeGetSettings, TypeSettingsResponse, func(context.Context, json.RawMessage, string) (any, error) {
		return map[string]any{"v": 1}, nil
	})
	r.Handle(TypeGetSettings, TypeSettingsResponse, func(context.Context, json.RawMessage, string) (any, error) {
		return map[string]any{"v": 2}, nil
	})

	resp, _ := r.Dispatch(context.Background(), Envelope{Type: TypeGetSettings})
	var got map[string]int
	if err := json.Unmarshal(resp.Payload, &got); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if got["v"] != 2 {
		t.Errorf("dispatched to old handler, v = %d", got["v"])
	}
}
