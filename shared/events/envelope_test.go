package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEnvelope() Envelope {
	assetID := uuid.New()
	return Envelope{
		EventID:    uuid.New(),
		EventType:  TypeCreate,
		NodeID:     "node-1",
		AssetID:    &assetID,
		OccurredAt: time.Now().UTC(),
		Data:       Payload{"name": "rack-42", "status": StatusActive},
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	if err := validEnvelope().Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Envelope)
		want   string
	}{
		{"missing event_id", func(e *Envelope) { e.EventID = uuid.Nil }, "event_id"},
		{"unknown event_type", func(e *Envelope) { e.EventType = "upsert" }, "event_type"},
		{"missing node_id", func(e *Envelope) { e.NodeID = "  " }, "node_id"},
		{"missing timestamp", func(e *Envelope) { e.OccurredAt = time.Time{} }, "timestamp"},
		{"missing asset_id", func(e *Envelope) { e.AssetID = nil }, "asset_id"},
		{"nil-uuid asset_id", func(e *Envelope) { id := uuid.Nil; e.AssetID = &id }, "asset_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validEnvelope()
			tc.mutate(&e)
			err := e.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateSystemMetricsWithoutAsset(t *testing.T) {
	e := validEnvelope()
	e.EventType = TypeSystemMetrics
	e.AssetID = nil
	if err := e.Validate(); err != nil {
		t.Fatalf("system_metrics without asset_id should pass, got %v", err)
	}
}

func TestPayloadUnmarshalRejectsDeepNesting(t *testing.T) {
	inner := `1`
	for i := 0; i < maxPayloadDepth+1; i++ {
		inner = `{"k":` + inner + `}`
	}
	var p Payload
	if err := json.Unmarshal([]byte(inner), &p); err == nil {
		t.Fatal("expected depth error")
	}
}

func TestPayloadNumbersDecodeAsFloat(t *testing.T) {
	var p Payload
	if err := json.Unmarshal([]byte(`{"count": 3, "ratio": 0.5, "tags": ["a", 1]}`), &p); err != nil {
		t.Fatal(err)
	}
	if f, ok := p.Float("count"); !ok || f != 3 {
		t.Fatalf("count = %v, %v", f, ok)
	}
	list, ok := p["tags"].([]any)
	if !ok || len(list) != 2 {
		t.Fatalf("tags = %#v", p["tags"])
	}
	if _, ok := list[1].(float64); !ok {
		t.Fatalf("list numbers should be float64, got %T", list[1])
	}
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	e := validEnvelope()
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"timestamp"`) {
		t.Fatalf("wire format must use timestamp, got %s", b)
	}
	var got Envelope
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.EventID != e.EventID || got.EventType != e.EventType {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, e)
	}
	if s, ok := got.Data.String("name"); !ok || s != "rack-42" {
		t.Fatalf("payload lost: %+v", got.Data)
	}
}
