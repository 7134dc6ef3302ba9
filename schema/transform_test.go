package schema_test

import (
	"testing"
	"time"

	"github.com/fospitia/dynorm/schema"
)

func compileUser(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Compile(testDocument(), "User")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return s
}

func TestToRecord(t *testing.T) {
	s := compileUser(t)
	created := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		attrs map[string]any
		want  map[string]any
	}{
		{
			name: "flattens resolved relation through join",
			attrs: map[string]any{
				"id":      "u1",
				"account": map[string]any{"id": "a1", "plan": "basic"},
			},
			want: map[string]any{"id": "u1", "accountId": "a1"},
		},
		{
			name: "stores unresolved scalar relation under local attribute",
			attrs: map[string]any{
				"id":      "u1",
				"account": "a1",
			},
			want: map[string]any{"id": "u1", "accountId": "a1"},
		},
		{
			name: "encodes date attributes as epoch milliseconds",
			attrs: map[string]any{
				"id":                 "u1",
				schema.CreatedAtAttr: created,
				schema.UpdatedAtAttr: "2024-03-01T12:30:00Z",
			},
			want: map[string]any{
				"id":                 "u1",
				schema.CreatedAtAttr: created.UnixMilli(),
				schema.UpdatedAtAttr: created.UnixMilli(),
			},
		},
		{
			name:  "drops nil and undeclared attributes",
			attrs: map[string]any{"id": "u1", "email": nil, "bogus": "x"},
			want:  map[string]any{"id": "u1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.ToRecord(tt.attrs)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, want := range tt.want {
				if got[k] != want {
					t.Errorf("record[%q] = %v (%T), want %v (%T)", k, got[k], got[k], want, want)
				}
			}
		})
	}
}

func TestFromRecord(t *testing.T) {
	s := compileUser(t)

	t.Run("synthesizes relation stub from join attribute", func(t *testing.T) {
		attrs := s.FromRecord(map[string]any{"id": "u1", "accountId": "a1"})
		stub, ok := attrs["account"].(map[string]any)
		if !ok {
			t.Fatalf("expected stub map under 'account', got %T", attrs["account"])
		}
		if stub["id"] != "a1" {
			t.Errorf("stub = %v, want id=a1", stub)
		}
		if _, ok := attrs["accountId"]; ok {
			t.Error("join attribute should be claimed by the stub")
		}
	})

	t.Run("keeps nested relation value", func(t *testing.T) {
		nested := map[string]any{"id": "a1", "plan": "basic"}
		attrs := s.FromRecord(map[string]any{"id": "u1", "account": nested})
		got, ok := attrs["account"].(map[string]any)
		if !ok || got["plan"] != "basic" {
			t.Errorf("expected nested value preserved, got %v", attrs["account"])
		}
	})

	t.Run("decodes epoch milliseconds into time.Time", func(t *testing.T) {
		ms := int64(1709296200000)
		attrs := s.FromRecord(map[string]any{"id": "u1", schema.CreatedAtAttr: ms})
		got, ok := attrs[schema.CreatedAtAttr].(time.Time)
		if !ok {
			t.Fatalf("expected time.Time, got %T", attrs[schema.CreatedAtAttr])
		}
		if got.UnixMilli() != ms {
			t.Errorf("got %v, want epoch %d", got, ms)
		}
	})

	t.Run("decodes numbers unmarshaled as float64", func(t *testing.T) {
		attrs := s.FromRecord(map[string]any{"id": "u1", schema.UpdatedAtAttr: float64(1709296200000)})
		if _, ok := attrs[schema.UpdatedAtAttr].(time.Time); !ok {
			t.Errorf("expected time.Time, got %T", attrs[schema.UpdatedAtAttr])
		}
	})
}

func TestRecordRoundTrip(t *testing.T) {
	s := compileUser(t)
	record := map[string]any{
		"id":                 "u1",
		"email":              "a@x.com",
		"accountId":          "a1",
		schema.CreatedAtAttr: int64(1709296200000),
	}

	got := s.ToRecord(s.FromRecord(record))
	if len(got) != len(record) {
		t.Fatalf("round trip changed shape: %v vs %v", got, record)
	}
	for k, want := range record {
		if got[k] != want {
			t.Errorf("record[%q] = %v, want %v", k, got[k], want)
		}
	}
}

func TestParseJSON(t *testing.T) {
	v, err := schema.ParseJSON(`{
		"id": "u1",
		"createdAt": "2024-03-01T12:30:00Z",
		"tags": ["2024-03-01T12:30:00.500+01:00", "plain"],
		"count": 3
	}`)
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	m := v.(map[string]any)

	if _, ok := m["createdAt"].(time.Time); !ok {
		t.Errorf("expected createdAt revived, got %T", m["createdAt"])
	}
	tags := m["tags"].([]any)
	if _, ok := tags[0].(time.Time); !ok {
		t.Errorf("expected offset timestamp revived, got %T", tags[0])
	}
	if tags[1] != "plain" {
		t.Errorf("plain string altered: %v", tags[1])
	}
	if m["id"] != "u1" {
		t.Errorf("id altered: %v", m["id"])
	}
	if m["count"] != float64(3) {
		t.Errorf("count altered: %v", m["count"])
	}

	if _, err := schema.ParseJSON(`{`); err == nil {
		t.Error("expected error for malformed json")
	}
}
