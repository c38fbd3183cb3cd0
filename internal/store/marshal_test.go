package store

import (
	"database/sql"
	"testing"
)

func TestMarshalDocument_RoundTrip(t *testing.T) {
	doc := map[string]any{
		"title": "Interesting Times",
		"isbn":  []any{"111", "222"},
	}

	data, err := marshalDocument(doc)
	if err != nil {
		t.Fatalf("marshalDocument() failed: %v", err)
	}

	got, err := unmarshalDocument(sql.NullString{String: data, Valid: true})
	if err != nil {
		t.Fatalf("unmarshalDocument() failed: %v", err)
	}
	if got["title"] != "Interesting Times" {
		t.Errorf("title = %v, want Interesting Times", got["title"])
	}
	isbn, ok := got["isbn"].([]any)
	if !ok || len(isbn) != 2 {
		t.Errorf("isbn = %v, want two-element list", got["isbn"])
	}
}

func TestMarshalNullableDocument_Nil(t *testing.T) {
	v, err := marshalNullableDocument(nil)
	if err != nil {
		t.Fatalf("marshalNullableDocument(nil) failed: %v", err)
	}
	if v != nil {
		t.Errorf("marshalNullableDocument(nil) = %v, want nil", v)
	}
}

func TestUnmarshalDocument_Null(t *testing.T) {
	for _, data := range []sql.NullString{
		{},
		{String: "", Valid: true},
		{String: "null", Valid: true},
	} {
		got, err := unmarshalDocument(data)
		if err != nil {
			t.Fatalf("unmarshalDocument(%+v) failed: %v", data, err)
		}
		if got != nil {
			t.Errorf("unmarshalDocument(%+v) = %v, want nil", data, got)
		}
	}
}

func TestUnmarshalDocument_Invalid(t *testing.T) {
	_, err := unmarshalDocument(sql.NullString{String: "{not json", Valid: true})
	if err == nil {
		t.Error("expected error for invalid JSON, got nil")
	}
}
