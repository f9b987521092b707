package data

import (
	"testing"
	"time"
)

func TestResolvePath(t *testing.T) {
	var root Object
	if err := root.UnmarshalJSON([]byte(`{
		"id": "top",
		"payload": {"id": "inner", "sku": "p-1", "tags": [{"name": "a"}, {"name": "b"}]},
		"data": {"sku": "d-1", "ref": 7}
	}`)); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		path string
		want Value
		ok   bool
	}{
		{"id", String("top"), true},
		{"payload.id", String("inner"), true},
		{"payload.tags.1.name", String("b"), true},
		{"sku", String("p-1"), true},
		{"ref", Number(7), true},
		{"tags.0.name", String("a"), true},
		{"payload.tags.5.name", Value{}, false},
		{"missing", Value{}, false},
		{"", Value{}, false},
	}
	for _, tc := range cases {
		got, ok := ResolvePath(&root, tc.path)
		if ok != tc.ok || (ok && !Equal(got, tc.want)) {
			t.Errorf("ResolvePath(%q) = %s, %v; want %s, %v", tc.path, Canonical(got), ok, Canonical(tc.want), tc.ok)
		}
	}

	if _, ok := ResolvePath(nil, "id"); ok {
		t.Error("nil root must not resolve")
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 10, 4, 10, 0, 0, 0, time.UTC)
	inputs := []string{
		"2025-10-04T10:00:00Z",
		"2025-10-04T12:00:00+02:00",
		"2025-10-04T10:00:00.123456",
		"2025-10-04T10:00",
		"2025-10-04 10:00:00",
	}
	for _, in := range inputs {
		ts, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", in, err)
			continue
		}
		if got := NormalizeTimestamp(ts); !got.Equal(want) || got.Location() != time.UTC {
			t.Errorf("ParseTimestamp(%q) normalized = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, ok := TimestampOf(Number(1)); ok {
		t.Error("numbers are not timestamps")
	}
	if got := FormatTimestamp(time.Date(2025, 1, 1, 1, 0, 0, 999, time.FixedZone("X", -3600))); got != "2025-01-01T02:00:00Z" {
		t.Errorf("FormatTimestamp = %s", got)
	}
}
