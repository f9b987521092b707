package common

import "testing"

func TestContainsAny(t *testing.T) {
	msg := `pq: Duplicate key value violates unique constraint "uq"`
	if !ContainsAny(msg, "duplicate key value") {
		t.Error("match should ignore case")
	}
	if ContainsAny(msg, "deadlock", "timeout") {
		t.Error("unexpected match")
	}
	if ContainsAny(msg) {
		t.Error("no substrings never match")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" asset_id, ,timestamp ,", ",")
	if len(got) != 2 || got[0] != "asset_id" || got[1] != "timestamp" {
		t.Errorf("SplitList = %q", got)
	}
	if got := SplitList("", ","); got != nil {
		t.Errorf("empty input = %q", got)
	}
}
