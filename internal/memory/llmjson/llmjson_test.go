package llmjson

import "testing"

func TestExtract_FencedBlockPreferred(t *testing.T) {
	reply := "here you go:\n```json\n{\"a\": 1}\n```\nhope that helps"
	got, err := Extract(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"a": 1}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestExtract_FallsBackToFirstBalancedObject(t *testing.T) {
	reply := `noise {"a": {"b": 1}} trailing`
	got, err := Extract(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"a": {"b": 1}}` {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestFirstObject_HandlesBracesInsideStrings(t *testing.T) {
	reply := `{"text": "contains a } brace"}`
	got, err := FirstObject(reply)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != reply {
		t.Fatalf("unexpected extraction: %q", got)
	}
}

func TestFirstObject_NoObjectIsError(t *testing.T) {
	if _, err := FirstObject("no json here"); err == nil {
		t.Fatal("expected an error")
	}
}
