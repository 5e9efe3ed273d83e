package queryplan

import (
	"testing"

	"github.com/rpattn/querygate/internal/domain"
)

func TestFingerprint_Stable(t *testing.T) {
	id := testIdentity("reader")
	plan := domain.QueryPlan{
		Version:      domain.SupportedPlanVersion,
		TargetEntity: "orders",
		Fields:       []domain.FieldDescriptor{{Name: "status", Alias: "status"}},
	}

	a, err := Fingerprint(id, plan)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	b, err := Fingerprint(id, plan)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	if a != b {
		t.Fatalf("expected stable fingerprint, got %s vs %s", a, b)
	}
}

func TestFingerprint_DiffersByIdentityAndPlan(t *testing.T) {
	plan := domain.QueryPlan{Version: domain.SupportedPlanVersion, TargetEntity: "orders"}

	a, _ := Fingerprint(testIdentity("reader"), plan)
	b, _ := Fingerprint(testIdentity("admin"), plan)
	if a == b {
		t.Fatalf("different identities must not share a fingerprint")
	}

	id := testIdentity("reader")
	other := plan
	other.TargetEntity = "customers"
	c, _ := Fingerprint(id, plan)
	d, _ := Fingerprint(id, other)
	if c == d {
		t.Fatalf("different plans must not share a fingerprint")
	}
}

func TestFingerprint_CursorStringIgnored(t *testing.T) {
	id := testIdentity()
	plan := domain.QueryPlan{Version: domain.SupportedPlanVersion, TargetEntity: "orders"}
	plan.Pagination = domain.PaginationState{Mode: domain.PaginationModeCursor, Limit: 100, Offset: 200, Cursor: "token-a"}

	other := plan.WithPagination(domain.PaginationState{Mode: domain.PaginationModeCursor, Limit: 100, Offset: 200, Cursor: "token-b"})

	a, _ := Fingerprint(id, plan)
	b, _ := Fingerprint(id, other)
	if a != b {
		t.Fatalf("cursors decoding to the same offset must share a fingerprint")
	}

	moved := plan.WithPagination(domain.PaginationState{Mode: domain.PaginationModeCursor, Limit: 100, Offset: 300})
	c, _ := Fingerprint(id, moved)
	if a == c {
		t.Fatalf("different offsets must not share a fingerprint")
	}
}
