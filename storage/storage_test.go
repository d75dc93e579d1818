package storage

import (
	"testing"
)

func TestDecodeVisitEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"org-1","RowKey":"v1","MemberId":"m1","MemberName":"Ana Torres","GymId":"gym-5","CheckinAt":"2026-08-28T07:30:00Z","CheckoutAt":""}`)
	ent, err := decodeVisitEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ent.MemberID != "m1" || ent.GymID != "gym-5" {
		t.Fatalf("unexpected entity: %+v", ent)
	}
	if ent.CheckoutAt != "" {
		t.Fatalf("expected active visit, got checkout %q", ent.CheckoutAt)
	}
}
