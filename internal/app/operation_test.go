package app

import (
	"testing"
	"time"

	"docsync-go/internal/testutil"
)

func TestNewOperation(t *testing.T) {
	clock := testutil.NewStubClock(time.Date(2024, 3, 9, 8, 7, 6, 0, time.FixedZone("CET", 3600)))

	op := NewOperation("backup", clock)

	if op.ID != "20240309T070706Z" {
		t.Errorf("ID = %q, want %q", op.ID, "20240309T070706Z")
	}
	if op.StartedAt.Location() != time.UTC {
		t.Errorf("StartedAt location = %v, want UTC", op.StartedAt.Location())
	}

	clock.Advance(time.Second)
	if next := NewOperation("backup", clock); next.ID == op.ID {
		t.Errorf("operations a second apart share ID %q", op.ID)
	}
}

func TestOperation_TriggeredBy(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "backup", want: "cli:backup"},
		{name: "", want: "cli"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			op := &Operation{Name: tt.name}
			if got := op.TriggeredBy(); got != tt.want {
				t.Errorf("TriggeredBy() = %q, want %q", got, tt.want)
			}
		})
	}
}
