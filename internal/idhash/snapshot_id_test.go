package idhash

import (
	"testing"
	"time"
)

func TestComputeSnapshotID(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	body := []byte(`{"data":[]}`)

	got := ComputeSnapshotID(at, "USD", body)
	if len(got) < 43 || len(got) > 44 {
		t.Errorf("ComputeSnapshotID() length = %d, want 43 or 44", len(got))
	}

	// Same inputs produce same output
	if again := ComputeSnapshotID(at, "USD", body); again != got {
		t.Errorf("ComputeSnapshotID() not deterministic: %s != %s", got, again)
	}
}

func TestComputeSnapshotID_DifferentInputs(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	body := []byte(`{"data":[]}`)
	base := ComputeSnapshotID(at, "USD", body)

	variants := map[string]string{
		"time":     ComputeSnapshotID(at.Add(time.Millisecond), "USD", body),
		"currency": ComputeSnapshotID(at, "EUR", body),
		"body":     ComputeSnapshotID(at, "USD", []byte(`{"data":[{}]}`)),
	}
	for name, id := range variants {
		if id == base {
			t.Errorf("changing %s did not change the id", name)
		}
	}
}
