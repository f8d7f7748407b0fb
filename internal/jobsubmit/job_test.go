package jobsubmit

import "testing"

func TestNewAssignsNonEmptyID(t *testing.T) {
	j := New("pagerank", "/data/edges.txt", 3, 12)
	if j.ID == "" {
		t.Fatalf("expected New to assign a non-empty job id")
	}
	if j.Application != "pagerank" || j.DatasetLocation != "/data/edges.txt" {
		t.Fatalf("got %+v, fields not carried through", j)
	}
}

func TestNewAssignsDistinctIDs(t *testing.T) {
	a := New("pagerank", "/data/a.txt", 1, 1)
	b := New("pagerank", "/data/b.txt", 1, 1)
	if a.ID == b.ID {
		t.Fatalf("expected distinct job ids, got %q twice", a.ID)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []Job{
		{Application: "", DatasetLocation: "x", NumWorkers: 1, NumPartitions: 1},
		{Application: "pagerank", DatasetLocation: "", NumWorkers: 1, NumPartitions: 1},
		{Application: "pagerank", DatasetLocation: "x", NumWorkers: 0, NumPartitions: 1},
		{Application: "pagerank", DatasetLocation: "x", NumWorkers: 1, NumPartitions: 0},
	}
	for i, j := range cases {
		if err := j.Validate(); err == nil {
			t.Fatalf("case %d: expected Validate to reject %+v", i, j)
		}
	}
}

func TestValidateAcceptsWellFormedJob(t *testing.T) {
	j := New("sssp", "/data/edges.txt", 2, 4)
	if err := j.Validate(); err != nil {
		t.Fatalf("unexpected error validating a well-formed job: %v", err)
	}
}
