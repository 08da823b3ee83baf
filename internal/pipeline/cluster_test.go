package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/crisisops/floodwatch/internal/gemini"
	"github.com/crisisops/floodwatch/internal/models"
)

// clusterStoreFake is an in-memory ClusterStore with real grouping semantics:
// reports flip to grouped atomically with event creation, attempt caps filter
// the backlog.
type clusterStoreFake struct {
	reports  []models.IncidentReport
	events   []models.Event
	locked   bool // simulate a concurrent run holding the lock
	createErr error
}

type fakeReport struct {
	id       int64
	location string
	issue    string
	original string
}

func newClusterStore(reports ...fakeReport) *clusterStoreFake {
	f := &clusterStoreFake{}
	for _, r := range reports {
		f.reports = append(f.reports, models.IncidentReport{
			ID:           r.id,
			Location:     r.location,
			Issue:        r.issue,
			OriginalText: r.original,
			Status:       models.ReportUnprocessed,
		})
	}
	return f
}

func (f *clusterStoreFake) AcquireClusterLock(context.Context) (func(), bool, error) {
	if f.locked {
		return nil, false, nil
	}
	f.locked = true
	return func() { f.locked = false }, true, nil
}

func (f *clusterStoreFake) UnprocessedReports(_ context.Context, maxAttempts int) ([]models.IncidentReport, error) {
	var out []models.IncidentReport
	for _, r := range f.reports {
		if r.Status != models.ReportUnprocessed {
			continue
		}
		if maxAttempts > 0 && r.ClusterAttempts >= maxAttempts {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *clusterStoreFake) CreateEvent(_ context.Context, summary, location string, memberIDs []int64) (int64, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	for _, id := range memberIDs {
		r := f.find(id)
		if r == nil || r.Status != models.ReportUnprocessed {
			return 0, fmt.Errorf("report %d not groupable", id)
		}
	}
	for _, id := range memberIDs {
		f.find(id).Status = models.ReportGrouped
	}
	ev := models.Event{
		ID:              int64(len(f.events) + 1),
		Summary:         summary,
		Location:        location,
		SourceReportIDs: memberIDs,
		ReportCount:     len(memberIDs),
	}
	f.events = append(f.events, ev)
	return ev.ID, nil
}

func (f *clusterStoreFake) BumpClusterAttempts(_ context.Context, ids []int64) error {
	for _, id := range ids {
		if r := f.find(id); r != nil && r.Status == models.ReportUnprocessed {
			r.ClusterAttempts++
		}
	}
	return nil
}

func (f *clusterStoreFake) find(id int64) *models.IncidentReport {
	for i := range f.reports {
		if f.reports[i].ID == id {
			return &f.reports[i]
		}
	}
	return nil
}

// tableEmbedder returns canned vectors per composite text.
type tableEmbedder struct {
	vectors map[string][]float64
	err     error
	calls   int
}

func (e *tableEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, ok := e.vectors[t]
		if !ok {
			return nil, fmt.Errorf("no canned vector for %q", t)
		}
		out[i] = v
	}
	return out, nil
}

type summarizeFunc func(ctx context.Context, texts []string) (gemini.Summary, error)

func (f summarizeFunc) Summarize(ctx context.Context, texts []string) (gemini.Summary, error) {
	return f(ctx, texts)
}

// gandhiNagarFixture builds the canonical scenario: two reports about Gandhi
// Nagar flooding land within eps of each other, a Katpadi Road report stands
// alone.
func gandhiNagarFixture() (*clusterStoreFake, *tableEmbedder) {
	st := newClusterStore(
		fakeReport{1, "Gandhi Nagar", "flooding", "Water entering ground floor of houses in Gandhi Nagar."},
		fakeReport{2, "Gandhi Nagar", "water rising", "My friend in Gandhi Nagar says their entire street is underwater."},
		fakeReport{3, "Katpadi Road", "tree fallen", "A huge tree has fallen on Katpadi Road."},
	)
	emb := &tableEmbedder{vectors: map[string][]float64{
		"Gandhi Nagar: flooding":     unit(0),
		"Gandhi Nagar: water rising": unit(10),
		"Katpadi Road: tree fallen":  unit(120),
	}}
	return st, emb
}

func defaultClusterer(st ClusterStore, emb Embedder, sum Summarizer) *Clusterer {
	return NewClusterer(st, emb, sum, ClustererConfig{Epsilon: 0.5, MinPts: 2}, nil)
}

func TestClustererMergesDuplicateReports(t *testing.T) {
	st, emb := gandhiNagarFixture()
	sum := summarizeFunc(func(_ context.Context, texts []string) (gemini.Summary, error) {
		if len(texts) != 2 {
			t.Fatalf("summarizer received %d texts, want 2", len(texts))
		}
		return gemini.Summary{Summary: "Ground-floor flooding in Gandhi Nagar.", Location: "Gandhi Nagar"}, nil
	})

	stats, err := defaultClusterer(st, emb, sum).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(st.events) != 1 {
		t.Fatalf("events = %d, want 1", len(st.events))
	}
	ev := st.events[0]
	if ev.ReportCount != 2 || len(ev.SourceReportIDs) != 2 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.SourceReportIDs[0] != 1 || ev.SourceReportIDs[1] != 2 {
		t.Fatalf("member order not preserved: %v", ev.SourceReportIDs)
	}
	if ev.Location != "Gandhi Nagar" {
		t.Fatalf("location = %q", ev.Location)
	}

	if st.find(1).Status != models.ReportGrouped || st.find(2).Status != models.ReportGrouped {
		t.Fatal("cluster members must be grouped")
	}
	if st.find(3).Status != models.ReportUnprocessed {
		t.Fatal("singleton must stay unprocessed for a future run")
	}
	if st.find(3).ClusterAttempts != 1 {
		t.Fatalf("noise attempts = %d, want 1", st.find(3).ClusterAttempts)
	}
	if stats.Processed != 2 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestClustererIdempotentAcrossRuns(t *testing.T) {
	st, emb := gandhiNagarFixture()
	sum := summarizeFunc(func(context.Context, []string) (gemini.Summary, error) {
		return gemini.Summary{Summary: "s", Location: "Gandhi Nagar"}, nil
	})
	c := defaultClusterer(st, emb, sum)

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// Second run sees only the leftover singleton; no new events appear and
	// the existing event is untouched.
	if len(st.events) != 1 {
		t.Fatalf("events after rerun = %d, want 1", len(st.events))
	}
	if stats.Selected != 1 || stats.Processed != 0 {
		t.Fatalf("rerun stats = %+v", stats)
	}
	if st.find(3).ClusterAttempts != 2 {
		t.Fatalf("noise attempts = %d, want 2", st.find(3).ClusterAttempts)
	}
}

func TestClustererAttemptCapRetiresSingletons(t *testing.T) {
	st, emb := gandhiNagarFixture()
	sum := summarizeFunc(func(context.Context, []string) (gemini.Summary, error) {
		return gemini.Summary{Summary: "s", Location: "Gandhi Nagar"}, nil
	})
	c := NewClusterer(st, emb, sum, ClustererConfig{Epsilon: 0.5, MinPts: 2, MaxAttempts: 2}, nil)

	for i := 0; i < 3; i++ {
		if _, err := c.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Selected != 0 {
		t.Fatalf("capped singleton still selected: %+v", stats)
	}
	if st.find(3).ClusterAttempts != 2 {
		t.Fatalf("attempts = %d, want capped at 2", st.find(3).ClusterAttempts)
	}
}

func TestClustererSummarizerFailureKeepsCluster(t *testing.T) {
	st, emb := gandhiNagarFixture()
	sum := summarizeFunc(func(context.Context, []string) (gemini.Summary, error) {
		return gemini.Summary{}, fmt.Errorf("call: %w", gemini.ErrUnavailable)
	})

	if _, err := defaultClusterer(st, emb, sum).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(st.events) != 1 {
		t.Fatal("cluster must still be persisted on summarizer failure")
	}
	ev := st.events[0]
	if ev.Summary != models.SummaryFailed || ev.Location != models.LocationError {
		t.Fatalf("expected sentinel summary/location, got %+v", ev)
	}
}

func TestClustererEmbeddingFailureAbortsRun(t *testing.T) {
	st, emb := gandhiNagarFixture()
	emb.err = errors.New("quota exhausted")
	sum := summarizeFunc(func(context.Context, []string) (gemini.Summary, error) {
		t.Fatal("summarizer must not be called")
		return gemini.Summary{}, nil
	})

	_, err := defaultClusterer(st, emb, sum).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(st.events) != 0 {
		t.Fatal("no events may be created from a failed embedding batch")
	}
	for _, r := range st.reports {
		if r.Status != models.ReportUnprocessed || r.ClusterAttempts != 0 {
			t.Fatalf("report %d mutated after aborted run: %+v", r.ID, r)
		}
	}
}

func TestClustererYieldsWhenLockHeld(t *testing.T) {
	st, emb := gandhiNagarFixture()
	st.locked = true
	sum := summarizeFunc(func(context.Context, []string) (gemini.Summary, error) {
		return gemini.Summary{}, nil
	})

	stats, err := defaultClusterer(st, emb, sum).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Selected != 0 || emb.calls != 0 {
		t.Fatalf("locked run must do nothing: stats=%+v embedCalls=%d", stats, emb.calls)
	}
}

func TestClustererEventPersistFailureLeavesMembers(t *testing.T) {
	st, emb := gandhiNagarFixture()
	st.createErr = errors.New("deadlock detected")
	sum := summarizeFunc(func(context.Context, []string) (gemini.Summary, error) {
		return gemini.Summary{Summary: "s", Location: "Gandhi Nagar"}, nil
	})

	stats, err := defaultClusterer(st, emb, sum).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 2 {
		t.Fatalf("stats = %+v, want 2 failed", stats)
	}
	if st.find(1).Status != models.ReportUnprocessed || st.find(2).Status != models.ReportUnprocessed {
		t.Fatal("members must stay unprocessed when the event insert fails")
	}
}

func TestClustererEmptyBacklog(t *testing.T) {
	st := newClusterStore()
	emb := &tableEmbedder{}
	sum := summarizeFunc(func(context.Context, []string) (gemini.Summary, error) {
		return gemini.Summary{}, nil
	})

	stats, err := defaultClusterer(st, emb, sum).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Selected != 0 || emb.calls != 0 {
		t.Fatalf("empty backlog must not call the embedder: %+v", stats)
	}
}
