package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/crisisops/floodwatch/internal/gemini"
	"github.com/crisisops/floodwatch/internal/models"
)

type classifyFunc func(ctx context.Context, text string) (string, error)

func (f classifyFunc) Classify(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// classifierStoreFake is an in-memory ClassifierStore.
type classifierStoreFake struct {
	msgs       []models.RawMessage
	actionable map[int64]string
	insertErr  error
	markErr    error
}

func newClassifierStore(bodies ...string) *classifierStoreFake {
	f := &classifierStoreFake{actionable: map[int64]string{}}
	for i, b := range bodies {
		f.msgs = append(f.msgs, models.RawMessage{
			ID:     int64(i + 1),
			Source: models.SourceTwitter,
			Body:   b,
			Status: models.MessageUnclassified,
		})
	}
	return f
}

func (f *classifierStoreFake) UnclassifiedMessages(context.Context) ([]models.RawMessage, error) {
	var out []models.RawMessage
	for _, m := range f.msgs {
		if m.Status == models.MessageUnclassified {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *classifierStoreFake) InsertActionable(_ context.Context, id int64, text string) (bool, error) {
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if _, ok := f.actionable[id]; ok {
		return false, nil
	}
	f.actionable[id] = text
	return true, nil
}

func (f *classifierStoreFake) MarkMessageProcessed(_ context.Context, id int64) error {
	if f.markErr != nil {
		return f.markErr
	}
	for i := range f.msgs {
		if f.msgs[i].ID == id {
			f.msgs[i].Status = models.MessageProcessed
		}
	}
	return nil
}

func (f *classifierStoreFake) status(id int64) string {
	for _, m := range f.msgs {
		if m.ID == id {
			return m.Status
		}
	}
	return ""
}

func TestClassifierActionableMessage(t *testing.T) {
	st := newClassifierStore("people stranded on rooftops in Sainathapuram")
	llm := classifyFunc(func(context.Context, string) (string, error) {
		return gemini.LabelActionable, nil
	})

	stats, err := NewClassifier(st, llm, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Processed != 1 {
		t.Fatalf("processed = %d, want 1", stats.Processed)
	}
	if _, ok := st.actionable[1]; !ok {
		t.Fatal("expected actionable row for message 1")
	}
	if st.status(1) != models.MessageProcessed {
		t.Fatalf("status = %q, want processed", st.status(1))
	}
}

func TestClassifierNoiseStillAdvances(t *testing.T) {
	st := newClassifierStore("a flood of movie reviews this weekend")
	llm := classifyFunc(func(context.Context, string) (string, error) {
		return gemini.LabelNoise, nil
	})

	if _, err := NewClassifier(st, llm, nil).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(st.actionable) != 0 {
		t.Fatal("noise must not create actionable rows")
	}
	if st.status(1) != models.MessageProcessed {
		t.Fatalf("status = %q, want processed", st.status(1))
	}
}

func TestClassifierUnavailableLeavesBacklog(t *testing.T) {
	st := newClassifierStore("water entering houses")
	llm := classifyFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("call: %w", gemini.ErrUnavailable)
	})

	stats, err := NewClassifier(st, llm, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 || stats.Processed != 0 {
		t.Fatalf("stats = %+v, want 1 failed", stats)
	}
	if st.status(1) != models.MessageUnclassified {
		t.Fatalf("status = %q, want unclassified (retry next run)", st.status(1))
	}
}

func TestClassifierMalformedAdvancesWithoutActionable(t *testing.T) {
	st := newClassifierStore("??")
	llm := classifyFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("parse: %w", gemini.ErrMalformed)
	})

	stats, err := NewClassifier(st, llm, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Processed != 1 {
		t.Fatalf("stats = %+v, want 1 processed", stats)
	}
	if len(st.actionable) != 0 {
		t.Fatal("error label must not create actionable rows")
	}
	if st.status(1) != models.MessageProcessed {
		t.Fatalf("status = %q, want processed (no automatic retry)", st.status(1))
	}
}

func TestClassifierRunTwiceIsIdempotent(t *testing.T) {
	st := newClassifierStore("street underwater in Gandhi Nagar", "opinion piece about rain")
	calls := 0
	llm := classifyFunc(func(_ context.Context, text string) (string, error) {
		calls++
		if text == "opinion piece about rain" {
			return gemini.LabelNoise, nil
		}
		return gemini.LabelActionable, nil
	})

	c := NewClassifier(st, llm, nil)
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	stats, err := c.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if stats.Selected != 0 {
		t.Fatalf("second run selected %d, want 0", stats.Selected)
	}
	if calls != 2 {
		t.Fatalf("collaborator called %d times, want 2", calls)
	}
	if len(st.actionable) != 1 {
		t.Fatalf("actionable rows = %d, want 1", len(st.actionable))
	}
}

func TestClassifierStoreFailureIsolated(t *testing.T) {
	st := newClassifierStore("a", "b")
	st.insertErr = errors.New("connection reset")
	llm := classifyFunc(func(context.Context, string) (string, error) {
		return gemini.LabelActionable, nil
	})

	stats, err := NewClassifier(st, llm, nil).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// Both items fail to persist but the batch still completes.
	if stats.Failed != 2 {
		t.Fatalf("failed = %d, want 2", stats.Failed)
	}
	if st.status(1) != models.MessageUnclassified || st.status(2) != models.MessageUnclassified {
		t.Fatal("failed items must keep their pre-stage status")
	}
}
