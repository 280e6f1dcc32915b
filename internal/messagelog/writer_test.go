package messagelog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeRepo records InsertBatch calls; the analytics queries are unused here.
type fakeRepo struct {
	mu      sync.Mutex
	batches [][]Entry
}

func (r *fakeRepo) InsertBatch(_ context.Context, entries []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := make([]Entry, len(entries))
	copy(batch, entries)
	r.batches = append(r.batches, batch)
	return nil
}

func (r *fakeRepo) List(_ context.Context, _ Query) ([]Entry, int64, error) { return nil, 0, nil }
func (r *fakeRepo) GetBySourceMessage(_ context.Context, _ int64) (*Entry, error) {
	return nil, ErrNotFound
}
func (r *fakeRepo) CountSince(_ context.Context, _ time.Time) (int64, error) { return 0, nil }
func (r *fakeRepo) StatsByRoom(_ context.Context, _ time.Time) ([]RoomStats, error) {
	return nil, nil
}
func (r *fakeRepo) StatsByGuild(_ context.Context, _ int64, _ time.Time) (*GuildStats, error) {
	return nil, ErrNotFound
}
func (r *fakeRepo) GuildActivity(_ context.Context, _ int64, _ time.Time, _ time.Duration) ([]TrendPoint, error) {
	return nil, nil
}
func (r *fakeRepo) Trend(_ context.Context, _ *int64, _ time.Time, _ time.Duration) ([]TrendPoint, error) {
	return nil, nil
}
func (r *fakeRepo) Export(_ context.Context, _ Query) ([]Entry, error) { return nil, nil }

func (r *fakeRepo) totalEntries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func (r *fakeRepo) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestWriterFlushesFullBatch(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	w := NewWriter(repo, zerolog.Nop(), 64, 4, time.Hour)
	go w.Run()

	for i := 0; i < 4; i++ {
		w.Enqueue(Entry{RoomID: 1, SourceMessageID: int64(i)})
	}

	// The ticker never fires here; only the batch size can trigger the flush.
	waitFor(t, func() bool { return repo.totalEntries() == 4 }, "batch was not flushed on size")
	if repo.batchCount() != 1 {
		t.Errorf("batches = %d, want 1", repo.batchCount())
	}

	w.Close(time.Second)
}

func TestWriterFlushesOnInterval(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	w := NewWriter(repo, zerolog.Nop(), 64, 100, 20*time.Millisecond)
	go w.Run()

	w.Enqueue(Entry{RoomID: 1, SourceMessageID: 1})
	w.Enqueue(Entry{RoomID: 1, SourceMessageID: 2})

	waitFor(t, func() bool { return repo.totalEntries() == 2 }, "partial batch was not flushed on interval")

	w.Close(time.Second)
}

func TestWriterCloseDrainsRemainder(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{}
	w := NewWriter(repo, zerolog.Nop(), 64, 100, time.Hour)
	go w.Run()

	for i := 0; i < 7; i++ {
		w.Enqueue(Entry{RoomID: 2, SourceMessageID: int64(i)})
	}
	w.Close(time.Second)

	if got := repo.totalEntries(); got != 7 {
		t.Errorf("entries after Close = %d, want 7", got)
	}
}

func TestAttachmentList(t *testing.T) {
	t.Parallel()

	e := Entry{AttachmentURLs: "https://cdn.example/a.png\nhttps://cdn.example/b.pdf"}
	got := e.AttachmentList()
	if len(got) != 2 || got[0] != "https://cdn.example/a.png" || got[1] != "https://cdn.example/b.pdf" {
		t.Errorf("AttachmentList() = %v", got)
	}

	if got := (Entry{}).AttachmentList(); got != nil {
		t.Errorf("AttachmentList() on empty = %v, want nil", got)
	}
}
