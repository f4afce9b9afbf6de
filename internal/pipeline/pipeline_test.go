package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/heritage-harvester/internal/assets"
	"github.com/JakeFAU/heritage-harvester/internal/harvest"
	"github.com/JakeFAU/heritage-harvester/internal/hash/sha256"
	"github.com/JakeFAU/heritage-harvester/internal/ledger/file"
	ledgermem "github.com/JakeFAU/heritage-harvester/internal/ledger/memory"
	"github.com/JakeFAU/heritage-harvester/internal/progress"
	"github.com/JakeFAU/heritage-harvester/internal/storage/local"
	"github.com/JakeFAU/heritage-harvester/internal/storage/memory"
)

func TestRunResolvesAndReports(t *testing.T) {
	t.Parallel()

	env := newMemEnv()
	fetcher := &countingFetcher{transientFor: map[string]int{"O2": 1}, permanent: map[string]bool{"O3": true}}
	emitter := &recordingEmitter{}
	p := env.pipeline(t, Config{Site: "test", Resume: true}, fetcher, func(d *Deps) { d.Emitter = emitter })

	summary, err := p.Run(context.Background(), []string{"O1", "O2", "O3", "O1", " "})
	require.NoError(t, err)
	require.Equal(t, StateDone, p.State())

	require.NotEmpty(t, summary.RunID)
	require.Equal(t, 3, summary.Attempted)
	require.Equal(t, 2, summary.Resolved)
	require.Zero(t, summary.Skipped)
	require.Equal(t, []harvest.Failure{{ID: "O3", Attempts: 1, Reason: "object not found"}}, summary.Failed)

	require.ElementsMatch(t, []string{"O1", "O2"}, env.resolved.Entries())
	require.Equal(t, []string{"O3"}, env.failed.Entries())

	csv, ok := env.store.Get("harvest.csv")
	require.True(t, ok)
	require.Equal(t,
		"identifier,status,attempts,title,tag,assets,reason\n"+
			"O1,resolved,1,Title O1,tag,,\n"+
			"O2,resolved,2,Title O2,tag,,\n"+
			"O3,failed,1,,,,object not found\n",
		string(csv))

	require.Eventually(t, func() bool { return emitter.count(progress.StageRunDone) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, emitter.count(progress.StageRunStart))
	require.Equal(t, 2, emitter.count(progress.StageItemResolved))
}

func TestRunIsSingleUse(t *testing.T) {
	t.Parallel()

	env := newMemEnv()
	p := env.pipeline(t, Config{}, &countingFetcher{}, nil)
	_, err := p.Run(context.Background(), []string{"O1"})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), []string{"O1"})
	require.ErrorIs(t, err, harvest.ErrPipelineReused)
}

func TestResumeIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ids := []string{"O1", "O2", "O3", "O4"}

	first := &countingFetcher{}
	summary, err := fileEnvPipeline(t, dir, Config{Resume: true}, first).Run(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, 4, summary.Resolved)
	require.Equal(t, int64(4), first.total())

	second := &countingFetcher{}
	summary, err = fileEnvPipeline(t, dir, Config{Resume: true}, second).Run(context.Background(), ids)
	require.NoError(t, err)
	require.Zero(t, second.total(), "resolved identifiers are never fetched again")
	require.Equal(t, 4, summary.Skipped)
	require.Zero(t, summary.Attempted)

	csv, err := os.ReadFile(filepath.Join(dir, "harvest.csv"))
	require.NoError(t, err)
	require.Equal(t, "identifier,status,attempts,title,tag,assets,reason\n", string(csv))
}

func TestRetryCeiling(t *testing.T) {
	t.Parallel()

	env := newMemEnv()
	fetcher := &countingFetcher{transientFor: map[string]int{"X": 100}}
	p := env.pipeline(t, Config{RetryCeiling: 3}, fetcher, nil)

	summary, err := p.Run(context.Background(), []string{"X", "Y"})
	require.NoError(t, err)
	require.Equal(t, int64(3), fetcher.calls("X"))
	require.Equal(t, []harvest.Failure{{ID: "X", Attempts: 3, Reason: "http 503"}}, summary.Failed)
	require.Equal(t, []string{"X"}, env.failed.Entries())
	require.Equal(t, []string{"Y"}, env.resolved.Entries())
}

func TestNoDoubleCounting(t *testing.T) {
	t.Parallel()

	env := newMemEnv()
	transient := map[string]int{}
	var ids []string
	for i := range 50 {
		id := fmt.Sprintf("O%d", i)
		ids = append(ids, id, id)
		transient[id] = i % 3
	}
	p := env.pipeline(t, Config{MaxConcurrency: 8}, &countingFetcher{transientFor: transient}, nil)

	summary, err := p.Run(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, 50, summary.Attempted)
	require.Equal(t, 50, summary.Resolved)

	entries := env.resolved.Entries()
	require.Len(t, entries, 50)
	seen := map[string]bool{}
	for _, id := range entries {
		require.False(t, seen[id], "identifier %s recorded twice", id)
		seen[id] = true
	}
}

func TestConcurrencyDoesNotChangeResult(t *testing.T) {
	t.Parallel()

	var ids []string
	for i := range 40 {
		ids = append(ids, fmt.Sprintf("O%02d", i))
	}
	run := func(concurrency int) (harvest.Summary, []string, string) {
		env := newMemEnv()
		fetcher := &countingFetcher{
			transientFor: map[string]int{"O03": 1, "O17": 5},
			permanent:    map[string]bool{"O09": true},
		}
		p := env.pipeline(t, Config{MaxConcurrency: concurrency}, fetcher, nil)
		summary, err := p.Run(context.Background(), ids)
		require.NoError(t, err)
		resolved := env.resolved.Entries()
		sort.Strings(resolved)
		csv, _ := env.store.Get("harvest.csv")
		summary.RunID = ""
		return summary, resolved, string(csv)
	}

	s1, r1, csv1 := run(1)
	s10, r10, csv10 := run(10)
	require.Equal(t, s1, s10)
	require.Equal(t, r1, r10)
	require.Equal(t, csv1, csv10)
	require.Len(t, r1, 38)
}

func TestCrashResumeRefetchesOnlyRemaining(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var ids []string
	for i := range 10 {
		ids = append(ids, fmt.Sprintf("O%d", i))
	}
	// A crashed run left four checkpoints and a torn fifth line.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "downloaded.txt"), []byte("O0\nO1\nO2\nO3\nO4"), 0o600))

	fetcher := &countingFetcher{}
	summary, err := fileEnvPipeline(t, dir, Config{Resume: true}, fetcher).Run(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, int64(6), fetcher.total())
	require.Zero(t, fetcher.calls("O0"))
	require.Equal(t, int64(1), fetcher.calls("O4"))
	require.Equal(t, 4, summary.Skipped)

	loaded, err := file.New(filepath.Join(dir, "downloaded.txt")).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 10)
}

func TestInterruptedRunResumes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var ids []string
	for i := range 20 {
		ids = append(ids, fmt.Sprintf("O%02d", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := &countingFetcher{onCall: func(n int64) {
		if n == 5 {
			cancel()
		}
	}}
	_, err := fileEnvPipeline(t, dir, Config{Resume: true, MaxConcurrency: 1}, first).Run(ctx, ids)
	require.ErrorIs(t, err, context.Canceled)

	done, err := file.New(filepath.Join(dir, "downloaded.txt")).Load(context.Background())
	require.NoError(t, err)

	second := &countingFetcher{}
	summary, err := fileEnvPipeline(t, dir, Config{Resume: true}, second).Run(context.Background(), ids)
	require.NoError(t, err)
	require.Equal(t, int64(len(ids)-len(done)), second.total())
	require.Equal(t, len(done), summary.Skipped)
	for id := range done {
		require.Zero(t, second.calls(id))
	}
}

func TestInterruptOnLastAttemptKeepsObjectUnresolved(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	first := &countingFetcher{
		transientFor: map[string]int{"O1": 2},
		onCall: func(n int64) {
			if n == 3 {
				cancel()
			}
		},
	}
	_, err := fileEnvPipeline(t, dir, Config{Resume: true, MaxConcurrency: 1, RetryCeiling: 3}, first).
		Run(ctx, []string{"O1"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, int64(3), first.calls("O1"))

	failed, err := file.New(filepath.Join(dir, "failed.txt")).Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, failed)
	done, err := file.New(filepath.Join(dir, "downloaded.txt")).Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, done)

	second := &countingFetcher{}
	summary, err := fileEnvPipeline(t, dir, Config{Resume: true}, second).Run(context.Background(), []string{"O1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), second.calls("O1"))
	require.Equal(t, 1, summary.Resolved)
	require.Empty(t, summary.Failed)
}

func TestAssetSkipRewritesRecord(t *testing.T) {
	t.Parallel()

	env := newMemEnv()
	ctx := context.Background()
	// Image and record survived a crash that happened before the checkpoint.
	_, err := env.store.PutObject(ctx, "O1.jpg", "image/jpeg", strings.NewReader("old"))
	require.NoError(t, err)
	_, err = env.store.PutObject(ctx, "O1.json", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)

	dl := &countingDownloader{}
	fetcher := assets.NewResolver(&countingFetcher{withAsset: true}, env.store, dl, sha256.New(), zap.NewNop())
	p := env.pipeline(t, Config{Resume: true}, fetcher, nil)

	summary, err := p.Run(ctx, []string{"O1", "O2"})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Resolved)
	require.Equal(t, int64(1), dl.n.Load(), "only O2's image is downloaded")
	require.Equal(t, 1, env.store.Writes("O1.jpg"))
	require.Equal(t, 2, env.store.Writes("O1.json"), "record JSON is always rewritten")
	require.Equal(t, 1, env.store.Writes("O2.jpg"))
}

func TestFailureLedgerHonoredOnResume(t *testing.T) {
	t.Parallel()

	env := newMemEnv()
	env.failed = ledgermem.New("O1")
	skip := &countingFetcher{}
	summary, err := env.pipeline(t, Config{Resume: true}, skip, nil).Run(context.Background(), []string{"O1", "O2"})
	require.NoError(t, err)
	require.Zero(t, skip.calls("O1"))
	require.Equal(t, 1, summary.Skipped)

	retry := &countingFetcher{}
	summary, err = env.pipeline(t, Config{Resume: true, RetryFailed: true}, retry, nil).
		Run(context.Background(), []string{"O1", "O2"})
	require.NoError(t, err)
	require.Equal(t, int64(1), retry.calls("O1"))
	require.Equal(t, 1, summary.Skipped, "O2 is already resolved")
}

func TestNoResumeRefetchesEverything(t *testing.T) {
	t.Parallel()

	env := newMemEnv()
	env.resolved = ledgermem.New("O1")
	fetcher := &countingFetcher{}
	summary, err := env.pipeline(t, Config{Resume: false}, fetcher, nil).Run(context.Background(), []string{"O1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), fetcher.total())
	require.Zero(t, summary.Skipped)
}

func TestEmptyInput(t *testing.T) {
	t.Parallel()

	env := newMemEnv()
	summary, err := env.pipeline(t, Config{}, &countingFetcher{}, nil).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, summary.Attempted)
	require.Empty(t, summary.Failed)
	_, ok := env.store.Get("harvest.csv")
	require.True(t, ok)
}

func TestStorageFailureAbortsRun(t *testing.T) {
	t.Parallel()

	env := newMemEnv()
	env.store.FailWith(errors.New("disk full"))
	ids := make([]string, 30)
	for i := range ids {
		ids[i] = fmt.Sprintf("O%d", i)
	}
	_, err := env.pipeline(t, Config{MaxConcurrency: 4}, &countingFetcher{}, nil).Run(context.Background(), ids)
	require.ErrorIs(t, err, harvest.ErrStorage)
	require.Empty(t, env.resolved.Entries())
}

func TestContractViolationAbortsRun(t *testing.T) {
	t.Parallel()

	env := newMemEnv()
	bad := harvest.FetcherFunc(func(context.Context, string) harvest.Outcome { return harvest.Outcome{} })
	_, err := env.pipeline(t, Config{}, bad, nil).Run(context.Background(), []string{"O1", "O2"})
	require.ErrorIs(t, err, harvest.ErrContractViolation)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{}, nil)
	require.Error(t, err)
	_, err = New(Config{}, Deps{Fetcher: &countingFetcher{}, Store: memory.NewBlobStore()}, nil)
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "seeding", StateSeeding.String())
	require.Equal(t, "done", StateDone.String())
	require.Equal(t, "state(42)", State(42).String())
}

// --- fakes ---

type memEnv struct {
	store    *memory.BlobStore
	resolved *ledgermem.Ledger
	failed   *ledgermem.Ledger
}

func newMemEnv() *memEnv {
	return &memEnv{store: memory.NewBlobStore(), resolved: ledgermem.New(), failed: ledgermem.New()}
}

func (e *memEnv) pipeline(t *testing.T, cfg Config, fetcher harvest.ItemFetcher, mutate func(*Deps)) *Pipeline {
	t.Helper()
	deps := Deps{Fetcher: fetcher, Store: e.store, Resolved: e.resolved, Failed: e.failed}
	if mutate != nil {
		mutate(&deps)
	}
	p, err := New(cfg, deps, zap.NewNop())
	require.NoError(t, err)
	return p
}

func fileEnvPipeline(t *testing.T, dir string, cfg Config, fetcher harvest.ItemFetcher) *Pipeline {
	t.Helper()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	resolved := file.New(filepath.Join(dir, "downloaded.txt"))
	failed := file.New(filepath.Join(dir, "failed.txt"))
	t.Cleanup(func() {
		_ = resolved.Close()
		_ = failed.Close()
	})
	p, err := New(cfg, Deps{Fetcher: fetcher, Store: store, Resolved: resolved, Failed: failed}, zap.NewNop())
	require.NoError(t, err)
	return p
}

// countingFetcher succeeds unless told otherwise. transientFor[id] is the
// number of leading attempts that fail transiently. Once ctx is done every
// call fails transiently with the context error.
type countingFetcher struct {
	transientFor map[string]int
	permanent    map[string]bool
	withAsset    bool
	onCall       func(n int64)

	mu    sync.Mutex
	count map[string]int64
	n     atomic.Int64
}

func (f *countingFetcher) Fetch(ctx context.Context, id string) harvest.Outcome {
	f.mu.Lock()
	if f.count == nil {
		f.count = map[string]int64{}
	}
	f.count[id]++
	attempt := f.count[id]
	f.mu.Unlock()
	n := f.n.Add(1)
	if f.onCall != nil {
		f.onCall(n)
	}
	if err := ctx.Err(); err != nil {
		return harvest.Transient(err)
	}

	if f.permanent[id] {
		return harvest.Permanent(harvest.ErrNotFound)
	}
	if attempt <= int64(f.transientFor[id]) {
		return harvest.Transientf("http 503")
	}
	rec := &harvest.Record{ID: id, Site: "test", Title: "Title " + id, Tag: "tag"}
	if f.withAsset {
		rec.Assets = []harvest.Asset{{Name: harvest.PrimaryAssetFileName(id), URL: "http://img/" + id}}
	}
	return harvest.Success(rec)
}

func (f *countingFetcher) calls(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count[id]
}

func (f *countingFetcher) total() int64 {
	return f.n.Load()
}

type countingDownloader struct {
	n atomic.Int64
}

func (d *countingDownloader) Download(context.Context, string) ([]byte, error) {
	d.n.Add(1)
	return []byte("jpeg"), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) count(stage progress.Stage) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}
