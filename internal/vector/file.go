package vector

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"labrag/internal/models"
	"labrag/internal/providers"
	"labrag/internal/util"
)

const indexFile = "index.json"

type fileEntry struct {
	Chunk  models.Chunk `json:"chunk"`
	Vector []float32    `json:"vector"`
}

type fileSnapshot struct {
	Version int         `json:"version"`
	Metric  Metric      `json:"metric"`
	Model   string      `json:"model"`
	Dim     int         `json:"dim"`
	Entries []fileEntry `json:"entries"`
}

// FileIndex is a flat exact-search index persisted as one JSON snapshot in
// its directory. Every Add rewrites the snapshot before it returns.
type FileIndex struct {
	dir    string
	metric Metric
	opts   EmbedOptions
	log    *slog.Logger

	mu          sync.RWMutex
	initialized bool
	dim         int
	entries     []fileEntry
	pos         map[string]int
}

// OpenFileIndex loads dir/index.json when present. A missing snapshot leaves
// the index uninitialized; an unreadable one is an error so it is never
// silently replaced.
func OpenFileIndex(dir string, metric Metric, opts EmbedOptions, log *slog.Logger) (*FileIndex, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrStorage, err)
	}
	idx := &FileIndex{dir: dir, metric: metric, opts: opts, log: log, pos: map[string]int{}}

	var snap fileSnapshot
	found, err := util.ReadJSON(idx.path(), &snap)
	if err != nil {
		return nil, fmt.Errorf("%w: load vector index: %v", util.ErrStorage, err)
	}
	if !found {
		return idx, nil
	}
	if snap.Metric != "" {
		idx.metric = snap.Metric
	}
	idx.dim = snap.Dim
	idx.entries = snap.Entries
	for i, e := range snap.Entries {
		idx.pos[e.Chunk.ID] = i
	}
	idx.initialized = true
	log.Info("loaded vector index", "path", idx.path(), "chunks", len(snap.Entries), "metric", idx.metric)
	return idx, nil
}

func (f *FileIndex) path() string {
	return filepath.Join(f.dir, indexFile)
}

func (f *FileIndex) Add(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vecs, err := f.opts.embed(ctx, providers.OpEmbedDocs, texts)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dim := f.dim
	if !f.initialized {
		dim = len(vecs[0])
	}
	entries := make([]fileEntry, len(f.entries), len(f.entries)+len(chunks))
	copy(entries, f.entries)
	pos := make(map[string]int, len(f.pos)+len(chunks))
	for k, v := range f.pos {
		pos[k] = v
	}
	for i, c := range chunks {
		if len(vecs[i]) != dim {
			return fmt.Errorf("chunk %s: embedding has %d dims, index has %d", c.ID, len(vecs[i]), dim)
		}
		e := fileEntry{Chunk: c, Vector: vecs[i]}
		if at, ok := pos[c.ID]; ok {
			entries[at] = e
			continue
		}
		pos[c.ID] = len(entries)
		entries = append(entries, e)
	}

	snap := fileSnapshot{Version: 1, Metric: f.metric, Model: f.opts.Model, Dim: dim, Entries: entries}
	if err := util.WriteJSONAtomic(f.path(), snap); err != nil {
		return fmt.Errorf("%w: persist vector index: %v", util.ErrStorage, err)
	}
	if !f.initialized {
		f.log.Info("created vector index", "path", f.path(), "chunks", len(chunks), "metric", f.metric)
	} else {
		f.log.Info("added chunks to vector index", "chunks", len(chunks), "total", len(entries))
	}
	f.entries, f.pos, f.dim, f.initialized = entries, pos, dim, true
	return nil
}

func (f *FileIndex) Search(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	scored, err := f.SearchWithScores(ctx, query, k)
	if err != nil {
		return nil, err
	}
	out := make([]models.Chunk, len(scored))
	for i, s := range scored {
		out[i] = s.Chunk
	}
	return out, nil
}

func (f *FileIndex) SearchWithScores(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = 5
	}
	f.mu.RLock()
	ready := f.initialized
	f.mu.RUnlock()
	if !ready {
		f.log.WarnContext(ctx, "no vector index available", "path", f.path())
		return []models.ScoredChunk{}, nil
	}

	vecs, err := f.opts.embed(ctx, providers.OpEmbedQuery, []string{query})
	if err != nil {
		return nil, err
	}
	q := vecs[0]

	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(q) != f.dim {
		return nil, fmt.Errorf("query embedding has %d dims, index has %d", len(q), f.dim)
	}
	scored := make([]models.ScoredChunk, len(f.entries))
	for i, e := range f.entries {
		scored[i] = models.ScoredChunk{Chunk: e.Chunk, Score: score(f.metric, q, e.Vector)}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (f *FileIndex) Sources(_ context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	seen := map[string]struct{}{}
	out := make([]string, 0)
	for _, e := range f.entries {
		src := e.Chunk.Metadata.Source
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out, nil
}

// Len reports the number of indexed chunks.
func (f *FileIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}
