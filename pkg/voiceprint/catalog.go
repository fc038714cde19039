package voiceprint

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	// IndexFile is the catalog index filename.
	IndexFile = "voice-prints.yaml"

	embeddingsDir = "embeddings"
	samplesDir    = "samples"

	catalogVersion = "1.0"
)

// Metadata holds free-form descriptive fields of a voice print.
type Metadata struct {
	Gender   string `yaml:"gender"`
	Language string `yaml:"language"`
	Notes    string `yaml:"notes,omitempty"`
}

// Record is one registered speaker in the catalog.
type Record struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	CreatedAt     string   `yaml:"created_at"`
	UpdatedAt     string   `yaml:"updated_at"`
	EmbeddingFile string   `yaml:"embedding_file"`
	EmbeddingDim  int      `yaml:"embedding_dim"`
	NumSamples    int      `yaml:"num_samples"`
	AudioSamples  []string `yaml:"audio_samples,omitempty"`
	Metadata      Metadata `yaml:"metadata"`
}

// Unknown is an automatically tracked, not-yet-named speaker.
type Unknown struct {
	ID              string  `yaml:"id"`
	FirstSeen       string  `yaml:"first_seen"`
	LastSeen        string  `yaml:"last_seen"`
	OccurrenceCount int     `yaml:"occurrence_count"`
	AvgConfidence   float32 `yaml:"avg_confidence"`
	EmbeddingFile   string  `yaml:"embedding_file"`
	EmbeddingDim    int     `yaml:"embedding_dim"`
}

// index is the on-disk shape of the YAML index file.
type index struct {
	Version         string    `yaml:"version"`
	CreatedAt       string    `yaml:"created_at"`
	UpdatedAt       string    `yaml:"updated_at"`
	VoicePrints     []Record  `yaml:"voice_prints"`
	UnknownSpeakers []Unknown `yaml:"unknown_speakers"`
}

// Catalog is the persistent voice-print store. All methods are safe for
// concurrent use; mutations are serialized by an internal lock and the
// index rewrite always happens after the embedding write, so readers of
// the index never see a dangling reference introduced by an in-flight Add.
type Catalog struct {
	dir string
	log *slog.Logger

	mu          sync.Mutex
	version     string
	createdAt   string
	updatedAt   string
	prints      map[string]*Record
	unknowns    map[string]*Unknown
	nextSpeaker int
	nextUnknown int
	dirty       bool
}

// Open loads the catalog rooted at dir, creating the directory structure
// and an empty catalog when nothing exists yet. Referenced embedding
// files that are missing are logged, not fatal.
func Open(dir string, log *slog.Logger) (*Catalog, error) {
	if log == nil {
		log = slog.Default()
	}
	for _, d := range []string{dir, filepath.Join(dir, embeddingsDir), filepath.Join(dir, samplesDir)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("voiceprint: create catalog dir: %w", err)
		}
	}

	c := &Catalog{
		dir:         dir,
		log:         log,
		version:     catalogVersion,
		createdAt:   now(),
		prints:      make(map[string]*Record),
		unknowns:    make(map[string]*Unknown),
		nextSpeaker: 1,
		nextUnknown: 1,
	}

	data, err := os.ReadFile(c.IndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("voiceprint: read index: %w", err)
	}
	if len(data) == 0 {
		return c, nil
	}

	var idx index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("voiceprint: parse index: %w", err)
	}
	if idx.Version != "" {
		c.version = idx.Version
	}
	if idx.CreatedAt != "" {
		c.createdAt = idx.CreatedAt
	}
	c.updatedAt = idx.UpdatedAt

	for i := range idx.VoicePrints {
		rec := idx.VoicePrints[i]
		c.prints[rec.ID] = &rec
		if _, err := os.Stat(filepath.Join(dir, rec.EmbeddingFile)); err != nil {
			log.Warn("voiceprint: embedding file missing", "speaker", rec.ID, "file", rec.EmbeddingFile)
		}
	}
	for i := range idx.UnknownSpeakers {
		u := idx.UnknownSpeakers[i]
		c.unknowns[u.ID] = &u
		if _, err := os.Stat(filepath.Join(dir, u.EmbeddingFile)); err != nil {
			log.Warn("voiceprint: embedding file missing", "speaker", u.ID, "file", u.EmbeddingFile)
		}
	}
	c.recoverCounters()
	return c, nil
}

// recoverCounters derives the next-id counters from the maximum numeric
// suffix among existing ids. Ids that do not match speaker-<N> or
// unknown-<N> are ignored.
func (c *Catalog) recoverCounters() {
	for id := range c.prints {
		if n, ok := idSuffix(id, "speaker-"); ok && n >= c.nextSpeaker {
			c.nextSpeaker = n + 1
		}
	}
	for id := range c.unknowns {
		if n, ok := idSuffix(id, "unknown-"); ok && n >= c.nextUnknown {
			c.nextUnknown = n + 1
		}
	}
}

func idSuffix(id, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// Dir returns the catalog root directory.
func (c *Catalog) Dir() string { return c.dir }

// IndexPath returns the path of the YAML index file.
func (c *Catalog) IndexPath() string { return filepath.Join(c.dir, IndexFile) }

// EmbeddingPath returns the absolute path for a speaker's embedding
// binary.
func (c *Catalog) EmbeddingPath(id string) string {
	return filepath.Join(c.dir, embeddingsDir, id+".bin")
}

// GenerateSpeakerID issues the next free speaker-<N> id.
func (c *Catalog) GenerateSpeakerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generateID("speaker-", &c.nextSpeaker, func(id string) bool {
		_, ok := c.prints[id]
		return ok
	})
}

// GenerateUnknownID issues the next free unknown-<N> id.
func (c *Catalog) GenerateUnknownID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generateID("unknown-", &c.nextUnknown, func(id string) bool {
		_, ok := c.unknowns[id]
		return ok
	})
}

func (c *Catalog) generateID(prefix string, next *int, taken func(string) bool) string {
	for {
		id := fmt.Sprintf("%s%03d", prefix, *next)
		*next++
		if !taken(id) {
			return id
		}
	}
}

// Add registers a voice print. A missing id is assigned from the speaker
// counter. The embedding binary is written before the index.
func (c *Catalog) Add(rec Record, embedding []float32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec.ID == "" {
		rec.ID = c.generateID("speaker-", &c.nextSpeaker, func(id string) bool {
			_, ok := c.prints[id]
			return ok
		})
	}
	ts := now()
	if rec.CreatedAt == "" {
		rec.CreatedAt = ts
	}
	rec.UpdatedAt = ts
	rec.EmbeddingDim = len(embedding)
	rec.EmbeddingFile = filepath.Join(embeddingsDir, rec.ID+".bin")

	if err := WriteEmbeddingFile(filepath.Join(c.dir, rec.EmbeddingFile), embedding); err != nil {
		return "", err
	}
	c.prints[rec.ID] = &rec
	if err := c.saveLocked(); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Remove deletes a speaker and its embedding binary.
func (c *Catalog) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.prints[id]; ok {
		if err := os.Remove(filepath.Join(c.dir, rec.EmbeddingFile)); err != nil && !os.IsNotExist(err) {
			c.log.Warn("voiceprint: remove embedding file", "speaker", id, "error", err)
		}
		delete(c.prints, id)
		return c.saveLocked()
	}
	if u, ok := c.unknowns[id]; ok {
		if err := os.Remove(filepath.Join(c.dir, u.EmbeddingFile)); err != nil && !os.IsNotExist(err) {
			c.log.Warn("voiceprint: remove embedding file", "speaker", id, "error", err)
		}
		delete(c.unknowns, id)
		return c.saveLocked()
	}
	return ErrNotFound
}

// Rename updates a speaker's display name.
func (c *Catalog) Rename(id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.prints[id]
	if !ok {
		return ErrNotFound
	}
	rec.Name = name
	rec.UpdatedAt = now()
	return c.saveLocked()
}

// Get returns a copy of a speaker record.
func (c *Catalog) Get(id string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.prints[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns all speaker records ordered by id.
func (c *Catalog) List() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, 0, len(c.prints))
	for _, rec := range c.prints {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Unknowns returns all unknown-speaker records ordered by id.
func (c *Catalog) Unknowns() []Unknown {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Unknown, 0, len(c.unknowns))
	for _, u := range c.unknowns {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Contains reports whether an id (known or unknown) exists.
func (c *Catalog) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, known := c.prints[id]
	_, unknown := c.unknowns[id]
	return known || unknown
}

// LoadEmbedding reads the embedding for an id (known or unknown).
func (c *Catalog) LoadEmbedding(id string) ([]float32, error) {
	c.mu.Lock()
	var file string
	if rec, ok := c.prints[id]; ok {
		file = rec.EmbeddingFile
	} else if u, ok := c.unknowns[id]; ok {
		file = u.EmbeddingFile
	}
	c.mu.Unlock()
	if file == "" {
		return nil, ErrNotFound
	}
	return ReadEmbeddingFile(filepath.Join(c.dir, file))
}

// AddUnknown registers an automatically tracked speaker under a fresh
// unknown-<N> id.
func (c *Catalog) AddUnknown(embedding []float32, confidence float32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.generateID("unknown-", &c.nextUnknown, func(id string) bool {
		_, ok := c.unknowns[id]
		return ok
	})
	ts := now()
	u := &Unknown{
		ID:              id,
		FirstSeen:       ts,
		LastSeen:        ts,
		OccurrenceCount: 1,
		AvgConfidence:   confidence,
		EmbeddingFile:   filepath.Join(embeddingsDir, id+".bin"),
		EmbeddingDim:    len(embedding),
	}
	if err := WriteEmbeddingFile(filepath.Join(c.dir, u.EmbeddingFile), embedding); err != nil {
		return "", err
	}
	c.unknowns[id] = u
	if err := c.saveLocked(); err != nil {
		return "", err
	}
	return id, nil
}

// ObserveUnknown records a re-observation of an unknown speaker, updating
// its occurrence count and running mean confidence. The index is marked
// dirty rather than rewritten; Save flushes it.
func (c *Catalog) ObserveUnknown(id string, confidence float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.unknowns[id]
	if !ok {
		return
	}
	u.OccurrenceCount++
	n := float32(u.OccurrenceCount)
	u.AvgConfidence = ((n-1)*u.AvgConfidence + confidence) / n
	u.LastSeen = now()
	c.dirty = true
}

// CopySample copies an enrollment audio file into the catalog's samples
// directory and returns the stored path relative to the catalog root.
func (c *Catalog) CopySample(id string, seq int, srcPath string) (string, error) {
	dir := filepath.Join(c.dir, samplesDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("voiceprint: create samples dir: %w", err)
	}
	rel := filepath.Join(samplesDir, id, fmt.Sprintf("%d.wav", seq))

	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("voiceprint: open sample: %w", err)
	}
	defer src.Close()
	dst, err := os.Create(filepath.Join(c.dir, rel))
	if err != nil {
		return "", fmt.Errorf("voiceprint: create sample copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", fmt.Errorf("voiceprint: copy sample: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("voiceprint: copy sample: %w", err)
	}
	return rel, nil
}

// Save rewrites the index file.
func (c *Catalog) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// Close flushes the index if any deferred mutations are pending.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	return c.saveLocked()
}

func (c *Catalog) saveLocked() error {
	idx := index{
		Version:         c.version,
		CreatedAt:       c.createdAt,
		UpdatedAt:       now(),
		VoicePrints:     make([]Record, 0, len(c.prints)),
		UnknownSpeakers: make([]Unknown, 0, len(c.unknowns)),
	}
	for _, rec := range c.prints {
		idx.VoicePrints = append(idx.VoicePrints, *rec)
	}
	sort.Slice(idx.VoicePrints, func(i, j int) bool { return idx.VoicePrints[i].ID < idx.VoicePrints[j].ID })
	for _, u := range c.unknowns {
		idx.UnknownSpeakers = append(idx.UnknownSpeakers, *u)
	}
	sort.Slice(idx.UnknownSpeakers, func(i, j int) bool { return idx.UnknownSpeakers[i].ID < idx.UnknownSpeakers[j].ID })

	data, err := yaml.Marshal(idx)
	if err != nil {
		return fmt.Errorf("voiceprint: marshal index: %w", err)
	}
	if err := os.WriteFile(c.IndexPath(), data, 0o644); err != nil {
		return fmt.Errorf("voiceprint: write index: %w", err)
	}
	c.updatedAt = idx.UpdatedAt
	c.dirty = false
	return nil
}

// Validate checks catalog integrity and returns a description of every
// problem found: referenced embedding files that are missing and embedding
// binaries no record references.
func (c *Catalog) Validate() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var problems []string
	referenced := make(map[string]bool)

	check := func(id, file string) {
		referenced[filepath.Base(file)] = true
		if _, err := os.Stat(filepath.Join(c.dir, file)); err != nil {
			problems = append(problems, fmt.Sprintf("%s: embedding file %s missing", id, file))
		}
	}
	for id, rec := range c.prints {
		check(id, rec.EmbeddingFile)
	}
	for id, u := range c.unknowns {
		check(id, u.EmbeddingFile)
	}

	entries, err := os.ReadDir(filepath.Join(c.dir, embeddingsDir))
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && !referenced[e.Name()] {
				problems = append(problems, fmt.Sprintf("orphaned embedding file %s", e.Name()))
			}
		}
	}
	sort.Strings(problems)
	return problems
}
