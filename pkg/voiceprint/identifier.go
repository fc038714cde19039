package voiceprint

import (
	"fmt"
	"log/slog"

	"github.com/haivivi/zasr/pkg/audio"
	"github.com/haivivi/zasr/pkg/inference"
)

// IdentifierConfig configures speaker identification.
type IdentifierConfig struct {
	// Threshold is the cosine similarity a match must reach. Default 0.75.
	Threshold float32

	// AutoTrack registers voices that match no known speaker as new
	// unknown-<N> catalog entries.
	AutoTrack bool
}

// Identification is the result of identifying one utterance.
type Identification struct {
	SpeakerID   string
	SpeakerName string

	// Confidence is the configured search threshold: the underlying
	// manager reports which speaker cleared it, not the exact similarity.
	Confidence float32

	// IsNew reports that the voice was auto-registered as a new unknown
	// speaker during this call.
	IsNew bool
}

// Identifier identifies speakers by matching utterance embeddings against
// the catalog. It is safe for concurrent use by multiple sessions: the
// extractor and manager are concurrency-safe, and the catalog serializes
// its own mutations.
type Identifier struct {
	cfg       IdentifierConfig
	extractor inference.EmbeddingExtractor
	manager   inference.EmbeddingManager
	diarizer  inference.Diarizer
	catalog   *Catalog
	log       *slog.Logger
}

// NewIdentifier wires an extractor and a manager to the catalog and
// registers every stored embedding (known and unknown speakers) with the
// manager. diarizer may be nil; enrollment then skips multi-speaker
// pre-validation.
func NewIdentifier(cfg IdentifierConfig, extractor inference.EmbeddingExtractor,
	manager inference.EmbeddingManager, diarizer inference.Diarizer,
	catalog *Catalog, log *slog.Logger) (*Identifier, error) {

	if cfg.Threshold == 0 {
		cfg.Threshold = 0.75
	}
	if log == nil {
		log = slog.Default()
	}
	id := &Identifier{
		cfg:       cfg,
		extractor: extractor,
		manager:   manager,
		diarizer:  diarizer,
		catalog:   catalog,
		log:       log,
	}

	for _, rec := range catalog.List() {
		if err := id.registerStored(rec.ID); err != nil {
			log.Warn("voiceprint: skip stored embedding", "speaker", rec.ID, "error", err)
		}
	}
	for _, u := range catalog.Unknowns() {
		if err := id.registerStored(u.ID); err != nil {
			log.Warn("voiceprint: skip stored embedding", "speaker", u.ID, "error", err)
		}
	}
	return id, nil
}

func (id *Identifier) registerStored(speakerID string) error {
	emb, err := id.catalog.LoadEmbedding(speakerID)
	if err != nil {
		return err
	}
	return id.manager.Register(speakerID, [][]float32{emb})
}

// Catalog returns the backing catalog.
func (id *Identifier) Catalog() *Catalog { return id.catalog }

// Threshold returns the configured similarity threshold.
func (id *Identifier) Threshold() float32 { return id.cfg.Threshold }

// Extract computes an embedding from raw int16 samples. It returns nil
// when the audio is too short for the extractor or extraction fails;
// failures are logged, never fatal.
func (id *Identifier) Extract(samples []int16) []float32 {
	emb, err := id.extractor.Extract(audio.FloatFromInt16(samples))
	if err != nil {
		id.log.Warn("voiceprint: embedding extraction failed", "error", err)
		return nil
	}
	return emb
}

// Match searches the manager for a known speaker above the threshold.
func (id *Identifier) Match(embedding []float32) (Identification, bool) {
	name, ok := id.manager.Search(embedding, id.cfg.Threshold)
	if !ok {
		return Identification{}, false
	}
	res := Identification{
		SpeakerID:   name,
		SpeakerName: name,
		Confidence:  id.cfg.Threshold,
	}
	if rec, ok := id.catalog.Get(name); ok && rec.Name != "" {
		res.SpeakerName = rec.Name
	}
	return res, true
}

// ProcessSegment identifies the speaker of one utterance: extract, match,
// and — when nothing matches and auto-tracking is on — register the voice
// as a new unknown speaker. The second return value is false when no
// identity could be established.
func (id *Identifier) ProcessSegment(samples []int16) (Identification, bool) {
	emb := id.Extract(samples)
	if emb == nil {
		return Identification{}, false
	}

	if res, ok := id.Match(emb); ok {
		id.catalog.ObserveUnknown(res.SpeakerID, res.Confidence)
		return res, true
	}

	if !id.cfg.AutoTrack {
		return Identification{}, false
	}
	unknownID, err := id.catalog.AddUnknown(emb, id.cfg.Threshold)
	if err != nil {
		id.log.Warn("voiceprint: auto-track failed", "error", err)
		return Identification{}, false
	}
	if err := id.manager.Register(unknownID, [][]float32{emb}); err != nil {
		id.log.Warn("voiceprint: register unknown failed", "speaker", unknownID, "error", err)
	}
	id.log.Info("voiceprint: tracked new speaker", "speaker", unknownID)
	return Identification{
		SpeakerID:   unknownID,
		SpeakerName: unknownID,
		Confidence:  id.cfg.Threshold,
		IsNew:       true,
	}, true
}

// AddSpeaker enrolls a named speaker from WAV files. Unless force is set,
// each file is pre-validated with the diarizer and rejected when it
// contains more than one speaker. One embedding is extracted per file and
// the renormalized mean becomes the stored reference; the audio files are
// copied into the catalog. Returns the assigned speaker id.
func (id *Identifier) AddSpeaker(name string, wavFiles []string, force bool) (string, error) {
	if name == "" {
		return "", fmt.Errorf("voiceprint: enrollment needs a name")
	}
	if len(wavFiles) == 0 {
		return "", fmt.Errorf("voiceprint: enrollment needs at least one sample file")
	}

	var embeddings [][]float32
	for _, path := range wavFiles {
		samples, rate, err := audio.ReadWAVFile(path)
		if err != nil {
			return "", err
		}
		if rate != audio.SampleRate {
			return "", fmt.Errorf("voiceprint: %s has sample rate %d, want %d", path, rate, audio.SampleRate)
		}
		floats := audio.FloatFromInt16(samples)

		if !force && id.diarizer != nil {
			n, err := id.diarizer.NumSpeakers(floats)
			if err != nil {
				return "", fmt.Errorf("voiceprint: diarization of %s: %w", path, err)
			}
			if n > 1 {
				return "", fmt.Errorf("%w: %s has %d", ErrMultipleSpeakers, path, n)
			}
		}

		emb, err := id.extractor.Extract(floats)
		if err != nil {
			return "", fmt.Errorf("voiceprint: extract from %s: %w", path, err)
		}
		if emb == nil {
			return "", fmt.Errorf("voiceprint: %s too short for an embedding", path)
		}
		embeddings = append(embeddings, emb)
	}

	reference := MeanEmbedding(embeddings)
	speakerID := id.catalog.GenerateSpeakerID()

	var samplePaths []string
	for i, path := range wavFiles {
		rel, err := id.catalog.CopySample(speakerID, i+1, path)
		if err != nil {
			id.log.Warn("voiceprint: copy enrollment sample", "file", path, "error", err)
			continue
		}
		samplePaths = append(samplePaths, rel)
	}

	rec := Record{
		ID:           speakerID,
		Name:         name,
		NumSamples:   len(wavFiles),
		AudioSamples: samplePaths,
		Metadata:     Metadata{Gender: "unknown", Language: "unknown"},
	}
	if _, err := id.catalog.Add(rec, reference); err != nil {
		return "", err
	}
	if err := id.manager.Register(speakerID, [][]float32{reference}); err != nil {
		return "", err
	}
	id.log.Info("voiceprint: enrolled speaker", "speaker", speakerID, "name", name, "samples", len(wavFiles))
	return speakerID, nil
}

// Verify reports whether the embedding matches the registered speaker at
// the configured threshold.
func (id *Identifier) Verify(speakerID string, embedding []float32) bool {
	return id.manager.Verify(speakerID, embedding, id.cfg.Threshold)
}

// Close flushes deferred catalog writes.
func (id *Identifier) Close() error {
	return id.catalog.Close()
}
