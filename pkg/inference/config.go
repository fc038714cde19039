package inference

// OfflineRecognizerConfig configures a non-streaming recognizer.
type OfflineRecognizerConfig struct {
	// ModelType selects the model family (e.g., "sense_voice").
	ModelType string

	// Model is the model file path.
	Model string

	// Tokens is the token table path.
	Tokens string

	// UseITN enables inverse text normalization during decoding.
	UseITN bool

	NumThreads int
	Provider   string
}

// OnlineRecognizerConfig configures a streaming recognizer with built-in
// endpoint detection.
type OnlineRecognizerConfig struct {
	// Encoder, Decoder and Joiner are the transducer model file paths.
	// Paraformer-style models leave Joiner empty.
	Encoder string
	Decoder string
	Joiner  string

	// Tokens is the token table path.
	Tokens string

	// FeatureDim is the acoustic feature dimension.
	FeatureDim int

	NumThreads int
	Provider   string

	// Endpoint rules. Rule1 fires on trailing silence before any decoded
	// output; Rule2 fires on (shorter) trailing silence once something has
	// been decoded; Rule3 bounds the minimum utterance length. All values
	// are seconds.
	EnableEndpoint          bool
	Rule1MinTrailingSilence float32
	Rule2MinTrailingSilence float32
	Rule3MinUtteranceLength float32
}

// VADConfig configures a voice-activity detector.
type VADConfig struct {
	// Model is the VAD model file path.
	Model string

	// Threshold is the speech probability threshold.
	Threshold float32

	// Durations in seconds.
	MinSilenceDuration float32
	MinSpeechDuration  float32
	MaxSpeechDuration  float32

	SampleRate int
	NumThreads int
	Provider   string
}

// SpeakerEmbeddingConfig configures a speaker-embedding extractor.
type SpeakerEmbeddingConfig struct {
	Model      string
	NumThreads int
	Provider   string
}

// DiarizationConfig configures offline speaker diarization.
type DiarizationConfig struct {
	SegmentationModel string
	EmbeddingModel    string

	// ClusterThreshold controls agglomerative clustering when NumClusters
	// is not fixed.
	ClusterThreshold float32

	// NumClusters fixes the cluster count; -1 selects it automatically.
	NumClusters int

	NumThreads int
	Provider   string
}

// PunctuationConfig configures a punctuation model.
type PunctuationConfig struct {
	Model      string
	NumThreads int
	Provider   string
}

// Toolkit is a factory for every inference capability the gateway uses.
// Implementations wrap one underlying runtime and register themselves with
// [Register] from an init function.
type Toolkit interface {
	NewOfflineRecognizer(cfg OfflineRecognizerConfig) (OfflineRecognizer, error)
	NewOnlineRecognizer(cfg OnlineRecognizerConfig) (OnlineRecognizer, error)
	NewVoiceDetector(cfg VADConfig) (VoiceDetector, error)
	NewEmbeddingExtractor(cfg SpeakerEmbeddingConfig) (EmbeddingExtractor, error)
	NewDiarizer(cfg DiarizationConfig) (Diarizer, error)
	NewPunctuator(cfg PunctuationConfig) (Punctuator, error)
}
