package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/zasr/pkg/cli"
	"github.com/haivivi/zasr/pkg/inference"
	"github.com/haivivi/zasr/pkg/voiceprint"
)

var (
	addName    string
	addForce   bool
	listOutput string
)

var voiceprintCmd = &cobra.Command{
	Use:     "voiceprint",
	Aliases: []string{"vp"},
	Short:   "Manage the voice-print catalog",
}

var vpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered speakers",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		format := cli.OutputFormat(listOutput)
		if format != cli.FormatTable {
			return cli.Output(os.Stdout, struct {
				VoicePrints     []voiceprint.Record  `yaml:"voice_prints" json:"voice_prints"`
				UnknownSpeakers []voiceprint.Unknown `yaml:"unknown_speakers" json:"unknown_speakers"`
			}{catalog.List(), catalog.Unknowns()}, format)
		}
		printCatalog(catalog)
		return nil
	},
}

var vpAddCmd = &cobra.Command{
	Use:   "add --name NAME FILE.wav [FILE.wav...]",
	Short: "Enroll a speaker from WAV samples",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if addName == "" {
			return fmt.Errorf("--name is required")
		}
		id, err := newEnrollmentIdentifier()
		if err != nil {
			return err
		}
		defer id.Close()

		speakerID, err := id.AddSpeaker(addName, args, addForce)
		if err != nil {
			return err
		}
		fmt.Printf("Enrolled %s as %s (%d samples)\n", addName, speakerID, len(args))
		return nil
	},
}

var vpRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a speaker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		if err := catalog.Remove(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var vpRenameCmd = &cobra.Command{
	Use:   "rename ID NAME",
	Short: "Rename a speaker",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		if err := catalog.Rename(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Renamed %s to %q\n", args[0], args[1])
		return nil
	},
}

var vpValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check catalog integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := openCatalog()
		if err != nil {
			return err
		}
		problems := catalog.Validate()
		if len(problems) == 0 {
			fmt.Println("Catalog is consistent.")
			return nil
		}
		for _, p := range problems {
			fmt.Println(p)
		}
		return fmt.Errorf("%d problem(s) found", len(problems))
	},
}

func init() {
	vpAddCmd.Flags().StringVar(&addName, "name", "", "speaker display name")
	vpAddCmd.Flags().BoolVar(&addForce, "force", false, "skip multi-speaker pre-validation")
	vpListCmd.Flags().StringVarP(&listOutput, "output", "o", string(cli.FormatTable), "output format (table, yaml, json)")

	voiceprintCmd.AddCommand(vpListCmd, vpAddCmd, vpRemoveCmd, vpRenameCmd, vpValidateCmd)
	rootCmd.AddCommand(voiceprintCmd)
}

func openCatalog() (*voiceprint.Catalog, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	dir, err := cfg.CatalogDir()
	if err != nil {
		return nil, err
	}
	return voiceprint.Open(dir, slog.Default())
}

// newEnrollmentIdentifier wires the full enrollment pipeline: extractor
// and optional diarizer from the configured toolkit, the native manager,
// and the catalog.
func newEnrollmentIdentifier() (*voiceprint.Identifier, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tk, err := inference.Lookup(cfg.Toolkit)
	if err != nil {
		return nil, err
	}
	dir, err := cfg.CatalogDir()
	if err != nil {
		return nil, err
	}
	catalog, err := voiceprint.Open(dir, slog.Default())
	if err != nil {
		return nil, err
	}
	extractor, err := tk.NewEmbeddingExtractor(inference.SpeakerEmbeddingConfig{
		Model:      cfg.Speaker.Model,
		NumThreads: cfg.Recognizer.NumThreads,
		Provider:   cfg.Recognizer.Provider,
	})
	if err != nil {
		return nil, err
	}

	var diarizer inference.Diarizer
	if cfg.Speaker.SegmentationModel != "" {
		diarizer, err = tk.NewDiarizer(inference.DiarizationConfig{
			SegmentationModel: cfg.Speaker.SegmentationModel,
			EmbeddingModel:    cfg.Speaker.Model,
			ClusterThreshold:  0.5,
			NumClusters:       -1,
			NumThreads:        cfg.Recognizer.NumThreads,
			Provider:          cfg.Recognizer.Provider,
		})
		if err != nil {
			slog.Warn("diarization unavailable, enrollment pre-validation disabled", "error", err)
			diarizer = nil
		}
	}

	return voiceprint.NewIdentifier(voiceprint.IdentifierConfig{
		Threshold: cfg.Speaker.Threshold,
		AutoTrack: cfg.Speaker.AutoTrack,
	}, extractor, voiceprint.NewManager(extractor.Dim()), diarizer, catalog, slog.Default())
}

func printCatalog(catalog *voiceprint.Catalog) {
	prints := catalog.List()
	unknowns := catalog.Unknowns()
	if len(prints) == 0 && len(unknowns) == 0 {
		fmt.Println("Catalog is empty.")
		return
	}

	if len(prints) > 0 {
		fmt.Println(cli.TitleStyle.Render("SPEAKERS"))
		rows := [][]string{{"ID", "NAME", "DIM", "SAMPLES", "UPDATED"}}
		for _, rec := range prints {
			rows = append(rows, []string{
				rec.ID, rec.Name,
				fmt.Sprintf("%d", rec.EmbeddingDim),
				fmt.Sprintf("%d", rec.NumSamples),
				rec.UpdatedAt,
			})
		}
		cli.Table(os.Stdout, rows)
	}

	if len(unknowns) > 0 {
		fmt.Println(cli.TitleStyle.Render("UNKNOWN SPEAKERS"))
		rows := [][]string{{"ID", "SEEN", "AVG CONF", "LAST SEEN"}}
		for _, u := range unknowns {
			rows = append(rows, []string{
				u.ID,
				fmt.Sprintf("%d", u.OccurrenceCount),
				fmt.Sprintf("%.2f", u.AvgConfidence),
				u.LastSeen,
			})
		}
		cli.Table(os.Stdout, rows)
	}
}
