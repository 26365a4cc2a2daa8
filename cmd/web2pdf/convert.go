package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jonathan/web2pdf/internal/observability"
	"github.com/jonathan/web2pdf/internal/pipeline"
	"github.com/jonathan/web2pdf/internal/types"
	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a webpage to PDF without starting the server",
	Long: `Runs one conversion: render the page, optionally crawl and render its same-host subpages,
merge, annotate and compress. The document is written to the output directory.`,
	RunE: runConvert,
}

var (
	convertURL           string
	convertOut           string
	convertUserID        string
	convertPaper         string
	convertOrientation   string
	convertMargins       string
	convertFontSize      int
	convertSubpages      bool
	convertMaxSubpages   int
	convertQuality       string
	convertNoImages      bool
	convertCSS           string
	convertRespectRobots bool
	convertVerbose       bool
)

func init() {
	convertCmd.Flags().StringVarP(&convertURL, "url", "u", "", "URL of the page to convert")
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "", "Output directory (overrides config and OUTPUT_DIR)")
	convertCmd.Flags().StringVar(&convertUserID, "user-id", "", "Owner recorded in the history (optional)")
	convertCmd.Flags().Var(newEnumValue(&convertPaper, "A4", "A5", "Letter", "Legal"), "paper", "Paper size: A4, A5, Letter or Legal")
	convertCmd.Flags().Var(newEnumValue(&convertOrientation, "portrait", "landscape"), "orientation", "portrait or landscape")
	convertCmd.Flags().Var(newEnumValue(&convertMargins, "none", "small", "normal", "large"), "margins", "Margin preset: none, small, normal or large")
	convertCmd.Flags().IntVar(&convertFontSize, "font-size", 0, "Font size in percent (50-200)")
	convertCmd.Flags().BoolVar(&convertSubpages, "subpages", false, "Also render same-host subpages linked from the page")
	convertCmd.Flags().IntVar(&convertMaxSubpages, "max-subpages", 0, "Maximum number of subpages (1-30)")
	convertCmd.Flags().Var(newEnumValue(&convertQuality, "screen", "ebook", "printer", "prepress"), "quality", "Compression quality: screen, ebook, printer or prepress")
	convertCmd.Flags().BoolVar(&convertNoImages, "no-images", false, "Do not load images")
	convertCmd.Flags().StringVar(&convertCSS, "css", "", "Extra CSS applied before printing")
	convertCmd.Flags().BoolVar(&convertRespectRobots, "respect-robots", false, "Skip subpages disallowed by robots.txt")
	convertCmd.Flags().BoolVarP(&convertVerbose, "verbose", "v", false, "Print each pipeline stage as it finishes")

	_ = convertCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(convertCmd)
}

// convertRequest builds the conversion request from the command line flags.
func convertRequest() (types.ConversionRequest, error) {
	settings := types.RenderSettings{
		PaperSize:          types.PaperSize(convertPaper),
		Orientation:        types.Orientation(convertOrientation),
		Margins:            types.MarginPreset(convertMargins),
		FontSizePercent:    convertFontSize,
		IncludeSubpages:    convertSubpages,
		MaxSubpages:        convertMaxSubpages,
		CompressionQuality: types.CompressionQuality(convertQuality),
		CustomCSS:          convertCSS,
		RespectRobots:      convertRespectRobots,
	}
	if convertNoImages {
		images := false
		settings.IncludeImages = &images
	}

	req := types.ConversionRequest{URL: convertURL, Settings: settings}
	if convertUserID != "" {
		id, err := uuid.Parse(convertUserID)
		if err != nil {
			return req, fmt.Errorf("invalid --user-id: %w", err)
		}
		req.UserID = id
	}
	return req, nil
}

func runConvert(cmd *cobra.Command, _ []string) error {
	req, err := convertRequest()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if convertOut != "" {
		cfg.Storage.OutputDir = convertOut
	}

	ctx := cmd.Context()
	rt, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	var onProgress pipeline.ProgressCallback
	if convertVerbose {
		onProgress = func(event pipeline.ProgressEvent) {
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s %s\n", event.Stage, event.Status, event.Message)
		}
	}

	artifact, err := rt.orchestrator().ConvertWithProgress(ctx, req, onProgress)
	if err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	printer.PrintStages(artifact.Stages)
	printer.PrintArtifact(artifact)
	return nil
}
