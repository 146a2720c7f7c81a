package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Djaktion/object-detection-hub/pkg/nn"
	"github.com/Djaktion/object-detection-hub/pkg/nnload"
	"github.com/Djaktion/object-detection-hub/server/analysisdb"
	"github.com/Djaktion/object-detection-hub/server/bundle"
	"github.com/Djaktion/object-detection-hub/server/config"
	"github.com/Djaktion/object-detection-hub/server/media"
	"github.com/Djaktion/object-detection-hub/server/pipeline"
	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("odh", "Object detection hub")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file", Required: false, Default: ""})

	analyzeCmd := parser.NewCommand("analyze", "Analyze an image or video")
	input := analyzeCmd.String("i", "input", &argparse.Options{Help: "Input media file", Required: true})
	kind := analyzeCmd.String("k", "kind", &argparse.Options{Help: "Input kind (image|video). Inferred from the extension if omitted", Required: false, Default: ""})
	threshold := analyzeCmd.Float("t", "threshold", &argparse.Options{Help: "Confidence threshold", Required: false, Default: 0.0})
	stride := analyzeCmd.Int("s", "stride", &argparse.Options{Help: "Video frame sampling stride", Required: false, Default: 0})
	carryForward := analyzeCmd.Flag("", "carry-forward", &argparse.Options{Help: "Annotate skipped frames with the last sampled frame's detections", Required: false})

	listCmd := parser.NewCommand("list", "List analyses")
	listLimit := listCmd.Int("n", "limit", &argparse.Options{Help: "Maximum number of analyses to show", Required: false, Default: 20})

	statsCmd := parser.NewCommand("stats", "Show global class counts across completed analyses")

	seriesCmd := parser.NewCommand("timeseries", "Show detection counts for one class over time")
	seriesClass := seriesCmd.String("", "class", &argparse.Options{Help: "Class label (eg person)", Required: true})
	seriesDays := seriesCmd.Int("d", "days", &argparse.Options{Help: "Bucket size in days", Required: false, Default: 1})

	exportCmd := parser.NewCommand("export", "Export an analysis's detections as CSV")
	exportID := exportCmd.String("", "id", &argparse.Options{Help: "Analysis id", Required: true})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	check(err)

	cfg, err := loadConfig(*configFile)
	check(err)

	db, err := analysisdb.Open(logger, cfg.DBPath)
	check(err)
	store, err := bundle.NewStore(logger, cfg.StoragePath)
	check(err)

	switch {
	case analyzeCmd.Happened():
		check(runAnalyze(logger, cfg, db, store, *input, *kind, float32(*threshold), *stride, *carryForward))
	case listCmd.Happened():
		check(runList(db, *listLimit))
	case statsCmd.Happened():
		check(runStats(db))
	case seriesCmd.Happened():
		check(runTimeSeries(db, *seriesClass, *seriesDays))
	case exportCmd.Happened():
		check(runExport(store, *exportID))
	}
}

func loadConfig(filename string) (*config.Config, error) {
	if filename == "" && os.Getenv("ODH_CONFIG") == "" {
		if _, err := os.Stat("odh.json"); err != nil {
			// No config anywhere, run on defaults
			return config.Default(), nil
		}
	}
	return config.Load(filename)
}

func loadDetector(logger logs.Log, cfg *config.Config) (nn.ObjectDetector, error) {
	nnload.RegisterBackend("scripted", func(logger logs.Log, modelConfig *nn.ModelConfig, modelPath string) (nn.ObjectDetector, error) {
		return nn.NewScriptedDetector(modelConfig.Width, modelConfig.Height, modelConfig.Classes), nil
	})
	if cfg.Backend == "scripted" {
		if _, err := os.Stat(filepath.Join(cfg.ModelDir, cfg.Model+".json")); err != nil {
			// Dry-run mode with no model files on disk
			return nn.NewScriptedDetector(640, 480, nn.COCOClasses), nil
		}
	}
	loader := nnload.NewLoader(logger, cfg.Backend, cfg.ModelDir, cfg.Model)
	return loader.Detector()
}

func inferKind(filename, kind string) (media.Kind, error) {
	switch kind {
	case "image":
		return media.KindImage, nil
	case "video":
		return media.KindVideo, nil
	case "":
	default:
		return "", fmt.Errorf("Unknown kind '%v' (want image or video)", kind)
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png":
		return media.KindImage, nil
	case ".mp4", ".mov", ".mkv", ".avi", ".webm":
		return media.KindVideo, nil
	}
	return "", fmt.Errorf("Can't infer media kind from '%v', specify --kind", filename)
}

func runAnalyze(logger logs.Log, cfg *config.Config, db *analysisdb.AnalysisDB, store *bundle.Store, input, kindFlag string, threshold float32, stride int, carryForward bool) error {
	kind, err := inferKind(input, kindFlag)
	if err != nil {
		return err
	}
	detector, err := loadDetector(logger, cfg)
	if err != nil {
		return err
	}
	defer detector.Close()

	runner := pipeline.NewRunner(logger, cfg, db, store, detector)
	id, err := runner.Submit(pipeline.Request{
		Filename:      input,
		Kind:          kind,
		ConfThreshold: threshold,
		Stride:        stride,
		CarryForward:  carryForward,
	})
	if err != nil {
		return err
	}
	runner.Wait()

	analysis, err := db.GetAnalysis(id)
	if err != nil {
		return err
	}
	if analysis.Status != analysisdb.StatusCompleted {
		return fmt.Errorf("Analysis %v %v: %v", id, analysis.Status, analysis.Error)
	}
	fmt.Printf("Analysis %v completed: %v frames, %v sampled, %v detections\n",
		id, analysis.FrameCount, analysis.SampledFrames, analysis.Detections)
	fmt.Printf("Results in %v\n", store.Path(id))
	return nil
}

func runList(db *analysisdb.AnalysisDB, limit int) error {
	list, err := db.ListAnalyses(limit)
	if err != nil {
		return err
	}
	fmt.Printf("%-34v %-10v %-11v %-20v %v\n", "ID", "KIND", "STATUS", "CREATED", "FILE")
	for _, a := range list {
		fmt.Printf("%-34v %-10v %-11v %-20v %v\n",
			a.AnalysisID, a.Kind, a.Status, a.CreatedAt.Get().Format("2006-01-02 15:04:05"), a.Filename)
	}
	return nil
}

func runStats(db *analysisdb.AnalysisDB) error {
	counts, err := db.GlobalClassCounts()
	if err != nil {
		return err
	}
	for _, class := range counts.Labels() {
		fmt.Printf("%-20v %v\n", class, counts[class])
	}
	fmt.Printf("%-20v %v\n", "total", counts.Total())
	return nil
}

func runTimeSeries(db *analysisdb.AnalysisDB, class string, days int) error {
	series, err := db.ClassTimeSeries(class, time.Duration(days)*24*time.Hour)
	if err != nil {
		return err
	}
	for _, point := range series {
		fmt.Printf("%v %v\n", point.Time.Format("2006-01-02"), point.Count)
	}
	return nil
}

func runExport(store *bundle.Store, analysisID string) error {
	reader, err := store.Open(analysisID)
	if err != nil {
		return err
	}
	return reader.ExportCSV(os.Stdout)
}
