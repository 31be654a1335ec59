package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"wallcalc/internal/converter/aggregate"
	"wallcalc/internal/converter/classify"
	"wallcalc/internal/converter/mapper"
	"wallcalc/internal/converter/models"
)

// ============================================================
// parse
// ============================================================

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file[@building/floor]>...",
		Short: "Extract wall segments and print the report with per-layer and hierarchy totals",
		Long: "Each file runs through its own pipeline. A suffix @building/floor " +
			"assigns the file to a floor of the project hierarchy; otherwise --building/--floor apply.",
		Args: cobra.MinimumNArgs(1),
		RunE: runParse,
	}
}

func runParse(cmd *cobra.Command, args []string) error {
	opts, err := pipelineOptions()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	results, err := convertFiles(ctx, parseTargets(args), opts, viper.GetInt("jobs"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if viper.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printFile(out, r)
		}
		if len(results) > 1 {
			combined, err := combine(opts, results)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n== all files\n")
			printRollup(out, combined)
		}
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

// target - файл и этаж, к которому он относится.
type target struct {
	Path       string
	BuildingID string
	FloorID    string
}

// parseTargets разбирает аргументы вида "plan.dxf@B1/3F".
func parseTargets(args []string) []target {
	targets := make([]target, 0, len(args))
	for _, arg := range args {
		t := target{Path: arg}
		if i := strings.LastIndex(arg, "@"); i > 0 {
			if building, floor, ok := strings.Cut(arg[i+1:], "/"); ok {
				t = target{Path: arg[:i], BuildingID: building, FloorID: floor}
			}
		}
		targets = append(targets, t)
	}
	return targets
}

type fileResult struct {
	Path   string         `json:"path"`
	Result *models.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// convertFiles прогоняет файлы параллельно, не больше jobs одновременно.
// Ошибка файла попадает в его результат; общая ошибка - только отмена.
func convertFiles(ctx context.Context, targets []target, opts mapper.Options, jobs int) ([]fileResult, error) {
	results := make([]fileResult, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	if jobs > 0 {
		g.SetLimit(jobs)
	}
	for i, t := range targets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = convertFile(ctx, t, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func convertFile(ctx context.Context, t target, opts mapper.Options) fileResult {
	r := fileResult{Path: t.Path}
	fail := func(err error) fileResult {
		log.Printf("[CLI] %s: %v", t.Path, err)
		r.Error = err.Error()
		return r
	}

	f, err := os.Open(t.Path)
	if err != nil {
		return fail(err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fail(err)
	}

	opts.Source = filepath.Base(t.Path)
	if t.FloorID != "" {
		opts.BuildingID, opts.FloorID = t.BuildingID, t.FloorID
	}
	conv, err := mapper.New(opts)
	if err != nil {
		return fail(err)
	}
	res, err := conv.Convert(ctx, f, st.Size())
	if err != nil {
		return fail(err)
	}
	r.Result = res
	return r
}

// combine сводит сегменты всех файлов в одну статистику проекта.
func combine(opts mapper.Options, results []fileResult) (*models.AggregationResult, error) {
	project := models.Project{}
	if opts.Project != nil {
		project = *opts.Project
	}
	categories := opts.Categories
	if categories == nil {
		categories = classify.DefaultCategories()
	}
	agg, err := aggregate.New(project, categories)
	if err != nil {
		return nil, err
	}

	var segs []models.WallSegment
	for _, r := range results {
		if r.Result != nil {
			segs = append(segs, r.Result.Segments...)
		}
	}
	return agg.Aggregate(segs), nil
}

// ============================================================
// layers
// ============================================================

func newLayersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layers <file>",
		Short: "List drawing layers with their wall segment totals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := pipelineOptions()
			if err != nil {
				return err
			}
			r := convertFile(cmd.Context(), target{Path: args[0]}, opts)
			if r.Error != "" {
				return fmt.Errorf("%s: %s", r.Path, r.Error)
			}
			if viper.GetBool("json") {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(layerRows(r.Result))
			}
			printLayers(cmd.OutOrStdout(), r.Result)
			return nil
		},
	}
}

type layerRow struct {
	models.Layer
	Segments int     `json:"segments"`
	Length   float64 `json:"length"`
}

// layerRows объединяет таблицу слоев с итогами по сегментам. Слои,
// которых нет в таблице, но на которых есть сегменты, тоже попадают.
func layerRows(res *models.Result) []layerRow {
	totals := make(map[string]models.LayerTotal)
	for _, t := range res.LayerSummary() {
		totals[t.Layer] = t
	}

	rows := make([]layerRow, 0, len(res.Layers))
	seen := make(map[string]bool)
	for _, l := range res.Layers {
		t := totals[l.Name]
		rows = append(rows, layerRow{Layer: l, Segments: t.Count, Length: t.Length})
		seen[l.Name] = true
	}
	for name, t := range totals {
		if !seen[name] {
			rows = append(rows, layerRow{Layer: models.Layer{Name: name}, Segments: t.Count, Length: t.Length})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// ============================================================
// Output
// ============================================================

func printFile(w io.Writer, r fileResult) {
	fmt.Fprintf(w, "== %s\n", r.Path)
	if r.Error != "" {
		fmt.Fprintf(w, "error: %s\n", r.Error)
		return
	}
	res := r.Result
	rep := res.Report

	fmt.Fprintf(w, "run %s\n", rep.RunID)
	enc := rep.Encoding
	if rep.Fallback {
		enc += fmt.Sprintf(" (fallback, declared %s)", rep.DeclaredEncoding)
	}
	fmt.Fprintf(w, "encoding: %s\n", enc)
	fmt.Fprintf(w, "decoded: %d  segments: %d  skipped: %d  filtered: %d\n",
		rep.Decoded, rep.SegmentsProduced, rep.SkippedCount(), rep.Filtered)

	reasons := make([]string, 0, len(rep.SkippedByReason))
	for reason := range rep.SkippedByReason {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "  %s: %d\n", reason, rep.SkippedByReason[models.SkipReason(reason)])
	}
	for _, c := range rep.Conflicts {
		fmt.Fprintf(w, "conflict: %s: %s\n", c.SegmentID, c.Reason)
	}
	for _, msg := range rep.Warnings {
		fmt.Fprintf(w, "warning: %s\n", msg)
	}

	printLayers(w, res)
	if res.Aggregation != nil {
		printRollup(w, res.Aggregation)
	}
}

func printLayers(w io.Writer, res *models.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LAYER\tCOLOR\tSTATE\tSEGMENTS\tLENGTH")
	for _, row := range layerRows(res) {
		state := "on"
		if row.Off {
			state = "off"
		}
		if row.Frozen {
			state += ",frozen"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%.3f\n", row.Name, row.Color, state, row.Segments, row.Length)
	}
	tw.Flush()
}

func printRollup(w io.Writer, agg *models.AggregationResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUILDING\tFLOOR\tCATEGORY\tSEGMENTS\tLENGTH")
	for _, b := range agg.Buckets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.3f\n", b.BuildingLabel, b.FloorLabel, b.CategoryLabel, b.Count, b.Length)
	}
	tw.Flush()

	ids := make([]string, 0, len(agg.Buildings))
	for id := range agg.Buildings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "building %s: %.3f (%d)\n", id, agg.Buildings[id].Length, agg.Buildings[id].Count)
	}
	fmt.Fprintf(w, "shared: %.3f (%d)\n", agg.Shared.Length, agg.Shared.Count)
	fmt.Fprintf(w, "unassigned: %.3f (%d)\n", agg.Unassigned.Length, agg.Unassigned.Count)
	fmt.Fprintf(w, "project: %.3f (%d)\n", agg.Project.Length, agg.Project.Count)
}
