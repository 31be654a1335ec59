// Command wallcalc извлекает длины стен из DXF-чертежей и сводит их по
// проекту, зданиям, этажам и категориям.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"wallcalc/internal/converter/aggregate"
	"wallcalc/internal/converter/classify"
	"wallcalc/internal/converter/geometry"
	"wallcalc/internal/converter/mapper"
)

const version = "0.3.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "wallcalc",
		Short:        "Wall quantity extraction from DXF drawings",
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("rules", "", "Layer rule set file (YAML/JSON)")
	flags.String("hierarchy", "", "Project hierarchy file (YAML/JSON)")
	flags.String("building", "", "Building id for files without an explicit @building/floor")
	flags.String("floor", "", "Floor id for files without an explicit @building/floor")
	flags.String("layer-prefix", "", "Keep only layers with this prefix")
	flags.String("encoding", "", "Preferred text encoding (utf-8, cp950, gbk, ...)")
	flags.Int("max-depth", 64, "Maximum block nesting depth")
	flags.Float64("spline-tolerance", geometry.DefaultTolerance, "Adaptive length tolerance for splines and skewed curves")
	flags.Bool("no-recovery", false, "Fail instead of decoding with replacement characters when every encoding fails")
	flags.Int("jobs", 4, "Files processed in parallel")
	flags.Bool("json", false, "Print results as JSON")

	for _, name := range []string{
		"rules", "hierarchy", "building", "floor", "layer-prefix", "encoding",
		"max-depth", "spline-tolerance", "no-recovery", "jobs", "json",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}

	// WALLCALC_RULES, WALLCALC_LAYER_PREFIX, ...
	viper.SetEnvPrefix("WALLCALC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(".wallcalc")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.ReadInConfig() // файл конфигурации необязателен

	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newLayersCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print wallcalc version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wallcalc %s\n", version)
		},
	}
}

// pipelineOptions собирает параметры конвейера из флагов, окружения и
// .wallcalc.yaml.
func pipelineOptions() (mapper.Options, error) {
	opts := mapper.Options{
		WallLayerPrefix: viper.GetString("layer-prefix"),
		BuildingID:      viper.GetString("building"),
		FloorID:         viper.GetString("floor"),
		MaxBlockDepth:   viper.GetInt("max-depth"),
		SplineTolerance: viper.GetFloat64("spline-tolerance"),
		DisableRecovery: viper.GetBool("no-recovery"),
		Encoding:        viper.GetString("encoding"),
	}

	if path := viper.GetString("rules"); path != "" {
		rs, err := classify.LoadRuleSet(path)
		if err != nil {
			return opts, err
		}
		opts.Rules = rs.Rules
		if len(rs.Categories) > 0 {
			opts.Categories = rs.Categories
		}
	}
	if path := viper.GetString("hierarchy"); path != "" {
		project, err := aggregate.LoadProject(path)
		if err != nil {
			return opts, err
		}
		opts.Project = project
	}
	return opts, nil
}
