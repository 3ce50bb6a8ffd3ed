package main

import (
	"context"
	"encoding/json"
	"fmt"
	"geo-backend/internal/classify"
	"geo-backend/pkg/api"
	"geo-backend/pkg/client"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	apiURL        string
	classifierURL string
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *client.Client {
	return client.New(apiURL, classifierURL)
}

var rootCmd = &cobra.Command{
	Use:           "geoctl",
	Short:         "Browse converted geospatial files and submit classification requests",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var filesCmd = &cobra.Command{
	Use:   "files [folder]",
	Short: "List stored files grouped by run id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder := "data_storage"
		if len(args) == 1 {
			folder = args[0]
		}

		structure, err := newClient().FileStructure(cmd.Context(), folder)
		if err != nil {
			return err
		}
		printFileStructure(cmd.OutOrStdout(), structure)
		return nil
	},
}

func printFileStructure(w io.Writer, structure api.FileStructure) {
	if len(structure) == 0 {
		fmt.Fprintln(w, "no files found")
		return
	}

	runs := make([]string, 0, len(structure))
	for run := range structure {
		runs = append(runs, run)
	}
	sort.Strings(runs)

	for _, run := range runs {
		fmt.Fprintln(w, run)
		for _, file := range structure[run] {
			fmt.Fprintf(w, "  %s\n", file)
		}
	}
}

var metadataCmd = &cobra.Command{
	Use:   "metadata <run_id> <file>",
	Short: "Show the WGS84 bounds and CRS of a raster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		meta, err := newClient().Metadata(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), meta)
	},
}

var outputPath string

var getCmd = &cobra.Command{
	Use:   "get <run_id> <file>",
	Short: "Download a raster as PNG or a vector as GeoJSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		download, err := newClient().GetData(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		defer download.Body.Close()

		out := outputPath
		if out == "" {
			out = defaultOutputName(args[1], download.ContentType)
		}

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("error creating %s: %w", out, err)
		}
		defer f.Close()

		bar := progressbar.DefaultBytes(download.Size, "downloading "+filepath.Base(out))
		if _, err := io.Copy(io.MultiWriter(f, bar), download.Body); err != nil {
			return fmt.Errorf("error writing %s: %w", out, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\nsaved %s\n", out)
		return nil
	},
}

func defaultOutputName(file, contentType string) string {
	base := strings.TrimSuffix(file, filepath.Ext(file))
	if strings.HasPrefix(contentType, "image/png") {
		return base + ".png"
	}
	return base + ".geojson"
}

var (
	paramsFile string
	setParams  []string
	async      bool
)

func buildOverrides() (map[string]any, error) {
	overrides := map[string]any{}
	if paramsFile != "" {
		data, err := os.ReadFile(paramsFile)
		if err != nil {
			return nil, fmt.Errorf("error reading params file: %w", err)
		}
		overrides, err = classify.ParseOverrides(data)
		if err != nil {
			return nil, fmt.Errorf("error parsing params file %s: %w", paramsFile, err)
		}
	}

	for _, kv := range setParams {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set value '%s', expected KEY=VALUE", kv)
		}
		overrides[key] = classify.ParseValue(value)
	}
	return overrides, nil
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Run a classification with parameter overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		overrides, err := buildOverrides()
		if err != nil {
			return err
		}

		c := newClient()
		if async {
			jobId, err := c.SubmitJob(cmd.Context(), overrides)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s\n", jobId)
			return nil
		}

		resp, err := c.Classify(cmd.Context(), overrides)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
		if resp.Status != api.ClassificationSuccess {
			return fmt.Errorf("classification %s: %s", resp.Status, resp.Message)
		}
		return nil
	},
}

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Show the classifier's default parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := newClient().Params(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), params)
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect queued classification jobs",
}

var (
	jobStatus string
	jobLimit  int
	waitJob   bool
)

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List classification jobs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := newClient().ListJobs(cmd.Context(), api.ListJobsParams{Status: jobStatus, Limit: jobLimit})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, job := range jobs {
			fmt.Fprintf(w, "%s  %-9s  %s  %s\n", job.Id, job.Status, job.CreationTime.Local().Format(time.DateTime), job.Message)
		}
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job_id>",
	Short: "Show a classification job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobId, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id '%s': %w", args[0], err)
		}

		c := newClient()
		var job api.ClassificationJob
		if waitJob {
			job, err = c.WaitForJob(cmd.Context(), jobId, 2*time.Second)
		} else {
			job, err = c.GetJob(cmd.Context(), jobId)
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), job)
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("GEO_API_URL", "http://localhost:8001"), "conversion server url")
	rootCmd.PersistentFlags().StringVar(&classifierURL, "classifier-url", envOr("GEO_CLASSIFIER_URL", "http://127.0.0.1:5000"), "classification server url")

	getCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (defaults to the file name with a .png or .geojson extension)")

	classifyCmd.Flags().StringVar(&paramsFile, "params", "", "YAML or JSON file of parameter overrides")
	classifyCmd.Flags().StringArrayVar(&setParams, "set", nil, "parameter override KEY=VALUE, may be repeated")
	classifyCmd.Flags().BoolVar(&async, "async", false, "queue the classification as a job instead of waiting")

	jobsListCmd.Flags().StringVar(&jobStatus, "status", "", "only list jobs with this status")
	jobsListCmd.Flags().IntVar(&jobLimit, "limit", 20, "maximum number of jobs to list")
	jobsGetCmd.Flags().BoolVar(&waitJob, "wait", false, "poll until the job finishes")

	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd)
	rootCmd.AddCommand(filesCmd, metadataCmd, getCmd, classifyCmd, paramsCmd, jobsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
