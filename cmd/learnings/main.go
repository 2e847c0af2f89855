package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mfenderov/compound-learning/internal/config"
	"github.com/mfenderov/compound-learning/internal/consolidate"
	"github.com/mfenderov/compound-learning/internal/embedding"
	"github.com/mfenderov/compound-learning/internal/indexer"
	"github.com/mfenderov/compound-learning/internal/search"
	"github.com/mfenderov/compound-learning/internal/storage"
)

var (
	configFile string
	asJSON     bool
	Version    = "dev"
	logger     = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: false,
	})
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	highStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	possiblyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("221"))

	topicStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("219"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "learnings",
	Short: "Local semantic learning store",
	Long: titleStyle.Render("learnings") + " - an embedded semantic search engine for knowledge snippets\n\n" +
		"Index markdown learnings from your global and per-repo directories,\n" +
		"search them with tiered relevance, and consolidate duplicates.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "emit JSON instead of styled output")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(keywordCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// services bundles everything a command needs, built from configuration.
type services struct {
	cfg        *config.Config
	store      *storage.Store
	embedder   *embedding.Client
	search     *search.Service
	indexer    *indexer.Indexer
	discoverer *consolidate.Discoverer
	actions    *consolidate.Actions
}

func buildServices() (*services, error) {
	var cfg *config.Config
	if configFile != "" {
		cfg = config.LoadFrom(configFile)
	} else {
		cfg = config.Load()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.DBPath), 0o755); err != nil {
		return nil, err
	}
	store, err := storage.NewStore(cfg.SQLite.DBPath)
	if err != nil {
		return nil, err
	}

	embedder := embedding.NewClient(cfg.Embedding.BaseURL,
		embedding.WithModel(cfg.Embedding.Model),
		embedding.WithTimeout(time.Duration(cfg.Embedding.TimeoutSeconds)*time.Second),
		embedding.WithMaxInputBytes(cfg.Embedding.MaxInputBytes),
	)

	return &services{
		cfg:        cfg,
		store:      store,
		embedder:   embedder,
		search:     search.New(store, embedder, cfg.Learnings),
		indexer:    indexer.New(store, embedder, cfg.Learnings.GlobalDir),
		discoverer: consolidate.NewDiscoverer(store, cfg.Consolidation),
		actions:    consolidate.NewActions(store, embedder, cfg.Learnings.ArchiveDir, cfg.Learnings.GlobalDir),
	}, nil
}

func (s *services) Close() {
	s.store.Close()
}

// --- Index command ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index learning files and regenerate manifests",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		rebuildOnly, _ := cmd.Flags().GetBool("rebuild-manifest")
		if rebuildOnly {
			manifests, err := svc.indexer.RebuildManifests()
			if err != nil {
				return err
			}
			for _, m := range manifests {
				logger.Info("Generated manifest", "path", dimStyle.Render(m))
			}
			return nil
		}

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			if dir, err = os.Getwd(); err != nil {
				return err
			}
		}

		res, err := svc.indexer.Index(cmd.Context(), dir)
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(res)
		}
		logger.Info("Indexing complete",
			"indexed", successStyle.Render(strconv.Itoa(res.Indexed)),
			"pruned", strconv.Itoa(res.Pruned),
			"errors", strconv.Itoa(res.Errors),
			"manifests", strconv.Itoa(len(res.Manifests)))
		return nil
	},
}

func init() {
	indexCmd.Flags().Bool("rebuild-manifest", false, "only regenerate manifests from existing records")
	indexCmd.Flags().String("dir", "", "working directory for repo discovery (default: cwd)")
}

// --- Search commands ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over indexed learnings",
	Args:  cobra.MinimumNArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}

		peek, _ := cmd.Flags().GetBool("peek")
		keywords, _ := cmd.Flags().GetStringSlice("keywords")
		excludeIDs, _ := cmd.Flags().GetStringSlice("exclude-ids")
		maxResults, _ := cmd.Flags().GetInt("max-results")
		if threshold, _ := cmd.Flags().GetFloat64("threshold"); threshold > 0 {
			learningsCfg := svc.cfg.Learnings
			learningsCfg.HighConfidenceThreshold = threshold
			if learningsCfg.PossiblyRelevantThreshold <= threshold {
				learningsCfg.PossiblyRelevantThreshold = threshold
			}
			svc.search = search.New(svc.store, svc.embedder, learningsCfg)
		}

		var resp search.Response
		if peek {
			if len(keywords) == 0 {
				keywords = args
			}
			resp = svc.search.Peek(cmd.Context(), search.PeekRequest{
				Keywords:   keywords,
				Cwd:        cwd,
				ExcludeIDs: excludeIDs,
				MaxResults: maxResults,
			})
		} else {
			if len(args) == 0 {
				return fmt.Errorf("search requires a query")
			}
			resp = svc.search.Search(cmd.Context(), strings.Join(args, " "), cwd)
		}

		if asJSON {
			return printJSON(resp)
		}
		printSearchResponse(resp)
		return nil
	},
}

func init() {
	searchCmd.Flags().Bool("peek", false, "peek mode: parallel keyword search with a small result cap")
	searchCmd.Flags().StringSlice("keywords", nil, "keywords for peek mode")
	searchCmd.Flags().StringSlice("exclude-ids", nil, "learning ids to exclude")
	searchCmd.Flags().Int("max-results", 0, "result cap for peek mode")
	searchCmd.Flags().Float64("threshold", 0, "override the high-confidence distance threshold")
}

var keywordCmd = &cobra.Command{
	Use:   "keyword <query>",
	Short: "Full-text keyword search over learning content",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		matches, err := svc.search.Keywords(strings.Join(args, " "), cwd, limit)
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(matches)
		}
		if len(matches) == 0 {
			logger.Info("No matches")
			return nil
		}
		for _, m := range matches {
			fmt.Println(highStyle.Render(m.Summary) + " " + topicStyle.Render("("+m.Topic+")"))
			fmt.Println("  " + dimStyle.Render(m.FilePath))
		}
		return nil
	},
}

func init() {
	keywordCmd.Flags().Int("limit", 20, "maximum results")
}

// --- Consolidate commands ---

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Find and resolve duplicate or outdated learnings",
}

var consolidateDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find duplicate clusters and outdated learnings (read-only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		mode, _ := cmd.Flags().GetString("mode")
		limit, _ := cmd.Flags().GetInt("limit")

		report, err := svc.discoverer.Discover(mode, limit)
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(report)
		}
		printReport(report)
		return nil
	},
}

var consolidateGetCmd = &cobra.Command{
	Use:   "get <id>...",
	Short: "Fetch full learning content for review",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		learnings, err := svc.actions.Get(args)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(learnings)
		}
		for _, l := range learnings {
			fmt.Println(titleStyle.Render(l.FilePath))
			fmt.Println(l.Content)
			fmt.Println()
		}
		return nil
	},
}

var consolidateDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Back up and delete learnings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		return reportResult(svc.actions.Delete(args))
	},
}

var consolidateArchiveCmd = &cobra.Command{
	Use:   "archive <id>...",
	Short: "Move learnings out of the active index into the archive",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		return reportResult(svc.actions.Archive(args))
	},
}

var consolidateRescopeCmd = &cobra.Command{
	Use:   "rescope <id> <scope>",
	Short: "Move a learning between global and repo scope",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		repoRoot, _ := cmd.Flags().GetString("repo-root")
		return reportResult(svc.actions.Rescope(args[0], args[1], repoRoot))
	},
}

var consolidateMergeCmd = &cobra.Command{
	Use:   "merge <id>...",
	Short: "Merge learnings into one new file with attribution",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		name, _ := cmd.Flags().GetString("name")
		outputDir, _ := cmd.Flags().GetString("output-dir")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		res := svc.actions.Merge(cmd.Context(), consolidate.MergeRequest{
			IDs:       args,
			Name:      name,
			OutputDir: outputDir,
			DryRun:    dryRun,
		})

		if asJSON {
			return printJSON(res)
		}
		if res.DryRun {
			logger.Info("Dry run", "would_create", dimStyle.Render(res.NewFile))
		} else if res.NewFile != "" {
			logger.Info("Merged", "file", successStyle.Render(res.NewFile))
		}
		return reportResult(res.Result)
	},
}

func init() {
	consolidateDiscoverCmd.Flags().String("mode", consolidate.ModeAll, "all, duplicates, or outdated")
	consolidateDiscoverCmd.Flags().Int("limit", 0, "cap clusters and outdated hits (0 = no cap)")
	consolidateRescopeCmd.Flags().String("repo-root", "", "target repo root (required for repo scope)")
	consolidateMergeCmd.Flags().String("name", "", "name for the merged file (required)")
	consolidateMergeCmd.Flags().String("output-dir", "", "override the output directory")
	consolidateMergeCmd.Flags().Bool("dry-run", false, "report the plan without writing")
	_ = consolidateMergeCmd.MarkFlagRequired("name")

	consolidateCmd.AddCommand(consolidateDiscoverCmd)
	consolidateCmd.AddCommand(consolidateGetCmd)
	consolidateCmd.AddCommand(consolidateDeleteCmd)
	consolidateCmd.AddCommand(consolidateArchiveCmd)
	consolidateCmd.AddCommand(consolidateRescopeCmd)
	consolidateCmd.AddCommand(consolidateMergeCmd)
}

// --- Stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show store statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		total, err := svc.store.Count()
		if err != nil {
			return err
		}
		breakdown, err := svc.store.Stats()
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(map[string]any{"total": total, "breakdown": breakdown})
		}

		fmt.Println(titleStyle.Render("Learning Store Statistics"))
		fmt.Println()
		fmt.Println("  " + dimStyle.Render("Database:") + " " + svc.store.Path())
		fmt.Println("  " + dimStyle.Render("Total:") + "    " + successStyle.Render(strconv.Itoa(total)))
		fmt.Println()
		for _, row := range breakdown {
			scope := row.Scope
			if row.Repo != "" {
				scope += "/" + row.Repo
			}
			fmt.Println("  " + dimStyle.Render(scope) + " " + topicStyle.Render(row.Topic) + " " + strconv.Itoa(row.Count))
		}
		return nil
	},
}

// --- Init command ---

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices()
		if err != nil {
			return err
		}
		defer svc.Close()

		logger.Info("Database initialized", "path", dimStyle.Render(svc.store.Path()))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("learnings " + Version)
	},
}

// --- Output helpers ---

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printSearchResponse(resp search.Response) {
	switch resp.Status {
	case search.StatusError:
		logger.Error("Search failed", "error", resp.Error)
		return
	case search.StatusNoResults, search.StatusEmpty:
		logger.Info("No relevant learnings found")
		return
	}

	if len(resp.HighConfidence) > 0 {
		fmt.Println(titleStyle.Render("High confidence"))
		for _, r := range resp.HighConfidence {
			printResult(r, highStyle)
		}
	}
	if len(resp.PossiblyRelevant) > 0 {
		fmt.Println(titleStyle.Render("Possibly relevant"))
		for _, r := range resp.PossiblyRelevant {
			printResult(r, possiblyStyle)
		}
	}
	if len(resp.ReposSearched) > 0 {
		fmt.Println(dimStyle.Render("Repos: " + strings.Join(resp.ReposSearched, ", ")))
	}
}

func printResult(r search.Result, style lipgloss.Style) {
	fmt.Printf("  %s %s %s\n",
		style.Render(r.Summary),
		topicStyle.Render("("+r.Topic+")"),
		dimStyle.Render(fmt.Sprintf("%.3f", r.Distance)))
	fmt.Println("    " + dimStyle.Render(r.FilePath))
}

func printReport(report consolidate.Report) {
	if len(report.Duplicates) == 0 && len(report.Outdated) == 0 {
		logger.Info("Nothing to consolidate")
		return
	}

	if len(report.Duplicates) > 0 {
		fmt.Println(titleStyle.Render("Duplicate clusters"))
		for i, cluster := range report.Duplicates {
			fmt.Printf("  %s\n", highStyle.Render(fmt.Sprintf("Cluster %d", i+1)))
			for _, l := range cluster.Learnings {
				fmt.Println("    " + l.ID + " " + dimStyle.Render(l.FilePath))
			}
		}
	}
	if len(report.Outdated) > 0 {
		fmt.Println(titleStyle.Render("Outdated learnings"))
		for _, hit := range report.Outdated {
			fmt.Println("  " + warnStyle.Render(hit.ID) + " " + dimStyle.Render(hit.FilePath))
			fmt.Println("    markers: " + strings.Join(hit.Markers, ", "))
		}
	}
}

func reportResult(res consolidate.Result) error {
	if asJSON {
		return printJSON(res)
	}
	for _, o := range res.Outcomes {
		switch o.Status {
		case consolidate.ActionSuccess:
			fields := []any{"id", o.ID}
			if o.BackupPath != "" {
				fields = append(fields, "backup", dimStyle.Render(o.BackupPath))
			}
			logger.Info("OK", fields...)
		default:
			logger.Error("Failed", "id", o.ID, "error", o.Error)
		}
	}
	if res.Status != consolidate.ActionSuccess {
		return fmt.Errorf("consolidation finished with status %s", res.Status)
	}
	return nil
}
