package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/api"
	"github.com/fabfab/hearings-ai/database"
	"github.com/fabfab/hearings-ai/document"
	"github.com/fabfab/hearings-ai/ingestion"
	"github.com/fabfab/hearings-ai/metadata"
	"github.com/fabfab/hearings-ai/search"
)

var (
	ingestDir      string
	ingestManifest string

	searchRole       string
	searchMode       string
	searchTop        int
	searchProceeding string
	searchJSON       bool

	clearConfirmed bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest PDF and text hearing documents from a directory",
	RunE:  runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed hearing documents as a demo role",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create or migrate the PostgreSQL schema",
	RunE:  runSchema,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove ingested data from PostgreSQL, Neo4j and the metadata cache",
	RunE:  runClear,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "directory containing hearing documents (defaults to data_dir)")
	ingestCmd.Flags().StringVar(&ingestManifest, "manifest", "", "YAML manifest with proceeding and document metadata (defaults to manifest_path)")

	searchCmd.Flags().StringVar(&searchRole, "role", "Public", "demo role to search as: "+strings.Join(demoRoles(), ", "))
	searchCmd.Flags().StringVar(&searchMode, "mode", string(search.ModeHybrid), "search mode: keyword, vector or hybrid")
	searchCmd.Flags().IntVarP(&searchTop, "top", "n", 10, "maximum number of results")
	searchCmd.Flags().StringVar(&searchProceeding, "proceeding", "", "restrict results to one proceeding")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output the response as JSON")

	clearCmd.Flags().BoolVar(&clearConfirmed, "confirm", false, "skip confirmation prompt")

	rootCmd.AddCommand(serveCmd, ingestCmd, searchCmd, schemaCmd, clearCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	orchestrator, err := a.orchestrator()
	if err != nil {
		return err
	}
	ingestor, err := a.ingestionService()
	if err != nil {
		return err
	}
	analyzer, err := a.understandingService()
	if err != nil {
		return err
	}

	srv, err := api.New(api.Deps{
		Search:        orchestrator,
		Understanding: analyzer,
		Ingestor:      ingestor,
		Pending:       a.documents,
		Policy:        a.policy,
		Auth:          api.NewAuthenticator(cfg.Auth),
		Logger:        log,
	}, api.Options{
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
		IngestConcurrency: cfg.Ingestion.DocumentConcurrency,
	})
	if err != nil {
		return err
	}
	if cfg.Auth.DemoMode {
		log.Warn("demo authentication enabled", "default_role", cfg.Auth.DemoRole)
	}
	return srv.Run(ctx, cfg.Server)
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	dir := firstNonEmpty(ingestDir, cfg.DataDir)
	manifestPath := firstNonEmpty(ingestManifest, cfg.ManifestPath)

	var manifest *ingestion.Manifest
	if manifestPath != "" {
		m, err := ingestion.LoadManifest(manifestPath)
		if err != nil {
			return err
		}
		manifest = m
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	svc, err := a.ingestionService()
	if err != nil {
		return err
	}
	log.Info("ingesting hearing documents", "dir", dir, "manifest", manifestPath,
		"embedding_provider", cfg.Embeddings.Provider, "embedding_model", cfg.Embeddings.Model)

	reports, err := svc.IngestDirectory(ctx, dir, manifest)
	if err != nil {
		return err
	}

	var failed int
	for _, r := range reports {
		if r.Status == document.StatusIndexed {
			cmd.Printf("indexed  %-40s %4d pages %5d chunks\n", r.Filename, r.Pages, r.Chunks)
			continue
		}
		failed++
		cmd.Printf("failed   %-40s %v\n", r.Filename, r.Err)
	}
	cmd.Printf("\n%d documents, %d failed\n", len(reports), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed to ingest", failed, len(reports))
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	claims, ok := access.DemoProfiles[searchRole]
	if !ok {
		return fmt.Errorf("unknown role %q, expected one of %s", searchRole, strings.Join(demoRoles(), ", "))
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	orchestrator, err := a.orchestrator()
	if err != nil {
		return err
	}
	resp, err := orchestrator.Search(ctx, search.Request{
		Query:        strings.Join(args, " "),
		ProceedingID: searchProceeding,
		Top:          searchTop,
		Mode:         search.Mode(searchMode),
	}, claims)
	if err != nil {
		return err
	}

	if searchJSON {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal response: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, r := range resp.Results {
		cmd.Printf("[%d] %s (%.3f)\n", i+1, r.Title, r.RelevanceScore)
		cmd.Printf("    %s\n", r.CitationRef)
		cmd.Printf("    %s\n", r.Snippet)
		if len(r.RegulatoryCitations) > 0 {
			cmd.Printf("    Cites: %s\n", strings.Join(r.RegulatoryCitations, "; "))
		}
		cmd.Println()
	}
	total := fmt.Sprintf("%d", resp.TotalCount)
	if resp.TotalCountApproximate {
		total = "~" + total
	}
	cmd.Printf("%d shown, %s matching chunks\n", len(resp.Results), total)
	return nil
}

func runSchema(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
		return err
	}
	log.Info("schema ready", "embedding_dimension", cfg.Embeddings.Dimension)
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	if !clearConfirmed {
		cmd.Print("This will permanently delete ingested hearing data from PostgreSQL, Neo4j and Redis. Continue? [y/N]: ")
		scanner := bufio.NewScanner(cmd.InOrStdin())
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read confirmation: %w", err)
			}
			cmd.Println("clear aborted")
			return nil
		}
		answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if answer != "y" && answer != "yes" {
			cmd.Println("clear aborted")
			return nil
		}
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	var errs []error
	if err := database.Clear(ctx, a.pool); err != nil {
		errs = append(errs, err)
	} else {
		log.Info("cleared postgres documents and chunks")
	}
	if a.graph != nil {
		if err := a.graph.Purge(ctx); err != nil {
			errs = append(errs, err)
		} else {
			log.Info("cleared neo4j hearing graph")
		}
	}
	if a.redis != nil {
		n, err := metadata.PurgeCache(ctx, a.redis)
		if err != nil {
			errs = append(errs, err)
		} else {
			log.Info("cleared metadata cache", "keys", n)
		}
	}
	return errors.Join(errs...)
}

func demoRoles() []string {
	roles := make([]string, 0, len(access.DemoProfiles))
	for role := range access.DemoProfiles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
