package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"

	"github.com/ajramos/mailsweep/internal/config"
	"github.com/ajramos/mailsweep/internal/db"
	"github.com/ajramos/mailsweep/internal/gmailstore"
	"github.com/ajramos/mailsweep/internal/graph"
	"github.com/ajramos/mailsweep/internal/llm"
	"github.com/ajramos/mailsweep/internal/services"
	"github.com/ajramos/mailsweep/internal/version"
	"github.com/ajramos/mailsweep/pkg/auth"
)

func main() {
	// Essential command line flags only (GNU-style double dashes)
	configPathFlag := flag.String("config", "", "Path to JSON configuration file (default: ~/.config/mailsweep/config.json)")
	credPathFlag := flag.String("credentials", "", "Path to OAuth client credentials JSON for the gmail backend")
	backendFlag := flag.String("backend", "", "Mail backend: graph or gmail (default from config)")
	dryRunFlag := flag.Bool("dry-run", false, "Report what an archive sweep would do without moving anything")
	subfoldersFlag := flag.Bool("include-subfolders", false, "Extend the sweep to inbox child folders")
	triageFlag := flag.String("triage", "", "Run triage instead of archive using the given YAML criteria file")
	maxFlag := flag.Int("max", 0, "Cap the number of items triaged (0 = all fetched)")
	lastFlag := flag.Bool("last", false, "Print the last persisted archive result and exit")
	jsonFlag := flag.Bool("json", false, "Emit the result as JSON")
	versionFlag := flag.Bool("version", false, "Show version information and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s\n\n", version.GetVersionString())
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s --dry-run                    # Preview an archive sweep\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --include-subfolders         # Sweep inbox plus child folders\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --triage criteria.yaml       # Classify and file inbox items\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --last --json                # Recall the previous run\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  MAILSWEEP_CONFIG       Override default config file path\n")
		fmt.Fprintf(os.Stderr, "  MAILSWEEP_GRAPH_TOKEN  Bearer token for the graph backend\n")
	}

	flag.Parse()

	if *versionFlag {
		fmt.Println(version.GetDetailedVersionString())
		return
	}

	configPath := *configPathFlag
	if configPath == "" {
		if envPath := os.Getenv("MAILSWEEP_CONFIG"); envPath != "" {
			configPath = envPath
		} else {
			configPath = config.DefaultConfigPath()
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Printf("Warning: could not load configuration: %v", err)
		cfg = config.DefaultConfig()
	}
	if *backendFlag != "" {
		cfg.Backend = *backendFlag
	}
	if *subfoldersFlag {
		cfg.IncludeSubfolders = true
	}
	if *triageFlag != "" {
		cfg.CriteriaFile = *triageFlag
	}

	logger := newLogger(cfg)

	// Ctrl-C aborts cooperatively at item boundaries
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = config.DefaultDBPath()
	}
	store, err := db.Open(ctx, dbPath)
	if err != nil {
		log.Fatalf("Could not open local database: %v", err)
	}
	defer store.Close()

	results := db.NewResultsStore(store)
	tokens := db.NewTokenStore(store)
	defer tokens.Close()

	account := cfg.Account
	if account == "" {
		account = "default"
	}

	if *lastFlag {
		last, err := results.LoadLastArchiveResult(ctx, account)
		if err != nil {
			log.Fatalf("Could not load last result: %v", err)
		}
		printArchiveResult(last, *jsonFlag)
		return
	}

	mailStore, err := buildMailStore(ctx, cfg, *credPathFlag, tokens)
	if err != nil {
		log.Fatalf("Could not initialize mail backend: %v", err)
	}

	fetcher := services.NewFetchService(mailStore, cfg.FetchLimits())
	fetcher.SetLogger(logger)
	mover := services.NewMoveService(mailStore)
	newFolders := func() services.FolderService {
		fs := services.NewFolderService(mailStore)
		fs.SetLogger(logger)
		return fs
	}

	if *triageFlag != "" {
		runTriage(ctx, cfg, logger, mailStore, fetcher, mover, newFolders(), *maxFlag, *jsonFlag)
		return
	}

	archiver := services.NewArchiveService(fetcher, mover, newFolders, results.ForAccount(account))
	archiver.SetLogger(logger)
	if cfg.DuplicatesFolder != "" {
		archiver.SetDuplicatesFolder(cfg.DuplicatesFolder)
	}

	result, err := archiver.Run(ctx, services.ArchiveOptions{
		DryRun:            *dryRunFlag,
		IncludeSubfolders: cfg.IncludeSubfolders,
	})
	if result == nil {
		// Run was never admitted (another run in progress); there is no
		// result or log to show.
		log.Fatalf("Archive run not started: %v", err)
	}
	// A failed run still carries its counters and narrated log.
	printArchiveResult(result, *jsonFlag)
	if !result.Success {
		os.Exit(1)
	}
}

// buildMailStore wires up the configured backend
func buildMailStore(ctx context.Context, cfg *config.Config, credFlag string, tokens *db.TokenStore) (services.MailStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "graph":
		var source oauth2.TokenSource
		switch {
		case os.Getenv("MAILSWEEP_GRAPH_TOKEN") != "":
			source = auth.StaticTokenSource(os.Getenv("MAILSWEEP_GRAPH_TOKEN"))
		case cfg.Graph.Token != "":
			source = auth.StaticTokenSource(cfg.Graph.Token)
		default:
			source = tokens.TokenSource(ctx)
		}
		baseURL := cfg.Graph.BaseURL
		if baseURL == "" {
			baseURL = graph.DefaultBaseURL
		}
		return graph.NewClient(baseURL, source, 30*time.Second), nil
	case "gmail":
		credPath := credFlag
		if credPath == "" {
			credPath = cfg.Gmail.Credentials
		}
		tokenPath := cfg.Gmail.Token
		if credPath == "" || tokenPath == "" {
			defCred, defToken := config.DefaultCredentialPaths()
			if credPath == "" {
				credPath = defCred
			}
			if tokenPath == "" {
				tokenPath = defToken
			}
		}
		if _, err := os.Stat(credPath); err != nil {
			return nil, fmt.Errorf("credentials file not found at %s", credPath)
		}
		svc, err := auth.NewGmailService(ctx, credPath, tokenPath,
			"https://www.googleapis.com/auth/gmail.readonly",
			"https://www.googleapis.com/auth/gmail.modify",
			"https://www.googleapis.com/auth/gmail.labels",
		)
		if err != nil {
			return nil, err
		}
		return gmailstore.NewClient(svc), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func runTriage(ctx context.Context, cfg *config.Config, logger *log.Logger, mailStore services.MailStore,
	fetcher services.FetchService, mover services.MoveService, folders services.FolderService, max int, asJSON bool) {
	criteria, err := config.LoadCriteria(cfg.CriteriaFile)
	if err != nil {
		log.Fatalf("Could not load triage criteria: %v", err)
	}

	var provider llm.Provider
	if cfg.LLM.Enabled {
		region := cfg.LLM.Region
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		provider, err = llm.NewProviderFromConfig(cfg.LLM.Provider, cfg.LLM.Endpoint, cfg.LLM.Model, region, cfg.GetLLMTimeout())
		if err != nil {
			log.Fatalf("Could not initialize LLM provider (%s): %v", cfg.LLM.Provider, err)
		}
	}
	if provider == nil {
		log.Fatal("Triage requires an LLM provider. Enable one in the config file.")
	}

	classifier := services.NewClassifyService(provider)
	classifier.SetLogger(logger)
	if prompt := cfg.LLM.GetClassifyPrompt(); prompt != "" {
		classifier.SetPrompt(prompt)
	}

	fetched, err := fetcher.FetchAll(ctx, cfg.IncludeSubfolders)
	if err != nil {
		log.Fatalf("Could not fetch inbox: %v", err)
	}
	fmt.Printf("Fetched %d messages, classifying against %s\n",
		len(fetched.Messages), strings.Join(criteria.LabelNames(), ", "))

	triager := services.NewTriageService(mailStore, classifier, folders, mover)
	triager.SetLogger(logger)

	result, err := triager.Run(ctx, fetched.Messages, *criteria, services.TriageOptions{
		MaxIterations: max,
		OnProgress: func(p services.TriageProgress) {
			status := "skip"
			if p.Last != nil {
				switch {
				case p.Last.Error != "":
					status = "error"
				case p.Last.Moved:
					status = "moved to " + p.Last.Folder
				case p.Last.Match:
					status = "matched " + p.Last.Folder
				}
			}
			fmt.Printf("[%d/%d] %s: %s\n", p.Index, p.Total, p.Descriptor, status)
		},
	})
	if err != nil {
		log.Fatalf("Triage run failed: %v", err)
	}

	if asJSON {
		printJSON(result)
		return
	}
	fmt.Printf("\nProcessed %d of %d fetched, moved %d, errors %d\n",
		result.Processed, len(fetched.Messages), result.Moved, result.Errors)
	if result.Aborted {
		fmt.Println("Run aborted before completion; processed items were already filed.")
	}
	for _, row := range result.ByLabel {
		fmt.Printf("  %-24s %d\n", row.Folder, row.Count)
	}
}

func printArchiveResult(result *services.ArchiveResult, asJSON bool) {
	if asJSON {
		printJSON(result)
		return
	}

	mode := "Archive run"
	if result.DryRun {
		mode = "Dry run"
	}
	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	fmt.Printf("%s %s %s (%s)\n", mode, result.RunID, status, result.Duration.Round(10*time.Millisecond))
	if result.Error != "" {
		fmt.Printf("  error: %s\n", result.Error)
	}
	fmt.Printf("  scanned %d, duplicates %d (moved %d), archived %d, errors %d\n",
		result.TotalScanned, result.DuplicateCount, result.DuplicatesMovedCount,
		result.ArchivedCount, result.Errors)
	for _, stat := range result.PerFolder {
		line := fmt.Sprintf("  folder %-24s fetched %d, included %d", stat.Folder, stat.Fetched, stat.Included)
		if stat.Error != "" {
			line += ", error: " + stat.Error
		}
		fmt.Println(line)
	}
	if result.DryRun {
		for _, row := range result.ToArchiveByFolder {
			fmt.Printf("  would archive %-12d from %s\n", row.Count, row.Folder)
		}
	}
	for _, line := range result.Log {
		fmt.Println("  " + line)
	}
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("Could not encode result: %v", err)
	}
	fmt.Println(string(data))
}

// newLogger opens the configured log file, falling back to the default
// location and finally to a discard logger.
func newLogger(cfg *config.Config) *log.Logger {
	path := cfg.LogFile
	if path == "" {
		dir := config.DefaultLogDir()
		if dir == "" {
			return log.New(os.Stderr, "", log.LstdFlags)
		}
		path = filepath.Join(dir, "mailsweep.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(f, "", log.LstdFlags|log.Lmicroseconds)
}
