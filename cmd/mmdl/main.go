package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/poligogo/MattermostDll/internal/config"
	"github.com/poligogo/MattermostDll/internal/export"
	"github.com/poligogo/MattermostDll/internal/mattermost"
)

var version = "dev"

const configFile = "config.json"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v":
			fmt.Println(version)
			return
		case "--reset-sync":
			if err := export.LoadSyncStore(syncStatePath(), zap.NewNop()).Clear(); err != nil {
				log.Fatalf("Failed to reset sync state: %v", err)
			}
			fmt.Println("Sync state cleared; the next incremental run starts from scratch")
			return
		}
	}

	prompter := config.NewTerminalPrompter()
	cfg := loadConfig(prompter)

	outputBase := filepath.Join("results", time.Now().Format("20060102"))
	logger := initLogger(os.Getenv("LOG_LEVEL"), filepath.Join(outputBase, "logs"))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, prompter, outputBase, logger); err != nil {
		logger.Error("Export aborted", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(prompter *config.TerminalPrompter) *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	changed, err := config.Complete(cfg, prompter)
	if err != nil {
		log.Fatalf("Failed to complete config: %v", err)
	}

	if changed {
		store, err := prompter.AskYesNo("Config changed! Would you like to store your config (without password) to file? y/n: ")
		if err == nil && store {
			if err := config.Save(cfg, configFile); err != nil {
				log.Fatalf("Failed to store config: %v", err)
			}
			fmt.Printf("Stored new config to %s\n", configFile)
		}
	}
	return cfg
}

func run(ctx context.Context, cfg *config.Config, prompter *config.TerminalPrompter, outputBase string, logger *zap.Logger) error {
	fmt.Printf("Storing downloaded data in %s\n", outputBase)

	client, err := mattermost.NewClient(mattermost.Config{
		Host:  cfg.Host,
		Port:  cfg.Port,
		Token: cfg.Token,
	}, logger)
	if err != nil {
		return err
	}

	me, err := connect(ctx, client, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Successfully logged in as %s (%s)\n", me.Username, me.ID)

	fmt.Print("Downloading all user information... ")
	userCount, err := client.LoadAllUsers(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Found %d users!\n", userCount)

	team, err := selectTeam(ctx, client, prompter, me.ID)
	if err != nil {
		return err
	}

	rawChannels, err := client.ChannelsForUser(ctx, me.ID, team.ID)
	if err != nil {
		return err
	}
	channels := export.DecorateChannels(rawChannels, team.ID, me.ID, userSnapshot(client, rawChannels))
	fmt.Printf("Found %d channels!\n", len(channels))

	selection, selected, err := selectChannels(channels, prompter)
	if err != nil {
		return err
	}
	if selected == nil {
		logger.Info("Export cancelled by operator")
		return nil
	}

	after, before, err := cfg.DateWindow()
	if err != nil {
		return err
	}

	mode := export.DecideSyncMode(cfg.EnableIncrementalDownload, selection)
	logger.Info("Starting export run",
		zap.String("mode", mode.String()),
		zap.Int("channels", len(selected)))

	var state *export.SyncStore
	if mode == export.SyncIncremental {
		state = export.LoadSyncStore(syncStatePath(), logger)
	}

	exporter := &export.ChannelExporter{
		Posts:   client,
		Teams:   client,
		Resolve: client.ResolveUsername,
		Fetcher: &export.Fetcher{
			Files:  client,
			Policy: export.SkipPolicy{ExcludedExtensions: cfg.ExcludedExtensions},
			State:  state,
			Logger: logger,
		},
		Range:         export.DateRange{After: after, Before: before},
		State:         state,
		DownloadFiles: cfg.ShouldDownloadFiles(),
		Logger:        logger,
	}

	orch := &export.Orchestrator{
		Exporter: exporter,
		Prompt:   &continuePrompter{prompter},
		Logger:   logger,
	}

	report := orch.Run(ctx, selected, len(channels), outputBase)
	printReport(report, outputBase)

	if state != nil && len(report.Failures) == 0 {
		if err := state.MarkFullSync(); err != nil {
			return err
		}
	}
	return nil
}

// syncStatePath is the incremental state file, shared across dated run
// directories.
func syncStatePath() string {
	return filepath.Join("results", "sync_state.json")
}

// connect authenticates according to the configured login mode.
func connect(ctx context.Context, client *mattermost.Client, cfg *config.Config) (*mattermost.User, error) {
	if cfg.LoginMode == config.LoginModePassword {
		return client.Login(ctx, cfg.Username, cfg.Password)
	}
	return client.Me(ctx)
}

// userSnapshot projects the client's username cache into the map shape
// the channel decorator wants for direct-message names.
func userSnapshot(client *mattermost.Client, channels []mattermost.Channel) map[string]string {
	names := make(map[string]string)
	for _, ch := range channels {
		if ch.Type != mattermost.ChannelTypeDirect {
			continue
		}
		for _, id := range splitDirectName(ch.Name) {
			if _, ok := names[id]; ok {
				continue
			}
			if name, ok := client.KnownUsername(id); ok {
				names[id] = name
			}
		}
	}
	return names
}

// splitDirectName splits a direct channel's raw "<id1>__<id2>" name
// into its participant ids.
func splitDirectName(name string) []string {
	ids := strings.SplitN(name, "__", 2)
	if len(ids) != 2 {
		return nil
	}
	return ids
}

func selectTeam(ctx context.Context, client *mattermost.Client, prompter *config.TerminalPrompter, userID string) (mattermost.Team, error) {
	fmt.Print("Downloading all team information... ")
	teams, err := client.TeamsForUser(ctx, userID)
	if err != nil {
		return mattermost.Team{}, err
	}
	fmt.Printf("Found %d teams!\n", len(teams))

	if len(teams) == 0 {
		return mattermost.Team{}, fmt.Errorf("the account belongs to no teams")
	}
	if len(teams) == 1 {
		fmt.Printf("Only one team found: %s\n", teams[0].Name)
		return teams[0], nil
	}

	for i, team := range teams {
		fmt.Printf("%d\t%s\t(%s)\n", i, team.Name, team.ID)
	}
	answer, err := prompter.Ask("Select team by idx: ")
	if err != nil {
		return mattermost.Team{}, err
	}
	idxs, err := export.ParseIndexList(answer, len(teams))
	if err != nil || len(idxs) != 1 {
		return mattermost.Team{}, fmt.Errorf("invalid team selection %q", answer)
	}
	fmt.Printf("Selected team %s\n", teams[idxs[0]].Name)
	return teams[idxs[0]], nil
}

// selectChannels shows the channel list and collects one of the four
// selection modes. A nil channel slice means the operator cancelled.
func selectChannels(channels []mattermost.Channel, prompter *config.TerminalPrompter) (export.Selection, []mattermost.Channel, error) {
	fmt.Println("\nChannels:")
	for i, ch := range channels {
		fmt.Printf("%3d\t%s\t(%s)\n", i, ch.DisplayName, ch.Type)
	}

	fmt.Println("\nSelect download mode:")
	fmt.Println("1. Download all channels")
	fmt.Println("2. Download specific channels")
	fmt.Println("3. Filter channels by type")
	fmt.Println("4. Exclude specific channels, download the rest")
	mode, err := prompter.Ask("Enter option (1/2/3/4): ")
	if err != nil {
		return export.Selection{}, nil, err
	}

	var selection export.Selection
	switch mode {
	case "1":
		selection = export.Selection{Mode: export.SelectAll}

	case "2":
		fmt.Println("\nEnter channel indices separated by comma (e.g. 0,1,5,10-15):")
		answer, err := prompter.Ask("Channel indices: ")
		if err != nil {
			return export.Selection{}, nil, err
		}
		indices, err := export.ParseIndexList(answer, len(channels))
		if err != nil {
			return export.Selection{}, nil, err
		}
		selection = export.Selection{Mode: export.SelectIndices, Indices: indices}

	case "3":
		fmt.Println("\nChannel types:")
		fmt.Println("D - direct messages")
		fmt.Println("P - private channels")
		fmt.Println("O - open/public channels")
		fmt.Println("G - group channels")
		answer, err := prompter.Ask("Enter channel types separated by comma (e.g. D,P): ")
		if err != nil {
			return export.Selection{}, nil, err
		}
		types, err := export.ParseTypeFilter(answer)
		if err != nil {
			return export.Selection{}, nil, err
		}
		selection = export.Selection{Mode: export.SelectTypes, Types: types}

	case "4":
		fmt.Println("\nEnter channel indices to exclude, separated by comma (e.g. 0,1,5,10-15):")
		answer, err := prompter.Ask("Excluded indices: ")
		if err != nil {
			return export.Selection{}, nil, err
		}
		indices, err := export.ParseIndexList(answer, len(channels))
		if err != nil {
			return export.Selection{}, nil, err
		}
		selection = export.Selection{Mode: export.SelectExclude, Indices: indices}

	default:
		return export.Selection{}, nil, fmt.Errorf("invalid option %q", mode)
	}

	selected, err := selection.Apply(channels)
	if err != nil {
		return export.Selection{}, nil, err
	}

	confirm, err := prompter.AskYesNo(fmt.Sprintf("\nDownload these %d channels? (y/n): ", len(selected)))
	if err != nil {
		return export.Selection{}, nil, err
	}
	if !confirm {
		fmt.Println("Download cancelled")
		return selection, nil, nil
	}
	return selection, selected, nil
}

// continuePrompter adapts the terminal prompter to the orchestrator's
// keep-going question.
type continuePrompter struct {
	prompter *config.TerminalPrompter
}

func (c *continuePrompter) ContinueAfterFailure(channelName string, err error) bool {
	fmt.Printf("Export failed for %s: %v\n", channelName, err)
	cont, askErr := c.prompter.AskYesNo("Continue downloading the remaining channels? (y/n): ")
	if askErr != nil {
		return false
	}
	return cont
}

func printReport(report export.Report, outputBase string) {
	fmt.Println("\n=== Download summary ===")
	fmt.Printf("Total channels: %d\n", report.Total)
	fmt.Printf("Attempted: %d\n", report.Attempted)
	fmt.Printf("Succeeded: %d\n", report.Succeeded)
	fmt.Printf("Failed: %d\n", len(report.Failures))
	fmt.Printf("Posts exported: %d\n", report.Posts)

	if report.Stats.Downloaded+report.Stats.Failed > 0 || len(report.Stats.Skipped) > 0 {
		fmt.Printf("Attachments downloaded: %d, failed: %d\n", report.Stats.Downloaded, report.Stats.Failed)
		for reason, n := range report.Stats.Skipped {
			fmt.Printf("Attachments skipped (%s): %d\n", reason, n)
		}
	}

	if len(report.Failures) > 0 {
		fmt.Println("\nFailed channels:")
		for i, f := range report.Failures {
			fmt.Printf("%2d. %s: %s\n", i+1, f.Name, f.Err)
		}
		fmt.Println("\nFailed channel names (copy for a retry run):")
		fmt.Println(report.FailedNames())
	}

	fmt.Printf("\nAll data stored in: %s\n", outputBase)
}

func initLogger(level string, logDir string) *zap.Logger {
	logLevel := interpretLogLevel(level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Fatalf("Failed to create log directory: %v", err)
	}
	logFileName := fmt.Sprintf("mmdl-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(filepath.Join(logDir, logFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}

	stderrCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stderr),
		logLevel,
	)
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(logFile),
		logLevel,
	)

	return zap.New(zapcore.NewTee(stderrCore, fileCore), zap.AddCaller())
}

func interpretLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
