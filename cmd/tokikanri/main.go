package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tokikanri/tokikanri/internal/activity"
	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/daemon"
	"github.com/tokikanri/tokikanri/internal/database"
	"github.com/tokikanri/tokikanri/internal/ledger"
	"github.com/tokikanri/tokikanri/internal/notify"
	"github.com/tokikanri/tokikanri/internal/reporter"
	"github.com/tokikanri/tokikanri/internal/selector"
	"github.com/tokikanri/tokikanri/internal/tracker"
	"github.com/tokikanri/tokikanri/internal/web"
	"github.com/tokikanri/tokikanri/pkg/detect"
	"github.com/tokikanri/tokikanri/pkg/media/mpris"
	"github.com/tokikanri/tokikanri/pkg/timefmt"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

const logPath = "/tmp/tokikanri.log"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "start":
		startTracker(false)
	case "serve":
		startTracker(true)
	case "stop":
		stopTracker()
	case "status":
		showStatus()
	case "track":
		trackForeground()
	case "report":
		generateReport()
	case "reset":
		resetTimers()
	case "remove":
		removePrograms()
	case "name":
		setDisplayName()
	case "export":
		exportData()
	case "import":
		importData()
	case "config":
		configCommand()
	case "version":
		fmt.Printf("tokikanri version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`tokikanri - per-program active time tracker

Usage:
  tokikanri <command> [options]

Commands:
  start                   Start the tracking daemon
  serve [--port N]        Start the daemon with the web API
  stop                    Stop the tracking daemon
  status                  Show daemon state, tracked times, current window
  track                   Add the currently focused program to the tracked set
  report [period] [--json]
                          Session-history report (period: day, week, month)
  reset [program]         Reset one timer, or all timers when no program given
  remove [program]        Stop tracking one program, or all when none given
  name <program> <name>   Set a display name ("" clears the override)
  export <path>           Export tracked data (.csv for CSV, otherwise JSON)
  import <path> [--merge] Import tracked data; default replaces, --merge adds
  config export <path>    Write the active configuration to a file
  config import <path>    Load configuration from a file
  version                 Show version information
  help                    Show this help message

Environment Variables:
  TOKIKANRI_MAX_PROGRAMS          Tracked-program ceiling
  TOKIKANRI_INACTIVITY_THRESHOLD  Idle threshold in seconds
  TOKIKANRI_SAVE_INTERVAL         Periodic save interval in seconds
  TOKIKANRI_MEDIA_MODE            Enable media mode (true/false)
  TOKIKANRI_MEDIA_PROGRAMS        Comma-separated media process names
  TOKIKANRI_REQUIRE_MEDIA_PLAYBACK
                                  Require actual playback for media programs
  TOKIKANRI_DB_PATH               Session-history database path
  TOKIKANRI_PID_FILE              PID file path
  TOKIKANRI_WEB_PORT              Web API port

Version: %s
`, version)
}

func loadConfig() *config.Store {
	path, err := config.DefaultPath()
	if err != nil {
		log.Fatalf("Could not resolve config path: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Could not load configuration: %v", err)
	}
	return cfg
}

func dataPath() string {
	path, err := ledger.DefaultDataPath()
	if err != nil {
		log.Fatalf("Could not resolve data path: %v", err)
	}
	return path
}

// requireStopped guards commands that mutate the ledger file directly. While
// the daemon runs it owns the file; concurrent edits would be overwritten on
// its next save.
func requireStopped(cfg *config.Store) {
	dm := daemon.New(cfg.Get().Daemon.PIDFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		log.Fatalf("Failed to check tracker status: %v", err)
	}
	if running {
		log.Fatalf("The tracker is running (PID %d); stop it first or use the web API", pid)
	}
}

func startTracker(withWeb bool) {
	fs := pflag.NewFlagSet("serve", pflag.ExitOnError)
	port := fs.Int("port", 0, "web API port override")
	fs.Parse(os.Args[2:])

	cfg := loadConfig()

	dm := daemon.New(cfg.Get().Daemon.PIDFile)
	running, pid, err := dm.IsRunning()
	if err != nil {
		log.Fatalf("Failed to check tracker status: %v", err)
	}
	if running {
		log.Fatalf("Tracker is already running (PID: %d)", pid)
	}

	if os.Getenv("TOKIKANRI_DAEMON_CHILD") != "1" {
		daemonize(withWeb, cfg, *port)
		return
	}

	runTracker(cfg, dm, withWeb, *port)
}

func runTracker(cfg *config.Store, dm *daemon.Daemon, withWeb bool, portOverride int) {
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err == nil {
		log.SetOutput(logFile)
		defer logFile.Close()
	}

	settings := cfg.Get()

	db, err := database.Connect(settings.Database.Path)
	if err != nil {
		log.Fatalf("Failed to connect to session history database: %v", err)
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		log.Fatalf("Failed to initialize session history database: %v", err)
	}
	repo := database.NewRepository(db)

	osProbe, err := detect.NewProber()
	if err != nil {
		log.Fatalf("Failed to initialize window probe: %v", err)
	}
	defer osProbe.Close()
	log.Printf("Window probe initialized for %s", detect.DisplayServer())

	mediaProbe := mpris.NewProber()
	defer mediaProbe.Close()

	if err := dm.WritePID(); err != nil {
		log.Fatalf("Failed to write PID file: %v", err)
	}
	defer dm.RemovePID()

	notifier := notify.NewThrottle(notify.NewDesktop(), 5*time.Minute)

	var svc *tracker.Service
	l := ledger.New(dataPath(),
		ledger.WithCeiling(cfg),
		ledger.WithSessionSink(func(sc ledger.SessionClose) {
			if svc != nil {
				svc.ArchiveSession(sc)
			}
		}),
	)

	sampler := activity.NewSampler(osProbe, mediaProbe, cfg)
	classifier := activity.NewClassifier(notifier)
	svc = tracker.NewService(cfg, l, sampler, classifier, osProbe, repo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var webServer *web.Server
	if withWeb {
		sel := selector.New(osProbe, l, cfg)
		rep := reporter.New(repo)
		handler := web.NewHandler(cfg, svc, l, sel, rep)

		port := settings.Web.Port
		if portOverride > 0 {
			port = portOverride
		}
		webServer = web.NewServer(handler, settings.Web.Host, port)

		go func() {
			if err := webServer.Start(); err != nil && err != http.ErrServerClosed {
				log.Printf("Web server error: %v", err)
			}
		}()
		log.Printf("Web API available at: http://%s", webServer.GetAddress())
	}

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
		svc.Stop()
	}()

	log.Println("Starting tokikanri tracker...")
	log.Printf("Configuration:\n%s", settings.String())

	if err := svc.Start(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Tracker error: %v", err)
	}

	if webServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := webServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down web server: %v", err)
		}
	}

	log.Println("Tracker stopped successfully")
}

func stopTracker() {
	cfg := loadConfig()
	dm := daemon.New(cfg.Get().Daemon.PIDFile)

	running, pid, err := dm.IsRunning()
	if err != nil {
		log.Fatalf("Failed to check tracker status: %v", err)
	}
	if !running {
		fmt.Println("Tracker is not running")
		return
	}

	fmt.Printf("Stopping tracker (PID: %d)...\n", pid)
	if err := dm.Stop(); err != nil {
		log.Fatalf("Failed to stop tracker: %v", err)
	}
	fmt.Println("Tracker stopped successfully")
}

func showStatus() {
	cfg := loadConfig()
	settings := cfg.Get()
	dm := daemon.New(settings.Daemon.PIDFile)

	running, pid, err := dm.IsRunning()
	if err != nil {
		log.Fatalf("Failed to check tracker status: %v", err)
	}

	if running {
		fmt.Printf("Status: Running (PID: %d)\n", pid)
		fmt.Printf("Poll Interval: %v\n", settings.PollInterval())
		fmt.Printf("Inactivity Threshold: %v\n", settings.InactivityLimit())
		if settings.MediaModeEnabled {
			fmt.Printf("Media Mode: enabled (playback required: %v)\n", settings.RequireMediaPlayback)
		}
	} else {
		fmt.Println("Status: Not running")
	}

	l := ledger.New(dataPath())
	times := l.CurrentTimes()
	if len(times) > 0 {
		fmt.Printf("\nTracked Programs (%d/%d):\n", len(times), settings.MaxPrograms)
		for program, seconds := range times {
			fmt.Printf("  %-30s %s\n", l.DisplayName(program), timefmt.Clock(seconds))
		}
		fmt.Printf("  %-30s %s\n", "Total", timefmt.Clock(l.TotalTime()))
	} else {
		fmt.Println("\nNo programs are being tracked.")
	}

	osProbe, err := detect.NewProber()
	if err != nil {
		fmt.Printf("\nCould not detect current window: %v\n", err)
		return
	}
	defer osProbe.Close()

	if process, err := osProbe.ForegroundProcess(); err == nil && process != "" {
		fmt.Printf("\nCurrent Window:\n")
		fmt.Printf("  Program: %s\n", process)
		fmt.Printf("  Display server: %s\n", detect.DisplayServer())
	}
	if idle, err := osProbe.IdleTime(); err == nil {
		fmt.Printf("  Input idle: %v\n", idle.Round(time.Second))
	}
}

func trackForeground() {
	cfg := loadConfig()
	requireStopped(cfg)

	osProbe, err := detect.NewProber()
	if err != nil {
		log.Fatalf("Failed to initialize window probe: %v", err)
	}
	defer osProbe.Close()

	l := ledger.New(dataPath(), ledger.WithCeiling(cfg))
	sel := selector.New(osProbe, l, cfg)

	res := sel.Capture()
	switch res.Status {
	case selector.StatusAdded:
		fmt.Printf("Now tracking %s (%s)\n", res.Program, res.DisplayName)
	case selector.StatusAlreadyTracked:
		fmt.Printf("%s is already tracked\n", res.Program)
	case selector.StatusMaxReached:
		fmt.Printf("Cannot add %s: the tracked-program limit (%d) is reached\n",
			res.Program, cfg.Get().MaxPrograms)
		os.Exit(1)
	case selector.StatusNoWindow:
		fmt.Println("No window currently has focus")
		os.Exit(1)
	case selector.StatusError:
		log.Fatalf("Could not read the focused window: %v", res.Err)
	}
}

func generateReport() {
	fs := pflag.NewFlagSet("report", pflag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "output the report as JSON")
	fs.Parse(os.Args[2:])

	periodType := "day"
	if fs.NArg() > 0 {
		periodType = fs.Arg(0)
	}

	cfg := loadConfig()
	db, err := database.Connect(cfg.Get().Database.Path)
	if err != nil {
		log.Fatalf("Failed to connect to session history database: %v", err)
	}
	defer db.Close()
	if err := db.Initialize(); err != nil {
		log.Fatalf("Failed to initialize session history database: %v", err)
	}

	rep := reporter.New(database.NewRepository(db))
	report, err := rep.GenerateReport(periodType)
	if err != nil {
		log.Fatalf("Failed to generate report: %v", err)
	}

	if *jsonOutput {
		jsonStr, err := rep.FormatReportJSON(report)
		if err != nil {
			log.Fatalf("Failed to format JSON: %v", err)
		}
		fmt.Println(jsonStr)
	} else {
		fmt.Println(rep.FormatReportText(report))
	}
}

func resetTimers() {
	cfg := loadConfig()
	requireStopped(cfg)

	l := ledger.New(dataPath(), ledger.WithCeiling(cfg))

	if len(os.Args) > 2 {
		program := os.Args[2]
		if !l.IsTracked(program) {
			log.Fatalf("%s is not tracked", program)
		}
		l.ResetProgram(program)
		fmt.Printf("Timer reset for %s\n", program)
		return
	}

	if !confirm("This will reset every timer to zero. Are you sure?") {
		fmt.Println("Operation cancelled")
		return
	}
	l.ResetAll()
	fmt.Println("All timers reset")
}

func removePrograms() {
	cfg := loadConfig()
	requireStopped(cfg)

	l := ledger.New(dataPath(), ledger.WithCeiling(cfg))

	if len(os.Args) > 2 {
		program := os.Args[2]
		if !l.IsTracked(program) {
			log.Fatalf("%s is not tracked", program)
		}
		l.RemoveProgram(program)
		fmt.Printf("Stopped tracking %s\n", program)
		return
	}

	if !confirm("This will remove every tracked program. Are you sure?") {
		fmt.Println("Operation cancelled")
		return
	}
	l.RemoveAll()
	fmt.Println("All tracked programs removed")
}

func setDisplayName() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: tokikanri name <program> <display-name>")
		os.Exit(1)
	}
	cfg := loadConfig()
	requireStopped(cfg)

	program := os.Args[2]
	name := strings.Join(os.Args[3:], " ")

	l := ledger.New(dataPath(), ledger.WithCeiling(cfg))
	if !l.SetDisplayName(program, name) {
		log.Fatalf("%s is not tracked", program)
	}

	if strings.TrimSpace(name) == "" {
		fmt.Printf("Display name cleared for %s\n", program)
	} else {
		fmt.Printf("Display name for %s set to %q\n", program, name)
	}
}

func exportData() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: tokikanri export <path>")
		os.Exit(1)
	}
	path := os.Args[2]

	l := ledger.New(dataPath())
	if err := l.Export(path); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	fmt.Printf("Exported %d programs to %s\n", l.Count(), path)
}

func importData() {
	fs := pflag.NewFlagSet("import", pflag.ExitOnError)
	merge := fs.Bool("merge", false, "add imported times to existing totals instead of replacing")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: tokikanri import <path> [--merge]")
		os.Exit(1)
	}
	path := fs.Arg(0)

	cfg := loadConfig()
	requireStopped(cfg)

	l := ledger.New(dataPath(), ledger.WithCeiling(cfg))
	if err := l.Import(path, *merge); err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	mode := "replaced with"
	if *merge {
		mode = "merged from"
	}
	fmt.Printf("Tracked data %s %s (%d programs)\n", mode, path, l.Count())
}

func configCommand() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: tokikanri config export|import <path>")
		os.Exit(1)
	}
	sub, path := os.Args[2], os.Args[3]
	cfg := loadConfig()

	switch sub {
	case "export":
		if err := cfg.Export(path); err != nil {
			log.Fatalf("Config export failed: %v", err)
		}
		fmt.Printf("Configuration exported to %s\n", path)
	case "import":
		if err := cfg.Import(path); err != nil {
			log.Fatalf("Config import failed: %v", err)
		}
		fmt.Printf("Configuration imported from %s\n", path)
	default:
		fmt.Printf("Unknown config subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s (yes/no): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "yes" || response == "y"
}

func daemonize(withWeb bool, cfg *config.Store, port int) {
	env := os.Environ()
	env = append(env, "TOKIKANRI_DAEMON_CHILD=1")

	args := os.Args

	procAttr := &os.ProcAttr{
		Env:   env,
		Files: []*os.File{nil, nil, nil}, // stdin, stdout, stderr to /dev/null
		Sys: &syscall.SysProcAttr{
			Setsid: true, // Create new session
		},
	}

	process, err := os.StartProcess(args[0], args, procAttr)
	if err != nil {
		log.Fatalf("Failed to start tracker process: %v", err)
	}

	fmt.Printf("Tracker started successfully (PID: %d)\n", process.Pid)
	if withWeb {
		settings := cfg.Get()
		if port <= 0 {
			port = settings.Web.Port
		}
		fmt.Printf("Web API available at: http://%s:%d\n", settings.Web.Host, port)
	}
	fmt.Printf("Logs: %s\n", logPath)
}
