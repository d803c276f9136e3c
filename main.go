package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/goopforum/internal/app"
	"github.com/petervdpas/goopforum/internal/config"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Usage = showUsage
	flag.Parse()

	if *version {
		fmt.Printf("goopforum v%s\n", appVersion)
		return
	}

	args := flag.Args()
	if *showHelp || len(args) == 0 {
		showUsage()
		return
	}

	switch args[0] {
	case "serve":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: serve command requires directory path")
			fmt.Fprintln(os.Stderr, "Usage: goopforum serve <instance-directory>")
			os.Exit(1)
		}
		runServe(args[1])

	case "init":
		runInit(args[1:])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", args[0])
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func runServe(dirArg string) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid instance directory: %v", err)
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("Instance directory does not exist: %s", absDir)
	}

	config.LoadDotEnv(absDir)

	cfgPath := filepath.Join(absDir, config.FileName)
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created default config at %s\n", cfgPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, app.Options{
		Dir:     absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
	}); err != nil {
		log.Fatalf("Instance failed: %v", err)
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	interactive := fs.Bool("i", false, "Ask for instance settings")
	identity := fs.String("identity", "", "Deployment age identity shared by all instances (default: generate)")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: init command requires directory path")
		fmt.Fprintln(os.Stderr, "Usage: goopforum init [-i] [-identity AGE-SECRET-KEY-1...] <instance-directory>")
		os.Exit(1)
	}
	absDir, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		log.Fatalf("Invalid instance directory: %v", err)
	}

	cfgPath, cfg, err := app.Init(app.InitOptions{
		Dir:      absDir,
		Identity: *identity,
		Prompt:   *interactive,
		In:       os.Stdin,
		Out:      os.Stdout,
	})
	if err != nil {
		log.Fatalf("Init failed: %v", err)
	}

	fmt.Printf("Config:   %s\n", cfgPath)
	fmt.Printf("User:     %s\n", cfg.Profile.Username)
	fmt.Printf("Bus:      %s (%s)\n", cfg.Bus.Driver, cfg.Bus.Channel)
	if *identity == "" {
		fmt.Println()
		fmt.Println("Give sibling instances the same deployment identity:")
		fmt.Printf("  goopforum init -identity %s <directory>\n", cfg.Crypto.DeploymentIdentity)
	}
}

func showUsage() {
	fmt.Println("goopforum - multi-instance forum and encrypted chat")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  goopforum init [-i] [-identity KEY] <directory>   Create an instance folder")
	fmt.Println("  goopforum serve <directory>                       Run the instance")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init <directory>")
	fmt.Println("        Write " + config.FileName + " with defaults and a deployment identity.")
	fmt.Println("        -i asks for name, user and bus settings.")
	fmt.Println()
	fmt.Println("  serve <directory>")
	fmt.Println("        Load " + config.FileName + " (and .env) from the directory and run.")
	fmt.Println("        FORUM_* environment variables override the file.")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  goopforum init ./instances/a")
	fmt.Println("  goopforum init -identity AGE-SECRET-KEY-1... ./instances/b")
	fmt.Println("  FORUM_HTTP_ADDR=127.0.0.1:8081 goopforum serve ./instances/b")
}
