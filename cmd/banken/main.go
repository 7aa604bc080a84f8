package main

import (
	"fmt"
	"os"

	"github.com/bdobrica/Banken/common/environment"
	"github.com/bdobrica/Banken/common/version"
	"github.com/bdobrica/Banken/internal/banken/app"
	"github.com/bdobrica/Banken/internal/banken/config"
)

func main() {
	fmt.Printf("Banken Host Agent\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	// BANKEN_CONFIG_PATH points at an optional YAML file; everything can be
	// supplied through BANKEN_* environment variables instead.
	configPath := environment.StringOr("BANKEN_CONFIG_PATH", "")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	banken, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Banken: %v\n", err)
		os.Exit(1)
	}
	defer banken.Stop()

	if err := banken.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running Banken: %v\n", err)
		os.Exit(1)
	}
}
