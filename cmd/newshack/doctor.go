package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/newshack/newshack/internal/config"
	"github.com/newshack/newshack/internal/doctor"
)

func runDoctorCommand(ctx context.Context, configPath string, args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		cfg = nil
	}

	diag := doctor.Run(ctx, cfg, Version)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding diagnosis: %v\n", err)
			return 1
		}
	} else {
		fmt.Printf("newshack %s (%s/%s, %s)\n\n",
			diag.System.Version, diag.System.OS, diag.System.Arch, diag.System.Go)
		for _, r := range diag.Results {
			fmt.Printf("  [%-4s] %-20s %s\n", r.Status, r.Name, r.Message)
			if r.Detail != "" {
				fmt.Printf("         %s\n", r.Detail)
			}
		}
	}

	if diag.Failed() {
		return 1
	}
	return 0
}
