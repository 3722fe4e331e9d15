package config

import (
	"flag"
	"os"
	"time"

	"github.com/Akintomiwa200/aagc-sub000/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-r string   URL of the backend push endpoint
//	-d string   local database DSN
//	-w int      correlation window in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-r", "-d", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.RedisURL, "r", cfg.RedisURL, "URL of the backend push endpoint")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "local database DSN")
	window := fs.Int("w", int(cfg.CorrelationWindow.Seconds()), "correlation window (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.CorrelationWindow = time.Duration(*window) * time.Second
}
