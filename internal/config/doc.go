// Package config defines configuration structures for the gulp CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (GULP_ prefix)
//   - YAML configuration file
//
// Precedence is defaults < file < environment < flags.
//
// # Structure
//
//	type Config struct {
//	    URL         string
//	    Output      string
//	    Workers     int
//	    ChunkSize   int64
//	    TaskTimeout time.Duration
//	    CancelGrace time.Duration
//	    Staging     string
//	}
package config
