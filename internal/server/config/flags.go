package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/flagx"
)

// parseFlags overlays the flags the node owns.
//
//	-a string   HTTP bind address (e.g. ":5000")
//	-n string   public base URL of this node
//	-dir string data directory
//	-driver     database driver, postgres or sqlite
//	-d string   database DSN
//	-s string   token signing secret
//	-p string   admin password for payment settlement
//	-t int      access token validity, minutes
//	-b int      delta block size, bytes
//	-l string   log level
//
// Other arguments, such as -c, are filtered out before parsing.
func parseFlags(c *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-n", "-dir", "-driver", "-d", "-s", "-p", "-t", "-b", "-l"})

	fs := flag.NewFlagSet("vaultnode", flag.ContinueOnError)

	fs.StringVar(&c.EndpointAddrHTTP, "a", c.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&c.NodeID, "n", c.NodeID, "public base URL of this node")
	fs.StringVar(&c.DataDir, "dir", c.DataDir, "data directory")
	fs.StringVar(&c.DatabaseDriver, "driver", c.DatabaseDriver, "database driver (postgres or sqlite)")
	fs.StringVar(&c.DatabaseDSN, "d", c.DatabaseDSN, "database DSN")
	fs.StringVar(&c.SecretKey, "s", c.SecretKey, "secret key")
	fs.StringVar(&c.AdminPassword, "p", c.AdminPassword, "admin password")
	accessMinutes := fs.Int("t", int(c.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")
	fs.IntVar(&c.BlockSize, "b", c.BlockSize, "delta block size in bytes")
	fs.StringVar(&c.LogLevel, "l", c.LogLevel, "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			c.AccessTokenValidityDuration = time.Duration(*accessMinutes) * time.Minute
		}
	})
	return nil
}
