package clix

import (
	"strings"

	"github.com/spf13/pflag"
)

// RunParams are the flags of the run command.
type RunParams struct {
	Guidance    string
	OutDir      string
	RetryRounds int
	Verbose     bool
}

// ParseRunParams reads and normalises the run flags. An empty output directory
// falls back to defaultOut; negative retry rounds are treated as zero.
func ParseRunParams(flags *pflag.FlagSet, defaultOut string) (RunParams, error) {
	guidance, _ := flags.GetString("guidance")
	out, _ := flags.GetString("out")
	rounds, _ := flags.GetInt("retry-rounds")
	verbose, _ := flags.GetBool("verbose")

	out = strings.TrimSpace(out)
	if out == "" {
		out = defaultOut
	}
	if rounds < 0 {
		rounds = 0
	}
	return RunParams{
		Guidance:    strings.TrimSpace(guidance),
		OutDir:      out,
		RetryRounds: rounds,
		Verbose:     verbose,
	}, nil
}

// ServerParams are the listen flags of the serve command.
type ServerParams struct {
	Addr string
	Port string
}

// ParseServerParams reads --addr and --port, keeping the configured values for
// flags that were not set.
func ParseServerParams(flags *pflag.FlagSet, addr, port string) ServerParams {
	if flags.Changed("addr") {
		addr, _ = flags.GetString("addr")
	}
	if flags.Changed("port") {
		port, _ = flags.GetString("port")
	}
	return ServerParams{Addr: addr, Port: port}
}

// Address joins Addr and Port for net/http.
func (p ServerParams) Address() string {
	return p.Addr + ":" + p.Port
}
