package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sarchlab/pmap/datarecording"
	"github.com/sarchlab/pmap/hooking"
	"github.com/sarchlab/pmap/tracing"
	"github.com/sarchlab/pmap/vm/platform"
	"github.com/sarchlab/pmap/workload"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// Environment keys.
const (
	envPlatform     = "PMAP_PLATFORM"
	envNumCPUs      = "PMAP_NUM_CPUS"
	envManagedPages = "PMAP_MANAGED_PAGES"
	envTraceDB      = "PMAP_TRACE_DB"
	envMonitorPort  = "PMAP_MONITOR_PORT"
	envLog          = "PMAP_LOG"
)

type config struct {
	Platform     platform.Description
	NumCPUs      int
	ManagedPages int
	TraceDB      string
	MonitorPort  int
	Log          string
}

// loadDotEnv reads .env into the environment. Variables that are already
// set keep their values.
func loadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// loadConfig merges defaults, the environment seen through lookup, and the
// flags of c that were set explicitly.
func loadConfig(
	c *cobra.Command,
	lookup func(string) (string, bool),
) (config, error) {
	platformName := "host"
	cfg := config{
		NumCPUs:      4,
		ManagedPages: 8192,
		MonitorPort:  0,
	}

	var err error

	if v, ok := lookup(envPlatform); ok {
		platformName = v
	}

	if v, ok := lookup(envTraceDB); ok {
		cfg.TraceDB = v
	}

	if v, ok := lookup(envLog); ok {
		cfg.Log = v
	}

	for _, kv := range []struct {
		key string
		dst *int
	}{
		{envNumCPUs, &cfg.NumCPUs},
		{envManagedPages, &cfg.ManagedPages},
		{envMonitorPort, &cfg.MonitorPort},
	} {
		v, ok := lookup(kv.key)
		if !ok {
			continue
		}

		*kv.dst, err = strconv.Atoi(v)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", kv.key, err)
		}
	}

	flags := c.Flags()

	if flags.Changed("platform") {
		platformName, _ = flags.GetString("platform")
	}

	if flags.Changed("cpus") {
		cfg.NumCPUs, _ = flags.GetInt("cpus")
	}

	if flags.Changed("pages") {
		cfg.ManagedPages, _ = flags.GetInt("pages")
	}

	if flags.Changed("trace-db") {
		cfg.TraceDB, _ = flags.GetString("trace-db")
	}

	if flags.Changed("log") {
		cfg.Log, _ = flags.GetString("log")
	}

	if f := flags.Lookup("port"); f != nil && f.Changed {
		cfg.MonitorPort, _ = flags.GetInt("port")
	}

	if cfg.NumCPUs < 1 {
		return config{}, fmt.Errorf("need at least one processor, got %d",
			cfg.NumCPUs)
	}

	if cfg.ManagedPages < 1 {
		return config{}, fmt.Errorf("need at least one managed page, got %d",
			cfg.ManagedPages)
	}

	cfg.Platform, err = platform.ByName(platformName)
	if err != nil {
		return config{}, err
	}

	return cfg, nil
}

func configFromCommand(c *cobra.Command) (config, error) {
	if err := loadDotEnv(); err != nil {
		return config{}, err
	}

	return loadConfig(c, os.LookupEnv)
}

func (cfg config) buildEnv(name string) *workload.Env {
	return workload.MakeBuilder().
		WithPlatform(cfg.Platform).
		WithNumCPUs(cfg.NumCPUs).
		WithNumPages(cfg.ManagedPages).
		Build(name)
}

// domains returns the components of env that emit tasks.
func domains(env *workload.Env) []hooking.NamedHookable {
	out := []hooking.NamedHookable{env.Manager, env.Manager.Flusher()}

	if g, ok := env.Manager.Gate().(hooking.NamedHookable); ok {
		out = append(out, g)
	}

	return out
}

// newTracers creates the tracers the configuration asks for.
func (cfg config) newTracers() ([]tracing.Tracer, error) {
	var tracers []tracing.Tracer

	if cfg.TraceDB != "" {
		recorder := datarecording.New(cfg.TraceDB)
		dbTracer := tracing.NewDBTracer(tracing.WallClock(), recorder, "task")
		atexit.Register(dbTracer.Terminate)

		tracers = append(tracers, dbTracer)
	}

	if cfg.Log != "" {
		out := os.Stderr

		if cfg.Log != "-" {
			f, err := os.Create(cfg.Log)
			if err != nil {
				return nil, err
			}

			atexit.Register(func() { _ = f.Close() })
			out = f
		}

		logger := log.New(out, "", log.LstdFlags|log.Lmicroseconds)
		tracers = append(tracers, tracing.NewLogTracer(logger, nil))
	}

	return tracers, nil
}

func attachTracers(env *workload.Env, tracers []tracing.Tracer) {
	for _, t := range tracers {
		for _, d := range domains(env) {
			tracing.CollectTrace(d, t)
		}
	}
}
