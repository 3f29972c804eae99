package cmd

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/pmap/tracing"
	"github.com/sarchlab/pmap/vm/platform"
	"github.com/spf13/cobra"
)

func newCommand(args ...string) *cobra.Command {
	c := &cobra.Command{Use: "test"}
	addConfigFlags(c.Flags())
	c.Flags().Int("port", 0, "")
	Expect(c.ParseFlags(args)).To(Succeed())

	return c
}

func lookupIn(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

var _ = Describe("Config", func() {
	It("should read the environment", func() {
		cfg, err := loadConfig(newCommand(), lookupIn(map[string]string{
			envPlatform:     "x86_64",
			envNumCPUs:      "3",
			envManagedPages: "100",
			envTraceDB:      "trace",
			envMonitorPort:  "8080",
			envLog:          "-",
		}))

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Platform.Name).To(Equal("x86_64"))
		Expect(cfg.NumCPUs).To(Equal(3))
		Expect(cfg.ManagedPages).To(Equal(100))
		Expect(cfg.TraceDB).To(Equal("trace"))
		Expect(cfg.MonitorPort).To(Equal(8080))
		Expect(cfg.Log).To(Equal("-"))
	})

	It("should let flags override the environment", func() {
		c := newCommand("--platform", "arm64", "--cpus", "2", "--port", "9000")

		cfg, err := loadConfig(c, lookupIn(map[string]string{
			envPlatform:    "x86_64",
			envNumCPUs:     "3",
			envMonitorPort: "8080",
		}))

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Platform.Name).To(Equal("arm64"))
		Expect(cfg.NumCPUs).To(Equal(2))
		Expect(cfg.MonitorPort).To(Equal(9000))
	})

	It("should default to the host platform", func() {
		cfg, err := loadConfig(newCommand(), lookupIn(nil))

		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Platform).To(Equal(platform.Host()))
		Expect(cfg.NumCPUs).To(Equal(4))
	})

	It("should reject malformed numbers", func() {
		_, err := loadConfig(newCommand(), lookupIn(map[string]string{
			envNumCPUs: "many",
		}))
		Expect(err).To(MatchError(ContainSubstring(envNumCPUs)))
	})

	It("should reject an unknown platform", func() {
		_, err := loadConfig(newCommand("--platform", "riscv"), lookupIn(nil))
		Expect(err).To(HaveOccurred())
	})

	It("should reject a machine without processors", func() {
		_, err := loadConfig(newCommand("--cpus", "0"), lookupIn(nil))
		Expect(err).To(HaveOccurred())
	})

	It("should trace into a log file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "tasks.log")
		cfg := config{Platform: platform.X86_64(), NumCPUs: 1,
			ManagedPages: 64, Log: path}

		tracers, err := cfg.newTracers()
		Expect(err).NotTo(HaveOccurred())
		Expect(tracers).To(HaveLen(1))

		env := cfg.buildEnv("PMap")
		attachTracers(env, tracers)
		counting := tracing.NewCountingTracer()
		tracing.CollectTrace(env.Manager, counting)

		_, err = env.Manager.Create(nil, 0, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(counting.Count("pmap", "create")).To(Equal(1))

		content, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("pmap/create"))
	})
})

var _ = Describe("Run", func() {
	var cfg config

	BeforeEach(func() {
		cfg = config{Platform: platform.X86_64(), NumCPUs: 2, ManagedPages: 512}
	})

	It("should run the named scenarios", func() {
		var out bytes.Buffer

		err := runScenarios(&out, cfg, []string{"map-unmap", "protect-upgrade-denied"})

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(ContainSubstring("PASS map-unmap"))
		Expect(out.String()).To(ContainSubstring("PASS protect-upgrade-denied"))
		Expect(out.String()).NotTo(ContainSubstring("nested-shared-region"))
	})

	It("should run every scenario by default", func() {
		var out bytes.Buffer

		err := runScenarios(&out, cfg, nil)

		Expect(err).NotTo(HaveOccurred())
		Expect(out.String()).To(ContainSubstring("PASS nested-shared-region"))
		Expect(out.String()).To(ContainSubstring("PASS stress"))
	})

	It("should reject an unknown scenario", func() {
		var out bytes.Buffer

		err := runScenarios(&out, cfg, []string{"nope"})

		Expect(err).To(HaveOccurred())
		Expect(out.Len()).To(BeZero())
	})
})

var _ = Describe("Platforms", func() {
	It("should list every preset with its capabilities", func() {
		var out bytes.Buffer

		listPlatforms(&out, []platform.Description{platform.ARM64(), platform.X86_64()})

		lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
		Expect(lines).To(HaveLen(3))
		Expect(string(lines[1])).To(HavePrefix("arm64"))
		Expect(string(lines[1])).To(ContainSubstring("nested-fork"))
		Expect(string(lines[2])).To(HavePrefix("x86_64"))
		Expect(string(lines[2])).To(ContainSubstring("hardware-refmod"))
		Expect(string(lines[2])).NotTo(ContainSubstring("nested-fork"))
	})
})
