package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/pflag"

	"github.com/angeloszaimis/tcp-load-balancer/config"
)

var _ = Describe("Config", func() {
	var tempDir string

	writeConfig := func(content string) string {
		path := filepath.Join(tempDir, "config.yaml")
		Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	Describe("Load", func() {
		Context("with no config file", func() {
			BeforeEach(func() {
				wd, err := os.Getwd()
				Expect(err).NotTo(HaveOccurred())
				Expect(os.Chdir(tempDir)).To(Succeed())
				DeferCleanup(os.Chdir, wd)
			})

			It("should use defaults", func() {
				cfg, err := config.Load(nil)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server.Port).To(Equal(8080))
				Expect(cfg.Server.Environment).To(Equal(config.EnvDev))
				Expect(cfg.Server.Workers).To(Equal(4))
				Expect(cfg.Backends.File).To(Equal("hosts.txt"))
				Expect(cfg.Dispatch.QueueSize).To(Equal(100))
				Expect(cfg.Dispatch.Overflow).To(Equal(config.OverflowBlock))
				Expect(cfg.Upstream.DialTimeout).To(BeZero())
				Expect(cfg.Pool.Enabled).To(BeTrue())
				Expect(cfg.Pool.Prewarm).To(BeFalse())
				Expect(cfg.Pool.Verify).To(BeFalse())
				Expect(cfg.Breaker.Threshold).To(BeZero())
				Expect(cfg.Breaker.ResetTimeout).To(Equal(30 * time.Second))
				Expect(cfg.Relay.BufferSize).To(Equal(32 * 1024))
				Expect(cfg.Logging.Level).To(Equal(config.LogLevelInfo))
				Expect(cfg.Logging.File).To(Equal("load_balancer.log"))
				Expect(cfg.Metrics.Address).To(BeEmpty())
			})

			It("should pick up config.yaml from the working directory", func() {
				writeConfig("server:\n  port: 7070\n")

				cfg, err := config.Load(nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Port).To(Equal(7070))
			})
		})

		Context("with a config file", func() {
			It("should parse every section", func() {
				path := writeConfig(`
server:
  port: 9000
  environment: "prod"
  workers: 8

backends:
  file: "/etc/lb/hosts.txt"

dispatch:
  queue_size: 10
  overflow: "drop"

upstream:
  dial_timeout: "2s"

pool:
  enabled: false
  prewarm: true
  verify: true

breaker:
  threshold: 3
  reset_timeout: "5s"

relay:
  buffer_size: 4096

logging:
  level: "debug"
  file: "/var/log/lb.log"

metrics:
  address: "127.0.0.1:9100"
`)

				cfg, err := config.Load([]string{"--config", path})
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Server).To(Equal(config.ServerConfig{Port: 9000, Environment: config.EnvProd, Workers: 8}))
				Expect(cfg.Backends.File).To(Equal("/etc/lb/hosts.txt"))
				Expect(cfg.Dispatch).To(Equal(config.DispatchConfig{QueueSize: 10, Overflow: config.OverflowDrop}))
				Expect(cfg.Upstream.DialTimeout).To(Equal(2 * time.Second))
				Expect(cfg.Pool).To(Equal(config.PoolConfig{Enabled: false, Prewarm: true, Verify: true}))
				Expect(cfg.Breaker).To(Equal(config.BreakerConfig{Threshold: 3, ResetTimeout: 5 * time.Second}))
				Expect(cfg.Relay.BufferSize).To(Equal(4096))
				Expect(cfg.Logging).To(Equal(config.LoggingConfig{Level: config.LogLevelDebug, File: "/var/log/lb.log"}))
				Expect(cfg.Metrics.Address).To(Equal("127.0.0.1:9100"))
			})

			It("should fail when the named file does not exist", func() {
				_, err := config.Load([]string{"-c", filepath.Join(tempDir, "missing.yaml")})
				Expect(err).To(HaveOccurred())
			})

			It("should fail on malformed YAML", func() {
				path := writeConfig("server: [port\n")

				_, err := config.Load([]string{"--config", path})
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with overrides", func() {
			var path string

			BeforeEach(func() {
				path = writeConfig("server:\n  port: 9000\n  workers: 2\n")
			})

			It("should let environment variables override the file", func() {
				GinkgoT().Setenv("SERVER_PORT", "9100")
				GinkgoT().Setenv("DISPATCH_OVERFLOW", "drop")

				cfg, err := config.Load([]string{"--config", path})
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Port).To(Equal(9100))
				Expect(cfg.Dispatch.Overflow).To(Equal(config.OverflowDrop))
			})

			It("should let flags override the environment", func() {
				GinkgoT().Setenv("SERVER_PORT", "9100")

				cfg, err := config.Load([]string{"--config", path, "-p", "9200", "-h", "backends.txt", "-w", "16"})
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Port).To(Equal(9200))
				Expect(cfg.Backends.File).To(Equal("backends.txt"))
				Expect(cfg.Server.Workers).To(Equal(16))
			})

			It("should keep file values for flags that were not given", func() {
				cfg, err := config.Load([]string{"--config", path, "--hosts", "backends.txt"})
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg.Server.Port).To(Equal(9000))
				Expect(cfg.Server.Workers).To(Equal(2))
			})
		})

		Context("with bad arguments", func() {
			It("should return ErrHelp for --help", func() {
				_, err := config.Load([]string{"--help"})
				Expect(err).To(MatchError(pflag.ErrHelp))
			})

			It("should reject unknown flags", func() {
				_, err := config.Load([]string{"--verbose"})
				Expect(err).To(HaveOccurred())
			})

			It("should reject a non-numeric port", func() {
				_, err := config.Load([]string{"-p", "http"})
				Expect(err).To(HaveOccurred())
			})
		})

		DescribeTable("rejecting invalid values",
			func(content string) {
				path := writeConfig(content)

				_, err := config.Load([]string{"--config", path})
				Expect(err).To(HaveOccurred())
			},
			Entry("port out of range", "server:\n  port: 70000\n"),
			Entry("unknown environment", "server:\n  environment: qa\n"),
			Entry("zero workers", "server:\n  workers: 0\n"),
			Entry("zero queue size", "dispatch:\n  queue_size: 0\n"),
			Entry("unknown overflow policy", "dispatch:\n  overflow: spill\n"),
			Entry("negative dial timeout", "upstream:\n  dial_timeout: -1s\n"),
			Entry("negative breaker threshold", "breaker:\n  threshold: -1\n"),
			Entry("tiny relay buffer", "relay:\n  buffer_size: 16\n"),
			Entry("unknown log level", "logging:\n  level: trace\n"),
			Entry("metrics address without port", "metrics:\n  address: localhost\n"),
			Entry("metrics address with named port", "metrics:\n  address: localhost:http\n"),
		)
	})

	Describe("Validate", func() {
		var cfg config.Config

		BeforeEach(func() {
			cfg = config.Config{
				Server:   config.ServerConfig{Port: 8080, Environment: config.EnvDev, Workers: 4},
				Backends: config.BackendsConfig{File: "hosts.txt"},
				Dispatch: config.DispatchConfig{QueueSize: 100, Overflow: config.OverflowBlock},
				Breaker:  config.BreakerConfig{ResetTimeout: 30 * time.Second},
				Relay:    config.RelayConfig{BufferSize: 32 * 1024},
				Logging:  config.LoggingConfig{Level: config.LogLevelInfo, File: "load_balancer.log"},
			}
		})

		It("should accept a complete config", func() {
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should accept an empty metrics address", func() {
			cfg.Metrics.Address = ""
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should accept a metrics address without host", func() {
			cfg.Metrics.Address = ":9100"
			Expect(cfg.Validate()).To(Succeed())
		})

		It("should require a reset timeout once the breaker is enabled", func() {
			cfg.Breaker = config.BreakerConfig{Threshold: 5}
			Expect(cfg.Validate()).To(HaveOccurred())
		})

		It("should require a log file", func() {
			cfg.Logging.File = ""
			Expect(cfg.Validate()).To(HaveOccurred())
		})
	})
})
