package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"foldhost/config"
	"foldhost/internal/api"
	"foldhost/internal/auth"
	"foldhost/internal/deploy"
	"foldhost/internal/docker"
	"foldhost/internal/https"
	"foldhost/internal/logging"
	"foldhost/internal/metrics"
	"foldhost/internal/remote"
	"foldhost/internal/router"
	"foldhost/internal/topology"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// 退出码
const (
	exitOK    = 0
	exitFatal = 1
	exitUsage = 2
)

var commands = []struct {
	name, summary string
}{
	{"deploy", "sync the source tree to the target and converge it"},
	{"plan", "show apps, ports, subjects and the proxy config; no remote calls"},
	{"render", "print the proxy config to stdout"},
	{"preview", "serve the source tree locally with the target's routing"},
}

type options struct {
	configPath  string
	target      string
	domain      string
	email       string
	source      string
	sshKey      string
	logLevel    string
	logJSON     bool
	summaryFile string
	listen      string
	token       string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return exitUsage
	}
	cmd := args[0]
	switch cmd {
	case "-h", "--help", "help":
		printUsage(stdout)
		return exitOK
	case "deploy", "plan", "render", "preview":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		printUsage(stderr)
		return exitUsage
	}

	var opts options
	flagSet := newFlagSet(cmd, &opts, stderr)
	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, cmd, flagSet)
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n\n", err)
		printHelp(stderr, cmd, flagSet)
		return exitUsage
	}
	if flagSet.NArg() > 0 {
		fmt.Fprintf(stderr, "error: unexpected argument %q\n\n", flagSet.Arg(0))
		printHelp(stderr, cmd, flagSet)
		return exitUsage
	}

	logger := logging.New(logging.Options{Level: opts.logLevel, JSON: opts.logJSON, Out: stderr})

	cfg, err := loadConfig(&opts, cmd == "deploy")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n\n", err)
		printHelp(stderr, cmd, flagSet)
		return exitUsage
	}

	switch cmd {
	case "deploy":
		return runDeploy(ctx, cfg, &opts, stdout, logger)
	case "plan":
		return runPlan(cfg, stdout, stderr, true)
	case "render":
		return runPlan(cfg, stdout, stderr, false)
	default:
		return runPreview(ctx, cfg, &opts, logger)
	}
}

func newFlagSet(cmd string, opts *options, out io.Writer) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("foldhost "+cmd, pflag.ContinueOnError)
	flagSet.SetOutput(out)
	flagSet.Usage = func() {}

	flagSet.StringVarP(&opts.configPath, "config", "c", "", "config file (.yaml, .yml or .toml)")
	flagSet.StringVar(&opts.domain, "domain", "", "root domain (env "+config.EnvDomain+")")
	flagSet.StringVar(&opts.source, "source", "", "local source tree (env "+config.EnvSource+")")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn or error (env "+logging.EnvLogLevel+")")
	flagSet.BoolVar(&opts.logJSON, "log-json", false, "log raw JSON instead of console output")

	switch cmd {
	case "deploy":
		flagSet.StringVarP(&opts.target, "target", "t", "", "user@host[:port], or local (env "+config.EnvTarget+")")
		flagSet.StringVar(&opts.email, "email", "", "certificate contact email (env "+config.EnvEmail+")")
		flagSet.StringVarP(&opts.sshKey, "ssh-key", "i", "", "SSH private key (env "+config.EnvSSHKey+")")
		flagSet.StringVar(&opts.summaryFile, "summary-file", "", "also write the run summary (YAML) to this file")
	case "preview":
		flagSet.StringVar(&opts.listen, "listen", "127.0.0.1:8080", "preview listen address")
		flagSet.StringVar(&opts.token, "token", os.Getenv(auth.EnvPreviewToken), "token required by /_topology, /_config and /_refresh (env "+auth.EnvPreviewToken+")")
	}
	return flagSet
}

// loadConfig 优先级：命令行参数 > 环境变量 > 配置文件 > 默认值
func loadConfig(opts *options, needTarget bool) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if opts.target != "" {
		if err := cfg.SetTarget(opts.target); err != nil {
			return nil, err
		}
	}
	if opts.sshKey != "" {
		cfg.Target.KeyPath = opts.sshKey
	}
	if opts.domain != "" {
		cfg.Domain = opts.domain
	}
	if opts.email != "" {
		cfg.Email = opts.email
	}
	if opts.source != "" {
		cfg.Source = opts.source
	}

	// 本地命令不连接目标主机
	if !needTarget {
		cfg.Target.Local = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runDeploy(ctx context.Context, cfg *config.Config, opts *options, stdout io.Writer, logger zerolog.Logger) int {
	transport, syncer := newTransport(cfg)
	if closer, ok := transport.(io.Closer); ok {
		defer closer.Close()
	}

	deps := deploy.Deps{
		Transport: transport,
		Syncer:    syncer,
		Runtime:   docker.NewComposeRuntime(transport, cfg.Paths.AppsRoot),
		Authority: newAuthority(cfg, transport, logger),
	}
	if cfg.MetricsFile != "" {
		deps.Metrics = metrics.NewRecorder()
	}

	summary, err := deploy.NewPipeline(cfg, deps, logger).Run(ctx)

	if werr := summary.WriteYAML(stdout); werr != nil {
		logger.Warn().Err(werr).Msg("summary not printed")
	}
	if opts.summaryFile != "" {
		if werr := summary.WriteFile(opts.summaryFile); werr != nil {
			logger.Warn().Err(werr).Str("path", opts.summaryFile).Msg("summary file not written")
		}
	}

	if err != nil {
		return exitFatal
	}
	return exitOK
}

func newTransport(cfg *config.Config) (remote.Transport, remote.Syncer) {
	if cfg.Target.Local {
		return remote.NewLocalTransport(), &remote.RsyncSyncer{}
	}

	t := cfg.Target
	transport := &remote.SSHTransport{
		Host:                        t.Host,
		Port:                        remote.PortString(t.Port),
		User:                        t.User,
		KeyPath:                     t.KeyPath,
		KnownHostsPath:              t.KnownHosts,
		InsecureSkipHostKeyChecking: t.InsecureSkipHostKey,
		Timeout:                     30 * time.Second,
	}
	syncer := &remote.RsyncSyncer{
		Host:                        t.Host,
		Port:                        t.Port,
		User:                        t.User,
		KeyPath:                     t.KeyPath,
		KnownHostsPath:              t.KnownHosts,
		InsecureSkipHostKeyChecking: t.InsecureSkipHostKey,
	}
	return transport, syncer
}

func newAuthority(cfg *config.Config, t remote.Transport, logger zerolog.Logger) https.CertificateAuthority {
	if cfg.Certificates.Authority == config.AuthorityLego {
		client := https.NewACMEClient(cfg.Certificates.ACME, logger)
		return https.NewLegoAuthority(t, client, cfg.Paths.LiveDir, cfg.Certificates.RenewBeforeDays, logger)
	}
	return https.NewCertbotAuthority(t, cfg.Paths.ChallengeRoot, cfg.Paths.LiveDir)
}

func runPlan(cfg *config.Config, stdout, stderr io.Writer, full bool) int {
	plan, err := deploy.BuildPlan(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}
	if !full {
		fmt.Fprint(stdout, plan.Config)
		return exitOK
	}

	enc := yaml.NewEncoder(stdout)
	enc.SetIndent(2)
	if err := enc.Encode(plan); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFatal
	}
	enc.Close()
	fmt.Fprintf(stdout, "\n# %s\n", cfg.Paths.ConfigTarget)
	fmt.Fprint(stdout, plan.Config)
	return exitOK
}

func runPreview(ctx context.Context, cfg *config.Config, opts *options, logger zerolog.Logger) int {
	load := func() (*topology.Topology, error) {
		return topology.Load(cfg.Source, cfg.Domain, cfg.ReservedNames())
	}
	srv := api.NewServer(router.NewRouter(cfg.Source, cfg.Paths.RootDir, logger), load, deploy.RenderOptions(cfg, nil), logger)
	srv.Token = opts.token
	topo, err := srv.Reload()
	if err != nil {
		logger.Error().Err(err).Str("source", cfg.Source).Msg("source classification failed")
		return exitFatal
	}

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr:              opts.listen,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", opts.listen).Int("apps", len(topo.Apps())).Msg("preview listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down preview")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("preview server error")
			return exitFatal
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("preview shutdown")
	}
	return exitOK
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `foldhost serves every folder of a source tree as <folder>.<domain>.

Usage:
  foldhost <command> [flags]

Commands:
`)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-8s  %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nRun 'foldhost <command> --help' for the flags of a command.\n")
}

func printHelp(w io.Writer, cmd string, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage:\n  foldhost %s [flags]\n\nFlags:\n", cmd)
	fmt.Fprint(w, flagSet.FlagUsages())
}
