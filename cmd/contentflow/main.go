// Command contentflow drives the content workflow from the shell against the
// configured store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/songzhibin97/gkit/generator"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andrewkhoh/myfarmstand-mobile-sub007/backup"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/config"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/logging"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/metrics"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/permissions"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/storage"
	"github.com/andrewkhoh/myfarmstand-mobile-sub007/workflow"
)

// app holds what every subcommand needs. Fields left nil are built from
// configuration before the first subcommand runs.
type app struct {
	configPath string
	engine     *workflow.Engine
	store      storage.Store
	policy     *permissions.Policy
	logger     *zap.Logger
	closers    []func() error

	// registry collects engine counters for --metrics. Nil when the engine
	// was not built by setup.
	registry    *prometheus.Registry
	showMetrics bool
}

func (a *app) setup(ctx context.Context) error {
	if a.engine != nil {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logger, err = logging.New(cfg.Log); err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { _ = a.logger.Sync(); return nil })

	switch cfg.Store.Driver {
	case config.DriverRedis:
		rs, err := storage.NewRedisStore(cfg.RedisOptions())
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rs.Close)
		a.store = rs
	default:
		a.store = storage.NewMemoryStore()
	}

	if a.policy, err = cfg.Policy(); err != nil {
		return err
	}

	var sink backup.Sink = backup.LogSink{Logger: a.logger}
	if cfg.Backup.Bucket != "" {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Backup.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Backup.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		if sink, err = backup.NewS3Sink(s3.NewFromConfig(awsCfg), cfg.Backup.Bucket, cfg.Backup.Prefix); err != nil {
			return err
		}
	}

	a.registry = prometheus.NewRegistry()
	a.engine, err = workflow.NewEngine(
		generator.NewSnowflake(time.Now().Add(-1*time.Second), 1),
		workflow.WithStore(a.store),
		workflow.WithPermissions(a.policy),
		workflow.WithValidator(cfg.Validator()),
		workflow.WithBackupSink(sink),
		workflow.WithMetrics(metrics.NewCollector(a.registry)),
		workflow.WithLogger(a.logger),
	)
	return err
}

// writeMetrics prints every gathered counter as name{labels} value.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			fmt.Fprintf(w, "%s{%s} %g\n", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue())
		}
	}
	return nil
}

func (a *app) close() {
	if a.engine != nil {
		_ = a.engine.Stop(context.Background())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "contentflow",
		Short:        "Move content through the draft → review → approved → published → archived workflow",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if !a.showMetrics || a.registry == nil {
				return nil
			}
			return writeMetrics(cmd.ErrOrStderr(), a.registry)
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&a.showMetrics, "metrics", false, "print workflow counters to stderr after the command")

	root.AddCommand(
		newTransitionCmd(a),
		newStateCmd(a),
		newHistoryCmd(a),
		newRollbackCmd(a),
		newEventsCmd(a),
		newPermissionsCmd(a),
		newClearArchivedCmd(a),
	)
	return root
}

func main() {
	a := &app{}
	defer a.close()

	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		a.close()
		os.Exit(1)
	}
}
