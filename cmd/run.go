package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	awsclient "tasnim.dev/ebscrypt/internal/aws"
	"tasnim.dev/ebscrypt/internal/config"
	"tasnim.dev/ebscrypt/internal/logging"
	"tasnim.dev/ebscrypt/internal/migration"
	"tasnim.dev/ebscrypt/internal/utils"
	"tasnim.dev/ebscrypt/internal/waiter"
)

type runOptions struct {
	configPath    string
	profile       string
	region        string
	instances     []string
	key           string
	discardSource bool
	start         bool
	parallel      int
	logLevel      string
	logFormat     string
	waitInterval  time.Duration
	waitAttempts  int
}

// request is a fully resolved run: flags merged over the config file.
type request struct {
	instances     []string
	keyRef        string
	discardSource bool
	start         bool
	parallel      int
	policy        waiter.Policy
}

func NewRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Encrypt the EBS volumes of stopped EC2 instances in place",
		Long: `Replaces every unencrypted EBS volume attached to the given instances with
an encrypted copy at the same device path. Instances must be stopped.
Each instance is started again once its volumes have been processed.`,
		Example: `  ebscrypt run -r eu-west-1 -i i-0123456789abcdef0
  ebscrypt run -r us-east-1 -i i-aaa,i-bbb -k alias/storage --discard-source`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(opts.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			profile, region := cfg.Merge(opts.profile, opts.region)

			logger, err := opts.logger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			req := opts.resolve(cfg, cmd.Flags())

			ctx := cmd.Context()
			svc, err := awsclient.NewServiceClient(ctx, profile, region)
			if err != nil {
				return &migration.Error{Kind: migration.KindInvalidArgument, Err: err}
			}
			return execute(ctx, logger, svc, req)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to the config file")
	flags.StringVarP(&opts.profile, "profile", "p", "", "AWS profile to use")
	flags.StringVarP(&opts.region, "region", "r", "", "AWS region of the instances")
	flags.StringSliceVarP(&opts.instances, "instances", "i", nil, "Instance IDs to migrate, comma separated")
	flags.StringVarP(&opts.key, "key", "k", "", fmt.Sprintf("KMS key id, ARN or alias (default %q)", config.DefaultKMSKey))
	flags.BoolVarP(&opts.discardSource, "discard-source", "d", false, "Delete each source volume once it has been replaced")
	flags.BoolVarP(&opts.start, "start", "s", true, "Start each instance after migration")
	flags.IntVar(&opts.parallel, "parallel", 1, "Number of instances to migrate concurrently")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: console or json")
	flags.DurationVar(&opts.waitInterval, "wait-interval", waiter.DefaultInterval, "Delay between snapshot and volume state polls")
	flags.IntVar(&opts.waitAttempts, "wait-attempts", waiter.DefaultMaxAttempts, "Maximum polls per snapshot or volume")
	_ = cmd.MarkFlagRequired("instances")

	return cmd
}

func (o *runOptions) logger(cfg *config.Config) (*zap.Logger, error) {
	level, format := cfg.LogLevel, cfg.LogFormat
	if o.logLevel != "" {
		level = o.logLevel
	}
	if o.logFormat != "" {
		format = o.logFormat
	}
	return logging.New(logging.Level(level), logging.Format(format))
}

// resolve merges flags over the config file. Boolean and wait flags only
// override the file when set explicitly.
func (o *runOptions) resolve(cfg *config.Config, flags *pflag.FlagSet) request {
	req := request{
		instances:     o.instances,
		keyRef:        cfg.Key(o.key),
		discardSource: cfg.DiscardSource,
		start:         o.start,
		parallel:      o.parallel,
		policy:        cfg.WaitPolicy(),
	}
	if flags.Changed("discard-source") {
		req.discardSource = o.discardSource
	}
	if flags.Changed("wait-interval") {
		req.policy.Interval = o.waitInterval
	}
	if flags.Changed("wait-attempts") {
		req.policy.MaxAttempts = o.waitAttempts
	}
	return req
}

// execute checks the account and key, then runs the batch. It returns an
// error when the batch was aborted or any instance failed.
func execute(ctx context.Context, logger *zap.Logger, svc *awsclient.ServiceClient, req request) error {
	account, err := awsclient.VerifyConnectivity(ctx, svc.STS)
	if err != nil {
		return &migration.Error{Kind: migration.KindConnectivity, Err: err}
	}
	logger.Info("connected", zap.String("account", account), zap.String("region", svc.Region))

	kmsKey, err := svc.KMS.ValidateKey(ctx, req.keyRef)
	if err != nil {
		return &migration.Error{Kind: migration.KindInvalidArgument, Err: fmt.Errorf("migration key %s: %w", req.keyRef, err)}
	}
	logger.Info("using migration key",
		zap.String("key", req.keyRef),
		zap.String("ref", string(utils.ClassifyKeyRef(req.keyRef))),
		zap.String("id", utils.ShortName(kmsKey.Arn)),
		zap.String("manager", kmsKey.Manager),
	)

	w := waiter.New(svc.EC2, req.policy, logger)
	coordinator := migration.NewCoordinator(svc.EC2, w, logger, migration.WithStart(req.start))
	batch := migration.NewBatch(coordinator, logger, req.parallel)

	report, err := batch.Run(ctx, req.instances, migration.Key{Ref: req.keyRef, Arn: kmsKey.Arn}, req.discardSource)
	report.Log(logger)
	if err != nil {
		return err
	}
	if failed := len(report.Failed()); failed > 0 {
		return fmt.Errorf("%d of %d instances failed", failed, len(report.Instances))
	}
	return nil
}
