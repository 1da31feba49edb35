package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-logr/logr"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	v1 "github.com/f5qa/respool/api/v1"
	"github.com/f5qa/respool/pkg/cache"
	"github.com/f5qa/respool/pkg/config"
	"github.com/f5qa/respool/pkg/respool"
	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
	"github.com/f5qa/respool/pkg/utils"
)

const DefaultConfigPath = "/etc/respool/config.yaml"

// CmdCtx holds what the commands share. Fields left empty are built from
// the flags before the first command runs.
type CmdCtx struct {
	Context context.Context
	Logger  logr.Logger
	Config  *v1.Config
	Cache   cache.Cache
	Backend Backend

	ownCache bool
}

type RespoolCtlFlags struct {
	CfgPath  string
	Server   string
	Token    string
	LogLevel string
	Output   string
}

func NewRespoolCtlCmd(cmdCtx *CmdCtx) *cobra.Command {
	if cmdCtx.Context == nil {
		cmdCtx.Context = context.Background()
	}

	flags := RespoolCtlFlags{}
	cmd := &cobra.Command{
		Use:   "respoolctl",
		Short: "Allocate resources from the respool pools.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(outputFormats, flags.Output) {
				return fmt.Errorf("invalid output format '%s'. Please use one of %v", flags.Output, outputFormats)
			}

			logger, err := utils.NewLogger(flags.LogLevel)
			if err != nil {
				return err
			}
			cmdCtx.Logger = logger

			if cmdCtx.Backend != nil {
				return nil
			}
			if flags.Server != "" {
				client, err := clientv1.NewForHost(flags.Server, flags.Token)
				if err != nil {
					return err
				}
				cmdCtx.Backend = &remoteBackend{client: client}
				return nil
			}
			return cmdCtx.localBackend(flags.CfgPath)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if cmdCtx.ownCache {
				if err := cmdCtx.Cache.Close(); err != nil {
					cmdCtx.Logger.Error(err, "could not close the cache")
				}
			}
		},
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceUsage:      true,
	}

	cmd.PersistentFlags().StringVar(&flags.CfgPath,
		"config", DefaultConfigPath,
		"configuration file, used when no server is given",
	)
	cmd.PersistentFlags().StringVarP(&flags.Server,
		"server", "s", "",
		"address of a respool API server, the cache is used directly when empty",
	)
	cmd.PersistentFlags().StringVar(&flags.Token,
		"token", "",
		"access token sent to the server",
	)
	cmd.PersistentFlags().StringVar(&flags.LogLevel,
		"log-level", "error",
		"Set the logging level (debug, info, warn, error)",
	)
	cmd.PersistentFlags().StringVarP(&flags.Output,
		"output", "o", outputTable,
		fmt.Sprintf("output format %v", outputFormats),
	)

	cmd.AddCommand(NewGetCmd(cmdCtx, &flags))
	cmd.AddCommand(NewFreeCmd(cmdCtx, &flags))
	cmd.AddCommand(NewFreeAllCmd(cmdCtx, &flags))
	cmd.AddCommand(NewStatusCmd(cmdCtx, &flags))
	cmd.AddCommand(NewSyncCmd(cmdCtx, &flags))
	cmd.AddCommand(NewRangeNextCmd(cmdCtx, &flags))
	return cmd
}

func (c *CmdCtx) localBackend(cfgPath string) error {
	if c.Config == nil {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		c.Config = cfg
	}

	if c.Cache == nil {
		cc, err := cache.NewCache(c.Config.Cache)
		if err != nil {
			return err
		}
		c.Cache = cc
		c.ownCache = true
	}

	c.Backend = &localBackend{
		config: c.Config,
		factory: respool.NewFactory(c.Cache, respool.FactoryOptions{
			Scope:  c.Config.Scope,
			Retry:  config.RetryPolicy(c.Config.Retry),
			Logger: c.Logger,
		}),
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}

func exactArgs(name string, n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return fmt.Errorf("the %s command takes %d argument(s), got %d", name, n, len(args))
		}
		return nil
	}
}
