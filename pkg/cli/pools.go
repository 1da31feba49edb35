package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
)

type GetCmdOptions struct {
	cmdCtx *CmdCtx
	flags  *RespoolCtlFlags
	cmd    *cobra.Command

	pool   string
	name   string
	prefix string
	count  int
}

func NewGetCmd(cmdCtx *CmdCtx, flags *RespoolCtlFlags) *cobra.Command {
	options := GetCmdOptions{cmdCtx: cmdCtx, flags: flags}
	cmd := &cobra.Command{
		Use:   "get POOL",
		Short: "Allocate items from a pool",
		Long: `Allocate one or more items from a pool. Allocating again under the
same name returns the item already held.`,
		Example: `  respoolctl get bip --name bip1 --prefix machine1
  respoolctl get numbers --count 3 --name "node%d"`,
		Args: exactArgs("get", 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.cmd = cmd
			options.pool = args[0]
			return options.Run(cmdCtx.Context)
		},
	}
	cmd.Flags().StringVar(&options.name, "name", "", "name of the item, %d is replaced by its index when several are requested")
	cmd.Flags().StringVar(&options.prefix, "prefix", "", "namespace of the item, the pool scope when empty")
	cmd.Flags().IntVarP(&options.count, "count", "c", 1, "number of items")
	return cmd
}

func (o *GetCmdOptions) Run(ctx context.Context) error {
	if o.count < 1 {
		return fmt.Errorf("invalid count %d", o.count)
	}
	items, err := o.cmdCtx.Backend.Acquire(ctx, o.pool, clientv1.AcquireOptions{
		Name:   o.name,
		Prefix: o.prefix,
		Count:  o.count,
	})
	if err != nil {
		return err
	}
	return printItems(o.cmd.OutOrStdout(), o.flags.Output, items)
}

type FreeCmdOptions struct {
	cmdCtx *CmdCtx
	flags  *RespoolCtlFlags
	cmd    *cobra.Command

	pool   string
	name   string
	prefix string
}

func NewFreeCmd(cmdCtx *CmdCtx, flags *RespoolCtlFlags) *cobra.Command {
	options := FreeCmdOptions{cmdCtx: cmdCtx, flags: flags}
	cmd := &cobra.Command{
		Use:     "free POOL NAME",
		Short:   "Release the item allocated under a name",
		Example: `  respoolctl free bip bip1 --prefix machine1`,
		Args:    exactArgs("free", 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.cmd = cmd
			options.pool = args[0]
			options.name = args[1]
			return options.Run(cmdCtx.Context)
		},
	}
	cmd.Flags().StringVar(&options.prefix, "prefix", "", "namespace of the item")
	return cmd
}

func (o *FreeCmdOptions) Run(ctx context.Context) error {
	res, err := o.cmdCtx.Backend.Release(ctx, o.pool, o.name, clientv1.ReleaseOptions{Prefix: o.prefix})
	if err != nil {
		return err
	}
	if !res.Found {
		o.cmdCtx.Logger.Info("item not allocated", "pool", o.pool, "name", o.name)
	}
	return printItems(o.cmd.OutOrStdout(), o.flags.Output, res.Items)
}

type FreeAllCmdOptions struct {
	cmdCtx *CmdCtx
	flags  *RespoolCtlFlags
	cmd    *cobra.Command

	pool   string
	prefix string
}

func NewFreeAllCmd(cmdCtx *CmdCtx, flags *RespoolCtlFlags) *cobra.Command {
	options := FreeAllCmdOptions{cmdCtx: cmdCtx, flags: flags}
	cmd := &cobra.Command{
		Use:   "free-all POOL",
		Short: "Release all the items of a namespace",
		Args:  exactArgs("free-all", 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.cmd = cmd
			options.pool = args[0]
			return options.Run(cmdCtx.Context)
		},
	}
	cmd.Flags().StringVar(&options.prefix, "prefix", "", "namespace of the items, the pool scope when empty")
	return cmd
}

func (o *FreeAllCmdOptions) Run(ctx context.Context) error {
	res, err := o.cmdCtx.Backend.ReleaseAll(ctx, o.pool, clientv1.ReleaseOptions{Prefix: o.prefix})
	if err != nil {
		return err
	}
	return printItems(o.cmd.OutOrStdout(), o.flags.Output, res.Items)
}

type StatusCmdOptions struct {
	cmdCtx *CmdCtx
	flags  *RespoolCtlFlags
	cmd    *cobra.Command

	pools []string
}

func NewStatusCmd(cmdCtx *CmdCtx, flags *RespoolCtlFlags) *cobra.Command {
	options := StatusCmdOptions{cmdCtx: cmdCtx, flags: flags}
	cmd := &cobra.Command{
		Use:   "status [POOL...]",
		Short: "Show the items allocated from pools",
		Long:  `Show the items allocated from the given pools, or from every pool.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			options.cmd = cmd
			options.pools = args
			return options.Run(cmdCtx.Context)
		},
	}
	return cmd
}

func (o *StatusCmdOptions) Run(ctx context.Context) error {
	pools := o.pools
	if len(pools) == 0 {
		var err error
		if pools, err = o.cmdCtx.Backend.List(ctx); err != nil {
			return err
		}
	}

	var all []clientv1.Item
	for _, p := range pools {
		items, err := o.cmdCtx.Backend.Status(ctx, p)
		if err != nil {
			return err
		}
		all = append(all, items...)
	}
	return printItems(o.cmd.OutOrStdout(), o.flags.Output, all)
}

type SyncCmdOptions struct {
	cmdCtx *CmdCtx
	flags  *RespoolCtlFlags
	cmd    *cobra.Command

	pools []string
}

func NewSyncCmd(cmdCtx *CmdCtx, flags *RespoolCtlFlags) *cobra.Command {
	options := SyncCmdOptions{cmdCtx: cmdCtx, flags: flags}
	cmd := &cobra.Command{
		Use:   "sync POOL...",
		Short: "Synchronize pools with the shared cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.cmd = cmd
			options.pools = args
			return options.Run(cmdCtx.Context)
		},
	}
	return cmd
}

func (o *SyncCmdOptions) Run(ctx context.Context) error {
	var all []clientv1.Item
	for _, p := range o.pools {
		items, err := o.cmdCtx.Backend.Sync(ctx, p)
		if err != nil {
			return err
		}
		all = append(all, items...)
	}
	return printItems(o.cmd.OutOrStdout(), o.flags.Output, all)
}
