package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	clientv1 "github.com/f5qa/respool/pkg/server/clientset/v1"
)

type RangeNextCmdOptions struct {
	cmdCtx *CmdCtx
	flags  *RespoolCtlFlags
	cmd    *cobra.Command

	name  string
	count int
}

func NewRangeNextCmd(cmdCtx *CmdCtx, flags *RespoolCtlFlags) *cobra.Command {
	options := RangeNextCmdOptions{cmdCtx: cmdCtx, flags: flags}
	cmd := &cobra.Command{
		Use:   "range-next RANGE",
		Short: "Draw values from a range",
		Long: `Draw the next values from a range. Ranges are not shared, without a
server every invocation starts again from the first value.`,
		Args: exactArgs("range-next", 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			options.cmd = cmd
			options.name = args[0]
			return options.Run(cmdCtx.Context)
		},
	}
	cmd.Flags().IntVarP(&options.count, "count", "c", 1, "number of values")
	return cmd
}

func (o *RangeNextCmdOptions) Run(ctx context.Context) error {
	values := make([]clientv1.RangeValue, 0, o.count)
	for i := 0; i < o.count; i++ {
		v, err := o.cmdCtx.Backend.Next(ctx, o.name)
		if err != nil {
			return err
		}
		values = append(values, *v)
	}

	out := o.cmd.OutOrStdout()
	if o.flags.Output == outputJSON {
		return printJSON(out, values)
	}
	for _, v := range values {
		if _, err := fmt.Fprintln(out, string(v.Value)); err != nil {
			return err
		}
	}
	return nil
}
