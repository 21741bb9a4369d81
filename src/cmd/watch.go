package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CrewPrizePool/src/datasource/file"
	"CrewPrizePool/src/service"

	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		dir  string
		push bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "监控数据目录，名单文件变化时重新计算",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.DataDir
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, dir, push)
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "监控目录，默认 data_dir")
	cmd.Flags().BoolVar(&push, "push", false, "每次重算后推送摘要到钉钉机器人")
	return cmd
}

func (a *app) watch(ctx context.Context, dir string, push bool) error {
	d, err := a.dashboard(nil)
	if err != nil {
		return err
	}

	monitor, err := file.NewFileMonitor(dir)
	if err != nil {
		return err
	}
	defer monitor.Close()

	a.logger.Info("开始监控数据目录", "dir", dir)
	return monitor.Watch(ctx, func(path string) {
		if _, err := d.IngestFile(path); err != nil {
			a.logger.Error("名单文件解析失败", "file", path, "error", err)
			return
		}

		cctx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		res, err := d.Compute(cctx, service.Query{})
		if err != nil {
			a.logger.Error("计算失败", "file", path, "error", err)
			return
		}
		a.logger.Info("重新计算完成",
			"file", path,
			"run_id", res.RunID,
			"flights", res.Metrics.Flights,
			"prize_pool", res.Metrics.DisplayPrizePool())

		if push {
			if err := a.deliver(cctx, res, nil, true, false); err != nil {
				a.logger.Error("推送失败", "error", err)
			}
		}
	})
}
