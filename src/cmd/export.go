package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"CrewPrizePool/src/datapush"
	"CrewPrizePool/src/datasource/email"
	"CrewPrizePool/src/report"
	"CrewPrizePool/src/service"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		qf   queryFlags
		out  string
		push bool
		mail bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "导出 xlsx 与 csv 报表，可选推送钉钉或邮件",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := qf.query()
			if err != nil {
				return err
			}
			res, err := a.loadAndCompute(cmd.Context(), q)
			if err != nil {
				return err
			}

			dir := out
			if dir == "" {
				dir = a.cfg.ReportDir
			}
			paths, err := exportResult(cmd.Context(), res, dir)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return a.deliver(cmd.Context(), res, paths, push, mail)
		},
	}

	qf.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "输出目录，默认 report_dir")
	cmd.Flags().BoolVar(&push, "push", false, "推送摘要到钉钉机器人")
	cmd.Flags().BoolVar(&mail, "mail", false, "以邮件发送 xlsx 报表")
	return cmd
}

// exportResult 并行写出 xlsx 与每个排行榜的 csv，返回文件路径（xlsx 在前）
func exportResult(ctx context.Context, res *service.Result, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建目录失败: %w", err)
	}

	stamp := res.ComputedAt.Format("20060102150405")
	base := strings.TrimSuffix(res.Dataset, filepath.Ext(res.Dataset))
	if base == "" {
		base = "roster"
	}

	summary := report.Summary{
		RunID:   res.RunID,
		Dataset: res.Dataset,
		From:    res.From,
		To:      res.To,
		Metrics: res.Metrics,
	}

	paths := make([]string, 1+len(res.Metrics.Leaderboards))
	paths[0] = filepath.Join(dir, fmt.Sprintf("%s_%s.xlsx", base, stamp))

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return report.SaveXLSX(paths[0], summary)
	})
	for i, lb := range res.Metrics.Leaderboards {
		i, lb := i, lb
		paths[i+1] = filepath.Join(dir, fmt.Sprintf("%s_%s_%s.csv", base, report.SheetName(lb), stamp))
		g.Go(func() error {
			f, err := os.Create(paths[i+1])
			if err != nil {
				return err
			}
			if err := report.WriteCSV(f, lb); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return paths, nil
}

// deliver 按需推送钉钉摘要与邮件，两者互不影响
func (a *app) deliver(ctx context.Context, res *service.Result, paths []string, push, mail bool) error {
	var errs []string

	if push {
		if a.cfg.Report.Webhook == "" {
			errs = append(errs, "未配置 report.webhook")
		} else {
			robot := datapush.NewRobot(a.cfg.Report.Webhook, a.cfg.Report.Secret)
			pctx, cancel := context.WithTimeout(ctx, time.Minute)
			err := robot.PushMarkdown(pctx, "机组奖金排行", datapush.SummaryMarkdown(res.Dataset, res.Metrics))
			cancel()
			if err != nil {
				errs = append(errs, err.Error())
			} else {
				a.logger.Info("钉钉推送成功", "run_id", res.RunID)
			}
		}
	}

	if mail {
		sc := a.cfg.SendEmail
		err := email.SendReport(
			email.SMTPConfig{Server: sc.Server, Username: sc.Username, Password: sc.Password},
			email.Report{
				To:          sc.To,
				Subject:     sc.Subject,
				Body:        datapush.SummaryMarkdown(res.Dataset, res.Metrics),
				Attachments: paths[:1],
			},
		)
		if err != nil {
			errs = append(errs, err.Error())
		} else {
			a.logger.Info("报表邮件已发送", "run_id", res.RunID, "to", strings.Join(sc.To, ","))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("报表投递失败: %s", strings.Join(errs, "; "))
	}
	return nil
}
