package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CrewPrizePool/src/datasource/email"
	"CrewPrizePool/src/metrics"
	"CrewPrizePool/src/server"
	"CrewPrizePool/src/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
)

// shutdownTimeout 优雅退出时等待在途请求的时间
const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务，并按配置定时拉取邮件、推送报表",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址，覆盖配置中的 server.addr")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	m := metrics.NewMetrics("prizepool", prometheus.DefaultRegisterer)
	d, err := a.dashboard(m)
	if err != nil {
		return err
	}

	if a.cfg.Source.Location != "" {
		lctx, cancel := context.WithTimeout(ctx, time.Minute)
		if _, err := d.Reload(lctx); err != nil {
			a.logger.Warning("初始数据加载失败", "source", a.cfg.Source.Location, "error", err)
		}
		cancel()
	}

	c := cron.New()
	if err := a.scheduleJobs(c, d); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	srv := server.NewServer(
		a.cfg.Server.Addr,
		server.NewRouter(server.NewHandler(d, a.logger, prometheus.DefaultGatherer)),
		a.cfg.Server.ReadTimeout.Std(),
		a.cfg.Server.WriteTimeout.Std(),
	)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP 服务已启动", "addr", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("HTTP 服务异常退出: %w", err)
			}
			return nil
		case <-ctx.Done():
			return a.shutdown(srv)
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				// 外部轮转后重新打开日志文件
				if err := a.logger.Reopen(a.cfg.LogName); err != nil {
					a.logger.Error("重新打开日志失败", "error", err)
				} else {
					a.logger.Info("日志文件已重新打开", "file", a.cfg.LogName)
				}
				continue
			}
			a.logger.Info("收到退出信号", "signal", sig.String())
			return a.shutdown(srv)
		}
	}
}

func (a *app) shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP 服务关闭失败: %w", err)
	}
	a.logger.Info("HTTP 服务已关闭")
	return nil
}

// scheduleJobs 注册邮件拉取、定时报表与日志轮转
func (a *app) scheduleJobs(c *cron.Cron, d *service.Dashboard) error {
	if a.cfg.Email.Enabled {
		spec := fmt.Sprintf("@every %s", a.cfg.Email.CheckInterval.Std())
		if err := c.AddFunc(spec, a.mailJob(d)); err != nil {
			return fmt.Errorf("创建邮件定时任务失败: %w", err)
		}
		a.logger.Info("邮件监控已启用", "interval", spec)
	}

	if a.cfg.Report.Schedule != "" {
		if err := c.AddFunc(a.cfg.Report.Schedule, a.reportJob(d)); err != nil {
			return fmt.Errorf("创建报表定时任务失败(%s): %w", a.cfg.Report.Schedule, err)
		}
		a.logger.Info("定时报表已启用", "schedule", a.cfg.Report.Schedule)
	}

	if a.cfg.LogName != "" && a.cfg.LogMaxSize != "" {
		err := c.AddFunc("0 * * * * *", func() {
			rotated, err := a.logger.CheckRotate(a.cfg.LogMaxSize)
			if err != nil {
				a.logger.Error("日志轮转失败", "error", err)
			} else if rotated {
				a.logger.Info("日志已轮转", "file", a.cfg.LogName)
			}
		})
		if err != nil {
			return fmt.Errorf("创建日志轮转任务失败: %w", err)
		}
	}
	return nil
}

// mailJob 拉取最新名单邮件，保存附件后替换数据集
func (a *app) mailJob(d *service.Dashboard) func() {
	client := email.NewEmailClient(a.cfg.Email.Server, a.cfg.Email.Username, a.cfg.Email.Password)
	client.Logger = a.logger
	handler := email.NewRosterAttachmentHandler(a.cfg.Email.TargetSubject, a.cfg.DataDir)

	return func() {
		t1 := time.Now()
		mail, err := email.CheckAndProcessEmails(client, a.cfg.Email.TargetSubject, a.logger)
		if err != nil {
			a.logger.Error("检查处理邮件失败", "error", err)
			return
		}
		if mail == nil {
			return
		}

		att, path, err := handler.Handle(mail)
		if err != nil {
			a.logger.Error("保存附件失败", "uid", mail.UID, "error", err)
			return
		}
		if att == nil {
			return
		}
		if _, err := d.IngestFile(path); err != nil {
			a.logger.Error("附件解析失败", "uid", mail.UID, "file", att.Filename, "error", err)
			return
		}
		a.logger.Info("邮件数据已更新", "uid", mail.UID, "file", path, "elapsed", time.Since(t1).String())
	}
}

// reportJob 计算当前数据集，导出后推送
func (a *app) reportJob(d *service.Dashboard) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		res, err := d.Compute(ctx, service.Query{})
		if err != nil {
			a.logger.Error("定时报表计算失败", "error", err)
			return
		}
		paths, err := exportResult(ctx, res, a.cfg.ReportDir)
		if err != nil {
			a.logger.Error("定时报表导出失败", "error", err)
			return
		}
		push := a.cfg.Report.Webhook != ""
		mail := len(a.cfg.SendEmail.To) > 0
		if err := a.deliver(ctx, res, paths, push, mail); err != nil {
			a.logger.Error("定时报表投递失败", "error", err)
			return
		}
		a.logger.Info("定时报表完成", "run_id", res.RunID, "files", len(paths))
	}
}
