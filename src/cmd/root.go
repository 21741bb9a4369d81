package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"CrewPrizePool/src/config"
	"CrewPrizePool/src/metrics"
	"CrewPrizePool/src/service"
	"CrewPrizePool/src/storage"
	"CrewPrizePool/src/utils"

	"github.com/spf13/cobra"
)

// app 各子命令共享的运行时状态，在 PersistentPreRunE 中初始化
type app struct {
	configDir      string
	configFile     string
	dataConfigFile string
	source         string
	logFile        string

	cfg    *config.Config
	dcfg   *config.DataConfig
	logger *storage.Logger
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "prizepool",
		Short: "机组销售奖池与排行榜",
		Long: `按航班去重汇总售出瓶数计算奖池，按机组汇总计入量生成排行榜，
支持按航司拆分排行榜以及各自的取整规则。

数据源可以是本地 csv/xlsx、http(s) 地址或 s3://bucket/key。`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Close()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.configDir, "config-dir", "./config", "配置目录")
	root.PersistentFlags().StringVar(&a.configFile, "config", "config.json", "运行配置文件名")
	root.PersistentFlags().StringVar(&a.dataConfigFile, "data-config", "dataconfig.json", "数据口径配置文件名")
	root.PersistentFlags().StringVarP(&a.source, "source", "s", "", "数据源，覆盖配置中的 source.location")
	root.PersistentFlags().StringVar(&a.logFile, "log", "", "日志文件，覆盖配置中的 log_name")

	root.AddCommand(newComputeCmd(a))
	root.AddCommand(newExportCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newWatchCmd(a))
	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	cfg, dcfg, err := config.Load(a.configDir, a.configFile, a.dataConfigFile)
	if err != nil {
		return err
	}
	if a.source != "" {
		cfg.Source.Location = a.source
	}
	if a.logFile != "" {
		cfg.LogName = a.logFile
	}

	logger, err := storage.NewLogger(cfg.LogName)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	logger.SetLevel(storage.ParseLevel(cfg.LogLevel))

	a.cfg, a.dcfg, a.logger = cfg, dcfg, logger
	return nil
}

func (a *app) dashboard(m *metrics.Metrics) (*service.Dashboard, error) {
	opts, err := service.OptionsFromConfig(a.cfg, a.dcfg)
	if err != nil {
		return nil, err
	}
	opts.Metrics = m
	opts.Logger = a.logger
	return service.New(opts), nil
}

// queryFlags compute 与 export 共用的查询参数
type queryFlags struct {
	from      string
	to        string
	top       int
	partition string
}

func (q *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&q.from, "from", "", "起始航班日期（含）")
	cmd.Flags().StringVar(&q.to, "to", "", "截止航班日期（含）")
	cmd.Flags().IntVar(&q.top, "top", 0, "每个排行榜保留的名次，0 使用配置，负数表示全部")
	cmd.Flags().StringVar(&q.partition, "partition", "", "是否按航司拆分(true/false)，为空使用配置")
}

func (q *queryFlags) query() (service.Query, error) {
	var out service.Query
	if q.from != "" {
		t, err := utils.ParseDate(q.from)
		if err != nil {
			return out, fmt.Errorf("--from: %w", err)
		}
		out.From = t
	}
	if q.to != "" {
		t, err := utils.ParseDate(q.to)
		if err != nil {
			return out, fmt.Errorf("--to: %w", err)
		}
		out.To = t
	}
	if q.top != 0 {
		top := q.top
		out.TopN = &top
	}
	switch q.partition {
	case "":
	case "true", "1", "yes":
		b := true
		out.Partition = &b
	case "false", "0", "no":
		b := false
		out.Partition = &b
	default:
		return out, fmt.Errorf("--partition: 无效的值 %q", q.partition)
	}
	return out, nil
}

// loadAndCompute 从配置的数据源加载后计算一次
func (a *app) loadAndCompute(ctx context.Context, q service.Query) (*service.Result, error) {
	d, err := a.dashboard(nil)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if _, err := d.Reload(ctx); err != nil {
		return nil, err
	}
	return d.Compute(ctx, q)
}
