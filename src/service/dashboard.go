package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"CrewPrizePool/src/cache"
	"CrewPrizePool/src/config"
	"CrewPrizePool/src/datasource/file"
	"CrewPrizePool/src/metrics"
	"CrewPrizePool/src/processor"
	"CrewPrizePool/src/storage"

	"github.com/google/uuid"
)

var (
	ErrNoDataset = errors.New("尚未加载数据")
	ErrNoSource  = errors.New("未配置数据源")
)

// maxLoggedWarnings 每次加载最多逐条记录的解析错误数
const maxLoggedWarnings = 20

// Options Dashboard 的依赖与参数
type Options struct {
	Location  string // 数据源，Reload 时使用
	Loader    file.Options
	Compute   processor.Options
	CacheSize int
	Metrics   *metrics.Metrics // 可为空
	Logger    *storage.Logger
}

// OptionsFromConfig 由两份配置组装 Options，Metrics 与 Logger 由调用方补上
func OptionsFromConfig(cfg *config.Config, dcfg *config.DataConfig) (Options, error) {
	compute, err := dcfg.ComputeOptions()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Location:  cfg.Source.Location,
		Loader:    LoaderOptions(cfg, dcfg),
		Compute:   compute,
		CacheSize: cfg.CacheSize,
	}, nil
}

func LoaderOptions(cfg *config.Config, dcfg *config.DataConfig) file.Options {
	return file.Options{
		SheetName:     cfg.Source.SheetName,
		HeaderRow:     cfg.Source.HeaderRow,
		Encoding:      cfg.Source.Encoding,
		Aliases:       dcfg.GetColumns(),
		DateFormats:   dcfg.DateFormats,
		Retries:       cfg.Source.Retries,
		RetryInterval: cfg.Source.RetryInterval.Std(),
		S3: file.S3Options{
			Region:    cfg.Source.S3.Region,
			Endpoint:  cfg.Source.S3.Endpoint,
			AccessKey: cfg.Source.S3.AccessKey,
			SecretKey: cfg.Source.S3.SecretKey,
		},
	}
}

// Query 一次查询的参数，零值日期表示不限，指针为空时用配置值
type Query struct {
	From      time.Time
	To        time.Time
	TopN      *int
	Partition *bool
}

// Result 一次计算的结果
type Result struct {
	RunID      string            `json:"run_id"`
	ComputedAt time.Time         `json:"computed_at"`
	Dataset    string            `json:"dataset"`
	From       string            `json:"from,omitempty"`
	To         string            `json:"to,omitempty"`
	Cached     bool              `json:"cached"`
	Dropped    int               `json:"dropped_rows"`
	Metrics    processor.Metrics `json:"metrics"`
}

// Status 当前数据集概况
type Status struct {
	Dataset  string    `json:"dataset"`
	Rows     int       `json:"rows"`
	Dropped  int       `json:"dropped_rows"`
	Ragged   int       `json:"ragged_rows"`
	LoadedAt time.Time `json:"loaded_at"`

	// FirstDate / LastDate 可选日期范围的上下界
	FirstDate       string `json:"first_date,omitempty"`
	LastDate        string `json:"last_date,omitempty"`
	HasAirlineCode  bool   `json:"has_airline_code"`
	HasCrewQuantity bool   `json:"has_crew_quantity"`
}

// Dashboard 持有当前数据集，读多写少
type Dashboard struct {
	mu      sync.RWMutex
	dataset *file.Dataset

	opts   Options
	cache  *cache.Memo[processor.Metrics]
	logger *storage.Logger
}

func New(opts Options) *Dashboard {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = storage.NewNopLogger()
	}
	return &Dashboard{
		opts:   opts,
		cache:  cache.New[processor.Metrics](opts.CacheSize),
		logger: logger,
	}
}

// Reload 从配置的数据源重新加载
func (d *Dashboard) Reload(ctx context.Context) (*file.Dataset, error) {
	if d.opts.Location == "" {
		return nil, ErrNoSource
	}

	ds, err := file.Load(ctx, d.opts.Location, d.opts.Loader)
	if err != nil {
		d.countError("reload")
		return nil, err
	}
	d.SetDataset(ds, "reload")
	return ds, nil
}

// Ingest 解析上传或邮件附件的内容并替换当前数据集
func (d *Dashboard) Ingest(data []byte, name string) (*file.Dataset, error) {
	ds, err := file.Parse(data, name, d.opts.Loader)
	if err != nil {
		d.countError("ingest")
		return nil, err
	}
	d.SetDataset(ds, "ingest")
	return ds, nil
}

// IngestFile 读取本地文件后 Ingest
func (d *Dashboard) IngestFile(path string) (*file.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		d.countError("ingest")
		return nil, fmt.Errorf("无法读取文件 %s: %w", path, err)
	}
	return d.Ingest(data, filepath.Base(path))
}

// SetDataset 替换数据集并清空缓存
func (d *Dashboard) SetDataset(ds *file.Dataset, source string) {
	d.mu.Lock()
	d.dataset = ds
	d.mu.Unlock()
	d.cache.Purge()

	if m := d.opts.Metrics; m != nil {
		m.DatasetsLoaded.WithLabelValues(source).Inc()
		m.RowsLoaded.Add(float64(len(ds.Records)))
		for _, w := range ds.Warnings {
			m.RowsDropped.WithLabelValues(w.Column).Inc()
		}
	}

	d.logger.Info("数据集已加载",
		"name", ds.Name,
		"source", source,
		"rows", len(ds.Records),
		"dropped", ds.Dropped(),
		"ragged", ds.Ragged,
		"hash", ds.Hash)
	for i, w := range ds.Warnings {
		if i == maxLoggedWarnings {
			d.logger.Warning("解析错误过多，其余省略", "total", len(ds.Warnings))
			break
		}
		d.logger.Warning("行已丢弃", "row", w.Row, "column", w.Column, "value", w.Value, "error", w.Err)
	}
}

func (d *Dashboard) Dataset() *file.Dataset {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dataset
}

func (d *Dashboard) Status() (Status, error) {
	ds := d.Dataset()
	if ds == nil {
		return Status{}, ErrNoDataset
	}
	first, last := file.DateBounds(ds.Records)
	return Status{
		Dataset:         ds.Name,
		Rows:            len(ds.Records),
		Dropped:         ds.Dropped(),
		Ragged:          ds.Ragged,
		LoadedAt:        ds.LoadedAt,
		FirstDate:       formatDate(first),
		LastDate:        formatDate(last),
		HasAirlineCode:  ds.HasAirlineCode,
		HasCrewQuantity: ds.HasCrewQuantity,
	}, nil
}

// Compute 过滤日期后聚合；相同数据集与参数的结果走缓存
func (d *Dashboard) Compute(ctx context.Context, q Query) (*Result, error) {
	ds := d.Dataset()
	if ds == nil {
		return nil, ErrNoDataset
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := d.opts.Compute
	if q.TopN != nil {
		opts.TopN = *q.TopN
	}
	if q.Partition != nil {
		opts.PartitionByAirline = *q.Partition
	}
	opts.CrewQuantityColumn = ds.HasCrewQuantity

	start := time.Now()
	key := cache.Key(ds.Hash, formatDate(q.From), formatDate(q.To), fmt.Sprintf("%+v", opts))
	m, cached, err := d.cache.Do(key, func() (processor.Metrics, error) {
		records := file.FilterDateRange(ds.Records, q.From, q.To)
		return processor.ComputeMetrics(records, opts), nil
	})
	if err != nil {
		d.countError("compute")
		return nil, err
	}

	if pm := d.opts.Metrics; pm != nil {
		pm.Computations.Inc()
		if cached {
			pm.CacheHits.Inc()
		}
		pm.ComputeDuration.Observe(time.Since(start).Seconds())
		pool, _ := m.PrizePool.Float64()
		pm.PrizePool.Set(pool)
	}

	res := &Result{
		RunID:      uuid.NewString(),
		ComputedAt: time.Now(),
		Dataset:    ds.Name,
		From:       formatDate(q.From),
		To:         formatDate(q.To),
		Cached:     cached,
		Dropped:    ds.Dropped(),
		Metrics:    m,
	}
	d.logger.Debug("计算完成",
		"run_id", res.RunID,
		"cached", cached,
		"rows", m.Rows,
		"prize_pool", m.DisplayPrizePool())
	return res, nil
}

func (d *Dashboard) countError(op string) {
	if m := d.opts.Metrics; m != nil {
		m.ErrorsCount.WithLabelValues(op).Inc()
	}
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
