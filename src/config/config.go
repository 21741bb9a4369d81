package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"CrewPrizePool/src/processor"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const envPrefix = "PRIZEPOOL_"

// Config 结构体定义了应用程序的运行配置
type Config struct {
	Source struct {
		Location      string   `json:"location"` // 本地路径、http(s):// 或 s3://bucket/key
		SheetName     string   `json:"sheet_name"`
		HeaderRow     int      `json:"header_row"`
		Encoding      string   `json:"encoding"`
		Retries       int      `json:"retries"`
		RetryInterval Duration `json:"retry_interval"`
		S3            struct {
			Region    string `json:"region"`
			Endpoint  string `json:"endpoint"`
			AccessKey string `json:"access_key"`
			SecretKey string `json:"secret_key"`
		} `json:"s3"`
	} `json:"source"`

	Email struct {
		Enabled       bool     `json:"enabled"`
		Server        string   `json:"server"`         // 邮件服务器地址
		Username      string   `json:"username"`       // 邮箱用户名
		Password      string   `json:"password"`       // 邮箱密码
		TargetSubject string   `json:"target_subject"` // 需要匹配的邮件主题
		CheckInterval Duration `json:"check_interval"` // 检查新邮件的间隔时间
	} `json:"email"`

	SendEmail struct {
		Server   string   `json:"server"` // host:port，隐式TLS
		Username string   `json:"username"`
		Password string   `json:"password"`
		Subject  string   `json:"subject"`
		To       []string `json:"to"`
	} `json:"send_email"`

	DataDir    string `json:"data_dir"`   // 附件、上传文件的存放目录
	ReportDir  string `json:"report_dir"` // 导出报表目录
	LogName    string `json:"log_name"`
	LogLevel   string `json:"log_level"`
	LogMaxSize string `json:"log_max_size"` // 如 "10 * 1024 * 1024"
	CacheSize  int    `json:"cache_size"`

	Server struct {
		Addr         string   `json:"addr"`
		ReadTimeout  Duration `json:"read_timeout"`
		WriteTimeout Duration `json:"write_timeout"`
	} `json:"server"`

	Report struct {
		Schedule string `json:"schedule"` // cron 表达式（6段，含秒），为空不推送
		Webhook  string `json:"webhook"`  // 钉钉机器人地址
		Secret   string `json:"secret"`   // 加签密钥
	} `json:"report"`
}

// DataConfig 数据口径：列别名、奖金参数、航司拆分
type DataConfig struct {
	Columns     map[string]string `json:"columns"` // 表头别名 -> 规范列名
	DateFormats []string          `json:"date_formats"`

	Prize struct {
		UnitPrize    decimal.NullDecimal `json:"unit_prize"` // 缺省为5，显式0也有效
		TopN         int                 `json:"top_n"`
		PoolRounding string              `json:"pool_rounding"` // auto/none/ceil
		Rounding     string              `json:"rounding"`      // 总榜取整：none/round_up/round_down
	} `json:"prize"`

	Airline struct {
		Partition          bool              `json:"partition"`
		Primary            string            `json:"primary"`
		Secondary          string            `json:"secondary"`
		Partitions         []string          `json:"partitions"`
		Rounding           map[string]string `json:"rounding"` // 航司 -> 取整策略
		PositionalFallback bool              `json:"positional_fallback"`
	} `json:"airline"`
}

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	mu                 sync.RWMutex
)

// LoadConfig 进程内只加载一次，之后返回同一份配置
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	var err error
	once.Do(func() {
		instance, dataConfigInstance, err = Load(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, err
}

// Load 读取两份配置文件，补默认值后再叠加 .env 与 PRIZEPOOL_* 环境变量
func Load(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	cfg, dcfg, err := loadConfigs(jsonFolder, jsonFile, dataJsonFile)
	if err != nil {
		return nil, nil, err
	}

	cfg.applyDefaults()
	dcfg.applyDefaults()

	// .env 不存在不算错误；已存在的环境变量优先
	_ = godotenv.Load(filepath.Join(jsonFolder, ".env"))
	if err := applyEnvOverrides(cfg, dcfg); err != nil {
		return nil, nil, err
	}

	if _, err := dcfg.ComputeOptions(); err != nil {
		return nil, nil, err
	}
	return cfg, dcfg, nil
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	dataConfigFile := filepath.Join(jsonFolder, dataJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	dataConfigData, err := readFile(dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseDataConfig(dataConfigData, dcfgChan, errChan)

	return waitForResults(cfgChan, dcfgChan, errChan)
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		errChan <- fmt.Errorf("解析Config失败: %w", err)
		return
	}
	resultChan <- &cfg
}

func parseDataConfig(data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	var dcfg DataConfig
	if err := json.Unmarshal(data, &dcfg); err != nil {
		errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
		return
	}
	resultChan <- &dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg    *Config
		dcfg   *DataConfig
		errors []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return nil, nil, combineErrors(errors)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

func combineErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}

	msg := "配置加载遇到多个错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.ReportDir == "" {
		c.ReportDir = "reports"
	}
	if c.LogName == "" {
		c.LogName = "app.log"
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 64
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(15 * time.Second)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(time.Minute)
	}
	if c.Email.CheckInterval == 0 {
		c.Email.CheckInterval = Duration(5 * time.Minute)
	}
}

func (dc *DataConfig) applyDefaults() {
	if !dc.Prize.UnitPrize.Valid {
		dc.Prize.UnitPrize = decimal.NewNullDecimal(decimal.NewFromInt(5))
	}
	if dc.Prize.TopN == 0 {
		dc.Prize.TopN = 3
	}
	if dc.Airline.Primary == "" {
		dc.Airline.Primary = "AK"
	}
	if dc.Airline.Secondary == "" {
		dc.Airline.Secondary = "D7"
	}
}

// applyEnvOverrides PRIZEPOOL_SOURCE、PRIZEPOOL_EMAIL_PASSWORD 等覆盖文件中的值
func applyEnvOverrides(cfg *Config, dcfg *DataConfig) error {
	strs := map[string]*string{
		"SOURCE":              &cfg.Source.Location,
		"S3_REGION":           &cfg.Source.S3.Region,
		"S3_ENDPOINT":         &cfg.Source.S3.Endpoint,
		"S3_ACCESS_KEY":       &cfg.Source.S3.AccessKey,
		"S3_SECRET_KEY":       &cfg.Source.S3.SecretKey,
		"EMAIL_SERVER":        &cfg.Email.Server,
		"EMAIL_USERNAME":      &cfg.Email.Username,
		"EMAIL_PASSWORD":      &cfg.Email.Password,
		"SEND_EMAIL_PASSWORD": &cfg.SendEmail.Password,
		"DATA_DIR":            &cfg.DataDir,
		"REPORT_DIR":          &cfg.ReportDir,
		"LOG_NAME":            &cfg.LogName,
		"LOG_LEVEL":           &cfg.LogLevel,
		"ADDR":                &cfg.Server.Addr,
		"REPORT_WEBHOOK":      &cfg.Report.Webhook,
		"REPORT_SECRET":       &cfg.Report.Secret,
		"POOL_ROUNDING":       &dcfg.Prize.PoolRounding,
		"ROUNDING":            &dcfg.Prize.Rounding,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(envPrefix + "UNIT_PRIZE"); ok {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sUNIT_PRIZE 无效: %w", envPrefix, err)
		}
		dcfg.Prize.UnitPrize = decimal.NewNullDecimal(d)
	}
	if v, ok := os.LookupEnv(envPrefix + "TOP_N"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sTOP_N 无效: %w", envPrefix, err)
		}
		dcfg.Prize.TopN = n
	}
	if v, ok := os.LookupEnv(envPrefix + "PARTITION"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sPARTITION 无效: %w", envPrefix, err)
		}
		dcfg.Airline.Partition = b
	}
	return nil
}

// ComputeOptions 转成聚合参数，取整策略名在这里校验
func (dc *DataConfig) ComputeOptions() (processor.Options, error) {
	mu.RLock()
	defer mu.RUnlock()

	opts := processor.DefaultOptions()
	if dc.Prize.UnitPrize.Valid {
		opts.UnitPrize = dc.Prize.UnitPrize.Decimal
	}
	opts.TopN = dc.Prize.TopN

	var err error
	if opts.PoolRounding, err = processor.ParsePoolRounding(dc.Prize.PoolRounding); err != nil {
		return opts, err
	}
	if opts.Rounding, err = processor.ParseRoundingPolicy(dc.Prize.Rounding); err != nil {
		return opts, err
	}

	opts.PartitionByAirline = dc.Airline.Partition
	for _, code := range dc.Airline.Partitions {
		opts.Partitions = append(opts.Partitions, strings.ToUpper(strings.TrimSpace(code)))
	}
	opts.Airline = processor.AirlineOptions{
		Primary:            strings.ToUpper(dc.Airline.Primary),
		Secondary:          strings.ToUpper(dc.Airline.Secondary),
		PositionalFallback: dc.Airline.PositionalFallback,
	}
	if len(dc.Airline.Rounding) > 0 {
		opts.PartitionRounding = make(map[string]processor.RoundingPolicy, len(dc.Airline.Rounding))
		for code, name := range dc.Airline.Rounding {
			p, err := processor.ParseRoundingPolicy(name)
			if err != nil {
				return opts, fmt.Errorf("航司 %s: %w", code, err)
			}
			opts.PartitionRounding[strings.ToUpper(code)] = p
		}
	}
	return opts, nil
}

// GetColumns 返回别名表的副本
func (dc *DataConfig) GetColumns() map[string]string {
	mu.RLock()
	defer mu.RUnlock()
	out := make(map[string]string, len(dc.Columns))
	for k, v := range dc.Columns {
		out[k] = v
	}
	return out
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON序列化和反序列化
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
// 用于从JSON字符串解析Duration
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON 实现json.Marshaler接口
// 用于将Duration序列化为JSON字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}
