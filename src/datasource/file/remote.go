package file

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"CrewPrizePool/src/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	defaultRetries       = 3
	defaultRetryInterval = 2 * time.Second
	maxSourceSize        = 64 << 20
)

// S3Options s3:// 数据源参数，Endpoint 不为空时按路径风格访问（R2/MinIO）
type S3Options struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Load 拉取并解析数据源：本地路径、http(s):// 或 s3://bucket/key
func Load(ctx context.Context, location string, opts Options) (*Dataset, error) {
	data, name, err := Fetch(ctx, location, opts)
	if err != nil {
		return nil, err
	}
	return Parse(data, name, opts)
}

// Fetch 只取原始字节，远程数据源失败时按配置重试
func Fetch(ctx context.Context, location string, opts Options) ([]byte, string, error) {
	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" || u.Scheme == "file" || len(u.Scheme) == 1 {
		p := location
		if err == nil && u.Scheme == "file" {
			p = u.Path
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, "", fmt.Errorf("无法读取文件 %s: %w", p, err)
		}
		return data, p, nil
	}

	retries, interval := opts.Retries, opts.RetryInterval
	if retries <= 0 {
		retries = defaultRetries
	}
	if interval <= 0 {
		interval = defaultRetryInterval
	}

	var data []byte
	switch u.Scheme {
	case "http", "https":
		err = utils.Retry(ctx, retries, interval, func() error {
			var ferr error
			data, ferr = fetchHTTP(ctx, opts.HTTPClient, location)
			return ferr
		})
	case "s3":
		err = utils.Retry(ctx, retries, interval, func() error {
			var ferr error
			data, ferr = fetchS3(ctx, opts.S3, u.Host, strings.TrimPrefix(u.Path, "/"))
			return ferr
		})
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedSource, location)
	}
	if err != nil {
		return nil, "", fmt.Errorf("拉取 %s 失败: %w", location, err)
	}
	return data, path.Base(u.Path), nil
}

func fetchHTTP(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("响应状态异常: %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSourceSize))
}

func fetchS3(ctx context.Context, so S3Options, bucket, key string) ([]byte, error) {
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 地址缺少 bucket 或 key")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if so.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(so.Region))
	}
	if so.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(so.AccessKey, so.SecretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("加载 aws 配置失败: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if so.Endpoint != "" {
			o.BaseEndpoint = aws.String(so.Endpoint)
			o.UsePathStyle = true
		}
	})

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("获取对象 s3://%s/%s 失败: %w", bucket, key, err)
	}
	defer out.Body.Close()

	return io.ReadAll(io.LimitReader(out.Body, maxSourceSize))
}
