package datapush

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"CrewPrizePool/src/processor"
	"CrewPrizePool/src/utils"
)

// 常量定义
const (
	RETRY_TIMES    = 5
	RETRY_INTERVAL = 2 * time.Second
)

// 钉钉 API 响应结构体
type DingTalkResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Robot 钉钉群机器人，Secret 不为空时按加签方式请求
type Robot struct {
	Webhook  string
	Secret   string
	Client   *http.Client
	Retries  int
	Interval time.Duration

	now func() time.Time
}

func NewRobot(webhook, secret string) *Robot {
	return &Robot{
		Webhook:  webhook,
		Secret:   secret,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Retries:  RETRY_TIMES,
		Interval: RETRY_INTERVAL,
	}
}

type markdownMessage struct {
	MsgType  string `json:"msgtype"`
	Markdown struct {
		Title string `json:"title"`
		Text  string `json:"text"`
	} `json:"markdown"`
}

// PushMarkdown 发送 markdown 消息，失败按 Retries/Interval 重试
func (r *Robot) PushMarkdown(ctx context.Context, title, text string) error {
	msg := markdownMessage{MsgType: "markdown"}
	msg.Markdown.Title = title
	msg.Markdown.Text = text

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化请求体失败: %w", err)
	}

	return utils.Retry(ctx, r.Retries, r.Interval, func() error {
		return r.send(ctx, payload)
	})
}

func (r *Robot) send(ctx context.Context, payload []byte) error {
	endpoint, err := r.signedURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("响应状态异常: %s", resp.Status)
	}

	var result DingTalkResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if result.ErrCode != 0 {
		return fmt.Errorf("发送消息失败(%d): %s", result.ErrCode, result.ErrMsg)
	}
	return nil
}

// signedURL webhook 追加 timestamp 与 sign 参数
func (r *Robot) signedURL() (string, error) {
	if r.Secret == "" {
		return r.Webhook, nil
	}

	u, err := url.Parse(r.Webhook)
	if err != nil {
		return "", fmt.Errorf("webhook 地址无效: %w", err)
	}

	now := time.Now
	if r.now != nil {
		now = r.now
	}
	ts := strconv.FormatInt(now().UnixMilli(), 10)

	q := u.Query()
	q.Set("timestamp", ts)
	q.Set("sign", Sign(ts, r.Secret))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Sign base64(HmacSHA256(timestamp + "\n" + secret))
func Sign(timestamp, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "\n" + secret))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SummaryMarkdown 奖池与各排行榜的 markdown 摘要
func SummaryMarkdown(dataset string, m processor.Metrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### 机组奖金排行\n\n")
	fmt.Fprintf(&b, "- 数据: %s\n", dataset)
	fmt.Fprintf(&b, "- 航班数: %d\n", m.Flights)
	fmt.Fprintf(&b, "- 总瓶数: %s\n", m.TotalBottles.String())
	fmt.Fprintf(&b, "- 奖池: **%s**\n", m.DisplayPrizePool())

	for _, lb := range m.Leaderboards {
		title := "总榜"
		if lb.AirlineCode != "" {
			title = lb.AirlineCode
		}
		fmt.Fprintf(&b, "\n#### %s\n\n", title)
		if len(lb.Entries) == 0 {
			b.WriteString("暂无数据\n")
			continue
		}
		for _, e := range lb.Entries {
			fmt.Fprintf(&b, "%d. %s(%s) %s", e.Rank, e.CrewName, e.CrewID, e.TotalCredited.String())
			if e.PrizeShare.Valid {
				fmt.Fprintf(&b, " / ¥%s", e.PrizeShare.Decimal.StringFixed(2))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
