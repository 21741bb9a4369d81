package email

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"os"

	mailer "github.com/jordan-wright/email"
)

// SMTPConfig 发信参数，Server 不带端口时默认465
type SMTPConfig struct {
	Server   string
	Username string
	Password string
}

// Report 一封报表邮件
type Report struct {
	To          []string
	Subject     string
	Body        string
	Attachments []string // 本地文件路径
}

// NewReportMail 组装邮件，附件不存在时返回错误
func NewReportMail(from string, r Report) (*mailer.Email, error) {
	if len(r.To) == 0 {
		return nil, fmt.Errorf("收件人为空")
	}

	e := mailer.NewEmail()
	e.From = from
	e.To = r.To
	e.Subject = r.Subject
	e.Text = []byte(r.Body)

	for _, p := range r.Attachments {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("附件文件不存在: %w", err)
		}
		if _, err := e.AttachFile(p); err != nil {
			return nil, fmt.Errorf("附件添加失败: %w", err)
		}
	}
	return e, nil
}

// SendReport 通过隐式TLS发送报表
func SendReport(c SMTPConfig, r Report) error {
	e, err := NewReportMail(c.Username, r)
	if err != nil {
		return err
	}

	addr := c.Server
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		addr = net.JoinHostPort(addr, "465")
	}

	err = e.SendWithTLS(
		addr,
		smtp.PlainAuth("", c.Username, c.Password, host),
		&tls.Config{ServerName: host},
	)
	if err != nil {
		return fmt.Errorf("邮件发送失败(server: %s): %w", addr, err)
	}
	return nil
}
