// email_handler.go
package email

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ====================== 邮件处理器实现 ======================

// RosterAttachmentHandler 把名单附件落到数据目录，同一封邮件只处理一次
type RosterAttachmentHandler struct {
	TargetSubject string          // 目标邮件主题关键词
	DataDir       string          // 附件保存目录
	processedUIDs map[uint32]bool // 已处理邮件UID记录
	mu            sync.RWMutex    // 保护processedUIDs的读写锁
}

func NewRosterAttachmentHandler(subject, dataDir string) *RosterAttachmentHandler {
	return &RosterAttachmentHandler{
		TargetSubject: subject,
		DataDir:       dataDir,
		processedUIDs: make(map[uint32]bool),
	}
}

// IsProcessed 检查邮件是否已处理过（线程安全）
func (h *RosterAttachmentHandler) IsProcessed(uid uint32) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.processedUIDs[uid]
}

// markAsProcessed 标记邮件为已处理（线程安全）
func (h *RosterAttachmentHandler) markAsProcessed(uid uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.processedUIDs[uid] = true
}

// Handle 保存邮件中所有名单附件，返回第一个名单附件及其保存路径
func (h *RosterAttachmentHandler) Handle(email *Email) (*Attachment, string, error) {
	if email == nil || h.IsProcessed(email.UID) {
		return nil, "", nil
	}

	if !strings.Contains(email.Subject, h.TargetSubject) {
		return nil, "", nil
	}

	if err := os.MkdirAll(h.DataDir, 0755); err != nil {
		return nil, "", fmt.Errorf("创建目录失败: %w", err)
	}

	var (
		roster *Attachment
		saved  string
	)
	for _, attachment := range email.Attachments {
		if !attachment.IsRoster() {
			continue
		}

		// 附件名来自外部，只取文件名部分
		name := filepath.Base(filepath.Clean("/" + attachment.Filename))
		filePath := filepath.Join(h.DataDir, fmt.Sprintf("%d_%s", email.UID, name))

		if err := os.WriteFile(filePath, attachment.Content, 0644); err != nil {
			return nil, "", fmt.Errorf("保存附件失败: %w", err)
		}

		if roster == nil {
			roster, saved = attachment, filePath
		}
	}

	if roster != nil {
		h.markAsProcessed(email.UID)
	}
	return roster, saved, nil
}

var _ EmailHandler = (*RosterAttachmentHandler)(nil)
