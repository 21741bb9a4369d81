// monitor.go
package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debounce 同一文件连续事件的合并窗口，避免读到写了一半的文件
var Debounce = 300 * time.Millisecond

// FileMonitor 监听投递目录，新的或更新过的 csv/xlsx 名单触发回调
type FileMonitor struct {
	watchDir string
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	mu       sync.Mutex
	wg       sync.WaitGroup
}

func NewFileMonitor(dir string) (*FileMonitor, error) {
	if err := ensureDir(dir); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	return &FileMonitor{
		watchDir: dir,
		watcher:  watcher,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// Watch 阻塞直到 ctx 取消或 watcher 出错；返回前取消未触发的回调并等待执行中的回调结束
func (m *FileMonitor) Watch(ctx context.Context, handler func(string)) error {
	defer m.drain()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !isRosterFile(event.Name) {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			m.schedule(event.Name, handler)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			return err
		}
	}
}

func (m *FileMonitor) Close() error {
	return m.watcher.Close()
}

// schedule 窗口内重复的事件只会重置计时器
func (m *FileMonitor) schedule(name string, handler func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.pending[name]; ok && t.Stop() {
		m.wg.Done()
	}
	m.wg.Add(1)
	m.pending[name] = time.AfterFunc(Debounce, func() {
		defer m.wg.Done()
		m.mu.Lock()
		delete(m.pending, name)
		m.mu.Unlock()
		handler(name)
	})
}

func (m *FileMonitor) drain() {
	m.mu.Lock()
	for name, t := range m.pending {
		if t.Stop() {
			m.wg.Done()
		}
		delete(m.pending, name)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func isRosterFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasPrefix(base, "~$") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// ensureDir 确保目录存在
func ensureDir(dirPath string) error {
	if info, err := os.Stat(dirPath); err == nil {
		if info.IsDir() {
			return nil
		}
		return &os.PathError{Op: "watch", Path: dirPath, Err: os.ErrExist}
	}
	return os.MkdirAll(dirPath, 0755)
}
