package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fachebot/channel-digest/internal/digest"
)

// 每日产物的文件名约定：{saveDir}/{YYYY-MM-DD}/ 下各一份
const (
	recordFileName   = "messages.json"
	filteredFileName = "filtered.json"
	reportFileName   = "report.md"
	htmlFileName     = "report.html"
)

// Store 按日期组织的文件存储
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// RecordPath 当日聚合记录的路径
func (s *Store) RecordPath(date string) string {
	return filepath.Join(s.dir, date, recordFileName)
}

// FilteredPath 当日过滤产物的路径
func (s *Store) FilteredPath(date string) string {
	return filepath.Join(s.dir, date, filteredFileName)
}

// ReportPath 当日报告的路径
func (s *Store) ReportPath(date string) string {
	return filepath.Join(s.dir, date, reportFileName)
}

// HTMLPath 当日 HTML 报告的路径
func (s *Store) HTMLPath(date string) string {
	return filepath.Join(s.dir, date, htmlFileName)
}

func (s *Store) RecordExists(date string) bool {
	return fileExists(s.RecordPath(date))
}

func (s *Store) FilteredExists(date string) bool {
	return fileExists(s.FilteredPath(date))
}

func (s *Store) ReportExists(date string) bool {
	return fileExists(s.ReportPath(date))
}

// SaveRecord 以缩进 JSON 写入当日聚合记录
func (s *Store) SaveRecord(date string, record *digest.AggregateRecord) error {
	data, err := record.EncodeIndent()
	if err != nil {
		return fmt.Errorf("编码聚合记录失败: %w", err)
	}
	return s.writeFileAtomic(s.RecordPath(date), data)
}

// LoadRecord 读取当日聚合记录
func (s *Store) LoadRecord(date string) (*digest.AggregateRecord, error) {
	data, err := os.ReadFile(s.RecordPath(date))
	if err != nil {
		return nil, err
	}
	record, err := digest.DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("解析聚合记录失败: %w", err)
	}
	return record, nil
}

func (s *Store) SaveFiltered(date string, data []byte) error {
	return s.writeFileAtomic(s.FilteredPath(date), data)
}

func (s *Store) LoadFiltered(date string) ([]byte, error) {
	return os.ReadFile(s.FilteredPath(date))
}

func (s *Store) SaveReport(date string, text string) error {
	return s.writeFileAtomic(s.ReportPath(date), []byte(text))
}

func (s *Store) SaveReportHTML(date string, data []byte) error {
	return s.writeFileAtomic(s.HTMLPath(date), data)
}

// writeFileAtomic 先写临时文件再重命名，避免崩溃留下截断的产物
func (s *Store) writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("重命名临时文件失败: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
