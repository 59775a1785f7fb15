package model

import (
	"context"
	"database/sql"
	"time"
)

// Status 运行状态
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped" // 当日缓存命中，未访问消息平台
	StatusFailed     Status = "failed"
)

// RunLog 单次流水线运行的台账记录
type RunLog struct {
	ID           int64
	RunDate      string // YYYY-MM-DD
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       Status
	Channels     int
	Messages     int
	ErrorMessage string
}

type RunLogModel struct {
	db *sql.DB
}

const runLogSchema = `
CREATE TABLE IF NOT EXISTS run_log (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    run_date      TEXT NOT NULL,
    started_at    TIMESTAMP NOT NULL,
    finished_at   TIMESTAMP,
    status        TEXT NOT NULL,
    channels      INTEGER NOT NULL DEFAULT 0,
    messages      INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_run_log_run_date ON run_log(run_date);
`

// NewRunLogModel 创建台账模型并初始化表结构
func NewRunLogModel(db *sql.DB) (*RunLogModel, error) {
	if _, err := db.Exec(runLogSchema); err != nil {
		return nil, err
	}
	return &RunLogModel{db: db}, nil
}

// Begin 记录一次运行开始，返回记录ID
func (m *RunLogModel) Begin(ctx context.Context, runDate string) (int64, error) {
	result, err := m.db.ExecContext(ctx,
		`INSERT INTO run_log (run_date, started_at, status) VALUES (?, ?, ?)`,
		runDate, time.Now().UTC(), StatusInProgress)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// MarkCompleted 标记运行完成
func (m *RunLogModel) MarkCompleted(ctx context.Context, id int64, channels, messages int) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, finished_at = ?, channels = ?, messages = ? WHERE id = ?`,
		StatusCompleted, time.Now().UTC(), channels, messages, id)
	return err
}

// MarkSkipped 标记运行为缓存命中跳过
func (m *RunLogModel) MarkSkipped(ctx context.Context, id int64) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, finished_at = ? WHERE id = ?`,
		StatusSkipped, time.Now().UTC(), id)
	return err
}

// MarkFailed 标记运行失败
func (m *RunLogModel) MarkFailed(ctx context.Context, id int64, errorMsg string) error {
	_, err := m.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, finished_at = ?, error_message = ? WHERE id = ?`,
		StatusFailed, time.Now().UTC(), errorMsg, id)
	return err
}

// GetByDate 查询指定日期的全部运行记录，按开始时间排列
func (m *RunLogModel) GetByDate(ctx context.Context, runDate string) ([]*RunLog, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, run_date, started_at, finished_at, status, channels, messages, error_message
		 FROM run_log WHERE run_date = ? ORDER BY started_at`, runDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*RunLog
	for rows.Next() {
		var run RunLog
		var finishedAt sql.NullTime
		err = rows.Scan(&run.ID, &run.RunDate, &run.StartedAt, &finishedAt,
			&run.Status, &run.Channels, &run.Messages, &run.ErrorMessage)
		if err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// HasCompleted 判断指定日期是否已有成功完成的运行，失败和进行中不算
func (m *RunLogModel) HasCompleted(ctx context.Context, runDate string) (bool, error) {
	runs, err := m.GetByDate(ctx, runDate)
	if err != nil {
		return false, err
	}
	for _, run := range runs {
		if run.Status == StatusCompleted || run.Status == StatusSkipped {
			return true, nil
		}
	}
	return false, nil
}
