package stats

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aigoflow/executor-service/internal/model"
)

type DB struct {
	*sql.DB
}

func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// Worker load reports drained from the stats channel
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS worker_stats(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		worker_id TEXT,
		pending INTEGER,
		active INTEGER,
		iter_dur_ms REAL
	)`); err != nil {
		return nil, err
	}

	// Coordinator lifecycle events
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events(
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts REAL,
		level TEXT,
		code TEXT,
		msg TEXT,
		meta TEXT
	)`); err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

func (db *DB) Event(level, code, msg string, meta map[string]interface{}) {
	m := ""
	if meta != nil {
		b, _ := json.Marshal(meta)
		m = string(b)
	}
	_, _ = db.Exec(`INSERT INTO events(ts,level,code,msg,meta) VALUES(?,?,?,?,?)`,
		float64(time.Now().UnixNano())/1e9, level, code, msg, m)
}

func (db *DB) Record(rep *model.WorkerStats) error {
	ts := rep.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := db.Exec(`INSERT INTO worker_stats(ts,worker_id,pending,active,iter_dur_ms) VALUES(?,?,?,?,?)`,
		float64(ts.UnixNano())/1e9, rep.WorkerID, rep.Pending, rep.Active, rep.IterDurMs)
	return err
}

func (db *DB) Recent(limit int) ([]*model.WorkerStats, error) {
	rows, err := db.Query(`SELECT ts,worker_id,pending,active,iter_dur_ms FROM worker_stats ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []*model.WorkerStats
	for rows.Next() {
		var rep model.WorkerStats
		var tsFloat float64

		if err := rows.Scan(&tsFloat, &rep.WorkerID, &rep.Pending, &rep.Active, &rep.IterDurMs); err == nil {
			rep.Timestamp = time.Unix(0, int64(tsFloat*1e9))
			reports = append(reports, &rep)
		}
	}
	return reports, rows.Err()
}
