package models

import (
	"encoding/json"
	"time"
)

type CommandType string

const (
	CmdScrapeAll    CommandType = "scrape_all"
	CmdScrapeSource CommandType = "scrape_source"
	CmdPause        CommandType = "pause"
	CmdResume       CommandType = "resume"
	CmdBackfill     CommandType = "backfill_brands"
)

type Command struct {
	ID          int64           `json:"id" db:"id"`
	Command     CommandType     `json:"command" db:"command"`
	Params      json.RawMessage `json:"params" db:"params"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at" db:"processed_at"`
}

type CommandParams struct {
	Source string `json:"source,omitempty"`
}
