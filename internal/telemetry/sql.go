package telemetry

import (
	_ "embed"
)

const (
	insertFrameSQL = `
INSERT INTO frames (timestamp,
                    pid,
                    value,
                    raw)
VALUES (?, ?, ?, ?)`

	selectFramesSinceSQL = `
SELECT id,
       timestamp,
       pid,
       value,
       raw
FROM frames
WHERE timestamp > ?
   OR (timestamp = ? AND id > ?)
ORDER BY timestamp, id
LIMIT ?`

	selectFramesByPIDSQL = `
SELECT id,
       timestamp,
       pid,
       value,
       raw
FROM frames
WHERE pid = ?
  AND (timestamp > ? OR (timestamp = ? AND id > ?))
ORDER BY timestamp, id
LIMIT ?`

	countFramesSQL = `
SELECT COUNT(*)
FROM frames`
)

//go:embed schema.sql
var schemaSQL string
