package forensic

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Archive persists critical snapshots beyond the ring, one hash-chained row
// per snapshot so tampering with an archived record is detectable.
type Archive struct {
	db *sql.DB

	mu       sync.Mutex
	lastHash map[string]string // session -> hash of last archived row
}

// NewArchive opens (or creates) the archive database at path.
func NewArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		session_id     TEXT NOT NULL,
		snapshot_index INTEGER NOT NULL,
		timestamp      DATETIME NOT NULL,
		kind           TEXT NOT NULL,
		url            TEXT,
		risk_score     REAL NOT NULL,
		trust_score    REAL NOT NULL,
		defcon         INTEGER NOT NULL,
		payload        TEXT,
		data_ref       TEXT,
		prev_hash      TEXT NOT NULL,
		hash           TEXT NOT NULL,
		PRIMARY KEY (session_id, snapshot_index)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON snapshots(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Archive{db: db, lastHash: make(map[string]string)}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// Store archives a snapshot, chaining its hash to the previous archived row
// of the same session.
func (a *Archive) Store(sessionID string, snap Snapshot) error {
	payload, err := json.Marshal(snap.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	prev, ok := a.lastHash[sessionID]
	if !ok {
		prev, err = a.tailHash(sessionID)
		if err != nil {
			return err
		}
	}

	hash := computeHash(sessionID, snap, payload, prev)
	_, err = a.db.Exec(`INSERT INTO snapshots (session_id, snapshot_index, timestamp, kind, url,
		risk_score, trust_score, defcon, payload, data_ref, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, snap.Index, snap.Timestamp, snap.Kind, snap.URL,
		snap.RiskScore, snap.TrustScore, snap.Defcon, string(payload), snap.DataRef, prev, hash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	a.lastHash[sessionID] = hash
	return nil
}

// List returns the archived snapshots for a session in index order.
func (a *Archive) List(sessionID string) ([]Snapshot, error) {
	rows, err := a.db.Query(`SELECT snapshot_index, timestamp, kind, url, risk_score,
		trust_score, defcon, payload, data_ref
		FROM snapshots WHERE session_id = ? ORDER BY snapshot_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		var payload, url, dataRef sql.NullString
		if err := rows.Scan(&s.Index, &s.Timestamp, &s.Kind, &url,
			&s.RiskScore, &s.TrustScore, &s.Defcon, &payload, &dataRef); err != nil {
			return nil, err
		}
		s.URL = url.String
		s.DataRef = dataRef.String
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &s.Payload); err != nil {
				return nil, fmt.Errorf("corrupt payload at index %d: %w", s.Index, err)
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Verify walks a session's archived chain and reports integrity. Rows are
// walked in insertion order, which is the order the chain was built in;
// evicted snapshots may carry a lower index than an earlier critical row.
// The second return is the index of the first broken row, -1 when intact.
func (a *Archive) Verify(sessionID string) (bool, int, error) {
	rows, err := a.db.Query(`SELECT snapshot_index, timestamp, kind, url, risk_score,
		trust_score, defcon, payload, data_ref, prev_hash, hash
		FROM snapshots WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return false, 0, err
	}
	defer rows.Close()

	expectedPrev := sessionSeed(sessionID)
	for rows.Next() {
		var s Snapshot
		var payload, url, dataRef sql.NullString
		var prevHash, hash string
		if err := rows.Scan(&s.Index, &s.Timestamp, &s.Kind, &url,
			&s.RiskScore, &s.TrustScore, &s.Defcon, &payload, &dataRef, &prevHash, &hash); err != nil {
			return false, 0, err
		}
		s.URL = url.String
		s.DataRef = dataRef.String

		if prevHash != expectedPrev {
			return false, s.Index, nil
		}
		if computeHash(sessionID, s, []byte(payload.String), prevHash) != hash {
			return false, s.Index, nil
		}
		expectedPrev = hash
	}
	return true, -1, rows.Err()
}

// tailHash returns the hash of the session's most recently inserted row, or
// the session seed when the session has no rows. Caller holds the lock.
func (a *Archive) tailHash(sessionID string) (string, error) {
	var hash string
	err := a.db.QueryRow(`SELECT hash FROM snapshots WHERE session_id = ?
		ORDER BY rowid DESC LIMIT 1`, sessionID).Scan(&hash)
	if err == sql.ErrNoRows {
		return sessionSeed(sessionID), nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// computeHash hashes the identifying fields of a snapshot chained to the
// previous hash.
func computeHash(sessionID string, s Snapshot, payload []byte, prevHash string) string {
	data := fmt.Sprintf("%s|%d|%s|%s|%.4f|%.4f|%d|%s|%s",
		sessionID, s.Index, s.Kind, s.URL,
		s.RiskScore, s.TrustScore, s.Defcon,
		string(payload), prevHash,
	)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// sessionSeed is the initial prev_hash for a session's first archived row.
func sessionSeed(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])
}
