// Package store persists finalized session results and reference
// performances in sqlite. The schema is managed by golang-migrate with the
// migration files embedded in the binary.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/physioassist/motioncore/internal/compensation"
	"github.com/physioassist/motioncore/internal/feedback"
	"github.com/physioassist/motioncore/internal/goniometry"
	"github.com/physioassist/motioncore/internal/pose"
	"github.com/physioassist/motioncore/internal/session"
)

// Store wraps the sqlite connection.
type Store struct {
	*sql.DB
}

// Open opens (creating if necessary) the database at path and migrates it to
// the latest schema version.
func Open(path string) (*Store, error) {
	s, err := OpenRaw(path)
	if err != nil {
		return nil, err
	}
	if err := s.MigrateUp(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// OpenRaw opens the database without running migrations, for callers that
// manage the schema explicitly (the migrate subcommand).
func OpenRaw(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer; sqlite serialises anyway and this avoids lock churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	return &Store{db}, nil
}

// SessionRow is one row of the sessions table.
type SessionRow struct {
	SessionID      string              `json:"session_id"`
	ExerciseID     string              `json:"exercise_id"`
	PatientID      string              `json:"patient_id"`
	Skill          feedback.SkillLevel `json:"skill"`
	StartNano      int64               `json:"start_nanos"`
	EndNano        int64               `json:"end_nanos"`
	FrameCount     int                 `json:"frame_count"`
	DegradedFrames int                 `json:"degraded_frames"`
	Repetitions    int                 `json:"repetitions"`
}

// SaveSummary persists a finalized session in one transaction: the session
// row, every measurement series, events, feedback (in rank order), and
// per-joint statistics.
func (s *Store) SaveSummary(sum *session.Summary) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO sessions (session_id, exercise_id, patient_id, skill, start_nanos, end_nanos, frame_count, degraded_frames, repetitions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.SessionID, sum.ExerciseID, sum.PatientID, string(sum.Skill),
		sum.StartNano, sum.EndNano, sum.FrameCount, sum.DegradedFrames, sum.Repetitions,
	); err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	mstmt, err := tx.Prepare(`
		INSERT INTO joint_measurements (session_id, joint, side, angle_degrees, plane, quality, confidence, fallback, warnings, timestamp_nanos)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare measurement insert: %w", err)
	}
	defer mstmt.Close()
	for joint, series := range sum.Series {
		for _, m := range series {
			fallbackInt := 0
			if m.Fallback {
				fallbackInt = 1
			}
			if _, err := mstmt.Exec(
				sum.SessionID, string(joint), string(m.Side), m.AngleDegrees, string(m.Plane),
				string(m.Quality), m.Confidence, fallbackInt, strings.Join(m.Warnings, "; "), m.TimestampNano,
			); err != nil {
				return fmt.Errorf("failed to insert measurement: %w", err)
			}
		}
	}

	for _, ev := range sum.Events {
		if _, err := tx.Exec(`
			INSERT INTO compensation_events (event_id, session_id, type, side, severity, magnitude, peak_magnitude, start_nanos, last_nanos)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, sum.SessionID, string(ev.Type), string(ev.Side), string(ev.Severity),
			ev.Magnitude, ev.PeakMagnitude, ev.StartNano, ev.LastNano,
		); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	for rank, item := range sum.Feedback {
		if _, err := tx.Exec(`
			INSERT INTO feedback_items (session_id, rank, message_key, priority, risk, type, side, severity, frequency)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sum.SessionID, rank, item.MessageKey, item.Priority, string(item.Risk),
			string(item.Type), string(item.Side), string(item.Severity), item.Frequency,
		); err != nil {
			return fmt.Errorf("failed to insert feedback item: %w", err)
		}
	}

	for joint, js := range sum.JointStats {
		if _, err := tx.Exec(`
			INSERT INTO joint_stats (session_id, joint, samples, min_deg, max_deg, mean_deg, std_deg, rom_deg)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sum.SessionID, string(joint), js.Samples, js.MinDeg, js.MaxDeg, js.MeanDeg, js.StdDeg, js.ROMDeg,
		); err != nil {
			return fmt.Errorf("failed to insert joint stats: %w", err)
		}
	}

	return tx.Commit()
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions() ([]SessionRow, error) {
	rows, err := s.Query(`
		SELECT session_id, exercise_id, patient_id, skill, start_nanos, end_nanos, frame_count, degraded_frames, repetitions
		FROM sessions ORDER BY start_nanos DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		var skill string
		if err := rows.Scan(&r.SessionID, &r.ExerciseID, &r.PatientID, &skill,
			&r.StartNano, &r.EndNano, &r.FrameCount, &r.DegradedFrames, &r.Repetitions); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		r.Skill = feedback.SkillLevel(skill)
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSession returns one session row.
func (s *Store) GetSession(sessionID string) (*SessionRow, error) {
	var r SessionRow
	var skill string
	err := s.QueryRow(`
		SELECT session_id, exercise_id, patient_id, skill, start_nanos, end_nanos, frame_count, degraded_frames, repetitions
		FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&r.SessionID, &r.ExerciseID, &r.PatientID, &skill,
			&r.StartNano, &r.EndNano, &r.FrameCount, &r.DegradedFrames, &r.Repetitions)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	r.Skill = feedback.SkillLevel(skill)
	return &r, nil
}

// Measurements returns one joint's measurement series for a session, in
// timestamp order. An empty joint returns every joint's series.
func (s *Store) Measurements(sessionID string, joint goniometry.JointID) ([]*goniometry.JointMeasurement, error) {
	query := `
		SELECT joint, side, angle_degrees, plane, quality, confidence, fallback, warnings, timestamp_nanos
		FROM joint_measurements WHERE session_id = ?`
	args := []any{sessionID}
	if joint != "" {
		query += ` AND joint = ?`
		args = append(args, string(joint))
	}
	query += ` ORDER BY timestamp_nanos`

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	var out []*goniometry.JointMeasurement
	for rows.Next() {
		var (
			m                          goniometry.JointMeasurement
			j, side, plane, quality, w string
			fallbackInt                int
		)
		if err := rows.Scan(&j, &side, &m.AngleDegrees, &plane, &quality, &m.Confidence, &fallbackInt, &w, &m.TimestampNano); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.Joint = goniometry.JointID(j)
		m.Side = pose.Side(side)
		m.Plane = goniometry.PlaneName(plane)
		m.Quality = goniometry.Quality(quality)
		m.Fallback = fallbackInt != 0
		if w != "" {
			m.Warnings = strings.Split(w, "; ")
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Events returns a session's compensation events in start order.
func (s *Store) Events(sessionID string) ([]*compensation.Event, error) {
	rows, err := s.Query(`
		SELECT event_id, type, side, severity, magnitude, peak_magnitude, start_nanos, last_nanos
		FROM compensation_events WHERE session_id = ? ORDER BY start_nanos`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*compensation.Event
	for rows.Next() {
		var (
			ev                  compensation.Event
			typ, side, severity string
		)
		if err := rows.Scan(&ev.ID, &typ, &side, &severity, &ev.Magnitude, &ev.PeakMagnitude, &ev.StartNano, &ev.LastNano); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = compensation.Type(typ)
		ev.Side = pose.Side(side)
		ev.Severity = compensation.Severity(severity)
		ev.Closed = true
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// Feedback returns a session's feedback items in rank order.
func (s *Store) Feedback(sessionID string) ([]feedback.Item, error) {
	rows, err := s.Query(`
		SELECT message_key, priority, risk, type, side, severity, frequency
		FROM feedback_items WHERE session_id = ? ORDER BY rank`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []feedback.Item
	for rows.Next() {
		var (
			item                      feedback.Item
			risk, typ, side, severity string
		)
		if err := rows.Scan(&item.MessageKey, &item.Priority, &risk, &typ, &side, &severity, &item.Frequency); err != nil {
			return nil, fmt.Errorf("failed to scan feedback item: %w", err)
		}
		item.Risk = feedback.RiskClass(risk)
		item.Type = compensation.Type(typ)
		item.Side = pose.Side(side)
		item.Severity = compensation.Severity(severity)
		out = append(out, item)
	}
	return out, rows.Err()
}

// JointStats returns a session's per-joint aggregates.
func (s *Store) JointStats(sessionID string) (map[goniometry.JointID]session.JointStats, error) {
	rows, err := s.Query(`
		SELECT joint, samples, min_deg, max_deg, mean_deg, std_deg, rom_deg
		FROM joint_stats WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query joint stats: %w", err)
	}
	defer rows.Close()

	out := make(map[goniometry.JointID]session.JointStats)
	for rows.Next() {
		var (
			joint string
			js    session.JointStats
		)
		if err := rows.Scan(&joint, &js.Samples, &js.MinDeg, &js.MaxDeg, &js.MeanDeg, &js.StdDeg, &js.ROMDeg); err != nil {
			return nil, fmt.Errorf("failed to scan joint stats: %w", err)
		}
		out[goniometry.JointID(joint)] = js
	}
	return out, rows.Err()
}

// SaveReference stores a reference performance's angle series for an
// exercise, replacing any previous reference for the same exercise.
func (s *Store) SaveReference(exerciseID string, series map[goniometry.JointID][]float64) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM reference_sequences WHERE exercise_id = ?`, exerciseID); err != nil {
		return fmt.Errorf("failed to clear reference: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO reference_sequences (exercise_id, joint, frame_index, angle_degrees)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare reference insert: %w", err)
	}
	defer stmt.Close()

	for joint, angles := range series {
		for i, a := range angles {
			if _, err := stmt.Exec(exerciseID, string(joint), i, a); err != nil {
				return fmt.Errorf("failed to insert reference frame: %w", err)
			}
		}
	}
	return tx.Commit()
}

// LoadReference returns an exercise's reference angle series per joint.
func (s *Store) LoadReference(exerciseID string) (map[goniometry.JointID][]float64, error) {
	rows, err := s.Query(`
		SELECT joint, frame_index, angle_degrees
		FROM reference_sequences WHERE exercise_id = ? ORDER BY joint, frame_index`, exerciseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reference: %w", err)
	}
	defer rows.Close()

	out := make(map[goniometry.JointID][]float64)
	for rows.Next() {
		var (
			joint string
			idx   int
			angle float64
		)
		if err := rows.Scan(&joint, &idx, &angle); err != nil {
			return nil, fmt.Errorf("failed to scan reference frame: %w", err)
		}
		out[goniometry.JointID(joint)] = append(out[goniometry.JointID(joint)], angle)
	}
	return out, rows.Err()
}
