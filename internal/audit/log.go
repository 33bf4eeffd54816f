package audit

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ballee/spendguard/internal/decision"
	"github.com/ballee/spendguard/internal/errors"
)

// Log is the append-only decision store. Append is the single commit point:
// everything before it is pure computation with no external effect. Records
// are never edited in place; later steps append fill-in lines (amend, note,
// human decision, execution) that are replayed into the in-memory index on
// open. No stored line is ever rewritten.
type Log struct {
	mu      sync.RWMutex
	path    string
	records map[string]*decision.Record
	order   []string
	amended map[string]bool
}

type lineKind string

const (
	kindRecord  lineKind = "record"
	kindAmend   lineKind = "amend"
	kindNote    lineKind = "note"
	kindHuman   lineKind = "human"
	kindExecute lineKind = "execute"
)

type logLine struct {
	Kind          lineKind               `json:"kind"`
	At            time.Time              `json:"at"`
	ID            string                 `json:"id,omitempty"`
	Record        *decision.Record       `json:"record,omitempty"`
	Outcome       *decision.Outcome      `json:"outcome,omitempty"`
	AccuracyScore *float64               `json:"accuracy_score,omitempty"`
	Note          *decision.Note         `json:"note,omitempty"`
	HumanDecision decision.HumanDecision `json:"human_decision,omitempty"`
	ExecutedAt    *time.Time             `json:"executed_at,omitempty"`
}

func Open(path string) (*Log, error) {
	l := &Log{
		path:    path,
		records: make(map[string]*decision.Record),
		amended: make(map[string]bool),
	}
	if err := l.replay(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) replay() error {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line logLine
		if err := json.Unmarshal(raw, &line); err != nil {
			slog.Warn("Failed to parse audit line", "line", string(raw), "error", err)
			continue
		}
		l.applyLine(&line)
	}
	return scanner.Err()
}

func (l *Log) applyLine(line *logLine) {
	switch line.Kind {
	case kindRecord:
		if line.Record == nil {
			return
		}
		if _, exists := l.records[line.Record.ID]; exists {
			return
		}
		copied := *line.Record
		l.records[copied.ID] = &copied
		l.order = append(l.order, copied.ID)
	case kindAmend:
		if rec, ok := l.records[line.ID]; ok {
			rec.Outcome = line.Outcome
			rec.AccuracyScore = line.AccuracyScore
			l.amended[line.ID] = true
		}
	case kindNote:
		if rec, ok := l.records[line.ID]; ok && line.Note != nil {
			rec.Notes = append(rec.Notes, *line.Note)
		}
	case kindHuman:
		if rec, ok := l.records[line.ID]; ok {
			rec.HumanDecision = line.HumanDecision
		}
	case kindExecute:
		if rec, ok := l.records[line.ID]; ok {
			rec.ExecutedAt = line.ExecutedAt
		}
	}
}

func (l *Log) writeLine(line *logLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "open audit log")
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "write audit line")
	}
	return nil
}

// Append commits a decision record. Idempotent on the record id: a
// duplicate append is a no-op, not a duplicate record, so callers may
// safely retry after transient write failures.
func (l *Log) Append(rec *decision.Record) error {
	if rec == nil || rec.ID == "" {
		return errors.StateViolation("audit record must have an id")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[rec.ID]; exists {
		slog.Debug("Duplicate audit append ignored", "id", rec.ID)
		return nil
	}

	line := &logLine{Kind: kindRecord, At: time.Now(), Record: rec}
	if err := l.writeLine(line); err != nil {
		return err
	}
	l.applyLine(line)

	slog.Debug("Decision recorded", "id", rec.ID, "tier", rec.Tier, "channel", rec.Snapshot.ChannelID)
	return nil
}

// Amend fills in the measured outcome and accuracy score. Permitted at most
// once per record; the single-amend guard keeps the feedback loop a single
// writer without a lock around the rare amendment path.
func (l *Log) Amend(id string, outcome decision.Outcome, accuracy float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[id]; !ok {
		return errors.NotFound("decision record not found: " + id)
	}
	if l.amended[id] {
		return errors.StateViolation("decision record already amended: " + id)
	}

	line := &logLine{
		Kind:          kindAmend,
		At:            time.Now(),
		ID:            id,
		Outcome:       &outcome,
		AccuracyScore: &accuracy,
	}
	if err := l.writeLine(line); err != nil {
		return err
	}
	l.applyLine(line)
	return nil
}

// AddNote appends an out-of-band note, e.g. a human response that arrived
// after expiry.
func (l *Log) AddNote(id string, note decision.Note) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[id]; !ok {
		return errors.NotFound("decision record not found: " + id)
	}

	line := &logLine{Kind: kindNote, At: time.Now(), ID: id, Note: &note}
	if err := l.writeLine(line); err != nil {
		return err
	}
	l.applyLine(line)
	return nil
}

// SetHumanDecision records the Tier-2 resolution. Set-once: a record whose
// human decision is already set rejects a second write.
func (l *Log) SetHumanDecision(id string, hd decision.HumanDecision) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return errors.NotFound("decision record not found: " + id)
	}
	if rec.HumanDecision != decision.HumanNone && rec.HumanDecision != "" {
		return errors.StateViolation("human decision already set: " + id)
	}

	line := &logLine{Kind: kindHuman, At: time.Now(), ID: id, HumanDecision: hd}
	if err := l.writeLine(line); err != nil {
		return err
	}
	l.applyLine(line)
	return nil
}

// SetExecuted stamps executed_at. Set-once.
func (l *Log) SetExecuted(id string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return errors.NotFound("decision record not found: " + id)
	}
	if rec.ExecutedAt != nil {
		return errors.StateViolation("executed_at already set: " + id)
	}

	line := &logLine{Kind: kindExecute, At: time.Now(), ID: id, ExecutedAt: &at}
	if err := l.writeLine(line); err != nil {
		return err
	}
	l.applyLine(line)
	return nil
}

// Get returns a copy of one record.
func (l *Log) Get(id string) (*decision.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[id]
	if !ok {
		return nil, errors.NotFound("decision record not found: " + id)
	}
	copied := *rec
	return &copied, nil
}

// IsAmended reports whether a record's outcome is already recorded.
func (l *Log) IsAmended(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.amended[id]
}

// RecordsSince returns records for a ruleset version within [start, end),
// in append order. A zero rulesetVersion matches all versions.
func (l *Log) RecordsSince(rulesetVersion int, start, end time.Time) []*decision.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*decision.Record
	for _, id := range l.order {
		rec := l.records[id]
		if rulesetVersion != 0 && rec.RulesetVersion != rulesetVersion {
			continue
		}
		if !start.IsZero() && rec.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && !rec.Timestamp.Before(end) {
			continue
		}
		copied := *rec
		out = append(out, &copied)
	}
	return out
}

// Pending returns records whose tier requires a human decision that has not
// arrived yet, newest first.
func (l *Log) Pending() []*decision.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*decision.Record
	for _, id := range l.order {
		rec := l.records[id]
		if rec.Tier == decision.TierRequestApproval && (rec.HumanDecision == decision.HumanNone || rec.HumanDecision == "") {
			copied := *rec
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Len reports the number of committed records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}
