// Package collector ingests transcript files into the session database.
// Each file is read incrementally from its checkpoint and committed in one
// transaction guarded by the writer lease fence.
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/zulandar/sessionyard/internal/checkpoint"
	"github.com/zulandar/sessionyard/internal/errs"
	"github.com/zulandar/sessionyard/internal/events"
	"github.com/zulandar/sessionyard/internal/store"
	"github.com/zulandar/sessionyard/internal/transcript"
	"gorm.io/gorm"
)

const defaultSource = store.DefaultSource

// Fencer validates, inside a write transaction, that the caller still
// holds the writer lease.
type Fencer interface {
	Fence(tx *gorm.DB) error
}

// Result summarizes one collection run.
type Result struct {
	ProjectsScanned  int     `json:"projects_scanned"`
	SessionsScanned  int     `json:"sessions_scanned"`
	MessagesInserted int     `json:"messages_inserted"`
	SkippedLines     int     `json:"skipped_lines"`
	Errors           int     `json:"errors"`
	FirstError       string  `json:"first_error,omitempty"`
	NewMessageIDs    []int64 `json:"new_message_ids,omitempty"`
}

func (r *Result) fail(path string, err error) {
	r.Errors++
	if r.FirstError == "" {
		r.FirstError = fmt.Sprintf("%s: %v", path, err)
	}
}

// Options configures a Collector.
type Options struct {
	Sources []Source
	Decoder DirDecoder
	Bus     *events.Bus
	// Active reports whether scheduled sweeps should run. Nil means always.
	Active func() bool
}

// Collector runs ingestion sweeps.
type Collector struct {
	db      *gorm.DB
	fence   Fencer
	sources []Source
	decoder DirDecoder
	bus     *events.Bus
	active  func() bool
}

// New creates a Collector. Writes go through fence.
func New(db *gorm.DB, fence Fencer, opts Options) *Collector {
	decoder := opts.Decoder
	if decoder == nil {
		decoder = NaiveDecoder{}
	}
	return &Collector{
		db:      db,
		fence:   fence,
		sources: opts.Sources,
		decoder: decoder,
		bus:     opts.Bus,
		active:  opts.Active,
	}
}

// Sources returns the configured transcript roots.
func (c *Collector) Sources() []Source { return c.sources }

// Collect sweeps every configured source. Per-file failures are counted in
// the Result and the sweep continues. Losing the writer lease or
// cancelling ctx stops the sweep; the partial Result is returned with the
// error.
func (c *Collector) Collect(ctx context.Context) (Result, error) {
	var res Result
	for _, src := range c.sources {
		files, dirs, failed := Discover(src)
		res.ProjectsScanned += dirs
		for _, le := range failed {
			log.Printf("collector: %v", le)
			res.fail(le.Path, le.Err)
		}
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if err := c.collectFile(f, &res); err != nil {
				return res, err
			}
		}
	}
	c.bus.Publish(events.Event{
		Type:   events.TypeCollectCompleted,
		Count:  res.MessagesInserted,
		Errors: res.Errors,
		Detail: res.FirstError,
	})
	return res, nil
}

// CollectByPath ingests a single transcript file.
func (c *Collector) CollectByPath(ctx context.Context, path string) (Result, error) {
	var res Result
	if err := ctx.Err(); err != nil {
		return res, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return res, errs.Wrap(err, errs.KindInvalidInput, "collector: resolve path")
	}
	res.ProjectsScanned = 1
	if err := c.collectFile(locate(c.sources, abs), &res); err != nil {
		return res, err
	}
	return res, nil
}

// collectFile ingests one file into res. It returns an error only when the
// whole sweep must stop.
func (c *Collector) collectFile(f DiscoveredFile, res *Result) error {
	res.SessionsScanned++
	inserted, skipped, ids, err := c.ingest(f)
	res.SkippedLines += skipped
	if err != nil {
		if errors.Is(err, errs.KindCoordination) {
			res.fail(f.Path, err)
			return fmt.Errorf("collector: %s: %w", f.Path, err)
		}
		log.Printf("collector: %s: %v", f.Path, err)
		res.fail(f.Path, err)
		return nil
	}
	res.MessagesInserted += inserted
	res.NewMessageIDs = append(res.NewMessageIDs, ids...)
	return nil
}

// ingest reads f from its checkpoint and commits what it finds.
func (c *Collector) ingest(f DiscoveredFile) (inserted, skipped int, ids []int64, err error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return 0, 0, nil, errs.FromFS(err, "stat")
	}
	if info.IsDir() {
		return 0, 0, nil, errs.New(errs.KindInvalidInput, "is a directory")
	}
	size, mtime, id := info.Size(), info.ModTime().UnixMilli(), fileID(info)

	sessionID := transcript.SessionIDFromPath(f.Path)
	cp, ok, err := checkpoint.Get(c.db, sessionID)
	if err != nil {
		return 0, 0, nil, err
	}
	if ok && cp.Covers(size, mtime, id) {
		return 0, 0, nil, nil
	}
	start, rewritten := cp.Resume(size, id)
	if rewritten {
		log.Printf("collector: %s was rewritten (%d bytes), rescanning as generation %d", f.Path, size, start.Generation)
	}

	r, err := transcript.Open(f.Path, transcript.Position{Offset: start.Offset, Line: start.Lines}, transcript.Options{})
	if err != nil {
		return 0, 0, nil, err
	}
	var records []transcript.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.Close()
			return 0, r.Skipped(), nil, err
		}
		records = append(records, rec)
	}
	r.Close()
	skipped = r.Skipped()
	meta := r.Meta()
	pos := r.Position()

	next := checkpoint.Checkpoint{
		SessionID:  sessionID,
		Generation: start.Generation,
		Offset:     pos.Offset,
		Lines:      pos.Line,
		FileSize:   size,
		FileMtime:  mtime,
		FileID:     id,
	}

	// A file with nothing but malformed lines is reported once: the
	// checkpoint moves past it so later sweeps skip it until it changes.
	if len(records) == 0 && skipped > 0 && start.Offset == 0 {
		err := c.db.Transaction(func(tx *gorm.DB) error {
			if err := c.fence.Fence(tx); err != nil {
				return err
			}
			_, err := checkpoint.Advance(tx, next)
			return err
		})
		if err != nil {
			return 0, skipped, nil, err
		}
		return 0, skipped, nil, errs.New(errs.KindInvalidInput,
			fmt.Sprintf("no valid lines (%d malformed, first: %v)", skipped, r.LineErrors()[0]))
	}

	var projectID int64
	err = c.db.Transaction(func(tx *gorm.DB) error {
		if err := c.fence.Fence(tx); err != nil {
			return err
		}
		pid, err := c.resolveProject(tx, f, sessionID, meta.CWD)
		if err != nil {
			return err
		}
		projectID = pid
		if _, err := store.UpsertSession(tx, store.SessionInput{
			SessionID: sessionID,
			ProjectID: pid,
			CWD:       meta.CWD,
			Model:     meta.Model,
			FilePath:  f.Path,
		}); err != nil {
			return err
		}

		inputs, lastTS, err := newInputs(tx, sessionID, records)
		if err != nil {
			return err
		}
		ins, err := store.InsertMessages(tx, sessionID, inputs)
		if err != nil {
			return err
		}
		inserted, ids = ins.Inserted, ins.IDs

		next.LastTimestamp = lastTS
		_, err = checkpoint.Advance(tx, next)
		return err
	})
	if err != nil {
		return 0, skipped, nil, err
	}

	if inserted > 0 {
		c.bus.Publish(events.Event{
			Type:      events.TypeMessagesInserted,
			SessionID: sessionID,
			ProjectID: projectID,
			Path:      f.Path,
			Count:     inserted,
		})
	}
	return inserted, skipped, ids, nil
}

// resolveProject picks the project path from the transcript's embedded
// cwd, then the session's existing project, then the decoded directory
// name. It returns the project id.
func (c *Collector) resolveProject(tx *gorm.DB, f DiscoveredFile, sessionID, cwd string) (int64, error) {
	if cwd != "" {
		return upsertProject(tx, cwd, f)
	}
	existing, err := store.GetSession(tx, sessionID)
	switch {
	case err == nil:
		return existing.ProjectID, nil
	case !errors.Is(err, store.ErrNotFound):
		return 0, err
	}
	path := c.decoder.Decode(f.DirName)
	if path == "" {
		path = f.DirName
	}
	return upsertProject(tx, path, f)
}

func upsertProject(tx *gorm.DB, path string, f DiscoveredFile) (int64, error) {
	p, err := store.UpsertProject(tx, transcript.ProjectName(path), path, f.Source, f.DirName)
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

// newInputs converts records to store inputs, dropping uuids already
// stored or repeated within the batch. lastTS is the newest timestamp seen.
func newInputs(tx *gorm.DB, sessionID string, records []transcript.Record) ([]store.MessageInput, int64, error) {
	var lastTS int64
	uuids := make([]string, 0, len(records))
	for _, rec := range records {
		uuids = append(uuids, rec.UUID)
		if rec.Timestamp > lastTS {
			lastTS = rec.Timestamp
		}
	}
	seen, err := store.ExistingUUIDs(tx, sessionID, uuids)
	if err != nil {
		return nil, 0, err
	}
	inputs := make([]store.MessageInput, 0, len(records))
	for _, rec := range records {
		if seen[rec.UUID] {
			continue
		}
		seen[rec.UUID] = true
		inputs = append(inputs, store.MessageInput{
			UUID:      rec.UUID,
			Role:      string(rec.Role),
			Content:   rec.Content,
			Timestamp: rec.Timestamp,
			Sequence:  rec.Sequence,
			Model:     rec.Model,
			ToolName:  rec.ToolName,
			Raw:       rec.Raw,
		})
	}
	return inputs, lastTS, nil
}
