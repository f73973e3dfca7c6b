package transcript

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/zulandar/sessionyard/internal/errs"
)

// maxLineErrors caps how many skipped-line errors a Reader keeps.
const maxLineErrors = 10

// Options tunes a Reader.
type Options struct {
	// AcceptUnterminated consumes a final line that has no trailing
	// newline. Readers that follow a file being appended to leave it
	// alone so a later resume reads it once complete.
	AcceptUnterminated bool
}

// Meta is session metadata gathered from every line read so far,
// including lines that carry no message.
type Meta struct {
	SessionID string
	CWD       string
	Model     string
}

// Reader yields message records from a transcript file one line at a time.
type Reader struct {
	f       *os.File
	br      *bufio.Reader
	pos     Position
	opts    Options
	pending bool // hit an unterminated line; nothing more until reopened

	meta     Meta
	skipped  int
	lineErrs []LineError
}

// Open starts reading path at from. A zero Position reads from the start.
func Open(path string, from Position, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.FromFS(err, "transcript: open "+path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.FromFS(err, "transcript: stat "+path)
	}
	if info.IsDir() {
		f.Close()
		return nil, errs.New(errs.KindInvalidInput, "transcript: "+path+" is a directory")
	}
	if from.Offset < 0 || from.Offset > info.Size() {
		f.Close()
		return nil, errs.New(errs.KindInvalidInput,
			fmt.Sprintf("transcript: offset %d outside %s (%d bytes)", from.Offset, path, info.Size()))
	}
	if from.Offset > 0 {
		if _, err := f.Seek(from.Offset, io.SeekStart); err != nil {
			f.Close()
			return nil, errs.FromFS(err, "transcript: seek "+path)
		}
	}
	return &Reader{
		f:    f,
		br:   bufio.NewReaderSize(f, 64*1024),
		pos:  from,
		opts: opts,
	}, nil
}

// Next returns the next message record, or io.EOF when no complete line
// remains. Malformed lines are skipped and counted.
func (r *Reader) Next() (Record, error) {
	for {
		if r.pending {
			return Record{}, io.EOF
		}
		line, err := r.br.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				return Record{}, errs.FromFS(err, "transcript: read")
			}
			if len(line) == 0 {
				return Record{}, io.EOF
			}
			if !r.opts.AcceptUnterminated {
				r.pending = true
				return Record{}, io.EOF
			}
		}

		index := r.pos.Line
		r.pos.Offset += int64(len(line))
		r.pos.Line++

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		rec, meta, ok, perr := parseLine(trimmed, index)
		r.mergeMeta(meta)
		if perr != nil {
			r.skip(index, perr)
			continue
		}
		if ok {
			return rec, nil
		}
	}
}

func (r *Reader) mergeMeta(m lineMeta) {
	if r.meta.SessionID == "" {
		r.meta.SessionID = m.sessionID
	}
	if r.meta.CWD == "" {
		r.meta.CWD = m.cwd
	}
	if m.model != "" {
		r.meta.Model = m.model
	}
}

func (r *Reader) skip(index int64, err error) {
	r.skipped++
	if len(r.lineErrs) < maxLineErrors {
		r.lineErrs = append(r.lineErrs, LineError{Line: index, Err: err.Error()})
	}
}

// Position is where the next read would start. Passing it to Open resumes
// exactly after the last consumed line.
func (r *Reader) Position() Position { return r.pos }

// Meta returns metadata seen so far.
func (r *Reader) Meta() Meta { return r.meta }

// Skipped counts malformed lines skipped so far.
func (r *Reader) Skipped() int { return r.skipped }

// LineErrors returns the first few skipped-line errors.
func (r *Reader) LineErrors() []LineError { return r.lineErrs }

// Close releases the file.
func (r *Reader) Close() error { return r.f.Close() }
