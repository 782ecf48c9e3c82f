// Package csvdata serves rows from a plan's CSV data sources to virtual
// users, honouring the sharing and recycle policies.
package csvdata

import (
	"sync"

	"github.com/rmeter/rmeter/internal/plan"
)

// sourceRuntime is one CSV source loaded for a run. For all_threads sharing
// the cursor lives here, protected by the mutex; per_thread sources keep
// their cursors on each virtual user's Cursor instead.
type sourceRuntime struct {
	name    string
	columns []string
	rows    [][]string
	sharing plan.CsvSharingMode
	recycle bool

	mu     sync.Mutex
	pos    int
	warned bool
}

// DataSet is the runtime view of every CSV source in a plan. It is shared by
// all virtual users of a run.
type DataSet struct {
	sources []*sourceRuntime
}

// NewDataSet builds the runtime data set from the plan's sources.
func NewDataSet(sources []plan.CsvDataSource) *DataSet {
	ds := &DataSet{}
	for _, s := range sources {
		ds.sources = append(ds.sources, &sourceRuntime{
			name:    s.Name,
			columns: s.Columns,
			rows:    s.Rows,
			sharing: s.SharingMode,
			recycle: s.Recycle,
		})
	}
	return ds
}

// Empty reports whether the data set has no sources.
func (ds *DataSet) Empty() bool {
	return len(ds.sources) == 0
}

// Cursor is one virtual user's view of the data set. It owns the per_thread
// positions; all_threads positions stay on the shared source.
type Cursor struct {
	ds    *DataSet
	local []localCursor
}

type localCursor struct {
	pos    int
	warned bool
}

// NewCursor creates a fresh per-VU cursor with every per_thread source back
// at row 0.
func (ds *DataSet) NewCursor() *Cursor {
	return &Cursor{
		ds:    ds,
		local: make([]localCursor, len(ds.sources)),
	}
}

// NextBindings draws one row from every source and merges the column→value
// pairs into a single map. It is called once at the start of each loop
// iteration; the bindings live for that iteration.
//
// When a non-recycling source runs out of rows, the last row keeps being
// served and onExhausted fires exactly once per cursor.
func (c *Cursor) NextBindings(onExhausted func(source string)) map[string]string {
	if c.ds.Empty() {
		return nil
	}
	bindings := make(map[string]string)
	for i, src := range c.ds.sources {
		if len(src.rows) == 0 {
			continue
		}

		var row []string
		var exhausted bool
		if src.sharing == plan.SharePerThread {
			row, exhausted = nextRow(src, &c.local[i].pos, &c.local[i].warned)
		} else {
			src.mu.Lock()
			row, exhausted = nextRow(src, &src.pos, &src.warned)
			src.mu.Unlock()
		}

		if exhausted && onExhausted != nil {
			onExhausted(src.name)
		}

		for j, col := range src.columns {
			if j < len(row) {
				bindings[col] = row[j]
			}
		}
	}
	return bindings
}

// nextRow advances one cursor position and returns the row to serve. The
// second return is true exactly once: the first draw past the end of a
// non-recycling source.
func nextRow(src *sourceRuntime, pos *int, warned *bool) ([]string, bool) {
	n := len(src.rows)
	idx := *pos
	if idx < n {
		*pos = idx + 1
		return src.rows[idx], false
	}
	if src.recycle {
		idx = idx % n
		*pos = idx + 1
		return src.rows[idx], false
	}
	// Exhausted without recycling: keep serving the final row.
	first := !*warned
	*warned = true
	return src.rows[n-1], first
}
