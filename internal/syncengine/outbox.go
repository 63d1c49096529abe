package syncengine

import (
	"encoding/json"
	"strings"

	"github.com/leafscan/leafscan/internal/model"
	"github.com/leafscan/leafscan/internal/persistence"
)

type opKind string

const (
	opCreate opKind = "create"
	opUpdate opKind = "update"
)

// entry is one unacknowledged local change. Entries coalesce per record:
// an update folded into a create becomes a create of the merged record.
type entry struct {
	Table   string          `json:"table"`
	ID      string          `json:"id"`
	Kind    opKind          `json:"kind"`
	Record  json.RawMessage `json:"record,omitempty"`
	Patch   *model.Patch    `json:"patch,omitempty"`
	Seq     int64           `json:"seq"`     // first enqueue order, kept across coalescing
	Version int64           `json:"version"` // bumped on every coalesce
}

func outboxKey(table, id string) string {
	return table + "/" + id
}

func (e entry) op() (persistence.Op, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return persistence.Op{}, err
	}
	return persistence.Op{Table: persistence.TableOutbox, ID: outboxKey(e.Table, e.ID), Value: raw}, nil
}

func (e entry) deleteOp() persistence.Op {
	return persistence.Op{Table: persistence.TableOutbox, ID: outboxKey(e.Table, e.ID), Delete: true}
}

// decodeOutbox returns the entries of table from the stored rows.
func decodeOutbox(rows []persistence.Row, table string) ([]entry, error) {
	prefix := table + "/"
	var out []entry
	for _, r := range rows {
		if !strings.HasPrefix(r.ID, prefix) {
			continue
		}
		var e entry
		if err := json.Unmarshal(r.Value, &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
