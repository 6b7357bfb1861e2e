package constraints

import (
	"encoding/json"
	"log/slog"
	"os"
)

// DefaultMemoryRecords bounds the cycle history kept by a Manager.
const DefaultMemoryRecords = 100

// CycleRecord captures what one manager iteration did to one group.
type CycleRecord struct {
	Iteration  uint64 `json:"iteration"`
	Tick       uint64 `json:"tick"`
	Group      string `json:"group"`
	Triggered  int    `json:"triggered"`
	Directive  string `json:"directive"`
	Formula    string `json:"formula"`
	Dispatched int    `json:"dispatched"`
	Satisfied  bool   `json:"satisfied"`
	Error      string `json:"error,omitempty"`
}

// CycleMemory is a ring of recent cycle records.
type CycleMemory struct {
	Records []CycleRecord `json:"records"`
	Max     int           `json:"-"`
}

// LoadMemory reads a memory file. Returns empty memory if it is missing or
// unreadable.
func LoadMemory(path string) *CycleMemory {
	data, err := os.ReadFile(path)
	if err != nil {
		return &CycleMemory{}
	}
	var mem CycleMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		slog.Warn("manager memory corrupted, starting fresh", "path", path, "error", err)
		return &CycleMemory{}
	}
	return &mem
}

// Save writes the memory to path.
func (m *CycleMemory) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Record adds a cycle record, trimming to the ring size.
func (m *CycleMemory) Record(r CycleRecord) {
	limit := m.Max
	if limit <= 0 {
		limit = DefaultMemoryRecords
	}
	m.Records = append(m.Records, r)
	if len(m.Records) > limit {
		m.Records = m.Records[len(m.Records)-limit:]
	}
}

// Recent returns up to n of the latest records, oldest first.
func (m *CycleMemory) Recent(n int) []CycleRecord {
	start := 0
	if n > 0 && len(m.Records) > n {
		start = len(m.Records) - n
	}
	return append([]CycleRecord(nil), m.Records[start:]...)
}
