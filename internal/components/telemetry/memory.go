package telemetry

import "sync"

// Report is a single call recorded by MemoryAPI.
type Report struct {
	Kind   string
	Id     string
	Params []any
}

// MemoryAPI records every report in memory so tests can assert on them.
type MemoryAPI struct {
	mutex   sync.Mutex
	reports []Report
}

func (m *MemoryAPI) push(kind, id string, params []any) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.reports = append(m.reports, Report{Kind: kind, Id: id, Params: params})
}

func (m *MemoryAPI) ReportBroken(id string, params ...any) {
	m.push("broken", id, params)
}

func (m *MemoryAPI) ReportWarning(id string, params ...any) {
	m.push("warning", id, params)
}

func (m *MemoryAPI) ReportDebug(msg string, params ...any) {
	m.push("debug", msg, params)
}

func (m *MemoryAPI) ReportCount(id string, count int64) {
	m.push("count", id, []any{count})
}

// Reports returns a copy of the reports of the given kind, all reports
// if kind is empty.
func (m *MemoryAPI) Reports(kind string) []Report {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var out []Report
	for _, r := range m.reports {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}
