package domain

// HealthyStatus is the value the indexer reports for a healthy service.
const HealthyStatus = "healthy"

// HealthStatus is the JSON document served by the indexer's /health endpoint.
type HealthStatus struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Services  HealthServices  `json:"services"`
	Indexing  *IndexingStatus `json:"indexing,omitempty"`
}

type HealthServices struct {
	Database string `json:"database"`
	Indexing string `json:"indexing"`
	Sync     string `json:"sync"`
}

type IndexingStatus struct {
	ActiveTasks int  `json:"active_tasks"`
	IsRunning   bool `json:"is_running"`
}

// Drained reports whether no indexing work is in flight.
func (s *IndexingStatus) Drained() bool {
	return s != nil && s.ActiveTasks == 0 && !s.IsRunning
}

// ServiceReady reports whether the indexer considers itself ready: either
// every service is healthy, or sync is healthy and indexing has drained.
// Without an indexing block, healthy database and sync count as drained.
func (h *HealthStatus) ServiceReady() bool {
	if h == nil || h.Status != HealthyStatus {
		return false
	}
	if h.Services.Database == HealthyStatus && h.Services.Indexing == HealthyStatus {
		return true
	}
	if h.Services.Sync != HealthyStatus {
		return false
	}
	if h.Indexing == nil {
		return h.Services.Database == HealthyStatus
	}
	return h.Indexing.Drained()
}

// IndexingComplete looks at the indexing task counters. Indexers that
// omit them are complete once the service and sync are healthy.
func (h *HealthStatus) IndexingComplete() bool {
	if h == nil {
		return false
	}
	if h.Indexing == nil {
		return h.Status == HealthyStatus && h.Services.Sync == HealthyStatus
	}
	return h.Indexing.Drained()
}
