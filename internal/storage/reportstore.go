package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/ipibench/internal/benchmark"
)

type StoredReport struct {
	ID        string           `json:"id"`
	JobID     string           `json:"job_id"`
	Seq       int              `json:"seq"`
	CreatedAt time.Time        `json:"created_at"`
	Report    benchmark.Report `json:"report"`
}

// ReportStore keeps finished reports in memory, indexed by id and job.
type ReportStore struct {
	mu      sync.RWMutex
	seq     int
	reports map[string]*StoredReport
}

func NewReportStore() *ReportStore {
	return &ReportStore{
		reports: make(map[string]*StoredReport),
	}
}

func (rs *ReportStore) Store(jobID string, report benchmark.Report) *StoredReport {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.seq++
	stored := &StoredReport{
		ID:        uuid.New().String(),
		JobID:     jobID,
		Seq:       rs.seq,
		CreatedAt: time.Now(),
		Report:    report,
	}
	rs.reports[stored.ID] = stored
	return stored
}

func (rs *ReportStore) Get(id string) (*StoredReport, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	report, exists := rs.reports[id]
	return report, exists
}

// ByJob returns the reports of a job in the order they were stored.
func (rs *ReportStore) ByJob(jobID string) []*StoredReport {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	var reports []*StoredReport
	for _, report := range rs.reports {
		if report.JobID == jobID {
			reports = append(reports, report)
		}
	}
	sortBySeq(reports)
	return reports
}

func (rs *ReportStore) All() []*StoredReport {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	reports := make([]*StoredReport, 0, len(rs.reports))
	for _, report := range rs.reports {
		reports = append(reports, report)
	}
	sortBySeq(reports)
	return reports
}

func (rs *ReportStore) Delete(id string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if _, exists := rs.reports[id]; !exists {
		return false
	}
	delete(rs.reports, id)
	return true
}

func (rs *ReportStore) Count() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.reports)
}

func sortBySeq(reports []*StoredReport) {
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Seq < reports[j].Seq
	})
}
