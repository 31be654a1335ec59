package service

import (
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"wallcalc/internal/converter/mapper"
	"wallcalc/internal/converter/models"
)

const DefaultRunCacheSize = 64

// ============================================================
// Run Cache
// ============================================================

// Run - результат одного прогона вместе с конвертером, которым он
// получен (нужен для переклассификации и пересчета статистики).
type Run struct {
	mu        sync.Mutex
	result    *models.Result
	converter *mapper.Converter
	ProjectID string
	CreatedAt time.Time
}

func (r *Run) ID() string {
	return r.result.Report.RunID
}

// Do выполняет fn под блокировкой прогона. Все чтения и правки
// результата идут через Do.
func (r *Run) Do(fn func(res *models.Result, conv *mapper.Converter) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.result, r.converter)
}

// RunCache держит последние прогоны в памяти, вытесняя самые старые.
type RunCache struct {
	runs *lru.Cache[string, *Run]
}

func NewRunCache(size int) (*RunCache, error) {
	if size <= 0 {
		size = DefaultRunCacheSize
	}
	runs, err := lru.NewWithEvict(size, func(id string, _ *Run) {
		log.Printf("[STORE] run %s evicted from cache", id)
	})
	if err != nil {
		return nil, err
	}
	return &RunCache{runs: runs}, nil
}

func (c *RunCache) Put(projectID string, res *models.Result, conv *mapper.Converter) *Run {
	run := &Run{
		result:    res,
		converter: conv,
		ProjectID: projectID,
		CreatedAt: time.Now(),
	}
	c.runs.Add(run.ID(), run)
	return run
}

func (c *RunCache) Get(id string) (*Run, bool) {
	return c.runs.Get(id)
}

func (c *RunCache) Remove(id string) bool {
	return c.runs.Remove(id)
}

func (c *RunCache) Len() int {
	return c.runs.Len()
}
