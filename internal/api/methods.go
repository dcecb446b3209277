package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quarryd/quarry/internal/domain"
	"github.com/quarryd/quarry/internal/handler"
	"github.com/quarryd/quarry/internal/queue"
	"github.com/quarryd/quarry/internal/storage"
)

// Service implements the JSON-RPC method set over the platform's stores.
type Service struct {
	scrapers storage.ScraperStore
	queue    *queue.Queue
	logs     storage.LogStore
	registry *handler.Registry
}

// NewService wires the RPC methods to their dependencies.
func NewService(scrapers storage.ScraperStore, q *queue.Queue, logs storage.LogStore, registry *handler.Registry) *Service {
	return &Service{scrapers: scrapers, queue: q, logs: logs, registry: registry}
}

// dispatch routes a call to its method implementation.
func (s *Service) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "get_scrapers":
		return s.scrapers.List(ctx)
	case "get_scraper":
		return s.getScraper(ctx, params)
	case "create_scraper":
		return s.createScraper(ctx, params)
	case "update_scraper":
		return s.updateScraper(ctx, params)
	case "delete_scraper":
		return s.deleteScraper(ctx, params)
	case "search_scrapers":
		return s.searchScrapers(ctx, params)
	case "is_read_only":
		return s.scrapers.ReadOnly(), nil
	case "get_scraper_handlers":
		return s.registry.Names(), nil
	case "get_schedules":
		return domain.AllSchedules(), nil
	case "get_priorities":
		return priorityList(), nil
	case "enqueue_scraper":
		return s.enqueueScraper(ctx, params)
	case "get_task_instances":
		return s.getTaskInstances(ctx, params)
	case "get_task_instance":
		return s.getTaskInstance(ctx, params)
	case "get_task_logs":
		return s.getTaskLogs(ctx, params)
	case "run_ephemeral":
		return s.runEphemeral(ctx, params)
	case "kill_task":
		return s.killTask(ctx, params)
	default:
		return nil, errUnknownMethod
	}
}

var (
	errUnknownMethod = errors.New("unknown method")
	errInvalidParams = errors.New("invalid params")
)

func decodeParams[T any](params json.RawMessage) (T, error) {
	var out T
	if len(params) == 0 {
		return out, fmt.Errorf("%w: params are required", errInvalidParams)
	}
	if err := json.Unmarshal(params, &out); err != nil {
		return out, fmt.Errorf("%w: %s", errInvalidParams, err.Error())
	}
	return out, nil
}

type priorityRecord struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func priorityList() []priorityRecord {
	priorities := domain.AllPriorities()
	out := make([]priorityRecord, 0, len(priorities))
	for _, p := range priorities {
		out = append(out, priorityRecord{Name: p.String(), Value: int(p)})
	}
	return out
}

type idParams struct {
	ID string `json:"id"`
}

func (s *Service) getScraper(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[idParams](params)
	if err != nil {
		return nil, err
	}
	return s.scrapers.Get(ctx, p.ID)
}

type scraperParams struct {
	Scraper domain.Scraper `json:"scraper"`
}

// validateScraper runs the domain checks plus the registry lookup, so bad
// handler names are rejected at the boundary rather than at run time.
func (s *Service) validateScraper(scr *domain.Scraper) error {
	if err := scr.Validate(); err != nil {
		return err
	}
	if _, err := s.registry.Get(scr.Handler); err != nil {
		return err
	}
	return nil
}

func (s *Service) createScraper(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[scraperParams](params)
	if err != nil {
		return nil, err
	}
	if err := s.validateScraper(&p.Scraper); err != nil {
		return nil, err
	}
	return s.scrapers.Create(ctx, p.Scraper)
}

func (s *Service) updateScraper(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[scraperParams](params)
	if err != nil {
		return nil, err
	}
	if err := s.validateScraper(&p.Scraper); err != nil {
		return nil, err
	}
	return s.scrapers.Update(ctx, p.Scraper)
}

func (s *Service) deleteScraper(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[idParams](params)
	if err != nil {
		return nil, err
	}
	return s.scrapers.Delete(ctx, p.ID)
}

func (s *Service) searchScrapers(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[struct {
		Filters storage.ScraperFilters `json:"filters"`
	}](params)
	if err != nil {
		return nil, err
	}
	return s.scrapers.Search(ctx, p.Filters)
}

func (s *Service) enqueueScraper(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[struct {
		ScraperID string           `json:"scraper_id"`
		Priority  *domain.Priority `json:"priority"`
	}](params)
	if err != nil {
		return nil, err
	}

	scr, err := s.scrapers.Get(ctx, p.ScraperID)
	if err != nil {
		return nil, err
	}
	priority := scr.SchedulePriority
	if p.Priority != nil {
		if !p.Priority.IsValid() {
			return nil, fmt.Errorf("%w: unknown priority %d", domain.ErrValidation, *p.Priority)
		}
		priority = *p.Priority
	}

	return s.queue.Enqueue(ctx, domain.Task{
		ScraperID: scr.ID,
		Handler:   scr.Handler,
		Config:    scr.Config,
		Priority:  priority,
		Timeout:   scr.Timeout,
	})
}

func (s *Service) getTaskInstances(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[struct {
		TaskName string `json:"task_name"`
	}](params)
	if err != nil {
		return nil, err
	}
	return s.queue.ListByScraper(ctx, p.TaskName)
}

type taskIDParams struct {
	TaskID string `json:"task_id"`
}

func (s *Service) getTaskInstance(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[taskIDParams](params)
	if err != nil {
		return nil, err
	}
	return s.queue.Get(ctx, p.TaskID)
}

func (s *Service) getTaskLogs(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[struct {
		TaskID        string `json:"task_id"`
		LastLogLineID int64  `json:"last_log_line_id"`
		MaxLines      int    `json:"max_lines"`
	}](params)
	if err != nil {
		return nil, err
	}
	lines, err := s.logs.Read(ctx, p.TaskID, p.LastLogLineID, p.MaxLines)
	if err != nil {
		return nil, err
	}
	if lines == nil {
		lines = []domain.LogLine{}
	}
	return lines, nil
}

// ephemeralTask is an inline scraper definition executed once, outside the
// scraper catalogue.
type ephemeralTask struct {
	Handler string               `json:"handler"`
	Config  domain.ScraperConfig `json:"config"`
	Timeout time.Duration        `json:"timeout,omitempty"`
}

func (s *Service) runEphemeral(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[struct {
		Task     ephemeralTask    `json:"task"`
		Priority *domain.Priority `json:"priority"`
	}](params)
	if err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(p.Task.Handler); err != nil {
		return nil, err
	}
	priority := domain.PriorityUtmost
	if p.Priority != nil {
		if !p.Priority.IsValid() {
			return nil, fmt.Errorf("%w: unknown priority %d", domain.ErrValidation, *p.Priority)
		}
		priority = *p.Priority
	}

	return s.queue.Enqueue(ctx, domain.Task{
		ScraperID: domain.EphemeralScraperID,
		Handler:   p.Task.Handler,
		Config:    p.Task.Config,
		Priority:  priority,
		Timeout:   p.Task.Timeout,
	})
}

func (s *Service) killTask(ctx context.Context, params json.RawMessage) (any, error) {
	p, err := decodeParams[taskIDParams](params)
	if err != nil {
		return nil, err
	}
	return s.queue.Kill(ctx, p.TaskID)
}
