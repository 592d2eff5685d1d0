package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cityeye-service/internal/authz"
	"cityeye-service/internal/fetch"
	"cityeye-service/internal/filter"
	"cityeye-service/internal/metrics"
	"cityeye-service/internal/model"
	"cityeye-service/internal/shaping"
)

type unauthorizer interface {
	Unauthorized() bool
}

type slotKey struct {
	tab    model.Tab
	period model.Period
}

type dashboard struct {
	id         uuid.UUID
	ownerID    uuid.UUID
	solutionID string

	mu         sync.Mutex
	tab        model.Tab
	filters    model.AnalyticsFilters
	comparison bool
	metrics    []model.Metric
	devices    []model.Device
	slots      map[slotKey]*fetch.Slot
	inbox      *fetch.Inbox
	touched    time.Time
}

func (d *dashboard) slot(tab model.Tab, period model.Period) *fetch.Slot {
	return d.slots[slotKey{tab: tab, period: period}]
}

func (d *dashboard) resetLocked() {
	for _, slot := range d.slots {
		slot.Reset()
	}
}

type PanelView struct {
	Period      model.Period                `json:"period"`
	Fetch       fetch.Snapshot              `json:"fetch"`
	PeopleFlow  *model.PeopleFlowDashboard  `json:"people_flow,omitempty"`
	TrafficFlow *model.TrafficFlowDashboard `json:"traffic_flow,omitempty"`
}

type DashboardView struct {
	ID                uuid.UUID              `json:"id"`
	SolutionID        string                 `json:"solution_id"`
	Tab               model.Tab              `json:"tab"`
	Filters           model.AnalyticsFilters `json:"filters"`
	ComparisonEnabled bool                   `json:"comparison_enabled"`
	Metrics           []model.Metric         `json:"metrics"`
	Devices           []model.Device         `json:"devices"`
	Main              PanelView              `json:"main"`
	Comparison        *PanelView             `json:"comparison,omitempty"`
	Delta             *model.Comparison      `json:"delta,omitempty"`
	Notifications     []fetch.Notification   `json:"notifications"`
}

type AnalyticsService struct {
	devices DeviceDirectory
	source  AnalyticsSource
	authz   Authorizer
	loc     *time.Location
	log     zerolog.Logger
	now     func() time.Time

	mu         sync.RWMutex
	dashboards map[uuid.UUID]*dashboard
}

func NewAnalyticsService(devices DeviceDirectory, source AnalyticsSource, authorizer Authorizer, loc *time.Location, log zerolog.Logger) *AnalyticsService {
	if loc == nil {
		loc = time.UTC
	}
	return &AnalyticsService{
		devices:    devices,
		source:     source,
		authz:      authorizer,
		loc:        loc,
		log:        log,
		now:        time.Now,
		dashboards: make(map[uuid.UUID]*dashboard),
	}
}

// CreateDashboard opens a dashboard for a solution with every device of the
// solution preselected.
func (s *AnalyticsService) CreateDashboard(ctx context.Context, principal model.Principal, solutionID string, tab model.Tab) (DashboardView, error) {
	if err := authorize(s.authz, principal, authz.ObjectAnalytics, authz.ActionRead); err != nil {
		return DashboardView{}, err
	}
	if solutionID == "" {
		return DashboardView{}, fmt.Errorf("%w: solution_id is required", ErrInvalidRequest)
	}
	if tab == "" {
		tab = model.TabPeopleFlow
	}
	if !tab.Valid() {
		return DashboardView{}, fmt.Errorf("%w: unknown tab %q", ErrInvalidRequest, tab)
	}

	listed, err := s.devices.ListSolutionDevices(ctx, principal.Token, solutionID)
	if err != nil {
		return DashboardView{}, err
	}

	// devices tagged with another customer are dropped
	scope := model.ScopeFor(principal)
	devices := make([]model.Device, 0, len(listed))
	for _, d := range listed {
		if scope.AllowsDevice(d) {
			devices = append(devices, d)
		}
	}

	d := &dashboard{
		id:         uuid.New(),
		ownerID:    principal.UserID,
		solutionID: solutionID,
		tab:        tab,
		filters:    filter.ApplyDefaultDevices(model.AnalyticsFilters{}, devices),
		metrics:    model.DefaultMetrics(tab),
		devices:    devices,
		slots:      make(map[slotKey]*fetch.Slot, 4),
		inbox:      fetch.NewInbox(),
		touched:    s.now(),
	}
	for _, t := range []model.Tab{model.TabPeopleFlow, model.TabTrafficFlow} {
		for _, p := range []model.Period{model.PeriodMain, model.PeriodComparison} {
			d.slots[slotKey{tab: t, period: p}] = fetch.NewSlot()
		}
	}

	s.mu.Lock()
	s.dashboards[d.id] = d
	count := len(s.dashboards)
	s.mu.Unlock()
	metrics.DashboardsActive.Set(float64(count))

	s.log.Info().
		Str("dashboard_id", d.id.String()).
		Str("solution_id", solutionID).
		Int("devices", len(devices)).
		Msg("analytics dashboard created")

	return s.view(d, false), nil
}

func (s *AnalyticsService) View(principal model.Principal, id uuid.UUID) (DashboardView, error) {
	d, err := s.dashboard(principal, id)
	if err != nil {
		return DashboardView{}, err
	}
	return s.view(d, true), nil
}

// UpdateFilters replaces the dashboard filters. A nil device selection is
// kept as an explicit empty selection.
func (s *AnalyticsService) UpdateFilters(principal model.Principal, id uuid.UUID, filters model.AnalyticsFilters) (DashboardView, error) {
	return s.update(principal, id, func(d *dashboard) error {
		if filters.SelectedDevices == nil {
			filters.SelectedDevices = []string{}
		}
		d.filters = filters
		return nil
	})
}

// SetTab switches the dashboard tab and restores that tab's default metrics.
func (s *AnalyticsService) SetTab(principal model.Principal, id uuid.UUID, tab model.Tab) (DashboardView, error) {
	if !tab.Valid() {
		return DashboardView{}, fmt.Errorf("%w: unknown tab %q", ErrInvalidRequest, tab)
	}
	return s.update(principal, id, func(d *dashboard) error {
		d.tab = tab
		d.metrics = model.DefaultMetrics(tab)
		return nil
	})
}

func (s *AnalyticsService) SetComparison(principal model.Principal, id uuid.UUID, enabled bool) (DashboardView, error) {
	return s.update(principal, id, func(d *dashboard) error {
		d.comparison = enabled
		return nil
	})
}

func (s *AnalyticsService) SetMetrics(principal model.Principal, id uuid.UUID, selected []model.Metric) (DashboardView, error) {
	for _, m := range selected {
		if !m.Valid() {
			return DashboardView{}, fmt.Errorf("%w: unknown metric %q", ErrInvalidRequest, m)
		}
	}
	return s.update(principal, id, func(d *dashboard) error {
		d.metrics = append([]model.Metric(nil), selected...)
		return nil
	})
}

func (s *AnalyticsService) DeleteDashboard(principal model.Principal, id uuid.UUID) error {
	if _, err := s.dashboard(principal, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.dashboards, id)
	count := len(s.dashboards)
	s.mu.Unlock()
	metrics.DashboardsActive.Set(float64(count))
	return nil
}

// Apply validates the current filters and fetches the main period and, when
// comparison is enabled, the comparison period concurrently. Invalid filters
// are rejected before any request is sent.
func (s *AnalyticsService) Apply(ctx context.Context, principal model.Principal, id uuid.UUID) (DashboardView, error) {
	d, err := s.dashboard(principal, id)
	if err != nil {
		return DashboardView{}, err
	}

	d.mu.Lock()
	d.touched = s.now()
	tab := d.tab
	filters := d.filters
	comparison := d.comparison
	selected := append([]model.Metric(nil), d.metrics...)
	d.mu.Unlock()

	mainQuery, err := filter.Validate(filters, tab, model.PeriodMain, s.loc)
	if err != nil {
		return DashboardView{}, fmt.Errorf("%w: %w", ErrInvalidFilters, err)
	}

	var comparisonQuery *model.AnalyticsQuery
	if comparison {
		comparisonQuery, err = filter.Validate(filters, tab, model.PeriodComparison, s.loc)
		if err != nil {
			return DashboardView{}, fmt.Errorf("%w: comparison period: %w", ErrInvalidFilters, err)
		}
	} else {
		d.slot(tab, model.PeriodComparison).Reset()
	}

	runner := fetch.NewRunner(d.inbox)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		denied error
	)
	outcomes := make(map[model.Period]fetch.Outcome, 2)

	fetchFunc := func(ctx context.Context, req model.AnalyticsRequest) (*model.AnalyticsResponse, error) {
		resp, err := s.source.QueryAnalytics(ctx, principal.Token, req)
		var ua unauthorizer
		if errors.As(err, &ua) && ua.Unauthorized() {
			mu.Lock()
			denied = err
			mu.Unlock()
		}
		return resp, err
	}

	run := func(period model.Period, query *model.AnalyticsQuery) {
		defer wg.Done()
		outcome := runner.Run(ctx, d.slot(tab, period), query, selected, fetchFunc)
		metrics.AnalyticsFetchesTotal.WithLabelValues(string(tab), string(period), string(outcome)).Inc()

		mu.Lock()
		outcomes[period] = outcome
		mu.Unlock()
	}

	wg.Add(1)
	go run(model.PeriodMain, mainQuery)
	if comparisonQuery != nil {
		wg.Add(1)
		go run(model.PeriodComparison, comparisonQuery)
	}
	wg.Wait()

	s.log.Debug().
		Str("dashboard_id", id.String()).
		Str("tab", string(tab)).
		Interface("outcomes", outcomes).
		Msg("analytics applied")

	if denied != nil {
		return DashboardView{}, denied
	}
	return s.view(d, true), nil
}

// Sweep drops dashboards untouched for longer than ttl.
func (s *AnalyticsService) Sweep(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, d := range s.dashboards {
		d.mu.Lock()
		idle := d.touched.Before(cutoff)
		if idle {
			d.resetLocked()
		}
		d.mu.Unlock()
		if idle {
			delete(s.dashboards, id)
			removed++
		}
	}
	metrics.DashboardsActive.Set(float64(len(s.dashboards)))
	return removed
}

func (s *AnalyticsService) Run(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ttl); n > 0 {
				s.log.Debug().Int("dashboards", n).Msg("idle dashboards removed")
			}
		}
	}
}

func (s *AnalyticsService) update(principal model.Principal, id uuid.UUID, fn func(d *dashboard) error) (DashboardView, error) {
	d, err := s.dashboard(principal, id)
	if err != nil {
		return DashboardView{}, err
	}

	d.mu.Lock()
	if err := fn(d); err != nil {
		d.mu.Unlock()
		return DashboardView{}, err
	}
	d.touched = s.now()
	d.resetLocked()
	d.mu.Unlock()

	return s.view(d, false), nil
}

func (s *AnalyticsService) dashboard(principal model.Principal, id uuid.UUID) (*dashboard, error) {
	if err := authorize(s.authz, principal, authz.ObjectAnalytics, authz.ActionRead); err != nil {
		return nil, err
	}

	s.mu.RLock()
	d, ok := s.dashboards[id]
	s.mu.RUnlock()
	if !ok || d.ownerID != principal.UserID {
		return nil, ErrNotFound
	}
	return d, nil
}

func (s *AnalyticsService) view(d *dashboard, drain bool) DashboardView {
	d.mu.Lock()
	view := DashboardView{
		ID:                d.id,
		SolutionID:        d.solutionID,
		Tab:               d.tab,
		Filters:           d.filters,
		ComparisonEnabled: d.comparison,
		Metrics:           append([]model.Metric(nil), d.metrics...),
		Devices:           d.devices,
		Main:              panel(d.tab, model.PeriodMain, d.slot(d.tab, model.PeriodMain)),
	}
	if d.comparison {
		comparison := panel(d.tab, model.PeriodComparison, d.slot(d.tab, model.PeriodComparison))
		view.Comparison = &comparison
	}
	d.mu.Unlock()

	if view.Comparison != nil && view.Main.Fetch.Data != nil && view.Comparison.Fetch.Data != nil {
		delta := shaping.Compare(shaping.Total(view.Main.Fetch.Data.Devices), shaping.Total(view.Comparison.Fetch.Data.Devices))
		view.Delta = &delta
	}

	if drain {
		view.Notifications = d.inbox.Drain()
	}
	if view.Notifications == nil {
		view.Notifications = []fetch.Notification{}
	}
	return view
}

func panel(tab model.Tab, period model.Period, slot *fetch.Slot) PanelView {
	snap := slot.Snapshot()
	p := PanelView{Period: period, Fetch: snap}
	if snap.State != fetch.StateSuccess {
		return p
	}
	if tab == model.TabTrafficFlow {
		p.TrafficFlow = shaping.TrafficFlow(snap.Data)
	} else {
		p.PeopleFlow = shaping.PeopleFlow(snap.Data)
	}
	return p
}
