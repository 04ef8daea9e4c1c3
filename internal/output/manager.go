package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// AcquisitionOutput is the teacher's FunctionOutput, renamed for a
// repo whose unit of work is a single URL acquisition rather than an
// arbitrary named function.
type AcquisitionOutput struct {
	URL         string
	Status      string // "pending", "running", "completed", "failed", "paused", "cancelled"
	Message     string
	Loaded      int64
	Total       int64
	Speed       int64
	Err         error
	StartTime   time.Time
	LastUpdated time.Time
	index       int
}

// Manager is the teacher's Manager, trimmed to the fields the CLI's
// fetch/batch commands actually exercise: per-acquisition status and a
// ticker-driven redraw, plus a closing summary.
type Manager struct {
	mu      sync.RWMutex
	outputs map[string]*AcquisitionOutput
	order   int
	numLines int
	tick    time.Duration

	doneCh    chan struct{}
	displayWg sync.WaitGroup
}

func NewManager() *Manager {
	return &Manager{
		outputs: make(map[string]*AcquisitionOutput),
		tick:    150 * time.Millisecond,
		doneCh:  make(chan struct{}),
	}
}

// Register starts tracking a new acquisition and returns its id.
func (m *Manager) Register(url string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order++
	id := fmt.Sprint(m.order)
	m.outputs[id] = &AcquisitionOutput{
		URL:         url,
		Status:      "pending",
		StartTime:   time.Now(),
		LastUpdated: time.Now(),
		index:       m.order,
	}
	return id
}

func (m *Manager) SetStatus(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.outputs[id]; ok {
		o.Status = status
		o.LastUpdated = time.Now()
	}
}

func (m *Manager) SetMessage(id, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.outputs[id]; ok {
		o.Message = message
		o.LastUpdated = time.Now()
	}
}

func (m *Manager) SetProgress(id string, loaded, total, speed int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.outputs[id]; ok {
		o.Loaded = loaded
		o.Total = total
		o.Speed = speed
		o.LastUpdated = time.Now()
	}
}

func (m *Manager) Complete(id, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.outputs[id]; ok {
		o.Status = "completed"
		if message == "" {
			message = fmt.Sprintf("done: %s", o.URL)
		}
		o.Message = message
		o.LastUpdated = time.Now()
	}
}

func (m *Manager) ReportError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.outputs[id]; ok {
		o.Status = "failed"
		o.Err = err
		o.LastUpdated = time.Now()
	}
}

func (m *Manager) sorted() []*AcquisitionOutput {
	out := make([]*AcquisitionOutput, 0, len(m.outputs))
	for _, o := range m.outputs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

func (m *Manager) updateDisplay() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", m.numLines)
	}
	lines := 0
	for _, o := range m.sorted() {
		elapsed := time.Since(o.StartTime).Round(time.Second)
		if o.Status == "completed" || o.Status == "failed" {
			elapsed = o.LastUpdated.Sub(o.StartTime).Round(time.Second)
		}
		message := o.Message
		switch o.Status {
		case "completed":
			message = successStyle.Render(message)
		case "failed":
			message = errorStyle.Render(fmt.Sprintf("%v", o.Err))
		default:
			message = pendingStyle.Render(message)
		}
		bar := ""
		if o.Status == "running" {
			bar = " " + progressBar(o.Loaded, o.Total, 0)
			if o.Speed > 0 {
				bar += " " + formatSpeed(o.Speed)
			}
		}
		fmt.Printf("%s%s %s %s%s %s\n",
			strings.Repeat(" ", basePadding), statusIndicator(o.Status),
			debugStyle.Render(elapsed.String()), o.URL, bar, message)
		lines++
	}
	m.numLines = lines
}

// StartDisplay begins a background redraw loop; call StopDisplay to end
// it and print the closing summary.
func (m *Manager) StartDisplay() {
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				m.showSummary()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	close(m.doneCh)
	m.displayWg.Wait()
}

func (m *Manager) showSummary() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var succeeded, failed int
	for _, o := range m.outputs {
		switch o.Status {
		case "completed":
			succeeded++
		case "failed":
			failed++
		}
	}
	fmt.Println()
	fmt.Println(strings.Repeat(" ", basePadding) + successStyle.Render(fmt.Sprintf("Completed %d of %d", succeeded, len(m.outputs))))
	if failed > 0 {
		fmt.Println(strings.Repeat(" ", basePadding) + errorStyle.Render(fmt.Sprintf("Failed %d of %d", failed, len(m.outputs))))
		for _, o := range m.sorted() {
			if o.Status == "failed" {
				fmt.Printf("%s%s %v\n", strings.Repeat(" ", basePadding+2), errorStyle.Render(o.URL+":"), o.Err)
			}
		}
	}
	fmt.Println()
}
