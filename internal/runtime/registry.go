package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/Tiliavir/tab-tracker/internal/model"
)

// Registry mirrors the browser's tabs from the events it reports, and
// answers the tracker's tab queries.
type Registry struct {
	mu     sync.RWMutex
	tabs   map[int]model.Tab
	active map[int]int
}

func NewRegistry() *Registry {
	return &Registry{tabs: make(map[int]model.Tab), active: make(map[int]int)}
}

// Observe records the latest state of a tab.
func (r *Registry) Observe(tab model.Tab) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs[tab.ID] = tab
	if tab.Active {
		r.active[tab.WindowID] = tab.ID
	}
}

// SetActive marks tabID as the active tab of windowID.
func (r *Registry) SetActive(windowID, tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[windowID] = tabID
	if tab, ok := r.tabs[tabID]; ok {
		tab.Active = true
		tab.WindowID = windowID
		r.tabs[tabID] = tab
	}
}

// Remove forgets a closed tab.
func (r *Registry) Remove(tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tab, ok := r.tabs[tabID]
	delete(r.tabs, tabID)
	if ok && r.active[tab.WindowID] == tabID {
		delete(r.active, tab.WindowID)
	}
}

func (r *Registry) Tab(_ context.Context, id int) (model.Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tab, ok := r.tabs[id]
	if !ok {
		return model.Tab{}, fmt.Errorf("no tab with id %d", id)
	}
	return tab, nil
}

func (r *Registry) ActiveTab(ctx context.Context, windowID int) (model.Tab, error) {
	r.mu.RLock()
	id, ok := r.active[windowID]
	r.mu.RUnlock()
	if !ok {
		return model.Tab{}, fmt.Errorf("no active tab in window %d", windowID)
	}
	return r.Tab(ctx, id)
}

// Len returns the number of known tabs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
