package application

import (
	"sync"
)

// Manager keeps track of realized applications until they are destroyed.
// Ids are not unique across strategies or hosts, so applications are keyed
// by handle.
type Manager struct {
	apps sync.Map
}

// Stats summarizes tracked applications.
type Stats struct {
	Total     int `json:"total"`
	Running   int `json:"running"`
	Destroyed int `json:"destroyed"`
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Track adds app. It is forgotten once destroyed.
func (m *Manager) Track(app *Application) {
	m.apps.Store(app, app)
	go func() {
		<-app.Done()
		m.apps.Delete(app)
	}()
}

// Get retrieves an application by strategy name and ID.
func (m *Manager) Get(strategy string, id int64) (*Application, bool) {
	var found *Application
	m.apps.Range(func(_, value any) bool {
		app := value.(*Application)
		if app.Strategy() == strategy && app.ID() == id {
			found = app
			return false
		}
		return true
	})
	return found, found != nil
}

// List returns tracked applications, optionally filtered by state.
func (m *Manager) List(state *State) []*Application {
	var apps []*Application
	m.apps.Range(func(_, value any) bool {
		app := value.(*Application)
		if state == nil || app.State() == *state {
			apps = append(apps, app)
		}
		return true
	})
	return apps
}

// DestroyAll destroys every tracked application concurrently and waits
// for all of them.
func (m *Manager) DestroyAll() {
	var wg sync.WaitGroup
	for _, app := range m.List(nil) {
		wg.Add(1)
		go func(app *Application) {
			defer wg.Done()
			app.Destroy()
		}(app)
	}
	wg.Wait()
}

// Stats returns manager statistics.
func (m *Manager) Stats() Stats {
	var stats Stats
	m.apps.Range(func(_, value any) bool {
		stats.Total++
		switch value.(*Application).State() {
		case StateRunning:
			stats.Running++
		case StateDestroyed:
			stats.Destroyed++
		}
		return true
	})
	return stats
}
