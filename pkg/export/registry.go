// Package export renders statistics reports into downloadable files.
package export

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dkalashnik/doctor-ai-bot/pkg/stats"
)

// File is a rendered export ready to be sent as a document.
type File struct {
	Name        string
	ContentType string
	Caption     string
	Data        []byte
}

type Exporter interface {
	Name() string
	Export(report stats.Report) (File, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Exporter)

	builtinsOnce sync.Once
)

// RegisterBuiltins registers the csv and chart exporters once. Dates are
// rendered in loc.
func RegisterBuiltins(loc *time.Location) {
	builtinsOnce.Do(func() {
		MustRegister(NewCSVExporter(loc))
		MustRegister(NewChartExporter())
	})
}

// MustRegister adds an exporter, panicking when the name is already taken.
func MustRegister(exporter Exporter) {
	if exporter == nil {
		panic("cannot register nil exporter")
	}

	key := normalize(exporter.Name())
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("exporter '%s' already registered", exporter.Name()))
	}
	registry[key] = exporter
}

// Get returns the exporter for name, or nil when absent.
func Get(name string) Exporter {
	key := normalize(name)
	registryMu.RLock()
	defer registryMu.RUnlock()

	return registry[key]
}

func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

// resetRegistryForTests wipes registration state. Only used inside unit tests.
func resetRegistryForTests() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Exporter)
	builtinsOnce = sync.Once{}
}
