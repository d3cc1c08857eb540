package scheduler

import (
	"fmt"
	"sort"
)

// WorkerMap is a static conversation type → worker name table.
type WorkerMap map[string]string

// WorkerFor implements WorkerResolver.
func (m WorkerMap) WorkerFor(conversationType string) (string, error) {
	name, ok := m[conversationType]
	if !ok || name == "" {
		return "", fmt.Errorf("no worker for conversation type %q", conversationType)
	}
	return name, nil
}

// Types returns the configured conversation types, sorted.
func (m WorkerMap) Types() []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
