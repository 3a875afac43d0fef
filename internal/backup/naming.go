package backup

import (
	"fmt"
	"sync"
	"time"
)

const archiveTimeLayout = "2006-01-02-150405"

func ClassicArchiveName(clientName string, runNumber int, ext string) string {
	return fmt.Sprintf("%s-%d.%s", clientName, runNumber, ext)
}

func RetentionArchiveName(clientName string, t time.Time, ext string) string {
	return fmt.Sprintf("%s-%s.%s", clientName, t.Format(archiveTimeLayout), ext)
}

// nameReserver hands out timestamped archive names that never repeat within the process.
type nameReserver struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// reserve returns the archive name for t, advanced by whole seconds past any
// name already issued for the client or reported taken by exists.
func (n *nameReserver) reserve(clientName string, t time.Time, ext string, exists func(name string) bool) string {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.last == nil {
		n.last = make(map[string]time.Time)
	}
	t = t.Truncate(time.Second)
	if last, ok := n.last[clientName]; ok && !t.After(last) {
		t = last.Add(time.Second)
	}
	name := RetentionArchiveName(clientName, t, ext)
	for exists != nil && exists(name) {
		t = t.Add(time.Second)
		name = RetentionArchiveName(clientName, t, ext)
	}
	n.last[clientName] = t
	return name
}
