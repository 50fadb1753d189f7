package orchestrator

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/fibanez/aws-dash-architect-sub001/internal/journal"
)

// journalWriter moves journal appends off the orchestrator lock. Entries are
// buffered in order and written by one goroutine per run.
type journalWriter struct {
	j      Journal
	logger zerolog.Logger

	mu   sync.Mutex
	buf  []journal.Entry
	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newJournalWriter(j Journal, logger zerolog.Logger) *journalWriter {
	w := &journalWriter{
		j:      j,
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

// add never blocks on I/O.
func (w *journalWriter) add(e journal.Entry) {
	w.mu.Lock()
	w.buf = append(w.buf, e)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *journalWriter) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.flush()
		case <-w.stop:
			w.flush()
			return
		}
	}
}

func (w *journalWriter) flush() {
	w.mu.Lock()
	batch := w.buf
	w.buf = nil
	w.mu.Unlock()

	for _, e := range batch {
		if err := w.j.Append(e); err != nil {
			w.logger.Warn().Err(err).Msg("journal append failed")
		}
	}
}

// close writes what is buffered and waits for the writer to exit.
func (w *journalWriter) close() {
	close(w.stop)
	<-w.done
}
