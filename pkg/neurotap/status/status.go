package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
)

// Snapshot is a point-in-time view of an acquisition session exposed over
// HTTP for monitoring.
type Snapshot struct {
	State            string    `json:"state"`
	Mode             string    `json:"mode"`
	SampleRate       float64   `json:"sample_rate"`
	Channels         int       `json:"channels"`
	ReferenceChannel string    `json:"reference_channel,omitempty"`
	SessionStart     time.Time `json:"session_start"`
	BlocksEmitted    uint64    `json:"blocks_emitted"`
	SamplesEmitted   uint64    `json:"samples_emitted"`
	QueueOverflows   uint64    `json:"queue_overflows"`
	MissingSamples   uint64    `json:"missing_samples"`
	MalformedBuffers uint64    `json:"malformed_buffers"`
	FilterFallbacks  uint64    `json:"filter_fallbacks"`
	DeviceErrors     uint64    `json:"device_errors"`
	BatteryVoltage   float64   `json:"battery_voltage"`
}

// Source produces snapshots for the server on demand.
type Source interface {
	StatusSnapshot() Snapshot
}

type Server struct {
	mu      sync.RWMutex
	port    int
	srv     *http.Server
	sources map[string]Source
}

func NewServer(port int) *Server {
	return &Server{
		port:    port,
		srv:     &http.Server{Addr: fmt.Sprintf(":%d", port)},
		sources: make(map[string]Source),
	}
}

func (s *Server) Register(name string, src Source) {
	s.mu.Lock()
	s.sources[name] = src
	s.mu.Unlock()
}

func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}

func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	handler := httprouter.New()
	handler.GET("/status", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		s.mu.RLock()
		names := make([]string, 0, len(s.sources))
		for name := range s.sources {
			names = append(names, name)
		}
		sort.Strings(names)
		snapshots := make(map[string]Snapshot, len(names))
		for _, name := range names {
			snapshots[name] = s.sources[name].StatusSnapshot()
		}
		s.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snapshots)
	})

	handler.GET("/status/:name", func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		s.mu.RLock()
		src, ok := s.sources[params.ByName("name")]
		s.mu.RUnlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(src.StatusSnapshot())
	})

	s.srv.Handler = handler

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
