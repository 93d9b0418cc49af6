// Package inspect serves a read-only HTTP view of a replica: the object
// table and the prometheus metrics.
//
//	GET /health
//	GET /objects
//	GET /objects/{id}     id as printed by rdx.ID.String, e.g. "1a-3"
//	GET /metrics
package inspect

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	metasync "github.com/Jfr3ds90/MetaAvatarsVR-sub002"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/avatar"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/host"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/metasync_errors"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/network"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/playback"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/rdx"
	"github.com/Jfr3ds90/MetaAvatarsVR-sub002/utils"
)

type FieldView struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Capacity int    `json:"capacity,omitempty"`
	Value    string `json:"value"`
}

type ObjectView struct {
	ID        string      `json:"id"`
	Authority string      `json:"authority"`
	Epoch     uint64      `json:"epoch"`
	Rev       uint64      `json:"rev"`
	Policy    string      `json:"policy"`
	Pending   bool        `json:"pending,omitempty"`
	Owned     bool        `json:"owned"`
	Fields    []FieldView `json:"fields"`
}

func objectView(src uint64, info metasync.ObjectInfo) ObjectView {
	view := ObjectView{
		ID:        info.ID.String(),
		Authority: strconv.FormatUint(info.Authority, 16),
		Epoch:     info.Epoch,
		Rev:       info.Rev,
		Policy:    info.Policy.String(),
		Pending:   info.Pending,
		Owned:     info.Authority == src,
		Fields:    make([]FieldView, len(info.Class)),
	}
	for i, f := range info.Class {
		view.Fields[i] = FieldView{
			Name:     f.Name,
			Kind:     f.Kind.String(),
			Capacity: f.Capacity,
			Value:    info.Values[i].String(),
		}
	}
	return view
}

// Registry collects every metric of the module plus extras such as
// the replica's pebble collector.
func Registry(extra ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	var all []prometheus.Collector
	all = append(all, metasync.Metrics()...)
	all = append(all, network.Metrics()...)
	all = append(all, playback.Metrics()...)
	all = append(all, avatar.Metrics()...)
	all = append(all, extra...)
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func NewServer(h host.Inspector, gatherer prometheus.Gatherer, log utils.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/objects", func(w http.ResponseWriter, r *http.Request) {
		infos := h.Objects()
		views := make([]ObjectView, len(infos))
		for i, info := range infos {
			views[i] = objectView(h.Source(), info)
		}
		writeJSON(w, log, http.StatusOK, views)
	})

	r.Get("/objects/{id}", func(w http.ResponseWriter, r *http.Request) {
		oid, err := rdx.IDFromString(chi.URLParam(r, "id"))
		if err != nil {
			writeJSON(w, log, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		info, err := h.Object(oid)
		switch {
		case errors.Is(err, metasync_errors.ErrObjectUnknown):
			writeJSON(w, log, http.StatusNotFound, map[string]string{"error": err.Error()})
		case err != nil:
			writeJSON(w, log, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, log, http.StatusOK, objectView(h.Source(), info))
		}
	})

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func writeJSON(w http.ResponseWriter, log utils.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn("inspect: couldn't write response", "err", err)
	}
}
