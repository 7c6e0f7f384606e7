// Package httpapi wires the route table from spec.md §6 onto
// github.com/go-chi/chi/v5, translating between the typed errors every
// other package returns and HTTP status codes per spec.md §7. Grounded
// on original_source/s4/server.py's routes list and main().
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jigth/s4/pkg/s4/eval"
	"github.com/jigth/s4/pkg/s4/listing"
	"github.com/jigth/s4/pkg/s4/mapops"
	"github.com/jigth/s4/pkg/s4/node"
	"github.com/jigth/s4/pkg/s4/s4client"
	"github.com/jigth/s4/pkg/s4/shardmap"
	"github.com/jigth/s4/pkg/s4/transfer"
	"github.com/jigth/s4/pkg/s4/types"
)

// metrics are the /metrics gauges surfaced alongside the data-plane
// routes: pool occupancy and job-table size, the runtime signals an
// operator actually wants when S4_IO_JOBS/S4_CPU_JOBS need retuning.
type metrics struct {
	poolInUse    *prometheus.GaugeVec
	poolCapacity *prometheus.GaugeVec
	jobsInFlight prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		poolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "s4_pool_in_use",
			Help: "Workers currently busy, by pool name.",
		}, []string{"pool"}),
		poolCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "s4_pool_capacity",
			Help: "Fixed worker count, by pool name.",
		}, []string{"pool"}),
		jobsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "s4_jobs_in_flight",
			Help: "Entries currently in the job table.",
		}),
	}
	reg.MustRegister(m.poolInUse, m.poolCapacity, m.jobsInFlight)
	return m
}

func (m *metrics) refresh(n *node.Node) {
	for _, p := range []interface {
		Name() string
		InUse() int
		Capacity() int
	}{n.Pools.IO, n.Pools.CPU, n.Pools.Find, n.Pools.Solo} {
		m.poolInUse.WithLabelValues(p.Name()).Set(float64(p.InUse()))
		m.poolCapacity.WithLabelValues(p.Name()).Set(float64(p.Capacity()))
	}
	m.jobsInFlight.Set(float64(n.Jobs.Len()))
}

// NewRouter builds the full chi.Router for n, using client for the
// in-process s4-to-s4 copies mapops needs.
func NewRouter(n *node.Node, client *s4client.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(n))

	reg := prometheus.NewRegistry()
	m := newMetrics(reg)

	r.Post("/prepare_put", handlePreparePut(n))
	r.Post("/confirm_put", handleConfirmPut(n))
	r.Post("/prepare_get", handlePrepareGet(n))
	r.Post("/confirm_get", handleConfirmGet(n))
	r.Post("/delete", handleDelete(n))
	r.Post("/eval", handleEval(n))
	r.Post("/map", handleMap(n, client))
	r.Post("/map_to_n", handleMapToN(n, client))
	r.Post("/map_from_n", handleMapFromN(n, client))
	r.Get("/list", handleList(n))
	r.Get("/list_buckets", handleListBuckets(n))
	r.Get("/health", handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		m.refresh(n)
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, req)
	})

	return r
}

func requestLogger(n *node.Node) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			n.Log.WithField("method", req.Method).WithField("path", req.URL.Path).Debug("request")
			next.ServeHTTP(w, req)
		})
	}
}

func writeError(w http.ResponseWriter, err *types.Error) {
	status := http.StatusInternalServerError
	switch err.Kind {
	case types.Conflict:
		status = http.StatusConflict
	case types.NotFound:
		status = http.StatusNotFound
	case types.Overloaded:
		status = http.StatusTooManyRequests
	case types.UserCommandFailed:
		status = http.StatusBadRequest
	case types.Integrity:
		status = http.StatusInternalServerError
	case types.Config:
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err.Diagnostic != nil {
		_ = json.NewEncoder(w).Encode(err.Diagnostic)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func handlePreparePut(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		key := types.Key(req.URL.Query().Get("key"))
		if strings.Contains(string(key), " ") {
			writeError(w, types.NewError(types.Conflict, "key contains a space"))
			return
		}
		res, err := transfer.PreparePut(req.Context(), n, key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, []interface{}{res.UUID, res.Port})
	}
}

func handleConfirmPut(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if err := transfer.ConfirmPut(req.Context(), n, q.Get("uuid"), q.Get("checksum")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func handlePrepareGet(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		key := types.Key(q.Get("key"))
		port, perr := strconv.Atoi(q.Get("port"))
		if perr != nil {
			writeError(w, types.NewError(types.Conflict, "bad port: %v", perr))
			return
		}
		remoteAddr, _, _ := strings.Cut(req.RemoteAddr, ":")
		uuid, err := transfer.PrepareGet(req.Context(), n, key, port, remoteAddr)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, uuid)
	}
}

func handleConfirmGet(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if err := transfer.ConfirmGet(req.Context(), n, q.Get("uuid"), q.Get("checksum")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func handleDelete(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		recursive := q.Get("recursive") == "true"
		if err := listing.Delete(req.Context(), n, q.Get("prefix"), recursive); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func handleList(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		recursive := q.Get("recursive") == "true"
		entries, err := listing.List(n, q.Get("prefix"), recursive)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, tuples(entries))
	}
}

func handleListBuckets(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		entries, err := listing.ListBuckets(n)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, tuples(entries))
	}
}

func tuples(entries []types.ListEntry) [][4]string {
	out := make([][4]string, len(entries))
	for i, e := range entries {
		out[i] = e.MarshalTuple()
	}
	return out
}

func handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func handleEval(n *node.Node) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		key := types.Key(q.Get("key"))
		cmd, derr := decodeCmd(q.Get("b64cmd"))
		if derr != nil {
			writeError(w, types.NewError(types.UserCommandFailed, "bad b64cmd: %v", derr))
			return
		}
		out, err := eval.Eval(req.Context(), n, key, cmd)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Write([]byte(out))
	}
}

func handleMap(n *node.Node, client *s4client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		cmd, derr := decodeCmd(q.Get("b64cmd"))
		if derr != nil {
			writeError(w, types.NewError(types.UserCommandFailed, "bad b64cmd: %v", derr))
			return
		}
		var pairs [][2]string
		if jerr := json.NewDecoder(req.Body).Decode(&pairs); jerr != nil {
			writeError(w, types.NewError(types.UserCommandFailed, "bad body: %v", jerr))
			return
		}
		g, gctx := errgroup.WithContext(req.Context())
		g.SetLimit(n.Config.CPUJobs)
		for _, p := range pairs {
			p := p
			inkey, outkey := types.Key(p[0]), types.Key(p[1])
			if !n.Owns(inkey) {
				continue
			}
			g.Go(func() error {
				return mapops.Map(gctx, n, client, inkey, outkey, cmd)
			})
		}
		if err := g.Wait(); err != nil {
			writeError(w, toTypesError(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func handleMapToN(n *node.Node, client *s4client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		cmd, derr := decodeCmd(q.Get("b64cmd"))
		if derr != nil {
			writeError(w, types.NewError(types.UserCommandFailed, "bad b64cmd: %v", derr))
			return
		}
		var pairs [][2]string
		if jerr := json.NewDecoder(req.Body).Decode(&pairs); jerr != nil {
			writeError(w, types.NewError(types.UserCommandFailed, "bad body: %v", jerr))
			return
		}
		g, gctx := errgroup.WithContext(req.Context())
		g.SetLimit(n.Config.CPUJobs)
		for _, p := range pairs {
			p := p
			inkey, outdir := types.Key(p[0]), p[1]
			if !n.Owns(inkey) {
				continue
			}
			g.Go(func() error {
				return mapops.MapToN(gctx, n, client, inkey, outdir, cmd)
			})
		}
		if err := g.Wait(); err != nil {
			writeError(w, toTypesError(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func handleMapFromN(n *node.Node, client *s4client.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		cmd, derr := decodeCmd(q.Get("b64cmd"))
		if derr != nil {
			writeError(w, types.NewError(types.UserCommandFailed, "bad b64cmd: %v", derr))
			return
		}
		outdir := q.Get("outdir")
		var inkeys []types.Key
		if jerr := json.NewDecoder(req.Body).Decode(&inkeys); jerr != nil {
			writeError(w, types.NewError(types.UserCommandFailed, "bad body: %v", jerr))
			return
		}
		var owned []types.Key
		for _, k := range inkeys {
			if n.Owns(k) {
				owned = append(owned, k)
			}
		}
		if len(owned) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}
		partitionID, ok := shardmap.PartitionOf(owned[0])
		if !ok {
			writeError(w, types.NewError(types.Conflict, "inputs are not numbered partitions"))
			return
		}
		if err := mapops.MapFromN(req.Context(), n, client, owned, partitionID, outdir, cmd); err != nil {
			writeError(w, toTypesError(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func toTypesError(err error) *types.Error {
	if te, ok := err.(*types.Error); ok {
		return te
	}
	return types.NewError(types.UserCommandFailed, "%v", err)
}

func decodeCmd(b64 string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
