// Package datasrv serves persisted acquisitions over HTTP.  Datasets
// are subdirectories of a root directory; any subdirectory a reader
// recognizes is listed and sliceable.  Slices are rendered as png, jpg
// (both scaled 16 to 8 bits) or multi-page 16-bit tiff, with a CRC-64
// ETag over the pixel data so clients polling a finished dataset get
// 304s instead of re-rendered images.
package datasrv

import (
	"encoding/json"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/snksoft/crc"
	"golang.org/x/time/rate"

	"github.com/microscope-io/mdastore/mda"
	"github.com/microscope-io/mdastore/readers"
	"github.com/microscope-io/mdastore/tiff"
	"github.com/microscope-io/mdastore/zarr"
)

var crcTable = crc.NewTable(crc.CRC64ECMA)

// Server serves the datasets under one root directory.
type Server struct {
	root    string
	limiter *rate.Limiter
}

// NewServer returns a server over root.  rps caps request throughput
// across all clients; rps <= 0 disables the limit.
func NewServer(root string, rps float64) *Server {
	var lim *rate.Limiter
	if rps > 0 {
		lim = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &Server{root: root, limiter: lim}
}

// Root returns the dataset root directory.
func (s *Server) Root() string { return s.root }

// Routes builds the router:
//
//	GET /datasets                  list of dataset names
//	GET /datasets/{name}           axes, sizes, sequence
//	GET /datasets/{name}/slice     rendered isel, axes as query params
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(s.throttle)
	r.Get("/datasets", s.list)
	r.Get("/datasets/{name}", s.describe)
	r.Get("/datasets/{name}/slice", s.slice)
	return r
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) open(name string) (readers.Reader, error) {
	return readers.Open(filepath.Join(s.root, name))
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := s.open(e.Name()); err == nil {
			names = append(names, e.Name())
		}
	}
	writeJSON(w, names)
}

// describeDoc is the body of GET /datasets/{name}.
type describeDoc struct {
	Name     string         `json:"name"`
	Path     string         `json:"path"`
	Axes     []string       `json:"axes"`
	Sizes    map[string]int `json:"sizes"`
	Sequence *mda.Sequence  `json:"useq_MDASequence"`
}

func (s *Server) describe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rd, err := s.open(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, describeDoc{
		Name:     name,
		Path:     rd.Path(),
		Axes:     rd.Axes(),
		Sizes:    rd.Sizes(),
		Sequence: rd.Sequence(),
	})
}

func (s *Server) slice(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rd, err := s.open(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	format := "png"
	sel := map[string]int{}
	for k, vs := range r.URL.Query() {
		if k == "fmt" {
			format = vs[0]
			continue
		}
		v, err := strconv.Atoi(vs[0])
		if err != nil {
			http.Error(w, "axis "+k+" wants an integer, got "+vs[0], http.StatusBadRequest)
			return
		}
		sel[k] = v
	}

	slab, err := rd.Isel(sel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	body := zarr.EncodeUint16(slab.Pix)
	etag := `"` + strconv.FormatUint(crcTable.CalculateCRC(body), 16) + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	n := len(slab.Shape)
	h, wid := slab.Shape[n-2], slab.Shape[n-1]
	switch format {
	case "jpg", "png":
		if slab.Pages() != 1 {
			http.Error(w, "slice spans multiple planes; fix more axes or use fmt=tiff", http.StatusBadRequest)
			return
		}
		buf := make([]byte, len(slab.Pix))
		for idx := 0; idx < len(slab.Pix); idx++ {
			buf[idx] = byte(slab.Pix[idx] / 256) // scale 16 to 8 bits
		}
		im := &image.Gray{Pix: buf, Stride: wid, Rect: image.Rect(0, 0, wid, h)}
		if format == "jpg" {
			w.Header().Set("Content-Type", "image/jpeg")
			w.WriteHeader(http.StatusOK)
			jpeg.Encode(w, im, nil)
		} else {
			w.Header().Set("Content-Type", "image/png")
			w.WriteHeader(http.StatusOK)
			png.Encode(w, im)
		}
	case "tiff", "tif":
		sb := &seekBuffer{}
		tw := tiff.NewWriter(sb)
		plane := h * wid
		for i := 0; i < slab.Pages(); i++ {
			if err := tw.AppendGray16(slab.Pix[i*plane:(i+1)*plane], wid, h); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		if err := tw.Close(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/tiff")
		w.WriteHeader(http.StatusOK)
		w.Write(sb.buf)
	default:
		http.Error(w, "fmt "+format+" not understood", http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
