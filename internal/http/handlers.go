package http

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"connbridge/pkg/datum"
	"connbridge/pkg/encoding/valuecodec"
	"connbridge/pkg/registry"
	"connbridge/pkg/scan"
	"connbridge/pkg/types"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleVnodeCount(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewValueResponse(strconv.Itoa(s.bridge.VnodeCount())))
}

// next writes the row handle produced by an iterator, or 204 at the end of the stream.
func (s *Server) next(w http.ResponseWriter, r *http.Request, next func(registry.Handle) (registry.Handle, bool, error)) {
	h, err := handleParam(r)
	if err != nil {
		s.badRequest(w, "%v", err)
		return
	}
	row, ok, err := next(h)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, NewHandleResponse(uint64(row)))
}

func (s *Server) closeHandle(w http.ResponseWriter, r *http.Request, closeFn func(registry.Handle) error) {
	h, err := handleParam(r)
	if err != nil {
		s.badRequest(w, "%v", err)
		return
	}
	if err := closeFn(h); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleStorageIteratorNew(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.badRequest(w, "read body: %v", err)
		return
	}
	h, err := s.bridge.StorageIteratorNew(body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, NewHandleResponse(uint64(h)))
}

func (s *Server) handleStorageIteratorNext(w http.ResponseWriter, r *http.Request) {
	s.next(w, r, s.bridge.StorageIteratorNext)
}

func (s *Server) handleStorageIteratorClose(w http.ResponseWriter, r *http.Request) {
	s.closeHandle(w, r, s.bridge.StorageIteratorClose)
}

// handleChunkIteratorNew takes an encoded batch, or its textual form when the body is
// sent as text/plain.
func (s *Server) handleChunkIteratorNew(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.badRequest(w, "read body: %v", err)
		return
	}

	var h registry.Handle
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == contentTypeText {
		h, err = s.bridge.ChunkIteratorFromText(string(body))
	} else {
		h, err = s.bridge.ChunkIteratorNew(body)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, NewHandleResponse(uint64(h)))
}

func (s *Server) handleChunkIteratorNext(w http.ResponseWriter, r *http.Request) {
	s.next(w, r, s.bridge.ChunkIteratorNext)
}

func (s *Server) handleChunkIteratorClose(w http.ResponseWriter, r *http.Request) {
	s.closeHandle(w, r, s.bridge.ChunkIteratorClose)
}

func (s *Server) handleRowGet(w http.ResponseWriter, r *http.Request) {
	h, err := handleParam(r)
	if err != nil {
		s.badRequest(w, "%v", err)
		return
	}

	key, err := s.bridge.RowGetKey(h)
	if err != nil {
		s.writeError(w, err)
		return
	}
	op, err := s.bridge.RowGetOp(h)
	if err != nil {
		s.writeError(w, err)
		return
	}
	colTypes, err := s.bridge.RowTypes(h)
	if err != nil {
		s.writeError(w, err)
		return
	}

	view := &RowView{Key: key, Op: op.Marker(), Columns: make([]ColumnView, len(colTypes))}
	for i, t := range colTypes {
		d, err := s.bridge.RowGetDatum(h, i)
		if err != nil {
			s.writeError(w, err)
			return
		}
		col, err := columnView(t, d)
		if err != nil {
			s.writeError(w, err)
			return
		}
		view.Columns[i] = col
	}
	s.writeJSON(w, http.StatusOK, NewRowResponse(view))
}

// handleRowColumn reads one column. With ?type=<code> it behaves like a typed getter:
// a different column type is 400 and a NULL value is 422.
func (s *Server) handleRowColumn(w http.ResponseWriter, r *http.Request) {
	h, err := handleParam(r)
	if err != nil {
		s.badRequest(w, "%v", err)
		return
	}
	ordinal, err := strconv.Atoi(chi.URLParam(r, "ordinal"))
	if err != nil {
		s.badRequest(w, "bad ordinal %q", chi.URLParam(r, "ordinal"))
		return
	}

	code := r.URL.Query().Get("type")
	if code == "" {
		d, err := s.bridge.RowGetDatum(h, ordinal)
		if err != nil {
			s.writeError(w, err)
			return
		}
		colTypes, err := s.bridge.RowTypes(h)
		if err != nil {
			s.writeError(w, err)
			return
		}
		col, err := columnView(colTypes[ordinal], d)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, NewRowResponse(&RowView{Columns: []ColumnView{col}}))
		return
	}

	t, err := datum.ParseType(code)
	if err != nil {
		s.badRequest(w, "%v", err)
		return
	}
	d, err := s.bridge.RowGetValue(h, ordinal, t)
	if err != nil {
		s.writeError(w, err)
		return
	}
	text, err := datum.Format(t, d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(text))
}

func (s *Server) handleRowClose(w http.ResponseWriter, r *http.Request) {
	s.closeHandle(w, r, s.bridge.RowClose)
}

func columnView(t datum.DataType, d datum.Datum) (ColumnView, error) {
	if d == nil {
		return ColumnView{Type: t.Code(), Null: true}, nil
	}
	text, err := datum.Format(t, d)
	if err != nil {
		return ColumnView{}, err
	}
	return ColumnView{Type: t.Code(), Value: text}, nil
}

func capacityParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("capacity")
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) handleCdcNew(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse("no engine attached"))
		return
	}
	capacity, err := capacityParam(r)
	if err != nil {
		s.badRequest(w, "bad capacity: %v", err)
		return
	}
	h, rx := s.bridge.NewCdcChannel(capacity)
	go s.engine.ServeCdc(h, rx)
	s.writeJSON(w, http.StatusCreated, NewHandleResponse(uint64(h)))
}

// handleCdcSend blocks while the channel is full. A closed channel is 204.
func (s *Server) handleCdcSend(w http.ResponseWriter, r *http.Request) {
	h, err := handleParam(r)
	if err != nil {
		s.badRequest(w, "%v", err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.badRequest(w, "read body: %v", err)
		return
	}
	ok, err := s.bridge.SendCdcMessage(h, body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleCdcClose(w http.ResponseWriter, r *http.Request) {
	s.closeHandle(w, r, s.bridge.CloseCdcChannel)
}

func (s *Server) handleSinkNew(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse("no engine attached"))
		return
	}
	capacity, err := capacityParam(r)
	if err != nil {
		s.badRequest(w, "bad capacity: %v", err)
		return
	}
	h, sw := s.bridge.NewSinkChannel(capacity)
	go s.engine.ServeSink(h, sw)
	s.writeJSON(w, http.StatusCreated, NewHandleResponse(uint64(h)))
}

// handleSinkRecv long-polls for the next request and returns its payload as the body.
// A closed and drained channel is 204.
func (s *Server) handleSinkRecv(w http.ResponseWriter, r *http.Request) {
	h, err := handleParam(r)
	if err != nil {
		s.badRequest(w, "%v", err)
		return
	}
	payload, ok, err := s.bridge.RecvSinkRequest(h)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", contentTypeOctetStream)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		slog.Warn("sink request lost in transit", "handle", h, "error", err)
	}
}

func (s *Server) handleSinkRespond(w http.ResponseWriter, r *http.Request) {
	h, err := handleParam(r)
	if err != nil {
		s.badRequest(w, "%v", err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		s.badRequest(w, "read body: %v", err)
		return
	}
	ok, err := s.bridge.SendSinkResponse(h, body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleSinkClose(w http.ResponseWriter, r *http.Request) {
	s.closeHandle(w, r, s.bridge.CloseSinkChannel)
}

// rowRequest addresses one stored row. Values are in the textual value format, nil for
// NULL, and must cover the whole table schema given in Types.
type rowRequest struct {
	Table  uint32    `json:"table"`
	Vnode  uint16    `json:"vnode"`
	PK     string    `json:"pk"`
	Types  []string  `json:"types,omitempty"`
	Values []*string `json:"values,omitempty"`
}

func (req *rowRequest) key() (types.Key, error) {
	if req.Table == 0 {
		return nil, errMissing("table")
	}
	if int(req.Vnode) >= types.VnodeCount {
		return nil, errMissing("vnode")
	}
	return scan.FullKey(types.TableID(req.Table), types.VirtualNode(req.Vnode), []byte(req.PK)), nil
}

func (req *rowRequest) value() (types.Value, error) {
	if len(req.Types) == 0 || len(req.Types) != len(req.Values) {
		return nil, errMissing("types and values of equal length")
	}
	colTypes := make([]datum.DataType, len(req.Types))
	values := make([]datum.Datum, len(req.Types))
	for i, code := range req.Types {
		t, err := datum.ParseType(code)
		if err != nil {
			return nil, err
		}
		colTypes[i] = t
		if req.Values[i] == nil {
			continue
		}
		if values[i], err = datum.Parse(t, *req.Values[i]); err != nil {
			return nil, err
		}
	}
	return valuecodec.EncodeRow(colTypes, values)
}

type errMissing string

func (e errMissing) Error() string { return "missing or invalid " + string(e) }

func (s *Server) decodeRowRequest(w http.ResponseWriter, r *http.Request) (*rowRequest, types.Key, bool) {
	var req rowRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.badRequest(w, "decode request: %v", err)
		return nil, nil, false
	}
	key, err := req.key()
	if err != nil {
		s.badRequest(w, "%v", err)
		return nil, nil, false
	}
	return &req, key, true
}

func (s *Server) handleAdminPut(w http.ResponseWriter, r *http.Request) {
	req, key, ok := s.decodeRowRequest(w, r)
	if !ok {
		return
	}
	value, err := req.value()
	if err != nil {
		s.badRequest(w, "%v", err)
		return
	}
	seq, err := s.store.Put(key, value)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(strconv.FormatUint(uint64(seq), 10)))
}

func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	_, key, ok := s.decodeRowRequest(w, r)
	if !ok {
		return
	}
	seq, err := s.store.Delete(key)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewValueResponse(strconv.FormatUint(uint64(seq), 10)))
}

// handleAdminGC raises the GC watermark to ?watermark=N and reports the watermark reached.
func (s *Server) handleAdminGC(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("watermark")
	watermark, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.badRequest(w, "bad watermark %q", raw)
		return
	}
	reached, removed := s.store.GC(types.SequenceNumber(watermark))
	slog.Info("gc requested", "watermark", watermark, "reached", reached, "removed", removed)
	s.writeJSON(w, http.StatusOK, NewValueResponse(strconv.FormatUint(uint64(reached), 10)))
}

func (s *Server) handleAdminCommitted(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewValueResponse(strconv.FormatUint(uint64(s.store.Committed()), 10)))
}
