package httpapi

import (
	"encoding/json"
	"strconv"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/collections"
	"go.sia.tech/jape"
)

type (
	insertRequest struct {
		Document json.RawMessage           `json:"document"`
		Options  collections.InsertOptions `json:"options"`
	}

	countRequest struct {
		Filter  map[string]any           `json:"filter"`
		Options collections.CountOptions `json:"options"`
	}

	countResponse struct {
		Count int64 `json:"count"`
	}

	updateRequest struct {
		Filter  map[string]any            `json:"filter"`
		Update  map[string]any            `json:"update"`
		Options collections.UpdateOptions `json:"options"`
	}

	deleteRequest struct {
		Filter map[string]any `json:"filter"`
	}

	queryRequest struct {
		Collection string                  `json:"collection"`
		Filter     map[string]any          `json:"filter"`
		Options    collections.FindOptions `json:"options"`
	}

	itemsResponse struct {
		Items []collections.Document `json:"items"`
	}

	nameResponse struct {
		Name string `json:"name"`
	}
)

// documents accepts a single document or a list of them.
func (r insertRequest) documents() ([]collections.Document, error) {
	var many []collections.Document
	if err := json.Unmarshal(r.Document, &many); err == nil {
		return many, nil
	}
	var one collections.Document
	if err := json.Unmarshal(r.Document, &one); err != nil || one == nil {
		return nil, common.BadRequestf("document must be an object or a list of objects")
	}
	return []collections.Document{one}, nil
}

// flag reads a boolean URL flag; a bare key counts as true.
func flag(jc jape.Context, key string) bool {
	q := jc.Request.URL.Query()
	if !q.Has(key) {
		return false
	}
	v, err := strconv.ParseBool(q.Get(key))
	return err != nil || v
}

func (s *Server) handleCreateCollection(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	name := jc.Request.PathValue("name")
	if check(jc, s.svc.Database.CreateCollection(jc.Request.Context(), id.Namespace(), name)) {
		return
	}
	jc.Encode(nameResponse{Name: name})
}

func (s *Server) handleDropCollection(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	check(jc, s.svc.Database.DropCollection(jc.Request.Context(), id.Namespace(), jc.Request.PathValue("name")))
}

// handleInsertOrCount inserts documents, or counts them with op=count.
func (s *Server) handleInsertOrCount(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	ctx := jc.Request.Context()
	name := jc.Request.PathValue("name")

	if jc.Request.URL.Query().Get("op") == "count" {
		var req countRequest
		if jc.Decode(&req) != nil {
			return
		}
		n, err := s.svc.Database.Count(ctx, id.Namespace(), name, req.Filter, req.Options)
		if check(jc, err) {
			return
		}
		jc.Encode(countResponse{Count: n})
		return
	}

	var req insertRequest
	if jc.Decode(&req) != nil {
		return
	}
	docs, err := req.documents()
	if check(jc, err) {
		return
	}
	res, err := s.svc.Database.InsertMany(ctx, id.Namespace(), name, docs, req.Options)
	if check(jc, err) {
		return
	}
	jc.Encode(res)
}

func (s *Server) handleUpdate(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	var req updateRequest
	if jc.Decode(&req) != nil {
		return
	}
	req.Options.Many = !flag(jc, "updateone")
	res, err := s.svc.Database.Update(jc.Request.Context(), id.Namespace(), jc.Request.PathValue("name"), req.Filter, req.Update, req.Options)
	if check(jc, err) {
		return
	}
	jc.Encode(res)
}

func (s *Server) handleDelete(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	var req deleteRequest
	if jc.Decode(&req) != nil {
		return
	}
	opts := collections.DeleteOptions{Many: !flag(jc, "deleteone")}
	res, err := s.svc.Database.Delete(jc.Request.Context(), id.Namespace(), jc.Request.PathValue("name"), req.Filter, opts)
	if check(jc, err) {
		return
	}
	jc.Encode(res)
}

func (s *Server) handleFind(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	var filter map[string]any
	if raw := jc.Request.URL.Query().Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &filter); err != nil {
			writeError(jc, common.BadRequestf("filter: %v", err))
			return
		}
	}
	var opts collections.FindOptions
	if jc.DecodeForm("skip", &opts.Skip) != nil || jc.DecodeForm("limit", &opts.Limit) != nil {
		return
	}
	items, err := s.svc.Database.Find(jc.Request.Context(), id.Namespace(), jc.Request.PathValue("name"), filter, opts)
	if check(jc, err) {
		return
	}
	jc.Encode(itemsResponse{Items: items})
}

func (s *Server) handleQuery(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	var req queryRequest
	if jc.Decode(&req) != nil {
		return
	}
	items, err := s.svc.Database.Find(jc.Request.Context(), id.Namespace(), req.Collection, req.Filter, req.Options)
	if check(jc, err) {
		return
	}
	jc.Encode(itemsResponse{Items: items})
}
