package httpapi

import (
	"encoding/json"
	"strings"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/auth"
	"github.com/dmitrijs2005/vaultnode/internal/server/scripting"
	"go.sia.tech/jape"
)

func (s *Server) handleRegisterScript(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	var raw map[string]any
	if jc.Decode(&raw) != nil {
		return
	}
	script, err := scripting.Parse(jc.Request.PathValue("name"), raw)
	if check(jc, err) {
		return
	}
	if check(jc, s.svc.Scripts.Registry().Put(jc.Request.Context(), id.Namespace(), script)) {
		return
	}
	jc.Encode(script.Map())
}

func (s *Server) handleUnregisterScript(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	name := jc.Request.PathValue("name")
	deleted, err := s.svc.Scripts.Registry().Delete(jc.Request.Context(), id.Namespace(), name)
	if check(jc, err) {
		return
	}
	if !deleted {
		writeError(jc, common.NotFoundf("script %s", name))
	}
}

func (s *Server) handleRunScript(jc jape.Context) {
	who, ok := caller(jc)
	if !ok {
		return
	}
	var req scripting.RunRequest
	if jc.Decode(&req) != nil {
		return
	}
	s.runScript(jc, who, req)
}

// handleRunScriptURL runs a script addressed as
// /scripting/{name}/{user}@{app}/{params as JSON}.
func (s *Server) handleRunScriptURL(jc jape.Context) {
	who, ok := caller(jc)
	if !ok {
		return
	}
	user, app, found := strings.Cut(jc.Request.PathValue("target"), "@")
	if !found {
		writeError(jc, common.BadRequestf("target must be user@app"))
		return
	}
	req := scripting.RunRequest{Context: &scripting.Target{UserDID: user, AppDID: app}}
	if raw := jc.Request.PathValue("params"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Params); err != nil {
			writeError(jc, common.BadRequestf("params: %v", err))
			return
		}
	}
	s.runScript(jc, who, req)
}

func (s *Server) runScript(jc jape.Context, who auth.Identity, req scripting.RunRequest) {
	out, err := s.svc.Scripts.Run(jc.Request.Context(), who, jc.Request.PathValue("name"), req)
	if check(jc, err) {
		return
	}
	jc.Encode(out)
}

func (s *Server) handleStreamUpload(jc jape.Context) {
	who, ok := caller(jc)
	if !ok {
		return
	}
	body := jc.Request.Body
	defer body.Close()
	_, err := s.svc.Scripts.Transfers().Upload(jc.Request.Context(), who, jc.Request.PathValue("handle"), body, jc.Request.ContentLength)
	check(jc, err)
}

func (s *Server) handleStreamDownload(jc jape.Context) {
	who, ok := caller(jc)
	if !ok {
		return
	}
	f, fi, err := s.svc.Scripts.Transfers().Download(jc.Request.Context(), who, jc.Request.PathValue("handle"))
	if check(jc, err) {
		return
	}
	serveFile(jc, f, fi)
}
