package httpapi

import (
	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/backup"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"go.sia.tech/jape"
)

type backupRequest struct {
	Endpoint   string `json:"endpoint"`
	Credential string `json:"credential"`
}

// handleBackupStart starts a backup (to=node) or restore (from=node)
// session of the caller's vault. force=true replaces a running session.
func (s *Server) handleBackupStart(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	q := jc.Request.URL.Query()
	var action models.BackupAction
	switch {
	case q.Has("to") && !q.Has("from"):
		action = models.ActionBackup
	case q.Has("from") && !q.Has("to"):
		action = models.ActionRestore
	default:
		writeError(jc, common.BadRequestf("exactly one of to and from is required"))
		return
	}
	var req backupRequest
	if jc.Decode(&req) != nil {
		return
	}
	session, err := s.svc.BackupClient.Start(jc.Request.Context(), id.UserDID, action, req.Endpoint, req.Credential, flag(jc, "force"))
	if check(jc, err) {
		return
	}
	jc.Encode(session)
}

func (s *Server) handleBackupState(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	session, err := s.svc.BackupClient.State(jc.Request.Context(), id.UserDID)
	if check(jc, err) {
		return
	}
	jc.Encode(session)
}

func (s *Server) handlePromote(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	v, err := s.svc.BackupServer.Promote(jc.Request.Context(), id.UserDID)
	if check(jc, err) {
		return
	}
	jc.Encode(v)
}

func (s *Server) handleBackupToken(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	var req backup.TokenRequest
	if jc.Decode(&req) != nil {
		return
	}
	tok, err := s.svc.BackupServer.IssueToken(jc.Request.Context(), id.UserDID, req.Node)
	if check(jc, err) {
		return
	}
	jc.Encode(backup.TokenResponse{Token: tok})
}

func (s *Server) handleBackupInfo(jc jape.Context, user string) {
	info, err := s.svc.BackupServer.Info(jc.Request.Context(), user)
	if check(jc, err) {
		return
	}
	jc.Encode(info)
}

func (s *Server) handleBackupList(jc jape.Context, user string) {
	list, err := s.svc.BackupServer.ListFiles(jc.Request.Context(), user)
	if check(jc, err) {
		return
	}
	jc.Encode(backup.ChecksumList{Checksums: list})
}

func (s *Server) handleBackupPut(jc jape.Context, user string) {
	body := jc.Request.Body
	defer body.Close()
	check(jc, s.svc.BackupServer.Put(jc.Request.Context(), user, jc.Request.PathValue("path"), body, jc.Request.ContentLength))
}

func (s *Server) handleBackupGet(jc jape.Context, user string) {
	f, fi, err := s.svc.BackupServer.Get(jc.Request.Context(), user, jc.Request.PathValue("path"))
	if check(jc, err) {
		return
	}
	serveFile(jc, f, fi)
}

func (s *Server) handleBackupDelete(jc jape.Context, user string) {
	check(jc, s.svc.BackupServer.Delete(jc.Request.Context(), user, jc.Request.PathValue("path")))
}

func (s *Server) handleBackupMove(jc jape.Context, user string) {
	var p backup.PathPair
	if jc.Decode(&p) != nil {
		return
	}
	check(jc, s.svc.BackupServer.Move(jc.Request.Context(), user, p))
}

func (s *Server) handleBackupCopy(jc jape.Context, user string) {
	var p backup.PathPair
	if jc.Decode(&p) != nil {
		return
	}
	check(jc, s.svc.BackupServer.Copy(jc.Request.Context(), user, p))
}

func (s *Server) blockSize(jc jape.Context) (int, bool) {
	bs := s.svc.BackupServer.BlockSize()
	if jc.DecodeForm("block_size", &bs) != nil {
		return 0, false
	}
	return bs, true
}

func (s *Server) handleBackupSignatures(jc jape.Context, user string) {
	bs, ok := s.blockSize(jc)
	if !ok {
		return
	}
	jc.ResponseWriter.Header().Set("Content-Type", "text/plain")
	check(jc, s.svc.BackupServer.Signatures(jc.Request.Context(), user, jc.Request.PathValue("path"), bs, jc.ResponseWriter))
}

func (s *Server) handleBackupPatch(jc jape.Context, user string) {
	body := jc.Request.Body
	defer body.Close()
	check(jc, s.svc.BackupServer.Patch(jc.Request.Context(), user, jc.Request.PathValue("path"), body))
}

// handleBackupDelta answers the signature lines of the body with a delta
// stream for the restore direction.
func (s *Server) handleBackupDelta(jc jape.Context, user string) {
	bs, ok := s.blockSize(jc)
	if !ok {
		return
	}
	body := jc.Request.Body
	defer body.Close()
	jc.ResponseWriter.Header().Set("Content-Type", "application/octet-stream")
	err := s.svc.BackupServer.Delta(jc.Request.Context(), user, jc.Request.PathValue("path"), body, bs, jc.ResponseWriter)
	if err != nil {
		// a failure mid-stream leaves a truncated delta that fails to apply
		s.logger.Warn(jc.Request.Context(), "delta stream", "user", user, "error", err)
		writeError(jc, err)
	}
}

func (s *Server) handleBackupFinish(jc jape.Context, user string) {
	var req backup.FinishRequest
	if jc.Decode(&req) != nil {
		return
	}
	info, err := s.svc.BackupServer.FinishBackup(jc.Request.Context(), user, req)
	if check(jc, err) {
		return
	}
	jc.Encode(info)
}

func (s *Server) handleBackupRestore(jc jape.Context, user string) {
	list, err := s.svc.BackupServer.FinishRestore(jc.Request.Context(), user)
	if check(jc, err) {
		return
	}
	jc.Encode(backup.ChecksumList{Checksums: list})
}
