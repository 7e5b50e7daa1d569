package httpapi

import (
	"net/http"
	"os"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/server/filestore"
	"go.sia.tech/jape"
)

type (
	fileMetadata struct {
		Name    string `json:"name"`
		IsFile  bool   `json:"is_file"`
		Size    int64  `json:"size"`
		Created int64  `json:"created"`
		Updated int64  `json:"updated"`
	}

	childrenResponse struct {
		Value []fileMetadata `json:"value"`
	}

	hashResponse struct {
		Name      string `json:"name"`
		Algorithm string `json:"algorithm"`
		Hash      string `json:"hash"`
	}
)

// metadataOf reports the path of fi as its name. The tree keeps no
// creation time, so created equals updated.
func metadataOf(fi filestore.FileInfo) fileMetadata {
	return fileMetadata{
		Name:    fi.Path,
		IsFile:  fi.IsFile,
		Size:    fi.Size,
		Created: fi.Modified.Unix(),
		Updated: fi.Modified.Unix(),
	}
}

// serveFile streams f honouring Range requests.
func serveFile(jc jape.Context, f *os.File, fi filestore.FileInfo) {
	defer f.Close()
	jc.ResponseWriter.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(jc.ResponseWriter, jc.Request, fi.Name, fi.Modified, f)
}

// handleFileGet downloads a file; comp=metadata, comp=children and
// comp=hash describe it instead.
func (s *Server) handleFileGet(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	ctx := jc.Request.Context()
	ns := id.Namespace()
	path := jc.Request.PathValue("path")

	switch comp := jc.Request.URL.Query().Get("comp"); comp {
	case "":
		f, fi, err := s.svc.Files.Download(ctx, ns, path)
		if check(jc, err) {
			return
		}
		serveFile(jc, f, fi)
	case "metadata":
		fi, err := s.svc.Files.Stat(ctx, ns, path)
		if check(jc, err) {
			return
		}
		jc.Encode(metadataOf(fi))
	case "children":
		list, err := s.svc.Files.List(ctx, ns, path)
		if check(jc, err) {
			return
		}
		out := childrenResponse{Value: make([]fileMetadata, 0, len(list))}
		for _, fi := range list {
			out.Value = append(out.Value, metadataOf(fi))
		}
		jc.Encode(out)
	case "hash":
		h, err := s.svc.Files.Hash(ctx, ns, path)
		if check(jc, err) {
			return
		}
		jc.Encode(hashResponse{Name: path, Algorithm: "SHA256", Hash: h})
	default:
		writeError(jc, common.BadRequestf("unknown comp %q", comp))
	}
}

// handleFilePut uploads the body, or copies the file to dest when given.
func (s *Server) handleFilePut(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	ctx := jc.Request.Context()
	path := jc.Request.PathValue("path")

	if dest := jc.Request.URL.Query().Get("dest"); dest != "" {
		if check(jc, s.svc.Files.Copy(ctx, id.Namespace(), path, dest)) {
			return
		}
		jc.Encode(nameResponse{Name: dest})
		return
	}

	body := jc.Request.Body
	defer body.Close()
	if _, err := s.svc.Files.Upload(ctx, id.Namespace(), path, body, jc.Request.ContentLength); check(jc, err) {
		return
	}
	jc.Encode(nameResponse{Name: path})
}

func (s *Server) handleFileMove(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	to := jc.Request.URL.Query().Get("to")
	if to == "" {
		writeError(jc, common.BadRequestf("to is required"))
		return
	}
	if check(jc, s.svc.Files.Move(jc.Request.Context(), id.Namespace(), jc.Request.PathValue("path"), to)) {
		return
	}
	jc.Encode(nameResponse{Name: to})
}

func (s *Server) handleFileDelete(jc jape.Context) {
	id, ok := requireUser(jc)
	if !ok {
		return
	}
	check(jc, s.svc.Files.Delete(jc.Request.Context(), id.Namespace(), jc.Request.PathValue("path")))
}
