// Package httpapi exposes the node over HTTP. Handlers work on jape
// contexts; routing uses method and wildcard patterns of http.ServeMux.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/logging"
	"github.com/dmitrijs2005/vaultnode/internal/server/auth"
	"github.com/dmitrijs2005/vaultnode/internal/server/backup"
	"github.com/dmitrijs2005/vaultnode/internal/server/scripting"
	"github.com/dmitrijs2005/vaultnode/internal/server/services"
	"go.sia.tech/jape"
)

const shutdownTimeout = 10 * time.Second

// Services are the collaborators the handlers call into.
type Services struct {
	Issuer        *auth.Issuer
	Database      *services.DatabaseService
	Files         *services.FileService
	Subscriptions *services.SubscriptionService
	Payments      *services.PaymentService
	Scripts       *scripting.Evaluator
	BackupClient  *backup.Client
	BackupServer  *backup.Server
}

type Server struct {
	address       string
	adminPassword string
	svc           Services
	logger        logging.Logger
	handler       http.Handler
}

func NewServer(address, adminPassword string, svc Services, logger logging.Logger) *Server {
	s := &Server{
		address:       address,
		adminPassword: adminPassword,
		svc:           svc,
		logger:        logger.With("module", "http_server"),
	}
	s.handler = s.logRequests(s.authenticate(s.routes()))
	return s
}

func (s *Server) Handler() http.Handler { return s.handler }

// handle adapts a jape handler to the mux.
func handle(mux *http.ServeMux, pattern string, h jape.Handler) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		h(jape.Context{ResponseWriter: w, Request: r})
	})
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	handle(mux, "POST /db/collections/{name}", s.handleCreateCollection)
	handle(mux, "DELETE /db/{name}", s.handleDropCollection)
	handle(mux, "POST /db/collection/{name}", s.handleInsertOrCount)
	handle(mux, "PATCH /db/collection/{name}", s.handleUpdate)
	handle(mux, "DELETE /db/collection/{name}", s.handleDelete)
	handle(mux, "GET /db/{name}", s.handleFind)
	handle(mux, "POST /db/query", s.handleQuery)

	handle(mux, "GET /files/{path...}", s.handleFileGet)
	handle(mux, "PUT /files/{path...}", s.handleFilePut)
	handle(mux, "PATCH /files/{path...}", s.handleFileMove)
	handle(mux, "DELETE /files/{path...}", s.handleFileDelete)

	handle(mux, "PUT /scripting/{name}", s.handleRegisterScript)
	handle(mux, "DELETE /scripting/{name}", s.handleUnregisterScript)
	handle(mux, "PATCH /scripting/{name}", s.handleRunScript)
	handle(mux, "GET /scripting/{name}/{target}/{params...}", s.handleRunScriptURL)
	handle(mux, "PUT /scripting/stream/{handle}", s.handleStreamUpload)
	handle(mux, "GET /scripting/stream/{handle}", s.handleStreamDownload)

	handle(mux, "PUT /subscription/{kind}", s.handleSubscribe)
	handle(mux, "GET /subscription/{kind}", s.handleSubscription)
	handle(mux, "DELETE /subscription/{kind}", s.handleUnsubscribe)
	handle(mux, "POST /subscription/{kind}", s.handleSubscriptionOp)

	handle(mux, "GET /payment/plans", s.handlePlans)
	handle(mux, "PUT /payment/order", s.handleCreateOrder)
	handle(mux, "GET /payment/order/{id}", s.handleOrder)

	admin := http.NewServeMux()
	handle(admin, "POST /internal_payment/settle/{id}", s.handleSettle)
	mux.Handle("/internal_payment/", jape.BasicAuth(s.adminPassword)(admin))

	handle(mux, "POST /backup", s.handleBackupStart)
	handle(mux, "GET /backup/state", s.handleBackupState)
	handle(mux, "POST /backup/promote", s.handlePromote)

	p := backup.RoutePrefix
	handle(mux, "POST "+p+"/token", s.handleBackupToken)
	handle(mux, "GET "+p+"/info", s.backupSession(s.handleBackupInfo))
	handle(mux, "GET "+p+"/files", s.backupSession(s.handleBackupList))
	handle(mux, "PUT "+p+"/files/{path...}", s.backupSession(s.handleBackupPut))
	handle(mux, "GET "+p+"/files/{path...}", s.backupSession(s.handleBackupGet))
	handle(mux, "DELETE "+p+"/files/{path...}", s.backupSession(s.handleBackupDelete))
	handle(mux, "POST "+p+"/move", s.backupSession(s.handleBackupMove))
	handle(mux, "POST "+p+"/copy", s.backupSession(s.handleBackupCopy))
	handle(mux, "GET "+p+"/signatures/{path...}", s.backupSession(s.handleBackupSignatures))
	handle(mux, "PATCH "+p+"/patch/{path...}", s.backupSession(s.handleBackupPatch))
	handle(mux, "POST "+p+"/delta/{path...}", s.backupSession(s.handleBackupDelta))
	handle(mux, "POST "+p+"/finish", s.backupSession(s.handleBackupFinish))
	handle(mux, "GET "+p+"/restore", s.backupSession(s.handleBackupRestore))

	return mux
}

// writeError sends err with the status of its kind. The body keeps the
// sentinel prefix so remote nodes can classify it again.
func writeError(jc jape.Context, err error) {
	jc.Error(errors.New(common.Describe(err)), common.KindOf(err).HTTPStatus())
}

// check writes err and reports whether there was one.
func check(jc jape.Context, err error) bool {
	if err != nil {
		writeError(jc, err)
		return true
	}
	return false
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errc := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		errc <- srv.Shutdown(sctx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())
	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-errc
}
