package httpapi

import (
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/astrohaus/stationd/internal/command"
	"github.com/astrohaus/stationd/internal/config"
	"github.com/astrohaus/stationd/internal/worker"
)

const maxCommandBytes = 1 << 20

// ServerOptions wires the station API to the runtime.
type ServerOptions struct {
	Addr      string
	Auth      Authorizer
	Statuses  *worker.StatusRegistry
	Inbox     *command.Inbox
	ConfigDir string
	Alias     string
	Log       *zap.SugaredLogger
}

// ConfigInfo describes the currently adopted configuration file.
type ConfigInfo struct {
	File    string `json:"file"`
	Version int    `json:"version,omitempty"`
}

// CommandAccepted acknowledges an injected command with its assigned id.
type CommandAccepted struct {
	CommandID string `json:"command_id"`
}

// NewServer builds the station's TLS API server. The caller owns its
// lifecycle.
func NewServer(cert tls.Certificate, opts ServerOptions) *http.Server {
	return &http.Server{
		Addr:    opts.Addr,
		Handler: WithLogging(opts.Log, newHandler(opts)),
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.RequireAnyClientCert,
			MinVersion:   tls.VersionTLS12,
		},
	}
}

func newHandler(opts ServerOptions) http.Handler {
	router := httprouter.New()

	router.GET("/status", WithAuth(opts.Auth, func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(opts.Statuses.Snapshot())
	}))

	router.POST("/command", WithAuth(opts.Auth, func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
		if err != nil {
			http.Error(w, "reading request body", 500)
			return
		}
		text := strings.TrimSpace(string(body))
		if text == "" {
			http.Error(w, "empty command", 400)
			return
		}

		id := uuid.NewString()
		opts.Inbox.Put(command.NewRequest(id, text))
		opts.Log.Infof("accepted command %q from %s", text, r.RemoteAddr)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(CommandAccepted{CommandID: id})
	}))

	router.GET("/config", WithAuth(opts.Auth, func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		current, err := config.CurrentFile(opts.ConfigDir, opts.Alias)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		info := ConfigInfo{File: current}
		if version, err := config.ParseVersion(current); err == nil {
			info.Version = version
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(info)
	}))

	return router
}
