package routes

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"harvest/harvest/agents/protocols"
	"harvest/harvest/controllers"
	httputils "harvest/harvest/utils/http"
	"harvest/harvest/utils/logging"
)

// ExtractRoutes registers one POST route per protocol, all served by the
// same handler, and the websocket variant under /ws/{protocol}.
func ExtractRoutes(r chi.Router, ctrl *controllers.ExtractController, registry *protocols.Registry) {
	for _, p := range registry.All() {
		r.Post(p.Route, func(w http.ResponseWriter, req *http.Request) {
			ctrl.Extract(w, req, p)
		})
	}

	r.Get("/ws/{protocol}", func(w http.ResponseWriter, req *http.Request) {
		p, err := registry.Resolve(chi.URLParam(req, "protocol"))
		if err != nil {
			httputils.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		conn, err := websocket.Accept(w, req, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			logging.ErrorLogger.Error("websocket accept error", zap.Error(err))
			return
		}
		ctrl.Stream(req.Context(), conn, p)
	})
}

func ProtocolRoutes(r chi.Router, ctrl *controllers.ProtocolsController) {
	r.Get("/protocols", ctrl.List)
}
