package controllers

import (
	"net/http"

	"harvest/harvest/agents/protocols"
	httputils "harvest/harvest/utils/http"
	"harvest/harvest/utils/types"
)

type ProtocolsController struct {
	registry *protocols.Registry
}

func NewProtocolsController(registry *protocols.Registry) *ProtocolsController {
	return &ProtocolsController{registry: registry}
}

// Describe lists the registered extraction protocols.
func (c *ProtocolsController) Describe() []types.ProtocolInfo {
	all := c.registry.All()
	out := make([]types.ProtocolInfo, 0, len(all))
	for _, p := range all {
		out = append(out, types.ProtocolInfo{ID: p.ID, Route: p.Route, Kind: p.Output.Kind, Fields: p.Output.Fields})
	}
	return out
}

func (c *ProtocolsController) List(w http.ResponseWriter, r *http.Request) {
	httputils.WriteJSON(w, http.StatusOK, c.Describe())
}
