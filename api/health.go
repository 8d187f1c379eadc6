package api

import (
	"net/http"

	"github.com/emicklei/go-restful/v3"
)

type Health struct {
	Status string `json:"status"`
}

func HealthService() *restful.WebService {
	ws := new(restful.WebService)
	ws.Path("/healthz")
	ws.Route(ws.GET("").To(func(req *restful.Request, resp *restful.Response) {
		writeJSON(resp, http.StatusOK, Health{Status: "ok"})
	}).Writes(Health{}))
	return ws
}
