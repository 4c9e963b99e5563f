package router

import "github.com/gin-gonic/gin"

// Module registers a feature's routes on the group it is mounted on.
// API modules are mounted under /api, callback modules at the engine root.
type Module interface {
	Register(rg *gin.RouterGroup)
}
