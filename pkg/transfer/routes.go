package transfer

import (
	"github.com/labstack/echo/v4"
)

func registerRoutes(e *echo.Echo, h *handler) {
	e.GET("/", h.catalogPage)

	api := e.Group("/api")
	api.GET("/books", h.listBooks)
	api.GET("/books/:id/download", h.downloadBook)
	api.GET("/books/:id/kindle", h.kindleDownload)
	api.GET("/books/:id/cover", h.bookCover)
	api.POST("/books/:id/send", h.sendBook)
	api.GET("/metadata/isbn/:isbn", h.metadataByISBN)
	api.GET("/metadata/search", h.searchMetadata)
	api.GET("/status", h.status)
	api.GET("/peers", h.listPeers)
	api.GET("/qr.png", h.qrCode)
}
