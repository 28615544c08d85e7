package fixture

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func echoHandler(cfg Config) http.Handler {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	base := cfg.BasePath
	e.GET(base, func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": Message(cfg.Name)})
	})
	e.GET(base+"/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET(base+"/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "requested failure")
	})
	e.GET(base+"/garbage", func(c echo.Context) error {
		return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, []byte("{not json"))
	})
	return e
}
