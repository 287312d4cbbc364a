package gateway

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/castgate/castgate/internal/pkg/draft"
	"github.com/castgate/castgate/internal/pkg/jobs"
	"github.com/castgate/castgate/internal/pkg/upload"

	"github.com/airenas/go-app/pkg/goapp"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Uploader starts one upload end to end
type Uploader interface {
	Run(ctx context.Context, req *upload.Request) (string, error)
}

// Jobs exposes the tracked job set
type Jobs interface {
	ListActive(owner string) []jobs.Record
	Recovering(owner string) bool
	Recover(ctx context.Context, owner string)
	Cancel(ctx context.Context, owner, id string) bool
}

// Drafts persists upload form state
type Drafts interface {
	Load(owner string) *draft.Draft
	Update(owner string, p *draft.Partial)
	Clear(owner string)
	StoreFile(ctx context.Context, owner string, fd *draft.FileDescriptor, r io.Reader) (bool, error)
	LoadFile(owner string) *draft.File
}

// WSConnHandler websocket connection wrapper
type WSConnHandler interface {
	HandleConnection(WsConn) error
	GetConnections(owner string) ([]WsConn, bool)
}

// Data keeps data required for service work
type Data struct {
	Port      int
	Uploader  Uploader
	Jobs      Jobs
	Drafts    Drafts
	WSHandler WSConnHandler
}

const ownerIDHeader = "x-castgate-owner"

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP CastGate service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 180 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Uploader == nil {
		return errors.New("no uploader")
	}
	if data.Jobs == nil {
		return fmt.Errorf("no jobs tracker")
	}
	if data.Drafts == nil {
		return fmt.Errorf("no drafts")
	}
	if data.WSHandler == nil {
		return fmt.Errorf("no WSHandler")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("castgate_gateway", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.POST("/upload", uploadHandler(data))
	e.GET("/jobs", jobsHandler(data))
	e.POST("/cancel/:id", cancelHandler(data))
	e.GET("/draft", draftGetHandler(data))
	e.PUT("/draft", draftPutHandler(data))
	e.DELETE("/draft", draftDeleteHandler(data))
	e.POST("/draft/file", draftFilePostHandler(data))
	e.GET("/draft/file", draftFileGetHandler(data))
	e.GET("/live", live(data))
	e.GET("/subscribe", subscribeHandler(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

func owner(c echo.Context) (string, error) {
	res := c.Request().Header.Get(ownerIDHeader)
	if res == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "no owner")
	}
	return res, nil
}

type result struct {
	ID string `json:"id"`
}

func uploadHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("upload method")()
		ctx := c.Request().Context()

		own, err := owner(c)
		if err != nil {
			return err
		}

		req := &upload.Request{Owner: own,
			ContainerID: c.FormValue("container"),
			Title:       c.FormValue("title"),
			Description: c.FormValue("description"),
			Email:       c.FormValue("email"),
			URL:         c.FormValue("url"),
		}
		file, err := c.FormFile("file")
		if err == nil && file != nil {
			src, err := file.Open()
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "wrong input form")
			}
			defer src.Close()
			req.Method = upload.MethodFile
			req.FileName = file.Filename
			req.File = src
			req.FileSize = file.Size
		} else if req.URL != "" {
			req.Method = upload.MethodURL
		}

		id, err := data.Uploader.Run(ctx, req)
		if err != nil {
			var errV *upload.ErrValidation
			if errors.As(err, &errV) {
				return echo.NewHTTPError(http.StatusBadRequest, errV.Error())
			}
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusBadGateway, "cannot start processing")
		}

		return c.JSON(http.StatusOK, result{ID: id})
	}
}

type jobsResult struct {
	Recovering bool          `json:"recovering"`
	Jobs       []jobs.Record `json:"jobs"`
}

func jobsHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("jobs method")()
		own, err := owner(c)
		if err != nil {
			return err
		}
		data.Jobs.Recover(c.Request().Context(), own)
		res := jobsResult{Recovering: data.Jobs.Recovering(own), Jobs: data.Jobs.ListActive(own)}
		if res.Jobs == nil {
			res.Jobs = []jobs.Record{}
		}
		return c.JSON(http.StatusOK, res)
	}
}

type cancelResult struct {
	Cancelled bool `json:"cancelled"`
}

func cancelHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("cancel method")()
		own, err := owner(c)
		if err != nil {
			return err
		}
		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "No ID")
		}
		ok := data.Jobs.Cancel(c.Request().Context(), own, id)
		return c.JSON(http.StatusOK, cancelResult{Cancelled: ok})
	}
}

func draftGetHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		own, err := owner(c)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, data.Drafts.Load(own))
	}
}

func draftPutHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		own, err := owner(c)
		if err != nil {
			return err
		}
		p := &draft.Partial{}
		if err := c.Bind(p); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong input")
		}
		data.Drafts.Update(own, p)
		return c.JSON(http.StatusOK, data.Drafts.Load(own))
	}
}

func draftDeleteHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		own, err := owner(c)
		if err != nil {
			return err
		}
		data.Drafts.Clear(own)
		return c.NoContent(http.StatusOK)
	}
}

type storeFileResult struct {
	Stored bool `json:"stored"`
}

func draftFilePostHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("draft file method")()
		own, err := owner(c)
		if err != nil {
			return err
		}
		file, err := c.FormFile("file")
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "no file")
		}
		src, err := file.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong input form")
		}
		defer src.Close()
		fd := &draft.FileDescriptor{Name: file.Filename, Size: file.Size,
			MimeType: file.Header.Get(echo.HeaderContentType), LastModified: jobs.NowMs()}
		stored, err := data.Drafts.StoreFile(c.Request().Context(), own, fd, src)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, storeFileResult{Stored: stored})
	}
}

func draftFileGetHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		own, err := owner(c)
		if err != nil {
			return err
		}
		f := data.Drafts.LoadFile(own)
		if f == nil {
			return echo.NewHTTPError(http.StatusNotFound, "no file")
		}
		mime := f.MimeType
		if mime == "" {
			mime = echo.MIMEOctetStream
		}
		return c.Blob(http.StatusOK, mime, f.Content)
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

func subscribeHandler(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		return data.WSHandler.HandleConnection(ws)
	}
}
